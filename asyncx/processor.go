package asyncx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mohans/memotask"
	"github.com/mohans/memotask/fingerprint"
)

// Processor runs queued invocations of registered memoized tasks.
type Processor struct {
	server *asynq.Server
	tasks  map[string]*memotask.Task
	logger *slog.Logger
}

type ProcessorConfig struct {
	Concurrency int
	Queues      map[string]int
	// BusyRetryDelay spaces out retries of invocations whose identity was
	// running elsewhere.
	BusyRetryDelay time.Duration
	Logger         *slog.Logger
}

// Outcome is written as the asynq task result.
type Outcome struct {
	RecordID string `json:"record_id"`
	Cached   bool   `json:"cached"`
	Location string `json:"location,omitempty"`
	Format   string `json:"format,omitempty"`
}

func NewProcessor(redisOpt asynq.RedisConnOpt, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	qs := cfg.Queues
	if qs == nil {
		qs = map[string]int{"default": 1}
	}
	busy := cfg.BusyRetryDelay
	if busy <= 0 {
		busy = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      qs,
		// Contention is expected and retried, not a failure.
		IsFailure: func(err error) bool { return !errors.Is(err, memotask.ErrTaskInProgress) },
		RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
			if errors.Is(err, memotask.ErrTaskInProgress) {
				return busy
			}
			return asynq.DefaultRetryDelayFunc(n, err, t)
		},
	})
	return &Processor{server: server, tasks: make(map[string]*memotask.Task), logger: logger}
}

// Register makes tasks runnable by name. Call before Start.
func (p *Processor) Register(tasks ...*memotask.Task) {
	for _, t := range tasks {
		p.tasks[t.Name()] = t
	}
}

// lifecycleMiddleware logs the start and end of each queued invocation.
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		log := p.logger.With("type", t.Type())
		if id, ok := asynq.GetTaskID(ctx); ok {
			log = log.With("queue_task_id", id)
		}
		if n, ok := asynq.GetRetryCount(ctx); ok && n > 0 {
			log = log.With("retry", n)
		}
		began := time.Now()
		log.Debug("queued invocation started")
		err := next.ProcessTask(ctx, t)
		elapsed := time.Since(began)
		switch {
		case err == nil:
			log.Info("queued invocation done", "duration", elapsed)
		case errors.Is(err, memotask.ErrTaskInProgress):
			log.Info("queued invocation deferred, task in progress", "duration", elapsed)
		default:
			log.Error("queued invocation failed", "duration", elapsed, "error", err)
		}
		return err
	})
}

// Handler registers every task on mux and wraps it with lifecycle logging.
// A nil mux gets a fresh one.
func (p *Processor) Handler(mux *asynq.ServeMux) asynq.Handler {
	if mux == nil {
		mux = asynq.NewServeMux()
	}
	for name, task := range p.tasks {
		mux.HandleFunc(TypeName(name), p.invoke(task))
	}
	return p.lifecycleMiddleware(mux)
}

// Start runs the server until Shutdown. mux may carry other handlers.
func (p *Processor) Start(mux *asynq.ServeMux) error {
	return p.server.Run(p.Handler(mux))
}

func (p *Processor) Shutdown() { p.server.Shutdown() }

// invoke adapts a memoized task to an asynq handler. Contention returns an
// error so asynq retries; bad arguments skip retries entirely.
func (p *Processor) invoke(task *memotask.Task) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		inv, err := decodeInvocation(t.Payload())
		if err != nil {
			return fmt.Errorf("%s: %w: %w", task.Name(), err, asynq.SkipRetry)
		}
		res, err := task.Invoke(ctx, inv.FingerprintArgs())
		switch {
		case errors.Is(err, memotask.ErrSignatureMismatch), errors.Is(err, fingerprint.ErrUnrepresentable):
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		case err != nil:
			return err
		case res.Skipped:
			e := &memotask.InProgressError{Task: task.Name(), Dependency: true}
			if res.Record != nil {
				e.RecordID = res.Record.ID
			}
			return e
		}
		return writeOutcome(t, res)
	}
}

func writeOutcome(t *asynq.Task, res memotask.Result) error {
	w := t.ResultWriter()
	if w == nil || res.Record == nil {
		return nil
	}
	out := Outcome{RecordID: res.Record.ID, Cached: res.Cached}
	if res.Record.ResultLocation != nil {
		out.Location = *res.Record.ResultLocation
	}
	if res.Record.ResultFormat != nil {
		out.Format = *res.Record.ResultFormat
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write task result: %w", err)
	}
	return nil
}
