package memotask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/mohans/memotask/fingerprint"
	motel "github.com/mohans/memotask/internal/otel"
	"github.com/mohans/memotask/ledger"
	"github.com/mohans/memotask/results"
)

// Func is a memoized computation. It receives its bound, canonical
// arguments and returns a value the result store can persist.
type Func func(ctx context.Context, args fingerprint.Arguments) (any, error)

// Result is the outcome of one invocation.
type Result struct {
	Value any
	// Cached is set when Value was loaded from a prior COMPLETED record.
	Cached bool
	// Skipped is set when a nested task was in progress. Value is nil.
	Skipped bool
	// Record is the ledger row that answered or ran the call.
	Record *ledger.TaskRecord
}

// Task is a computation bound to a coordinator under a stable name.
type Task struct {
	coord     *Coordinator
	namespace string
	name      string
	sig       fingerprint.Signature
	fn        Func
}

func (t *Task) Name() string { return t.name }

func (t *Task) Namespace() string { return t.namespace }

func (t *Task) Signature() fingerprint.Signature { return t.sig }

// Identity binds args to the task's signature without running anything.
func (t *Task) Identity(args fingerprint.Args) (fingerprint.Identity, error) {
	bound, err := t.sig.Bind(args)
	if err != nil {
		return fingerprint.Identity{}, err
	}
	return fingerprint.NewIdentity(t.name, bound), nil
}

// Invoke runs the task at most once per identity. A prior COMPLETED result
// is returned when caching is enabled; a RUNNING identity yields an
// *InProgressError; a nested in-progress task yields Result.Skipped.
func (t *Task) Invoke(ctx context.Context, args fingerprint.Args) (Result, error) {
	id, err := t.Identity(args)
	if err != nil {
		return Result{}, fmt.Errorf("task %s: %w", t.name, err)
	}
	c := t.coord
	nameAttr := motel.AttrTaskName.String(t.name)

	ctx, span := motel.StartSpan(ctx, c.tracer, "memotask.invoke",
		nameAttr,
		motel.AttrParamsHash.String(id.Hash()),
	)
	defer span.End()
	c.metrics.Invocations.Add(ctx, 1, metric.WithAttributes(nameAttr))

	log := c.logger.With("task", t.name, "params_hash", shortHash(id.Hash()))
	useCache, skip := c.Policy()

	res, err := t.invoke(ctx, id, log, useCache, skip)

	outcome := "ran"
	switch {
	case err != nil && errors.Is(err, ErrTaskInProgress):
		outcome = "in_progress"
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Skipped:
		outcome = "skipped"
	case res.Cached:
		outcome = "cached"
	}
	span.SetAttributes(motel.AttrOutcome.String(outcome))
	if res.Record != nil {
		span.SetAttributes(motel.AttrRecordID.String(res.Record.ID))
	}
	return res, err
}

// Call is Invoke for nesting inside another task: a skip surfaces as an
// error matching ErrTaskInProgress so the enclosing task is skipped too.
func (t *Task) Call(ctx context.Context, args fingerprint.Args) (any, error) {
	res, err := t.Invoke(ctx, args)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		e := &InProgressError{Task: t.name, Dependency: true}
		if res.Record != nil {
			e.RecordID = res.Record.ID
			e.Status = res.Record.Status
		}
		return nil, e
	}
	return res.Value, nil
}

// InvokeAs converts the invocation's value to T. Values that are not
// already a T are round-tripped through JSON.
func InvokeAs[T any](ctx context.Context, t *Task, args fingerprint.Args) (T, Result, error) {
	var out T
	res, err := t.Invoke(ctx, args)
	if err != nil || res.Skipped || res.Value == nil {
		return out, res, err
	}
	if v, ok := res.Value.(T); ok {
		return v, res, nil
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return out, res, fmt.Errorf("task %s: convert result: %w", t.name, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, res, fmt.Errorf("task %s: convert result to %T: %w", t.name, out, err)
	}
	return out, res, nil
}

func (t *Task) invoke(ctx context.Context, id fingerprint.Identity, log *slog.Logger, useCache, skip bool) (Result, error) {
	c := t.coord
	nameAttr := metric.WithAttributes(motel.AttrTaskName.String(t.name))

	if skip {
		active, err := c.ledger.FindActive(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if active != nil && active.Status == ledger.StatusRunning && !c.stale(active) {
			c.metrics.Skips.Add(ctx, 1, nameAttr)
			log.Info("task already running", "record_id", active.ID)
			return Result{Record: active}, inProgress(t.name, active)
		}
	}

	if useCache {
		res, ok, err := t.fromCache(ctx, id, log)
		if err != nil || ok {
			return res, err
		}
	}

	rec, err := t.acquire(ctx, id, log)
	if err != nil {
		return Result{}, err
	}
	started, err := c.ledger.StartTask(ctx, rec.ID)
	if err != nil {
		return Result{}, err
	}
	if !started {
		// Lost the start race. Another invocation may have finished meanwhile.
		if useCache {
			res, ok, err := t.fromCache(ctx, id, log)
			if err != nil || ok {
				return res, err
			}
		}
		current, err := c.ledger.Get(ctx, rec.ID)
		if err != nil {
			current = rec
		}
		c.metrics.Skips.Add(ctx, 1, nameAttr)
		log.Info("task started elsewhere", "record_id", rec.ID, "status", current.Status)
		return Result{Record: current}, inProgress(t.name, current)
	}
	return t.execute(ctx, id, rec, log)
}

// fromCache loads the newest COMPLETED result. A missing or unreadable
// artifact is a miss so the call recomputes.
func (t *Task) fromCache(ctx context.Context, id fingerprint.Identity, log *slog.Logger) (Result, bool, error) {
	c := t.coord
	done, err := c.ledger.FindCompleted(ctx, id)
	if err != nil {
		return Result{}, false, err
	}
	if done == nil || done.ResultLocation == nil || done.ResultFormat == nil {
		return Result{}, false, nil
	}
	v, err := c.store.Retrieve(ctx, *done.ResultLocation, results.Format(*done.ResultFormat))
	if err != nil {
		log.Warn("cached result unreadable, recomputing",
			"record_id", done.ID,
			"location", *done.ResultLocation,
			"error", err,
		)
		return Result{}, false, nil
	}
	c.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(motel.AttrTaskName.String(t.name)))
	log.Debug("cache hit", "record_id", done.ID)
	return Result{Value: v, Cached: true, Record: done}, true, nil
}

// acquire returns the identity's active record, replacing it first when it
// has gone stale.
func (t *Task) acquire(ctx context.Context, id fingerprint.Identity, log *slog.Logger) (*ledger.TaskRecord, error) {
	c := t.coord
	rec, err := c.ledger.CreateTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.stale(rec) {
		return rec, nil
	}
	ok, err := c.ledger.CompleteTask(ctx, rec.ID, ledger.Failed(msgAbandoned))
	if err != nil {
		return nil, err
	}
	if ok {
		log.Warn("abandoned stale record", "record_id", rec.ID, "status", rec.Status)
	}
	return c.ledger.CreateTask(ctx, id)
}

func (t *Task) execute(ctx context.Context, id fingerprint.Identity, rec *ledger.TaskRecord, log *slog.Logger) (Result, error) {
	c := t.coord
	nameAttr := metric.WithAttributes(motel.AttrTaskName.String(t.name))
	log = log.With("record_id", rec.ID)
	log.Info("task started")

	began := time.Now()
	value, runErr := t.run(ctx, id.Params)
	c.metrics.TaskDuration.Record(ctx, time.Since(began).Seconds(), nameAttr)

	// Finalize even when the caller's context is done so no record is left RUNNING.
	fctx := context.WithoutCancel(ctx)

	if runErr != nil {
		if errors.Is(runErr, ErrTaskInProgress) {
			if _, err := c.ledger.CompleteTask(fctx, rec.ID, ledger.Failed(msgDependencySkipped)); err != nil {
				return Result{}, err
			}
			c.metrics.Skips.Add(ctx, 1, nameAttr)
			log.Info("task skipped, dependency in progress", "error", runErr)
			return Result{Skipped: true, Record: t.reload(fctx, rec)}, nil
		}
		c.metrics.Failures.Add(ctx, 1, nameAttr)
		log.Error("task failed", "error", runErr)
		if _, err := c.ledger.CompleteTask(fctx, rec.ID, ledger.Failed(runErr.Error())); err != nil {
			return Result{}, errors.Join(&TaskFailedError{Task: t.name, RecordID: rec.ID, Err: runErr}, err)
		}
		return Result{Record: t.reload(fctx, rec)}, &TaskFailedError{Task: t.name, RecordID: rec.ID, Err: runErr}
	}

	loc, format, err := c.store.Persist(fctx, results.Placement{
		Namespace: t.namespace,
		Name:      t.name,
		RecordID:  rec.ID,
	}, value)
	if err != nil {
		c.metrics.Failures.Add(ctx, 1, nameAttr)
		log.Error("persist result failed", "error", err)
		perr := &PersistError{Task: t.name, RecordID: rec.ID, Err: err}
		if _, cerr := c.ledger.CompleteTask(fctx, rec.ID, ledger.Failed(msgPersistFailed+err.Error())); cerr != nil {
			return Result{}, errors.Join(perr, cerr)
		}
		return Result{Record: t.reload(fctx, rec)}, perr
	}
	if !format.Lossless() {
		log.Warn("result stored as text, cached calls return a string", "format", format)
	}

	ok, err := c.ledger.CompleteTask(fctx, rec.ID, ledger.Succeeded(loc, string(format)))
	if err != nil {
		return Result{}, err
	}
	if !ok {
		log.Warn("record finished elsewhere before completion")
	}
	log.Info("task completed", "location", loc, "format", format)
	return Result{Value: value, Record: t.reload(fctx, rec)}, nil
}

// run calls the computation, turning a panic into an error.
func (t *Task) run(ctx context.Context, args fingerprint.Arguments) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx, args)
}

// reload fetches the record's final state, falling back to the stale copy.
func (t *Task) reload(ctx context.Context, rec *ledger.TaskRecord) *ledger.TaskRecord {
	cur, err := t.coord.ledger.Get(ctx, rec.ID)
	if err != nil {
		return rec
	}
	return cur
}

func inProgress(task string, rec *ledger.TaskRecord) *InProgressError {
	return &InProgressError{Task: task, RecordID: rec.ID, Status: rec.Status}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
