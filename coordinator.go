package memotask

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/mohans/memotask/fingerprint"
	motel "github.com/mohans/memotask/internal/otel"
	"github.com/mohans/memotask/ledger"
	"github.com/mohans/memotask/results"
)

// ResultStore persists and reloads computation results.
type ResultStore interface {
	Persist(ctx context.Context, p results.Placement, v any) (string, results.Format, error)
	Retrieve(ctx context.Context, location string, f results.Format) (any, error)
}

// Options configures a Coordinator.
type Options struct {
	// UseCache answers calls from a prior COMPLETED record.
	UseCache bool
	// SkipIfInProgress refuses calls whose identity is RUNNING before
	// consulting the cache.
	SkipIfInProgress bool
	// StaleAfter, when positive, lets a call fail and replace an active
	// record that has not finished within this long.
	StaleAfter time.Duration
	// Project labels every log line.
	Project string

	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// DefaultOptions returns caching on, skipping off.
func DefaultOptions() Options {
	return Options{UseCache: true}
}

// Coordinator runs memoized invocations against a shared ledger and result
// store. Create one per process and reuse it for every task.
type Coordinator struct {
	ledger ledger.Ledger
	store  ResultStore

	useCache         atomic.Bool
	skipIfInProgress atomic.Bool
	staleAfter       time.Duration

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *motel.Metrics
	now     func() time.Time
}

// New builds a Coordinator.
func New(l ledger.Ledger, store ResultStore, opts Options) (*Coordinator, error) {
	if l == nil || store == nil {
		return nil, fmt.Errorf("memotask: ledger and result store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Project != "" {
		logger = logger.With("project", opts.Project)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(motel.ScopeName)
	}
	metrics, err := motel.NewMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("memotask: create metrics: %w", err)
	}
	c := &Coordinator{
		ledger:     l,
		store:      store,
		staleAfter: opts.StaleAfter,
		logger:     logger,
		tracer:     tracer,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
	c.SetPolicy(opts.UseCache, opts.SkipIfInProgress)
	return c, nil
}

// SetPolicy swaps the cache and skip flags. Calls already past their policy
// check keep the old values.
func (c *Coordinator) SetPolicy(useCache, skipIfInProgress bool) {
	c.useCache.Store(useCache)
	c.skipIfInProgress.Store(skipIfInProgress)
}

// Policy returns the current cache and skip flags.
func (c *Coordinator) Policy() (useCache, skipIfInProgress bool) {
	return c.useCache.Load(), c.skipIfInProgress.Load()
}

// Ledger returns the coordinator's ledger for observability.
func (c *Coordinator) Ledger() ledger.Ledger { return c.ledger }

// Close releases the ledger when it holds resources.
func (c *Coordinator) Close() error {
	if closer, ok := c.ledger.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Task declares a memoized computation. Namespace groups artifacts on disk
// (typically the owning package); name is the identity's task key.
func (c *Coordinator) Task(namespace, name string, sig fingerprint.Signature, fn Func) *Task {
	return &Task{coord: c, namespace: namespace, name: name, sig: sig, fn: fn}
}

// stale reports whether an active record has outlived StaleAfter.
func (c *Coordinator) stale(rec *ledger.TaskRecord) bool {
	if c.staleAfter <= 0 || rec == nil || rec.Status.Terminal() {
		return false
	}
	since := rec.CreatedAt
	if rec.StartedAt != nil {
		since = *rec.StartedAt
	}
	return c.now().Sub(since) > c.staleAfter
}
