package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/mohans/memotask/asyncx"
	"github.com/mohans/memotask/internal/config"
)

func redisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB, Password: cfg.Redis.Password}
}

// parseInvocation turns "k=v" words into keyword arguments and bare words
// into positional ones. Values are read as JSON when they parse, else as
// plain strings.
func parseInvocation(words []string) asyncx.Invocation {
	var inv asyncx.Invocation
	for _, w := range words {
		key, raw, isKw := strings.Cut(w, "=")
		if !isKw {
			inv.Args = append(inv.Args, parseValue(w))
			continue
		}
		if inv.Kwargs == nil {
			inv.Kwargs = make(map[string]any)
		}
		inv.Kwargs[key] = parseValue(raw)
	}
	return inv
}

func parseValue(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}

func runEnqueueCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	queue := fs.String("queue", "", "queue name (default from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: memotask enqueue [-queue Q] <task> [k=v ...]")
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	q := *queue
	if q == "" {
		q = cfg.Queue
	}
	client := asyncx.NewClient(redisOpt(cfg), asyncx.ClientOptions{Queue: q})
	defer client.Close()

	info, err := client.Enqueue(ctx, fs.Arg(0), parseInvocation(fs.Args()[1:]))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "enqueued %s as %s on %s\n", fs.Arg(0), info.ID, info.Queue)
	return 0
}

// runWorkerCommand serves queued invocations of the example tasks. Edits to
// the config file swap the cache and skip policy without a restart.
func runWorkerCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintln(stderr, "usage: memotask worker")
		return 2
	}
	a, ok := loadApp(ctx, stderr, false)
	if !ok {
		return 1
	}
	defer a.Close()

	watcher := config.NewWatcher(a.cfg.HomeDir, a.logger)
	if err := watcher.Start(ctx); err != nil {
		a.logger.Error("config watcher failed to start", "error", err)
		return 1
	}
	go func() {
		for range watcher.Events() {
			cfg, err := config.LoadFrom(a.cfg.HomeDir)
			if err != nil {
				a.logger.Error("config reload failed; keeping previous policy", "error", err)
				continue
			}
			a.coord.SetPolicy(cfg.UseCache, cfg.SkipIfInProgress)
			a.logger.Info("policy reloaded", "use_cache", cfg.UseCache, "skip_if_in_progress", cfg.SkipIfInProgress)
		}
	}()

	processor := asyncx.NewProcessor(redisOpt(a.cfg), asyncx.ProcessorConfig{
		Concurrency: a.cfg.Concurrency,
		Queues:      map[string]int{a.cfg.Queue: 1},
		Logger:      a.logger,
	})
	processor.Register(declareTasks(a.coord)...)

	errCh := make(chan error, 1)
	go func() { errCh <- processor.Start(nil) }()
	a.logger.Info("worker started", "queue", a.cfg.Queue, "redis", a.cfg.Redis.Addr, "version", Version)
	fmt.Fprintf(stdout, "worker listening on %s (queue %s)\n", a.cfg.Redis.Addr, a.cfg.Queue)

	select {
	case <-ctx.Done():
		processor.Shutdown()
		return 0
	case err := <-errCh:
		if err != nil {
			a.logger.Error("worker stopped", "error", err)
			return 1
		}
		return 0
	}
}
