package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohans/memotask"
	"github.com/mohans/memotask/internal/config"
	"github.com/mohans/memotask/internal/otel"
	"github.com/mohans/memotask/internal/telemetry"
	"github.com/mohans/memotask/ledger"
	"github.com/mohans/memotask/results"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage of %[1]s:

SUBCOMMANDS:
  %[1]s config [flags]            Show or update configuration
                                  Flags: -db-path, -output-dir, -use-cache, -skip-if-in-progress
  %[1]s list [-status S]          List ledger records (PENDING, RUNNING, COMPLETED, FAILED)
  %[1]s show <record-id>          Show one ledger record
  %[1]s demo                      Run the example tasks twice to show cache hits
  %[1]s enqueue <task> [k=v ...]  Queue an invocation of a task for the worker
  %[1]s worker                    Run queued invocations until interrupted

ENVIRONMENT VARIABLES:
  MEMOTASK_HOME                 Data directory (default: ~/.memotask)
  MEMOTASK_DB_PATH              Ledger database path
  MEMOTASK_OUTPUT_DIR           Result artifact directory
  MEMOTASK_USE_CACHE            Serve repeated calls from stored results
  MEMOTASK_SKIP_IF_IN_PROGRESS  Refuse calls whose task is already running
  MEMOTASK_LOG_LEVEL            debug, info, warn or error
  MEMOTASK_REDIS_ADDR           Redis address for enqueue and worker
`, "memotask")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	rest := args[1:]
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, Version)
		return 0
	case "config":
		return runConfigCommand(rest, stdout, stderr)
	case "list":
		return runListCommand(ctx, rest, stdout, stderr)
	case "show":
		return runShowCommand(ctx, rest, stdout, stderr)
	case "demo":
		return runDemoCommand(ctx, rest, stdout, stderr)
	case "enqueue":
		return runEnqueueCommand(ctx, rest, stdout, stderr)
	case "worker":
		return runWorkerCommand(ctx, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}

// app is the per-process wiring shared by commands that touch the ledger.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	ledger    *ledger.SQLStore
	coord     *memotask.Coordinator
	telemetry *otel.Provider
	logFile   io.Closer
}

func openApp(ctx context.Context, cfg config.Config, quiet bool) (*app, error) {
	logger, logFile, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, logFile: logFile}

	a.telemetry, err = otel.Init(ctx, cfg.OTel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.ledger, err = ledger.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.coord, err = memotask.New(a.ledger, results.NewFileStore(cfg.OutputDir), coordinatorOptions(cfg, a))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func coordinatorOptions(cfg config.Config, a *app) memotask.Options {
	return memotask.Options{
		UseCache:         cfg.UseCache,
		SkipIfInProgress: cfg.SkipIfInProgress,
		StaleAfter:       cfg.StaleAfter(),
		Project:          cfg.ProjectName,
		Logger:           a.logger,
		Tracer:           a.telemetry.Tracer,
		Meter:            a.telemetry.Meter,
	}
}

func (a *app) Close() {
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(context.Background())
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// loadApp loads config and opens the app, reporting failures on stderr.
func loadApp(ctx context.Context, stderr io.Writer, quiet bool) (*app, bool) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return nil, false
	}
	a, err := openApp(ctx, cfg, quiet)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, ledger.ErrStoreUnavailable) {
			fmt.Fprintf(stderr, "Check that %s is writable.\n", cfg.DBPath)
		}
		return nil, false
	}
	return a, true
}
