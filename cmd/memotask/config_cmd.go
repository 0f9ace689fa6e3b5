package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/spf13/cast"

	"github.com/mohans/memotask/internal/config"
)

// runConfigCommand updates the flags given, or prints the configuration
// when none are.
func runConfigCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db-path", "", "ledger database path")
	outputDir := fs.String("output-dir", "", "result artifact directory")
	useCache := fs.String("use-cache", "", "serve repeated calls from stored results (true/false)")
	skip := fs.String("skip-if-in-progress", "", "refuse calls whose task is already running (true/false)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	updates := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db-path":
			updates["db_path"] = *dbPath
		case "output-dir":
			updates["output_dir"] = *outputDir
		case "use-cache":
			updates["use_cache"] = *useCache
		case "skip-if-in-progress":
			updates["skip_if_in_progress"] = *skip
		}
	})
	for key, v := range updates {
		if key != "use_cache" && key != "skip_if_in_progress" {
			continue
		}
		if _, err := cast.ToBoolE(v); err != nil {
			fmt.Fprintf(stderr, "invalid boolean for %s: %q\n", key, v)
			return 2
		}
	}

	home := config.HomeDir()
	if len(updates) > 0 {
		if err := config.Set(home, updates); err != nil {
			fmt.Fprintf(stderr, "Error updating config: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Updated %s\n", config.Path(home))
	}

	cfg, err := config.LoadFrom(home)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	printConfig(stdout, cfg)
	return 0
}

func printConfig(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "db_path:             %s\n", cfg.DBPath)
	fmt.Fprintf(w, "output_dir:          %s\n", cfg.OutputDir)
	fmt.Fprintf(w, "use_cache:           %t\n", cfg.UseCache)
	fmt.Fprintf(w, "skip_if_in_progress: %t\n", cfg.SkipIfInProgress)
	fmt.Fprintf(w, "project_name:        %s\n", cfg.ProjectName)
	fmt.Fprintf(w, "log_level:           %s\n", cfg.LogLevel)
	fmt.Fprintf(w, "stale_after_seconds: %d\n", cfg.StaleAfterSeconds)
	fmt.Fprintf(w, "redis.addr:          %s\n", cfg.Redis.Addr)
	fmt.Fprintf(w, "queue:               %s\n", cfg.Queue)
}
