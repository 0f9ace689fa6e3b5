package main

import (
	"context"
	"fmt"
	"io"

	"github.com/mohans/memotask/fingerprint"
	"github.com/mohans/memotask/results"
)

// runDemoCommand calls each example task twice; the second call of each is
// answered from the stored result.
func runDemoCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintln(stderr, "usage: memotask demo")
		return 2
	}
	a, ok := loadApp(ctx, stderr, true)
	if !ok {
		return 1
	}
	defer a.Close()

	tasks := declareTasks(a.coord)
	calls := []struct {
		task string
		args fingerprint.Args
	}{
		{"my_experiment", fingerprint.Positional(5, 10).With(fingerprint.SeedParam, 999)},
		{"my_experiment", fingerprint.Positional(5, 10).With(fingerprint.SeedParam, 999)},
		{"compute_something", fingerprint.Positional(4).With(fingerprint.SeedParam, 777)},
		{"compute_something", fingerprint.Positional(4).With(fingerprint.SeedParam, 777)},
	}
	for _, call := range calls {
		res, err := findTask(tasks, call.task).Invoke(ctx, call.args)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", call.task, err)
			return 1
		}
		source := "computed"
		if res.Cached {
			source = "cached"
		}
		fmt.Fprintf(stdout, "%s (%s, record %s): %s\n", call.task, source, res.Record.ID, describe(res.Value))
	}
	return 0
}

func describe(v any) string {
	switch x := v.(type) {
	case results.Table:
		return fmt.Sprintf("table %dx%d", x.Len(), len(x.Columns))
	case *results.Table:
		return fmt.Sprintf("table %dx%d", x.Len(), len(x.Columns))
	default:
		return fmt.Sprintf("%v", v)
	}
}
