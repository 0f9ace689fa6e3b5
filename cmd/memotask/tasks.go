package main

import (
	"context"
	"math/rand"

	"github.com/mohans/memotask"
	"github.com/mohans/memotask/fingerprint"
	"github.com/mohans/memotask/results"
)

const demoNamespace = "examples"

// declareTasks binds the example computations to c.
func declareTasks(c *memotask.Coordinator) []*memotask.Task {
	return []*memotask.Task{
		c.Task(demoNamespace, "my_experiment",
			fingerprint.MustSignature(
				fingerprint.Required("a"),
				fingerprint.Required("b"),
				fingerprint.Optional(fingerprint.SeedParam, 42),
			),
			myExperiment,
		),
		c.Task(demoNamespace, "compute_something",
			fingerprint.MustSignature(
				fingerprint.Required("x"),
				fingerprint.Optional(fingerprint.SeedParam, 123),
			),
			computeSomething,
		),
	}
}

// myExperiment returns a rows x 2 table of seeded random values.
func myExperiment(ctx context.Context, args fingerprint.Arguments) (any, error) {
	a, err := args.Int("a")
	if err != nil {
		return nil, err
	}
	b, err := args.Int64("b")
	if err != nil {
		return nil, err
	}
	seed, _ := args.Seed()
	rng := rand.New(rand.NewSource(seed))

	table := results.NewTable("col1", "col2")
	for i := 0; i < a; i++ {
		if err := table.Append(rng.Float64(), b); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func computeSomething(ctx context.Context, args fingerprint.Arguments) (any, error) {
	x, err := args.Int64("x")
	if err != nil {
		return nil, err
	}
	seed, _ := args.Seed()
	return map[string]any{"value": x * x, "seed": seed}, nil
}

func findTask(tasks []*memotask.Task, name string) *memotask.Task {
	for _, t := range tasks {
		if t.Name() == name {
			return t
		}
	}
	return nil
}
