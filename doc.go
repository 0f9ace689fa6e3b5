// Package memotask memoizes expensive computations across processes.
//
// A Coordinator pairs a ledger of task records with a result store. Each
// Task declared on it binds call arguments to a signature, derives a stable
// identity from the canonical parameters, and executes the computation only
// when no COMPLETED result exists for that identity:
//
//	l, _ := ledger.OpenSQLite(ctx, "tasks.db")
//	c, _ := memotask.New(l, results.NewFileStore("outputs"), memotask.DefaultOptions())
//	square := c.Task("examples", "square", fingerprint.MustSignature(fingerprint.Required("x")),
//		func(ctx context.Context, args fingerprint.Arguments) (any, error) {
//			x, err := args.Int("x")
//			return x * x, err
//		})
//	res, err := square.Invoke(ctx, fingerprint.Positional(4))
//
// Concurrent invocations of one identity are serialized by the ledger: one
// runs, the rest see ErrTaskInProgress. A task called from inside another
// with Task.Call propagates that contention as a skip of the outer task.
package memotask
