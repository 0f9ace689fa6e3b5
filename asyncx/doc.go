// Package asyncx runs memoized tasks from an asynq queue.
//
// Quick start:
//  1. Build a memotask.Coordinator and declare its tasks.
//  2. Create a Processor with NewProcessor(redis, ...) and Register the tasks.
//  3. Start the processor. Each queued invocation calls Task.Invoke, so a
//     result computed earlier is served from the ledger instead of re-running.
//  4. Create a Client with NewClient(redis, ...) and Enqueue invocations by
//     task name.
//
// Invocations whose identity is already running are retried after
// ProcessorConfig.BusyRetryDelay without counting as failures. Arguments
// that do not fit the task's signature are archived without retrying.
package asyncx
