package memotask

import (
	"errors"
	"fmt"

	"github.com/mohans/memotask/fingerprint"
	"github.com/mohans/memotask/ledger"
	"github.com/mohans/memotask/results"
)

var (
	// ErrTaskInProgress signals contention: the identity already has a
	// RUNNING record. It is a skip, not a defect.
	ErrTaskInProgress = errors.New("task in progress")
	// ErrTaskFailed is matched by errors raised from the wrapped computation.
	ErrTaskFailed = errors.New("task failed")
	// ErrResultNotPersisted reports a computation that succeeded but whose
	// result could not be stored. The record is left FAILED.
	ErrResultNotPersisted = errors.New("task result not persisted")

	ErrSignatureMismatch = fingerprint.ErrSignatureMismatch
	ErrArtifactMissing   = results.ErrArtifactMissing
	ErrStoreUnavailable  = ledger.ErrStoreUnavailable
)

const (
	msgDependencySkipped = "skipped: dependency in progress"
	msgAbandoned         = "abandoned: stale running record"
	msgPersistFailed     = "result persistence failed: "
)

// InProgressError reports an invocation refused because its identity is
// already running. Dependency is set when the refusal came from a nested
// task whose own call was skipped.
type InProgressError struct {
	Task       string
	RecordID   string
	Status     ledger.Status
	Dependency bool
}

func (e *InProgressError) Error() string {
	if e.Dependency {
		return fmt.Sprintf("task %s: dependency in progress", e.Task)
	}
	return fmt.Sprintf("task %s is %s (record %s)", e.Task, e.Status, e.RecordID)
}

func (e *InProgressError) Is(target error) bool { return target == ErrTaskInProgress }

// TaskFailedError wraps the computation's own error.
type TaskFailedError struct {
	Task     string
	RecordID string
	Err      error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s (record %s) failed: %v", e.Task, e.RecordID, e.Err)
}

func (e *TaskFailedError) Unwrap() error { return e.Err }

func (e *TaskFailedError) Is(target error) bool { return target == ErrTaskFailed }

// PersistError reports a result store failure after a successful run.
type PersistError struct {
	Task     string
	RecordID string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("task %s (record %s): persist result: %v", e.Task, e.RecordID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrResultNotPersisted }
