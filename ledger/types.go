package ledger

import (
	"context"
	"time"

	"github.com/mohans/memotask/fingerprint"
)

// Status represents task lifecycle status recorded in the database.
// Valid values: PENDING, RUNNING, COMPLETED, FAILED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskRecord is the persisted representation of one task invocation.
type TaskRecord struct {
	ID                  string // generated on create
	TaskKey             string // task name
	ParamsHash          string
	CanonicalParameters string // sorted-key JSON
	RandomSeed          *int64
	Status              Status
	CreatedAt           time.Time
	StartedAt           *time.Time
	EndedAt             *time.Time
	Duration            *time.Duration
	ErrorMessage        *string // set iff FAILED
	ResultLocation      *string // set iff COMPLETED
	ResultFormat        *string // set iff COMPLETED
}

// Outcome is the final result handed to CompleteTask.
type Outcome struct {
	Success        bool
	ResultLocation string
	ResultFormat   string
	ErrorMessage   string
}

// Succeeded is a COMPLETED outcome pointing at a stored artifact.
func Succeeded(location, format string) Outcome {
	return Outcome{Success: true, ResultLocation: location, ResultFormat: format}
}

// Failed is a FAILED outcome with the captured error message.
func Failed(message string) Outcome {
	if message == "" {
		message = "unknown error"
	}
	return Outcome{ErrorMessage: message}
}

// Ledger abstracts persistence for task records. Every method runs in its
// own transaction, and implementations must be safe for concurrent use by
// multiple processes sharing one store.
type Ledger interface {
	// CreateTask inserts a PENDING record, or returns the existing
	// non-terminal record for the same identity.
	CreateTask(ctx context.Context, id fingerprint.Identity) (*TaskRecord, error)
	// StartTask moves a PENDING record to RUNNING. It returns false when the
	// record was not PENDING.
	StartTask(ctx context.Context, recordID string) (bool, error)
	// CompleteTask moves a PENDING or RUNNING record to COMPLETED or FAILED.
	// It returns false when the record was already terminal.
	CompleteTask(ctx context.Context, recordID string, out Outcome) (bool, error)
	FindActive(ctx context.Context, id fingerprint.Identity) (*TaskRecord, error)
	// FindCompleted returns the most recent COMPLETED record for id.
	FindCompleted(ctx context.Context, id fingerprint.Identity) (*TaskRecord, error)
	Get(ctx context.Context, recordID string) (*TaskRecord, error)
	// List returns records in insertion order, optionally filtered by status.
	List(ctx context.Context, status Status) ([]TaskRecord, error)
}
