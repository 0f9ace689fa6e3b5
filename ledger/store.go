package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mohans/memotask/fingerprint"
)

// CreateSchemaSQL is the ledger schema. Exactly one PENDING or RUNNING row
// may exist per identity, enforced by the partial unique index.
const CreateSchemaSQL = `
CREATE TABLE IF NOT EXISTS memo_tasks (
    seq                  INTEGER      PRIMARY KEY AUTOINCREMENT,
    id                   VARCHAR(64)  NOT NULL UNIQUE,
    task_key             VARCHAR(255) NOT NULL,
    params_hash          VARCHAR(64)  NOT NULL,
    canonical_parameters TEXT         NOT NULL,
    random_seed          INTEGER      NULL,
    status               VARCHAR(16)  NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED')),
    created_at           DATETIME     NOT NULL,
    started_at           DATETIME     NULL,
    ended_at             DATETIME     NULL,
    duration_seconds     REAL         NULL,
    error_message        TEXT         NULL,
    result_location      TEXT         NULL,
    result_format        VARCHAR(32)  NULL,
    updated_at           DATETIME     NULL,
    CHECK ((status = 'COMPLETED') = (result_location IS NOT NULL AND result_format IS NOT NULL)),
    CHECK ((status = 'FAILED') = (error_message IS NOT NULL))
);
CREATE UNIQUE INDEX IF NOT EXISTS memo_tasks_active_identity
    ON memo_tasks (task_key, params_hash) WHERE status IN ('PENDING', 'RUNNING');
CREATE INDEX IF NOT EXISTS memo_tasks_identity_status
    ON memo_tasks (task_key, params_hash, status);
`

const (
	selectColumns = `id, task_key, params_hash, canonical_parameters, random_seed, status,
		created_at, started_at, ended_at, duration_seconds, error_message, result_location, result_format`

	// Bounds the insert/re-read loop when a conflicting active record
	// finishes between our insert and our read.
	createAttempts = 3
)

// SQLStore is the reference Ledger backed by a relational DB through
// database/sql. Statements use '?' placeholders (SQLite).
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// OpenSQLite opens (creating if needed) a SQLite ledger at path and applies
// the schema. Writers take the lock at BEGIN and wait on contention, so
// several processes may share the file.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, storeErr("open", errors.New("empty database path"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storeErr("open", fmt.Errorf("create db directory: %w", err))
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeErr("open", err)
	}
	s := NewSQLStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate applies the schema idempotently.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return storeErr("migrate", errors.New("nil db"))
	}
	if _, err := s.db.ExecContext(ctx, CreateSchemaSQL); err != nil {
		return storeErr("migrate", err)
	}
	return nil
}

func (s *SQLStore) CreateTask(ctx context.Context, id fingerprint.Identity) (*TaskRecord, error) {
	if s.db == nil {
		return nil, storeErr("create task", errors.New("nil db"))
	}
	for attempt := 0; attempt < createAttempts; attempt++ {
		rec, err := s.insertPending(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !isUniqueViolation(err) {
			return nil, storeErr("create task", err)
		}
		existing, err := s.FindActive(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, storeErr("create task", fmt.Errorf("identity %s kept conflicting after %d attempts", id.Hash(), createAttempts))
}

func (s *SQLStore) insertPending(ctx context.Context, id fingerprint.Identity) (*TaskRecord, error) {
	rec := &TaskRecord{
		ID:                  uuid.NewString(),
		TaskKey:             id.Name,
		ParamsHash:          id.Hash(),
		CanonicalParameters: id.Canonical(),
		Status:              StatusPending,
		CreatedAt:           s.now(),
	}
	if seed, ok := id.Params.Seed(); ok {
		rec.RandomSeed = &seed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memo_tasks (id, task_key, params_hash, canonical_parameters, random_seed, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, rec.ID, rec.TaskKey, rec.ParamsHash, rec.CanonicalParameters, rec.RandomSeed, string(StatusPending), rec.CreatedAt, rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) StartTask(ctx context.Context, recordID string) (bool, error) {
	if s.db == nil {
		return false, storeErr("start task", errors.New("nil db"))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("start task", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	res, err := tx.ExecContext(ctx, `
		UPDATE memo_tasks
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?;
	`, string(StatusRunning), now, now, recordID, string(StatusPending))
	if err != nil {
		return false, storeErr("start task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("start task", err)
	}
	if n == 0 {
		if _, err := getTx(ctx, tx, recordID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr("start task", err)
	}
	return true, nil
}

func (s *SQLStore) CompleteTask(ctx context.Context, recordID string, out Outcome) (bool, error) {
	if s.db == nil {
		return false, storeErr("complete task", errors.New("nil db"))
	}
	if out.Success && (out.ResultLocation == "" || out.ResultFormat == "") {
		return false, fmt.Errorf("complete task %s: success outcome needs a result location and format", recordID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("complete task", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getTx(ctx, tx, recordID)
	if err != nil {
		return false, err
	}
	if cur.Status.Terminal() {
		return false, nil
	}
	ended := s.now()
	began := cur.CreatedAt
	if cur.StartedAt != nil {
		began = *cur.StartedAt
	}
	duration := ended.Sub(began).Seconds()
	if duration < 0 {
		duration = 0
	}

	var res sql.Result
	if out.Success {
		res, err = tx.ExecContext(ctx, `
			UPDATE memo_tasks
			SET status = ?, ended_at = ?, duration_seconds = ?, result_location = ?, result_format = ?, updated_at = ?
			WHERE id = ? AND status = ?;
		`, string(StatusCompleted), ended, duration, out.ResultLocation, out.ResultFormat, ended, recordID, string(cur.Status))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE memo_tasks
			SET status = ?, ended_at = ?, duration_seconds = ?, error_message = ?, updated_at = ?
			WHERE id = ? AND status = ?;
		`, string(StatusFailed), ended, duration, out.ErrorMessage, ended, recordID, string(cur.Status))
	}
	if err != nil {
		return false, storeErr("complete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("complete task", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr("complete task", err)
	}
	return true, nil
}

func (s *SQLStore) FindActive(ctx context.Context, id fingerprint.Identity) (*TaskRecord, error) {
	return s.findOne(ctx, "find active", `
		SELECT `+selectColumns+`
		FROM memo_tasks
		WHERE task_key = ? AND params_hash = ? AND canonical_parameters = ? AND status IN (?, ?)
		ORDER BY seq DESC
		LIMIT 1;
	`, id.Name, id.Hash(), id.Canonical(), string(StatusPending), string(StatusRunning))
}

func (s *SQLStore) FindCompleted(ctx context.Context, id fingerprint.Identity) (*TaskRecord, error) {
	return s.findOne(ctx, "find completed", `
		SELECT `+selectColumns+`
		FROM memo_tasks
		WHERE task_key = ? AND params_hash = ? AND canonical_parameters = ? AND status = ?
		ORDER BY ended_at DESC, seq DESC
		LIMIT 1;
	`, id.Name, id.Hash(), id.Canonical(), string(StatusCompleted))
}

func (s *SQLStore) findOne(ctx context.Context, op, query string, args ...any) (*TaskRecord, error) {
	if s.db == nil {
		return nil, storeErr(op, errors.New("nil db"))
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return rec, nil
}

func (s *SQLStore) Get(ctx context.Context, recordID string) (*TaskRecord, error) {
	if s.db == nil {
		return nil, storeErr("get", errors.New("nil db"))
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM memo_tasks WHERE id = ?;`, recordID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return rec, nil
}

func getTx(ctx context.Context, tx *sql.Tx, recordID string) (*TaskRecord, error) {
	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM memo_tasks WHERE id = ?;`, recordID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return rec, nil
}

func (s *SQLStore) List(ctx context.Context, status Status) ([]TaskRecord, error) {
	if s.db == nil {
		return nil, storeErr("list", errors.New("nil db"))
	}
	query := `SELECT ` + selectColumns + ` FROM memo_tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq ASC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, storeErr("list", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

func scanRecord(scan func(dest ...any) error) (*TaskRecord, error) {
	rec := TaskRecord{}
	var status string
	var seed sql.NullInt64
	var startedAt, endedAt sql.NullTime
	var duration sql.NullFloat64
	var errorMsg, location, format sql.NullString
	if err := scan(&rec.ID, &rec.TaskKey, &rec.ParamsHash, &rec.CanonicalParameters, &seed, &status,
		&rec.CreatedAt, &startedAt, &endedAt, &duration, &errorMsg, &location, &format); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if seed.Valid {
		v := seed.Int64
		rec.RandomSeed = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	if duration.Valid {
		d := time.Duration(duration.Float64 * float64(time.Second))
		rec.Duration = &d
	}
	if errorMsg.Valid {
		v := errorMsg.String
		rec.ErrorMessage = &v
	}
	if location.Valid {
		v := location.String
		rec.ResultLocation = &v
	}
	if format.Valid {
		v := format.String
		rec.ResultFormat = &v
	}
	return &rec, nil
}
