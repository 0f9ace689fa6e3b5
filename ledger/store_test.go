package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mohans/memotask/fingerprint"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec(CreateSchemaSQL); err != nil {
		db.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testIdentity(t *testing.T, name string, args fingerprint.Args) fingerprint.Identity {
	t.Helper()
	sig := fingerprint.MustSignature(fingerprint.Required("x"), fingerprint.Optional(fingerprint.SeedParam, 123))
	bound, err := sig.Bind(args)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return fingerprint.NewIdentity(name, bound)
}

func TestSQLStore_Lifecycle_Success(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	id := testIdentity(t, "compute_something", fingerprint.Positional(4))

	rec, err := store.CreateTask(ctx, id)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if rec.Status != StatusPending || rec.ID == "" {
		t.Fatalf("unexpected created record: %#v", rec)
	}
	if rec.RandomSeed == nil || *rec.RandomSeed != 123 {
		t.Fatalf("random seed not captured: %#v", rec.RandomSeed)
	}
	started, err := store.StartTask(ctx, rec.ID)
	if err != nil || !started {
		t.Fatalf("StartTask = %v, %v", started, err)
	}
	ok, err := store.CompleteTask(ctx, rec.ID, Succeeded("/tmp/out.json", "object"))
	if err != nil || !ok {
		t.Fatalf("CompleteTask = %v, %v", ok, err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("want status=%s got=%s", StatusCompleted, got.Status)
	}
	if got.ResultLocation == nil || *got.ResultLocation != "/tmp/out.json" || got.ResultFormat == nil || *got.ResultFormat != "object" {
		t.Fatalf("unexpected result pointer: %#v %#v", got.ResultLocation, got.ResultFormat)
	}
	if got.ErrorMessage != nil {
		t.Fatalf("error message must be unset on success: %q", *got.ErrorMessage)
	}
	if got.StartedAt == nil || got.EndedAt == nil || got.Duration == nil {
		t.Fatalf("expected timestamps to be set: started=%v ended=%v duration=%v", got.StartedAt, got.EndedAt, got.Duration)
	}
	if got.CanonicalParameters != `{"random_seed":123,"x":4}` {
		t.Fatalf("unexpected canonical parameters %q", got.CanonicalParameters)
	}

	done, err := store.FindCompleted(ctx, id)
	if err != nil || done == nil || done.ID != rec.ID {
		t.Fatalf("FindCompleted = %#v, %v", done, err)
	}
	active, err := store.FindActive(ctx, id)
	if err != nil || active != nil {
		t.Fatalf("FindActive after completion = %#v, %v", active, err)
	}
}

func TestSQLStore_DurationFromStart(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	rec, err := store.CreateTask(ctx, testIdentity(t, "f", fingerprint.Positional(1))) // t=1s
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.StartTask(ctx, rec.ID); err != nil { // t=2s
		t.Fatalf("StartTask: %v", err)
	}
	store.now = func() time.Time { return base.Add(7 * time.Second) }
	if _, err := store.CompleteTask(ctx, rec.ID, Succeeded("x", "object")); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Duration == nil || *got.Duration != 5*time.Second {
		t.Fatalf("duration = %v, want 5s", got.Duration)
	}
}

func TestSQLStore_MarkFailed(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	rec, err := store.CreateTask(ctx, testIdentity(t, "email_deliver", fingerprint.Positional(2)))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.StartTask(ctx, rec.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if ok, err := store.CompleteTask(ctx, rec.ID, Failed("boom")); err != nil || !ok {
		t.Fatalf("CompleteTask = %v, %v", ok, err)
	}
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("want status=%s got=%s", StatusFailed, got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "boom" {
		t.Fatalf("unexpected error msg: %#v", got.ErrorMessage)
	}
	if got.ResultLocation != nil || got.ResultFormat != nil {
		t.Fatalf("result pointer must be unset on failure")
	}
}

func TestSQLStore_TransitionsAreMonotonic(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	rec, err := store.CreateTask(ctx, testIdentity(t, "f", fingerprint.Positional(1)))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if ok, _ := store.StartTask(ctx, rec.ID); !ok {
		t.Fatalf("first start should succeed")
	}
	if ok, err := store.StartTask(ctx, rec.ID); err != nil || ok {
		t.Fatalf("double start = %v, %v; want false, nil", ok, err)
	}
	if ok, _ := store.CompleteTask(ctx, rec.ID, Failed("x")); !ok {
		t.Fatalf("complete should succeed")
	}
	if ok, err := store.CompleteTask(ctx, rec.ID, Succeeded("a", "b")); err != nil || ok {
		t.Fatalf("completing a terminal record = %v, %v; want false, nil", ok, err)
	}
	if ok, err := store.StartTask(ctx, rec.ID); err != nil || ok {
		t.Fatalf("starting a terminal record = %v, %v; want false, nil", ok, err)
	}
}

func TestSQLStore_CompletePending(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	rec, err := store.CreateTask(ctx, testIdentity(t, "f", fingerprint.Positional(1)))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if ok, err := store.CompleteTask(ctx, rec.ID, Failed("never started")); err != nil || !ok {
		t.Fatalf("CompleteTask on PENDING = %v, %v", ok, err)
	}
}

func TestSQLStore_CreateTaskIsIdempotentForActiveIdentity(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	id := testIdentity(t, "f", fingerprint.Positional(1))

	first, err := store.CreateTask(ctx, id)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	second, err := store.CreateTask(ctx, id)
	if err != nil {
		t.Fatalf("CreateTask again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the existing record %s, got %s", first.ID, second.ID)
	}

	// Once terminal, the identity may get a fresh record.
	if _, err := store.CompleteTask(ctx, first.ID, Failed("x")); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	third, err := store.CreateTask(ctx, id)
	if err != nil {
		t.Fatalf("CreateTask after failure: %v", err)
	}
	if third.ID == first.ID {
		t.Fatalf("expected a new record after the previous one failed")
	}
	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != third.ID {
		t.Fatalf("unexpected records in insertion order: %#v", all)
	}
}

func TestSQLStore_SchemaRejectsSecondActiveRow(t *testing.T) {
	db := openTestDB(t)
	insert := `INSERT INTO memo_tasks (id, task_key, params_hash, canonical_parameters, status, created_at)
		VALUES (?, 'f', 'h', '{}', ?, CURRENT_TIMESTAMP)`
	if _, err := db.Exec(insert, "a", string(StatusRunning)); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	_, err := db.Exec(insert, "b", string(StatusPending))
	if !isUniqueViolation(err) {
		t.Fatalf("want unique violation, got %v", err)
	}
	if _, err := db.Exec(`INSERT INTO memo_tasks (id, task_key, params_hash, canonical_parameters, status, created_at)
		VALUES ('c', 'f', 'h', '{}', 'COMPLETED', CURRENT_TIMESTAMP)`); err == nil {
		t.Fatalf("COMPLETED row without a result location must violate the check constraint")
	}
}

func TestSQLStore_FindCompletedPicksMostRecent(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	id := testIdentity(t, "f", fingerprint.Positional(9))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var last string
	for i := 0; i < 2; i++ {
		store.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		rec, err := store.CreateTask(ctx, id)
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if _, err := store.CompleteTask(ctx, rec.ID, Succeeded(fmt.Sprintf("loc-%d", i), "object")); err != nil {
			t.Fatalf("CompleteTask: %v", err)
		}
		last = rec.ID
	}
	got, err := store.FindCompleted(ctx, id)
	if err != nil {
		t.Fatalf("FindCompleted: %v", err)
	}
	if got == nil || got.ID != last {
		t.Fatalf("want most recent completion %s, got %#v", last, got)
	}
}

func TestSQLStore_ListByStatus(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec, err := store.CreateTask(ctx, testIdentity(t, "f", fingerprint.Positional(i)))
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if i == 1 {
			_, _ = store.StartTask(ctx, rec.ID)
		}
	}
	running, err := store.List(ctx, StatusRunning)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("want 1 RUNNING record, got %d", len(running))
	}
	pending, err := store.List(ctx, StatusPending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("want 2 PENDING records, got %d", len(pending))
	}
}

func TestSQLStore_GetByID_NotFound(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	ctx := context.Background()
	if rec, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got rec=%#v err=%v", rec, err)
	}
	if _, err := store.StartTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StartTask on missing record: want ErrNotFound, got %v", err)
	}
	if _, err := store.CompleteTask(ctx, "missing", Failed("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CompleteTask on missing record: want ErrNotFound, got %v", err)
	}
}

func TestSQLStore_ClosedDBIsStoreUnavailable(t *testing.T) {
	db, err := sql.Open("sqlite", "file:ledger_closed?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := NewSQLStore(db)
	_ = db.Close()
	_, err = store.CreateTask(context.Background(), testIdentity(t, "f", fingerprint.Positional(1)))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "create task" {
		t.Fatalf("want StoreError for create task, got %#v", err)
	}
}

func TestOpenSQLite_ConcurrentCreateYieldsOneActiveRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	a, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer a.Close()
	b, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite second handle: %v", err)
	}
	defer b.Close()

	id := testIdentity(t, "race", fingerprint.Positional(1))
	const workers = 8
	ids := make([]string, workers)
	starts := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store := a
			if i%2 == 1 {
				store = b
			}
			rec, err := store.CreateTask(ctx, id)
			if err != nil {
				t.Errorf("CreateTask: %v", err)
				return
			}
			ids[i] = rec.ID
			ok, err := store.StartTask(ctx, rec.ID)
			if err != nil {
				t.Errorf("StartTask: %v", err)
				return
			}
			starts[i] = ok
		}(i)
	}
	wg.Wait()

	won := 0
	for i := range ids {
		if ids[i] != ids[0] {
			t.Fatalf("workers saw different records: %v", ids)
		}
		if starts[i] {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("want exactly one worker to start the task, got %d", won)
	}
	all, err := a.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("want 1 record, got %d", len(all))
	}
}
