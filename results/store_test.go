package results

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFileStore(t.TempDir())
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return s
}

func persistAndRetrieve(t *testing.T, s *FileStore, v any) (any, string, Format) {
	t.Helper()
	ctx := context.Background()
	loc, f, err := s.Persist(ctx, Placement{Namespace: "examples.demo", Name: "compute", RecordID: "rec-1"}, v)
	if err != nil {
		t.Fatalf("Persist(%#v): %v", v, err)
	}
	got, err := s.Retrieve(ctx, loc, f)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	return got, loc, f
}

func TestFileStore_FormatSelection(t *testing.T) {
	s := newTestStore(t)
	tbl := NewTable("col1", "col2")
	_ = tbl.Append(int64(1), "a")
	_ = tbl.Append(2.5, nil)

	cases := []struct {
		name   string
		in     any
		format Format
		want   any
	}{
		{"tabular", tbl, FormatTabular, Table{Columns: []string{"col1", "col2"}, Rows: [][]any{{int64(1), "a"}, {2.5, nil}}}},
		{"object", map[string]any{"value": 16, "seed": 123}, FormatObject, map[string]any{"value": int64(16), "seed": int64(123)}},
		{"collection", []string{"b", "a"}, FormatCollection, []any{"b", "a"}},
		{"bytes", []byte{1, 2, 3}, FormatCollection, []any{int64(1), int64(2), int64(3)}},
		{"byte array", [2]byte{0, 255}, FormatCollection, []any{int64(0), int64(255)}},
		{"set", NewSet(3, 1, 2), FormatCollection, []any{int64(1), int64(2), int64(3)}},
		{"raw set", map[string]struct{}{"y": {}, "x": {}}, FormatCollection, []any{"x", "y"}},
		{"int", 42, FormatScalarInt, int64(42)},
		{"float", 0.25, FormatScalarFloat, 0.25},
		{"bool", true, FormatScalarBool, true},
		{"string", "16", FormatScalarString, "16"},
		{"struct", struct {
			A int `json:"a"`
		}{A: 3}, FormatObject, map[string]any{"a": int64(3)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, loc, f := persistAndRetrieve(t, s, tc.in)
			if f != tc.format {
				t.Fatalf("format = %s, want %s", f, tc.format)
			}
			if !strings.HasSuffix(loc, "."+tc.format.Ext()) {
				t.Fatalf("location %s does not end with .%s", loc, tc.format.Ext())
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileStore_OpaqueFallback(t *testing.T) {
	s := newTestStore(t)
	got, _, f := persistAndRetrieve(t, s, make(chan int))
	if f != FormatOpaque {
		t.Fatalf("format = %s, want opaque", f)
	}
	if _, ok := got.(string); !ok {
		t.Fatalf("opaque result should come back as text, got %T", got)
	}

	got, _, f = persistAndRetrieve(t, s, map[string]any{"fn": func() {}})
	if f != FormatOpaque || f.Lossless() {
		t.Fatalf("unencodable mapping should be opaque, got %s", f)
	}
	if _, ok := got.(string); !ok {
		t.Fatalf("opaque result should come back as text, got %T", got)
	}
}

func TestFileStore_Placement(t *testing.T) {
	s := newTestStore(t)
	loc, _, err := s.Persist(context.Background(), Placement{Namespace: "pkg.sub/mod", Name: "train", RecordID: "abc"}, 1)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	want := filepath.Join(s.Root(), "pkg_sub_mod", "train", "train_abc_1700000000123.txt")
	if loc != want {
		t.Fatalf("location = %s, want %s", loc, want)
	}
	entries, err := os.ReadDir(filepath.Dir(loc))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the artifact in the directory, found %d entries", len(entries))
	}
}

func TestFileStore_RepeatedCompletionsDoNotOverwrite(t *testing.T) {
	s := NewFileStore(t.TempDir())
	tick := int64(1000)
	s.now = func() time.Time { tick++; return time.UnixMilli(tick) }
	p := Placement{Namespace: "ns", Name: "f", RecordID: "r"}
	a, _, err := s.Persist(context.Background(), p, "first")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	b, _, err := s.Persist(context.Background(), p, "second")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct artifact paths, both %s", a)
	}
}

func TestFileStore_RetrieveMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Retrieve(context.Background(), filepath.Join(s.Root(), "nope.json"), FormatObject)
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("want ErrArtifactMissing, got %v", err)
	}
}

func TestFileStore_RetrieveCorrupt(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Root(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Retrieve(context.Background(), path, FormatObject); !errors.Is(err, ErrCorruptArtifact) {
		t.Fatalf("want ErrCorruptArtifact, got %v", err)
	}
	// Unknown formats fall back to text.
	got, err := s.Retrieve(context.Background(), path, Format("legacy"))
	if err != nil || got != "{not json" {
		t.Fatalf("legacy retrieve = %#v, %v", got, err)
	}
}

func TestNormalize_MatchesRetrieve(t *testing.T) {
	in := map[string]any{"nested": []any{1, 2.5, "x", map[string]int{"k": 1}}}
	got, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := map[string]any{"nested": []any{int64(1), 2.5, "x", map[string]any{"k": int64(1)}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestFormat_Shape(t *testing.T) {
	if FormatScalarInt.Shape() != ShapeScalar || FormatTabular.Shape() != ShapeTabular {
		t.Fatalf("unexpected shapes")
	}
	if FormatOpaque.Lossless() || !FormatCollection.Lossless() {
		t.Fatalf("unexpected lossless flags")
	}
}
