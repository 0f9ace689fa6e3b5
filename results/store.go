// Package results persists the return values of memoized computations as
// artifacts on disk and reconstructs them.
//
// The artifact encoding follows the value's shape (see Encode). Tabular,
// mapping, collection and scalar values are restored exactly; anything else
// is saved as JSON when possible and otherwise as opaque text, which is
// returned as a string on retrieval.
package results

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var (
	// ErrArtifactMissing reports a location that does not resolve to a file.
	ErrArtifactMissing = errors.New("artifact missing")
	// ErrCorruptArtifact reports an artifact that does not decode under its format.
	ErrCorruptArtifact = errors.New("artifact corrupt")
)

// Placement names where an artifact belongs.
type Placement struct {
	Namespace string
	Name      string
	RecordID  string
}

// FileStore keeps artifacts under a root directory:
//
//	{root}/{namespace}/{name}/{name}_{record id}_{unix millis}.{ext}
//
// Every completion gets its own file, so concurrent writers never touch the
// same path.
type FileStore struct {
	root string
	now  func() time.Time
}

// NewFileStore returns a store rooted at root. The directory is created on
// first write.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, now: time.Now}
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)

func sanitize(s string) string {
	if s == "" {
		return "default"
	}
	return unsafeName.ReplaceAllString(s, "_")
}

// Persist encodes v and writes it as a new artifact. It returns the artifact
// path and the format that must be passed back to Retrieve.
func (s *FileStore) Persist(ctx context.Context, p Placement, v any) (string, Format, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	format, data, err := Encode(v)
	if err != nil {
		return "", "", fmt.Errorf("encode result: %w", err)
	}
	name := sanitize(p.Name)
	dir := filepath.Join(s.root, sanitize(p.Namespace), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create artifact directory: %w", err)
	}
	filename := fmt.Sprintf("%s_%s_%d.%s", name, sanitize(p.RecordID), s.now().UnixMilli(), format.Ext())
	path := filepath.Join(dir, filename)

	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return "", "", fmt.Errorf("create artifact: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", "", fmt.Errorf("publish artifact: %w", err)
	}
	return path, format, nil
}

// Retrieve reads the artifact at location and decodes it under format.
func (s *FileStore) Retrieve(ctx context.Context, location string, format Format) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if location == "" {
		return nil, fmt.Errorf("%w: empty location", ErrArtifactMissing)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, location)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return Decode(format, data)
}
