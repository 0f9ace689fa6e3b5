package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohans/memotask/internal/config"
)

func TestWatcher_DetectsConfigChange(t *testing.T) {
	homeDir := t.TempDir()
	path := filepath.Join(homeDir, "config.yaml")
	if err := os.WriteFile(path, []byte("use_cache: true\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// Unrelated files in the home directory are ignored.
	_ = os.WriteFile(filepath.Join(homeDir, "tasks.db"), []byte("x"), 0o644)

	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	if err := config.Set(homeDir, map[string]any{"use_cache": false}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != "config.yaml" {
				t.Fatalf("expected config.yaml event, got %s", ev.Path)
			}
			return
		case <-writeTick.C:
			_ = config.Set(homeDir, map[string]any{"use_cache": false})
		case <-deadline:
			t.Fatalf("timed out waiting for config change event")
		}
	}
}

func TestWatcher_ClosesOnCancel(t *testing.T) {
	w := config.NewWatcher(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	cancel()
	select {
	case _, ok := <-w.Events():
		if ok {
			// Drain a stray event and wait for close.
			for range w.Events() {
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("events channel not closed after cancel")
	}
}
