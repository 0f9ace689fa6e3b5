package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohans/memotask/internal/config"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MEMOTASK_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("HomeDir = %q, want %q", cfg.HomeDir, home)
	}
	if cfg.DBPath != filepath.Join(home, "tasks.db") || cfg.OutputDir != filepath.Join(home, "outputs") {
		t.Fatalf("unexpected default paths: %q %q", cfg.DBPath, cfg.OutputDir)
	}
	if !cfg.UseCache || cfg.SkipIfInProgress {
		t.Fatalf("default policy: use_cache=%v skip=%v", cfg.UseCache, cfg.SkipIfInProgress)
	}
	if cfg.StaleAfter() != 0 {
		t.Fatalf("stale adoption should be off by default")
	}
}

func TestLoadFrom_YAML(t *testing.T) {
	home := t.TempDir()
	body := `db_path: data/memo.db
use_cache: false
skip_if_in_progress: true
stale_after_seconds: 90
redis:
  addr: redis:6380
otel:
  enabled: true
  exporter: stdout
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.DBPath != filepath.Join(home, "data", "memo.db") {
		t.Fatalf("relative db path not resolved: %q", cfg.DBPath)
	}
	if cfg.UseCache || !cfg.SkipIfInProgress {
		t.Fatalf("policy not loaded: %+v", cfg)
	}
	if cfg.StaleAfter() != 90*time.Second || cfg.Redis.Addr != "redis:6380" {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if !cfg.OTel.Enabled || cfg.OTel.Exporter != "stdout" {
		t.Fatalf("otel block not loaded: %+v", cfg.OTel)
	}
}

func TestLoadFrom_TOML(t *testing.T) {
	home := t.TempDir()
	body := "output_dir = \"/tmp/memo-out\"\nproject_name = \"experiments\"\n\n[redis]\ndb = 2\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.OutputDir != "/tmp/memo-out" || cfg.ProjectName != "experiments" || cfg.Redis.DB != 2 {
		t.Fatalf("toml not loaded: %+v", cfg)
	}
	if !cfg.UseCache {
		t.Fatalf("absent keys should keep defaults")
	}
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("use_cache: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MEMOTASK_USE_CACHE", "false")
	t.Setenv("MEMOTASK_SKIP_IF_IN_PROGRESS", "1")
	t.Setenv("MEMOTASK_DB_PATH", "/var/lib/memo.db")
	t.Setenv("MEMOTASK_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("MEMOTASK_LOG_LEVEL", "debug")

	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.UseCache || !cfg.SkipIfInProgress {
		t.Fatalf("bool env overrides not applied: %+v", cfg)
	}
	if cfg.DBPath != "/var/lib/memo.db" || cfg.Redis.Addr != "10.0.0.5:6379" || cfg.LogLevel != "debug" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("use_cache: [\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.LoadFrom(home); err == nil || !strings.Contains(err.Error(), "config.yaml") {
		t.Fatalf("expected parse error naming config.yaml, got %v", err)
	}
}

func TestSet_PreservesOtherKeys(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	if err := os.WriteFile(path, []byte("project_name: keep-me\ncustom_note: hello\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err := config.Set(home, map[string]any{
		"use_cache":           "false",
		"skip_if_in_progress": "true",
		"redis.addr":          "cache:6379",
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "custom_note: hello") {
		t.Fatalf("unknown key dropped:\n%s", data)
	}

	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.ProjectName != "keep-me" || cfg.UseCache || !cfg.SkipIfInProgress || cfg.Redis.Addr != "cache:6379" {
		t.Fatalf("unexpected config after Set: %+v", cfg)
	}
}

func TestSet_TOMLFile(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte("queue = \"batch\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := config.Set(home, map[string]any{"concurrency": "8"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "config.yaml")); !os.IsNotExist(err) {
		t.Fatalf("Set should write the existing toml file, not create yaml")
	}
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Queue != "batch" || cfg.Concurrency != 8 {
		t.Fatalf("unexpected config after Set: %+v", cfg)
	}
}

func TestSet_RejectsUnknownKeyAndBadValue(t *testing.T) {
	home := t.TempDir()
	if err := config.Set(home, map[string]any{"no_such_key": 1}); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if err := config.Set(home, map[string]any{"use_cache": "maybe"}); err == nil {
		t.Fatalf("expected bool conversion error")
	}
}
