package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/mohans/memotask/internal/otel"
)

const (
	yamlFile = "config.yaml"
	tomlFile = "config.toml"
)

type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	DB       int    `yaml:"db" toml:"db"`
	Password string `yaml:"password" toml:"password"`
}

// Config is the process-wide memotask configuration.
type Config struct {
	HomeDir string `yaml:"-" toml:"-"`

	DBPath            string `yaml:"db_path" toml:"db_path"`
	OutputDir         string `yaml:"output_dir" toml:"output_dir"`
	UseCache          bool   `yaml:"use_cache" toml:"use_cache"`
	SkipIfInProgress  bool   `yaml:"skip_if_in_progress" toml:"skip_if_in_progress"`
	ProjectName       string `yaml:"project_name" toml:"project_name"`
	LogLevel          string `yaml:"log_level" toml:"log_level"`
	StaleAfterSeconds int    `yaml:"stale_after_seconds" toml:"stale_after_seconds"`

	Redis       RedisConfig `yaml:"redis" toml:"redis"`
	Queue       string      `yaml:"queue" toml:"queue"`
	Concurrency int         `yaml:"concurrency" toml:"concurrency"`

	OTel otel.Config `yaml:"otel" toml:"otel"`
}

// StaleAfter returns StaleAfterSeconds as a duration; zero disables adoption.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

func defaultConfig(home string) Config {
	return Config{
		HomeDir:     home,
		DBPath:      filepath.Join(home, "tasks.db"),
		OutputDir:   filepath.Join(home, "outputs"),
		UseCache:    true,
		ProjectName: "memotask",
		LogLevel:    "info",
		Redis:       RedisConfig{Addr: "127.0.0.1:6379"},
		Queue:       "default",
		Concurrency: 4,
	}
}

// HomeDir returns $MEMOTASK_HOME, else ~/.memotask.
func HomeDir() string {
	if override := os.Getenv("MEMOTASK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".memotask")
}

// Path returns the config file in homeDir: config.toml when only that
// exists, config.yaml otherwise.
func Path(homeDir string) string {
	yml := filepath.Join(homeDir, yamlFile)
	if _, err := os.Stat(yml); err == nil {
		return yml
	}
	tml := filepath.Join(homeDir, tomlFile)
	if _, err := os.Stat(tml); err == nil {
		return tml
	}
	return yml
}

// Load reads the config from HomeDir.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads homeDir's config file over the defaults, then applies
// environment overrides. A missing file is not an error.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig(homeDir)
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create memotask home: %w", err)
	}

	path := Path(homeDir)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	case len(data) > 0:
		if err := unmarshal(path, data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func unmarshal(path string, data []byte, v any) error {
	if filepath.Ext(path) == ".toml" {
		if _, err := toml.Decode(string(data), v); err != nil {
			return fmt.Errorf("parse %s: %w", tomlFile, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", yamlFile, err)
	}
	return nil
}

// normalize fills blanks and resolves relative paths against HomeDir.
func normalize(cfg *Config) {
	def := defaultConfig(cfg.HomeDir)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = def.DBPath
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = def.OutputDir
	}
	cfg.DBPath = resolve(cfg.HomeDir, cfg.DBPath)
	cfg.OutputDir = resolve(cfg.HomeDir, cfg.OutputDir)
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.StaleAfterSeconds < 0 {
		cfg.StaleAfterSeconds = 0
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}
}

func resolve(home, p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, err := os.UserHomeDir(); err == nil {
			return filepath.Join(h, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(home, p)
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("MEMOTASK_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("MEMOTASK_OUTPUT_DIR"); raw != "" {
		cfg.OutputDir = raw
	}
	if raw := os.Getenv("MEMOTASK_USE_CACHE"); raw != "" {
		if v, err := cast.ToBoolE(raw); err == nil {
			cfg.UseCache = v
		}
	}
	if raw := os.Getenv("MEMOTASK_SKIP_IF_IN_PROGRESS"); raw != "" {
		if v, err := cast.ToBoolE(raw); err == nil {
			cfg.SkipIfInProgress = v
		}
	}
	if raw := os.Getenv("MEMOTASK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("MEMOTASK_REDIS_ADDR"); raw != "" {
		cfg.Redis.Addr = raw
	}
}

// Keys accepted by Set, with the conversion applied to their values.
var settable = map[string]func(any) (any, error){
	"db_path":             func(v any) (any, error) { return cast.ToStringE(v) },
	"output_dir":          func(v any) (any, error) { return cast.ToStringE(v) },
	"use_cache":           func(v any) (any, error) { return cast.ToBoolE(v) },
	"skip_if_in_progress": func(v any) (any, error) { return cast.ToBoolE(v) },
	"project_name":        func(v any) (any, error) { return cast.ToStringE(v) },
	"log_level":           func(v any) (any, error) { return cast.ToStringE(v) },
	"stale_after_seconds": func(v any) (any, error) { return cast.ToIntE(v) },
	"queue":               func(v any) (any, error) { return cast.ToStringE(v) },
	"concurrency":         func(v any) (any, error) { return cast.ToIntE(v) },
	"redis.addr":          func(v any) (any, error) { return cast.ToStringE(v) },
	"redis.db":            func(v any) (any, error) { return cast.ToIntE(v) },
	"redis.password":      func(v any) (any, error) { return cast.ToStringE(v) },
}

// Set updates keys in homeDir's config file, preserving everything else.
// Nested keys use dots, e.g. "redis.addr".
func Set(homeDir string, updates map[string]any) error {
	converted := make(map[string]any, len(updates))
	for key, v := range updates {
		conv, ok := settable[key]
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		cv, err := conv(v)
		if err != nil {
			return fmt.Errorf("config key %s: %w", key, err)
		}
		converted[key] = cv
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create memotask home: %w", err)
	}
	path := Path(homeDir)
	raw, err := loadRaw(path)
	if err != nil {
		return err
	}
	for key, v := range converted {
		setPath(raw, strings.Split(key, "."), v)
	}
	return saveRaw(path, raw)
}

func setPath(raw map[string]any, parts []string, v any) {
	if len(parts) == 1 {
		raw[parts[0]] = v
		return
	}
	child, _ := raw[parts[0]].(map[string]any)
	if child == nil {
		child = make(map[string]any)
	}
	setPath(child, parts[1:], v)
	raw[parts[0]] = child
}

// loadRaw reads the config file into a generic map, empty if absent.
func loadRaw(path string) (map[string]any, error) {
	raw := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) > 0 {
		if err := unmarshal(path, data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func saveRaw(path string, raw map[string]any) error {
	var out []byte
	if filepath.Ext(path) == ".toml" {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(raw); err != nil {
			return fmt.Errorf("marshal %s: %w", tomlFile, err)
		}
		out = []byte(sb.String())
	} else {
		b, err := yaml.Marshal(raw)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", yamlFile, err)
		}
		out = b
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}
