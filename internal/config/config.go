// Package config loads scoutd configuration from a TOML file and turns it
// into the runtime options of the supervisor, the HTTP server and the worker
// launch template.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/corescout/scoutd/internal/health"
	"github.com/corescout/scoutd/internal/logger"
	"github.com/corescout/scoutd/internal/metrics"
	"github.com/corescout/scoutd/internal/prefs"
	"github.com/corescout/scoutd/internal/worker"
)

// DefaultListen is the control API address used when the config file does not
// set one. The API is loopback-only unless explicitly configured otherwise.
const DefaultListen = "127.0.0.1:7466"

// Config is the top-level TOML document.
//
// Env and EnvFiles feed the worker environment: files are applied in order,
// then inline entries, then the worker block's own entries, later sources
// overriding earlier ones. The merged set is appended to the supervisor's
// environment at spawn time.
type Config struct {
	Listen   string   `mapstructure:"listen"`
	LogLevel string   `mapstructure:"log_level"`
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`

	Log        logger.Config         `mapstructure:"log"`
	Worker     worker.Spec           `mapstructure:"worker"`
	Health     health.Policy         `mapstructure:"health"`
	Stop       worker.StopPolicy     `mapstructure:"stop"`
	DataSource DataSourceConfig      `mapstructure:"data_source"`
	Prefs      PrefsConfig           `mapstructure:"prefs"`
	History    HistoryConfig         `mapstructure:"history"`
	Metrics    metrics.SamplerConfig `mapstructure:"metrics"`
}

// DataSourceConfig controls data source selection rules and startup behavior.
type DataSourceConfig struct {
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	Initial           string   `mapstructure:"initial"`
	AutoStart         bool     `mapstructure:"auto_start"`
	AllowNoDataSource bool     `mapstructure:"allow_no_data_source"`
}

// PrefsConfig points at the JSON file remembering the last data source
// selection. Disabled turns persistence off entirely.
type PrefsConfig struct {
	Path     string `mapstructure:"path"`
	Disabled bool   `mapstructure:"disabled"`
}

// HistoryConfig names the durable event log destinations. File is an
// append-only JSON lines log; DSN optionally mirrors events into a database
// (postgres://... or sqlite://...).
type HistoryConfig struct {
	File string `mapstructure:"file"`
	DSN  string `mapstructure:"dsn"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects configs the supervisor cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Worker.Command) == "" {
		return fmt.Errorf("worker command is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	for _, ext := range c.DataSource.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("allowed extension %q must start with a dot", ext)
		}
	}
	return nil
}

// WorkerSpec assembles the launch template for the worker process: the
// configured command plus the merged environment and capture settings.
func (c *Config) WorkerSpec() (worker.Spec, error) {
	env, err := c.workerEnv()
	if err != nil {
		return worker.Spec{}, err
	}
	spec := c.Worker
	spec.Env = env
	spec.Log = mergeLog(c.Log, c.Worker.Log)
	return spec, nil
}

// PrefsStore builds the selection store from the prefs block. A disabled
// block yields nil, meaning selections are not remembered across runs.
func (c *Config) PrefsStore() (*prefs.Store, error) {
	if c.Prefs.Disabled {
		return nil, nil
	}
	path := c.Prefs.Path
	if path == "" {
		p, err := prefs.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve prefs path: %w", err)
		}
		path = p
	}
	return prefs.NewStore(path), nil
}

// SlogLevel maps the configured log level onto slog. Unknown values fall
// back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// workerEnv merges env files and inline entries into a sorted KEY=VALUE
// slice. Later sources win: files in listed order, then the top-level env
// block, then the worker block.
func (c *Config) workerEnv() ([]string, error) {
	merged := map[string]string{}
	for _, f := range c.EnvFiles {
		kv, err := loadEnvFile(f)
		if err != nil {
			return nil, err
		}
		for k, v := range kv {
			merged[k] = v
		}
	}
	apply := func(entries []string) {
		for _, e := range entries {
			k, v, ok := strings.Cut(e, "=")
			if !ok || k == "" {
				continue
			}
			merged[k] = v
		}
	}
	apply(c.Env)
	apply(c.Worker.Env)
	if len(merged) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out, nil
}

// loadEnvFile parses a KEY=VALUE file. Blank lines and # comments are
// skipped; lines without = are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	out := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// mergeLog overlays worker-level capture settings on the global log block.
func mergeLog(global, override logger.Config) logger.Config {
	merged := global
	if override.Dir != "" {
		merged.Dir = override.Dir
	}
	if override.StdoutPath != "" {
		merged.StdoutPath = override.StdoutPath
	}
	if override.StderrPath != "" {
		merged.StderrPath = override.StderrPath
	}
	if override.MaxSizeMB != 0 {
		merged.MaxSizeMB = override.MaxSizeMB
	}
	if override.MaxBackups != 0 {
		merged.MaxBackups = override.MaxBackups
	}
	if override.MaxAgeDays != 0 {
		merged.MaxAgeDays = override.MaxAgeDays
	}
	if override.Compress {
		merged.Compress = true
	}
	return merged
}
