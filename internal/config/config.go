// Package config loads fastgo's runtime configuration from a YAML file
// with environment-variable overrides, following the shape of the
// teacher's internal/config package: one aggregate Config struct built
// from DefaultConfig() and merged with an on-disk file plus FASTGO_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config aggregates every subsystem's settings.
type Config struct {
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Fixtures   FixtureConfig    `yaml:"fixtures"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DiscoveryConfig controls the file walker and parsers (C1-C4).
type DiscoveryConfig struct {
	Roots           []string `yaml:"roots"`
	SourceExt       string   `yaml:"source_ext"`        // e.g. "py"
	FollowHidden    bool     `yaml:"follow_hidden"`
	IgnoreFileName  string   `yaml:"ignore_file_name"`  // e.g. ".fastgoignore"
	ExcludedDirs    []string `yaml:"excluded_dirs"`
	ParserPoolSize  int      `yaml:"parser_pool_size"`
	Watch           bool     `yaml:"watch"`
}

// ExecutionConfig controls strategy selection thresholds (C9-C10).
type ExecutionConfig struct {
	NativeFastMax     int `yaml:"native_fast_max"`
	BurstMax          int `yaml:"burst_max"`
	InProcessMax      int `yaml:"in_process_max"`
	WorkStealingMin   int `yaml:"work_stealing_min"`
	MassiveParallelMin int `yaml:"massive_parallel_min"`
	BurstMinWorkers   int `yaml:"burst_min_workers"`
	BurstMaxWorkers   int `yaml:"burst_max_workers"`
	MinCoresForWorkStealing int `yaml:"min_cores_for_work_stealing"`
}

// FixtureConfig controls the fixture cache (C6-C7).
type FixtureConfig struct {
	MaxCacheSize int `yaml:"max_cache_size"` // 0 = unbounded
}

// WorkerPoolConfig controls the daemon pool (C8-C9).
type WorkerPoolConfig struct {
	Size               int    `yaml:"size"`
	MaxRequestsPerWorker int  `yaml:"max_requests_per_worker"`
	IdleTimeoutSeconds int    `yaml:"idle_timeout_seconds"`
	RequestTimeoutMs   int    `yaml:"request_timeout_ms"`
	Command            string `yaml:"command"`
}

// LoggingConfig mirrors internal/logging.Configure's parameters.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the configuration spec.md implies absent any
// override: the thresholds of §4.9 and the pool shape of §4.8.
func DefaultConfig() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Roots:          []string{"."},
			SourceExt:      "py",
			FollowHidden:   false,
			IgnoreFileName: ".fastgoignore",
			ExcludedDirs:   []string{"__pycache__", ".git", ".hg", ".svn", "venv", ".venv", "env", "node_modules", "site-packages", ".tox", ".nox", ".eggs", "dist", "build"},
			ParserPoolSize: 0, // 0 => runtime.NumCPU()
		},
		Execution: ExecutionConfig{
			NativeFastMax:           20,
			BurstMax:                100,
			InProcessMax:            1000,
			WorkStealingMin:         500,
			MassiveParallelMin:      1000,
			BurstMinWorkers:         2,
			BurstMaxWorkers:         6,
			MinCoresForWorkStealing: 8,
		},
		Fixtures: FixtureConfig{MaxCacheSize: 0},
		WorkerPool: WorkerPoolConfig{
			Size:                 4,
			MaxRequestsPerWorker: 500,
			IdleTimeoutSeconds:   60,
			RequestTimeoutMs:     5000,
		},
		Logging: LoggingConfig{DebugMode: false, Level: "info"},
	}
}

// Load reads a YAML file at path, falling back to DefaultConfig if the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config back to path as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides layers FASTGO_* environment variables on top of the
// file/default config, mirroring the teacher's config.applyEnvOverrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FASTGO_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("FASTGO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FASTGO_SOURCE_EXT"); v != "" {
		c.Discovery.SourceExt = v
	}
	if v := os.Getenv("FASTGO_WORKER_POOL_SIZE"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.WorkerPool.Size = n
		}
	}
	if v := os.Getenv("FASTGO_WATCH"); v == "1" || v == "true" {
		c.Discovery.Watch = true
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("not positive: %d", n)
	}
	return n, nil
}
