// Package config loads teamq settings from .env.local, a YAML file and
// TEAMQ_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
)

// Config represents the application configuration
type Config struct {
	Driver        string       `yaml:"driver"`
	DSN           string       `yaml:"dsn"`
	DBPath        string       `yaml:"db_path"`
	LogLevel      string       `yaml:"log_level"`
	LogFormat     string       `yaml:"log_format"`
	Output        string       `yaml:"output"`
	Actor         string       `yaml:"actor"`
	LegacySources []string     `yaml:"legacy_sources"`
	Merge         MergeConfig  `yaml:"merge"`
	Lease         LeaseConfig  `yaml:"lease"`
	Daemon        DaemonConfig `yaml:"daemon"`
	// Webhooks are notified when a merge or match-dedup batch finishes.
	Webhooks []string `yaml:"webhooks"`
}

// MergeConfig bounds merge batches.
type MergeConfig struct {
	MaxPasses  int `yaml:"max_passes"`
	ChunkSize  int `yaml:"chunk_size"`
	SampleSize int `yaml:"sample_size"`
}

// LeaseConfig configures the write-authorization gate.
type LeaseConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// DaemonConfig configures teamqd.
type DaemonConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Driver:    db.DialectSQLite,
		LogLevel:  "info",
		LogFormat: "text",
		Output:    "table",
		Merge:     MergeConfig{MaxPasses: 5, ChunkSize: 200, SampleSize: 10},
		Lease:     LeaseConfig{TTL: 10 * time.Minute},
		Daemon:    DaemonConfig{Addr: "127.0.0.1:7272"},
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. $TEAMQ_CONFIG or ~/.config/teamq/config.yaml
// 4. Defaults
func Load() (*Config, error) {
	cfg := Defaults()

	// godotenv never overrides variables already set.
	if envPath := findEnvLocal(); envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	if err := loadYAMLConfig(cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Driver == db.DialectSQLite && cfg.DBPath == "" {
		if cfg.DSN != "" {
			cfg.DBPath = cfg.DSN
		} else if _, err := os.Stat(".teamq/teamq.db"); err == nil {
			cfg.DBPath = ".teamq/teamq.db"
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			cfg.DBPath = filepath.Join(homeDir, ".local", "share", "teamq", "teamq.db")
		}
	}
	return cfg, nil
}

// loadYAMLConfig merges the YAML file over cfg. A missing file is fine; an
// unreadable or malformed one is not.
func loadYAMLConfig(cfg *Config) error {
	path := os.Getenv("TEAMQ_CONFIG")
	explicit := path != ""
	if !explicit {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(homeDir, ".config", "teamq", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Driver, "TEAMQ_DRIVER")
	setString(&cfg.DSN, "TEAMQ_DSN")
	if v := getEnvOrFile("TEAMQ_DB_PATH", "TEAMQ_DB_PATH_FILE"); v != "" {
		cfg.DBPath = v
	}
	setString(&cfg.LogLevel, "TEAMQ_LOG_LEVEL")
	setString(&cfg.LogFormat, "TEAMQ_LOG_FORMAT")
	setString(&cfg.Output, "TEAMQ_OUTPUT")
	setString(&cfg.Actor, "TEAMQ_ACTOR")
	setString(&cfg.Daemon.Addr, "TEAMQ_DAEMON_ADDR")
	if v := getEnvOrFile("TEAMQ_DAEMON_TOKEN", "TEAMQ_DAEMON_TOKEN_FILE"); v != "" {
		cfg.Daemon.Token = v
	}
	if v := os.Getenv("TEAMQ_LEGACY_SOURCES"); v != "" {
		cfg.LegacySources = splitList(v)
	}
	if v := os.Getenv("TEAMQ_WEBHOOK_URLS"); v != "" {
		cfg.Webhooks = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TEAMQ_MAX_PASSES", &cfg.Merge.MaxPasses},
		{"TEAMQ_CHUNK_SIZE", &cfg.Merge.ChunkSize},
		{"TEAMQ_SAMPLE_SIZE", &cfg.Merge.SampleSize},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: expected an integer, got %q", e.key, v)
		}
		*e.dst = n
	}
	if v := os.Getenv("TEAMQ_LEASE_TTL"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TEAMQ_LEASE_TTL: %w", err)
		}
		cfg.Lease.TTL = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := db.DialectFor(c.Driver); err != nil {
		return err
	}
	if c.Driver == db.DialectPostgres && c.DSN == "" {
		return fmt.Errorf("driver postgres requires dsn (TEAMQ_DSN)")
	}
	if c.Merge.MaxPasses < 0 {
		return fmt.Errorf("merge.max_passes must be >= 0, got %d", c.Merge.MaxPasses)
	}
	if c.Merge.ChunkSize <= 0 {
		return fmt.Errorf("merge.chunk_size must be positive, got %d", c.Merge.ChunkSize)
	}
	if c.Merge.SampleSize < 0 {
		return fmt.Errorf("merge.sample_size must be >= 0, got %d", c.Merge.SampleSize)
	}
	if c.Lease.TTL <= 0 {
		return fmt.Errorf("lease.ttl must be positive, got %s", c.Lease.TTL)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// DataSource returns the driver and DSN to open.
func (c *Config) DataSource() (string, string) {
	if dialect, err := db.DialectFor(c.Driver); err == nil && dialect.Name() == db.DialectSQLite {
		return db.DialectSQLite, c.DBPath
	}
	return c.Driver, c.DSN
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)
	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		if dir == homeDir {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
