// Package config loads memoryd's daemon configuration from environment
// variables, with spec-mandated defaults for every field.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// DefaultWorkerPort is the loopback port the daemon listens on absent
// WORKER_PORT.
const DefaultWorkerPort = 41777

// DefaultWorkerHost is the loopback host the daemon binds absent WORKER_HOST.
const DefaultWorkerHost = "127.0.0.1"

// DaemonConfig holds every environment-sourced tunable the daemon reads at
// startup. Load reads a fresh copy on every call; Get loads one copy on its
// first call and returns that same copy afterwards.
type DaemonConfig struct {
	WorkerPort      int
	WorkerHost      string
	WorkerBind      string
	DataDir         string
	LogLevel        string
	PilotSessionID  string
	NoContext       bool
	ExcludeProjects []string

	RetentionEnabled      bool
	RetentionMaxAgeDays   int
	RetentionMaxCount     int
	RetentionExcludeTypes []string
	RetentionSoftDelete   bool
}

// Default returns the spec-mandated defaults with no environment applied.
func Default() *DaemonConfig {
	return &DaemonConfig{
		WorkerPort: DefaultWorkerPort,
		WorkerHost: DefaultWorkerHost,
		DataDir:    defaultDataDir(),
		LogLevel:   "info",

		RetentionEnabled:    true,
		RetentionMaxAgeDays: 90,
		RetentionMaxCount:   5000,
		RetentionSoftDelete: true,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".pilot")
}

// Load reads DaemonConfig from the process environment, falling back to
// Default for anything unset or malformed.
func Load() *DaemonConfig {
	cfg := Default()

	if v := os.Getenv("WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.WorkerPort = p
		}
	}
	if v := os.Getenv("WORKER_HOST"); v != "" {
		cfg.WorkerHost = v
	}
	if v := os.Getenv("WORKER_BIND"); v != "" {
		cfg.WorkerBind = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PILOT_SESSION_ID"); v != "" {
		cfg.PilotSessionID = v
	}
	if v := os.Getenv("NO_CONTEXT"); v != "" {
		cfg.NoContext = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("EXCLUDE_PROJECTS"); v != "" {
		var excluded []string
		if err := json.Unmarshal([]byte(v), &excluded); err == nil {
			cfg.ExcludeProjects = excluded
		}
	}
	if v := os.Getenv("RETENTION_ENABLED"); v != "" {
		cfg.RetentionEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RETENTION_MAX_AGE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionMaxAgeDays = n
		}
	}
	if v := os.Getenv("RETENTION_MAX_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionMaxCount = n
		}
	}
	if v := os.Getenv("RETENTION_EXCLUDE_TYPES"); v != "" {
		var excluded []string
		if err := json.Unmarshal([]byte(v), &excluded); err == nil {
			cfg.RetentionExcludeTypes = excluded
		}
	}
	if v := os.Getenv("RETENTION_SOFT_DELETE"); v != "" {
		cfg.RetentionSoftDelete = v == "1" || strings.EqualFold(v, "true")
	}

	return cfg
}

var (
	once   sync.Once
	cached *DaemonConfig
)

// Get returns the process-wide DaemonConfig, loading it from the
// environment on first call and caching the result.
func Get() *DaemonConfig {
	once.Do(func() { cached = Load() })
	return cached
}

// DataDir returns the resolved data directory (DATA_DIR, default ~/.pilot).
func DataDir() string { return Get().DataDir }

// EnsureDataDir creates the data directory if it does not already exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o750)
}

// IsProjectExcluded reports whether project appears in ExcludeProjects.
func (c *DaemonConfig) IsProjectExcluded(project string) bool {
	for _, p := range c.ExcludeProjects {
		if p == project {
			return true
		}
	}
	return false
}

// ListenAddress returns the host:port the HTTP surface should bind, honoring
// WorkerBind as a full override when set.
func (c *DaemonConfig) ListenAddress() string {
	if c.WorkerBind != "" {
		return c.WorkerBind
	}
	return c.WorkerHost + ":" + strconv.Itoa(c.WorkerPort)
}
