package autotrail

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds the options a Server reads at startup (spec.md §6). Defaults
// are applied first, then a TOML file on disk, then environment variables,
// which win over both.
type Config struct {
	SocketPath         string      `toml:"socket_path"`
	TickIntervalMS     int         `toml:"tick_interval_ms"`
	MaxParallelWorkers int         `toml:"max_parallel_workers"` // 0 = unbounded
	MessageQueueCap    int         `toml:"message_queue_cap"`    // 0 = unbounded
	Audit              AuditConfig `toml:"audit"`
}

// AuditConfig selects the optional audit sink backend.
type AuditConfig struct {
	Driver string `toml:"driver"` // "", "sqlite", or "postgres"
	DSN    string `toml:"dsn"`
}

// DefaultConfig returns a Config with every default applied, per spec.md §6.
func DefaultConfig() Config {
	return Config{
		SocketPath:         filepath.Join(os.TempDir(), "autotrail-"+newID()+".sock"),
		TickIntervalMS:     50,
		MaxParallelWorkers: 0,
		MessageQueueCap:    0,
	}
}

// LoadConfig reads a Config: defaults -> TOML file at path (if it exists)
// -> environment variables (env wins). An empty path is treated as "no file"
// rather than an error.
func LoadConfig(path string) Config {
	cfg := DefaultConfig()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = toml.Unmarshal(data, &cfg)
		}
	}

	if v := os.Getenv("AUTOTRAIL_SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v, err := strconv.Atoi(os.Getenv("AUTOTRAIL_TICK_INTERVAL_MS")); err == nil {
		cfg.TickIntervalMS = v
	}
	if v, err := strconv.Atoi(os.Getenv("AUTOTRAIL_MAX_PARALLEL_WORKERS")); err == nil {
		cfg.MaxParallelWorkers = v
	}
	if v, err := strconv.Atoi(os.Getenv("AUTOTRAIL_MESSAGE_QUEUE_CAP")); err == nil {
		cfg.MessageQueueCap = v
	}
	if v := os.Getenv("AUTOTRAIL_AUDIT_DRIVER"); v != "" {
		cfg.Audit.Driver = v
	}
	if v := os.Getenv("AUTOTRAIL_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}

	if cfg.TickIntervalMS <= 0 {
		cfg.TickIntervalMS = 50
	}
	return cfg
}
