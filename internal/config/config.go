// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for panosync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import (
	"path/filepath"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Account AccountConfig `toml:"account"`
	Paths   PathsConfig   `toml:"paths"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// AccountConfig holds the cloud login. Password is usually supplied through
// PANOSYNC_PASSWORD or a .env file rather than the config file.
type AccountConfig struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
	BaseURL  string `toml:"base_url"`
}

// PathsConfig controls where captures and processed images land on disk.
// An empty jpeg_dir disables the download step; an empty state_dir disables
// the run ledger.
type PathsConfig struct {
	ArchiveDir  string `toml:"archive_dir"`
	JPEGDir     string `toml:"jpeg_dir"`
	StateDir    string `toml:"state_dir"`
	MountPrefix string `toml:"mount_prefix"`
}

// SyncConfig controls pipeline timing and concurrency.
type SyncConfig struct {
	PollInterval    string `toml:"poll_interval"`
	PollMaxAttempts int    `toml:"poll_max_attempts"`
	Workers         int    `toml:"workers"`
	PageSize        int    `toml:"page_size"`
	SettleDelay     string `toml:"settle_delay"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior. A request_timeout of "0"
// leaves requests unbounded.
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from "explicitly set".
type CLIOverrides struct {
	ConfigPath string
	ArchiveDir *string
	JPEGDir    *string
}

// Resolved is the effective configuration after all override layers have
// been applied, with durations parsed and paths expanded.
type Resolved struct {
	ConfigPath string

	Account AccountConfig
	Paths   PathsConfig
	Sync    SyncConfig
	Logging LoggingConfig
	Network NetworkConfig

	PollInterval   time.Duration
	SettleDelay    time.Duration
	RequestTimeout time.Duration
}

// ledgerFileName is the run ledger database inside state_dir.
const ledgerFileName = "runs.db"

// LedgerPath returns the run ledger database path, or "" when state_dir is
// empty and the ledger is disabled.
func (r *Resolved) LedgerPath() string {
	if r.Paths.StateDir == "" {
		return ""
	}

	return filepath.Join(r.Paths.StateDir, ledgerFileName)
}

// PIDPath returns the watcher PID file path inside state_dir, falling back
// to the platform data directory when the ledger is disabled.
func (r *Resolved) PIDPath() string {
	dir := r.Paths.StateDir
	if dir == "" {
		dir = DefaultDataDir()
	}

	return filepath.Join(dir, pidFileName)
}

const pidFileName = "watch.pid"
