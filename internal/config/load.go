package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// Config path: CLI > env > default.
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)

	if cli.ArchiveDir != nil {
		cfg.Paths.ArchiveDir = *cli.ArchiveDir
	}

	if cli.JPEGDir != nil {
		cfg.Paths.JPEGDir = *cli.JPEGDir
	}

	r := &Resolved{
		ConfigPath: cfgPath,
		Account:    cfg.Account,
		Paths: PathsConfig{
			ArchiveDir:  expandTilde(cfg.Paths.ArchiveDir),
			JPEGDir:     expandTilde(cfg.Paths.JPEGDir),
			StateDir:    expandTilde(cfg.Paths.StateDir),
			MountPrefix: cfg.Paths.MountPrefix,
		},
		Sync:    cfg.Sync,
		Logging: cfg.Logging,
		Network: cfg.Network,
	}

	// Durations were validated by Load; defaults always parse.
	r.PollInterval, _ = time.ParseDuration(cfg.Sync.PollInterval)
	r.SettleDelay, _ = time.ParseDuration(cfg.Sync.SettleDelay)
	r.RequestTimeout, _ = time.ParseDuration(cfg.Network.RequestTimeout)

	if err := ValidateResolved(r); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return r, nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	if env.Email != "" {
		cfg.Account.Email = env.Email
	}

	if env.Password != "" {
		cfg.Account.Password = env.Password
	}

	if env.ArchiveDir != "" {
		cfg.Paths.ArchiveDir = env.ArchiveDir
	}

	if env.JPEGDir != "" {
		cfg.Paths.JPEGDir = env.JPEGDir
	}
}
