package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minWorkers      = 1
	maxWorkers      = 16
	minPageSize     = 1
	maxPageSize     = 500
	minPollInterval = time.Second
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAccount(&cfg.Account)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints on the merged result of the override
// chain. Paths must be absolute after tilde expansion, otherwise they would
// resolve differently depending on the working directory.
func ValidateResolved(r *Resolved) error {
	var errs []error

	for _, p := range []struct{ field, value string }{
		{"archive_dir", r.Paths.ArchiveDir},
		{"jpeg_dir", r.Paths.JPEGDir},
		{"state_dir", r.Paths.StateDir},
	} {
		if p.value != "" && !filepath.IsAbs(p.value) {
			errs = append(errs, fmt.Errorf("%s: must be absolute after expansion, got %q", p.field, p.value))
		}
	}

	return errors.Join(errs...)
}

// RequireArchive reports an error when no archive directory is configured.
func (r *Resolved) RequireArchive() error {
	if r.Paths.ArchiveDir == "" {
		return fmt.Errorf("archive_dir: not set (use [paths] archive_dir, %s or --archive-dir)", EnvArchiveDir)
	}

	return nil
}

// RequireAccount reports an error when the cloud login is incomplete.
func (r *Resolved) RequireAccount() error {
	var errs []error

	if r.Account.Email == "" {
		errs = append(errs, fmt.Errorf("email: not set (use [account] email or %s)", EnvEmail))
	}

	if r.Account.Password == "" {
		errs = append(errs, fmt.Errorf("password: not set (use [account] password or %s)", EnvPassword))
	}

	return errors.Join(errs...)
}

func validateAccount(a *AccountConfig) []error {
	u, err := url.Parse(a.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("base_url: must be an absolute http(s) URL, got %q", a.BaseURL)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("poll_interval", s.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationNonNeg("settle_delay", s.SettleDelay)...)

	if s.PollMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("poll_max_attempts: must be >= 0 (0 = unbounded), got %d", s.PollMaxAttempts))
	}

	if s.Workers < minWorkers || s.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, s.Workers))
	}

	if s.PageSize < minPageSize || s.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, s.PageSize))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, value)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must not be negative, got %s", field, value)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	return validateDurationNonNeg("request_timeout", n.RequestTimeout)
}
