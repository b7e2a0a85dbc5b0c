package config

import (
	"fmt"
	"io"
)

// redacted replaces secrets in rendered output.
const redacted = "********"

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers "config show". The password is never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	password := ""
	if r.Account.Password != "" {
		password = redacted
	}

	ew.printf("[account]\n")
	ew.printf("  email    = %q\n", r.Account.Email)
	ew.printf("  password = %q\n", password)
	ew.printf("  base_url = %q\n\n", r.Account.BaseURL)

	ew.printf("[paths]\n")
	ew.printf("  archive_dir  = %q\n", r.Paths.ArchiveDir)
	ew.printf("  jpeg_dir     = %q\n", r.Paths.JPEGDir)
	ew.printf("  state_dir    = %q\n", r.Paths.StateDir)
	ew.printf("  mount_prefix = %q\n\n", r.Paths.MountPrefix)

	ew.printf("[sync]\n")
	ew.printf("  poll_interval     = %q\n", r.Sync.PollInterval)
	ew.printf("  poll_max_attempts = %d\n", r.Sync.PollMaxAttempts)
	ew.printf("  workers           = %d\n", r.Sync.Workers)
	ew.printf("  page_size         = %d\n", r.Sync.PageSize)
	ew.printf("  settle_delay      = %q\n\n", r.Sync.SettleDelay)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", r.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  request_timeout = %q\n", r.Network.RequestTimeout)
	ew.printf("  user_agent      = %q\n", r.Network.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
