package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_BaseURL(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "api3-dev.panono.com", "ftp://host", "http://"} {
		cfg := DefaultConfig()
		cfg.Account.BaseURL = bad

		err := Validate(cfg)
		require.Error(t, err, bad)
		assert.Contains(t, err.Error(), "base_url")
	}
}

func TestValidate_SyncRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*SyncConfig)
		field  string
	}{
		{"workers zero", func(s *SyncConfig) { s.Workers = 0 }, "workers"},
		{"workers too many", func(s *SyncConfig) { s.Workers = maxWorkers + 1 }, "workers"},
		{"page size zero", func(s *SyncConfig) { s.PageSize = 0 }, "page_size"},
		{"page size too big", func(s *SyncConfig) { s.PageSize = maxPageSize + 1 }, "page_size"},
		{"negative attempts", func(s *SyncConfig) { s.PollMaxAttempts = -1 }, "poll_max_attempts"},
		{"poll too fast", func(s *SyncConfig) { s.PollInterval = "100ms" }, "poll_interval"},
		{"negative settle", func(s *SyncConfig) { s.SettleDelay = "-1s" }, "settle_delay"},
		{"bad settle", func(s *SyncConfig) { s.SettleDelay = "later" }, "settle_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg.Sync)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_Logging(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Logging.LogFormat = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestValidate_RequestTimeout(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Network.RequestTimeout = "forever"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout")
}

func TestRequireArchive(t *testing.T) {
	t.Parallel()

	r := &Resolved{}
	require.Error(t, r.RequireArchive())

	r.Paths.ArchiveDir = "/archive"
	require.NoError(t, r.RequireArchive())
}

func TestRequireAccount(t *testing.T) {
	t.Parallel()

	r := &Resolved{}

	err := r.RequireAccount()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email")
	assert.Contains(t, err.Error(), EnvPassword)

	r.Account = AccountConfig{Email: "a@b.c", Password: "pw"}
	require.NoError(t, r.RequireAccount())
}
