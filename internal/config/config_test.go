package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, "https://api3-dev.panono.com", cfg.Account.BaseURL)
	assert.Empty(t, cfg.Account.Email)
	assert.Empty(t, cfg.Paths.ArchiveDir)
	assert.Empty(t, cfg.Paths.JPEGDir, "downloads are off until jpeg_dir is set")
	assert.Equal(t, DefaultDataDir(), cfg.Paths.StateDir)
	assert.Equal(t, "Panono", cfg.Paths.MountPrefix)
	assert.Equal(t, "25s", cfg.Sync.PollInterval)
	assert.Zero(t, cfg.Sync.PollMaxAttempts)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Equal(t, "0", cfg.Network.RequestTimeout)
}

func TestDefaultConfig_Independent(t *testing.T) {
	t.Parallel()

	a := DefaultConfig()
	b := DefaultConfig()
	a.Sync.Workers = 9

	assert.Equal(t, defaultWorkers, b.Sync.Workers)
}
