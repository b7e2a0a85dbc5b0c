package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "PANOSYNC_CONFIG"
	EnvEmail      = "PANOSYNC_EMAIL"
	EnvPassword   = "PANOSYNC_PASSWORD"
	EnvArchiveDir = "PANOSYNC_ARCHIVE_DIR"
	EnvJPEGDir    = "PANOSYNC_JPEG_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // PANOSYNC_CONFIG: override config file path
	Email      string // PANOSYNC_EMAIL
	Password   string // PANOSYNC_PASSWORD
	ArchiveDir string // PANOSYNC_ARCHIVE_DIR
	JPEGDir    string // PANOSYNC_JPEG_DIR
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// Callers that want .env support load it into the process environment first.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Email:      os.Getenv(EnvEmail),
		Password:   os.Getenv(EnvPassword),
		ArchiveDir: os.Getenv(EnvArchiveDir),
		JPEGDir:    os.Getenv(EnvJPEGDir),
	}
}
