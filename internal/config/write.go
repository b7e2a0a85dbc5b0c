package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is owner-only because the file may hold a password.
const configFilePermissions = 0o600

const configDirPermissions = 0o700

// ErrConfigExists is returned by WriteTemplate when the target already exists.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is written by "config init". Every option is present as a
// commented-out default so users can discover them without reading docs.
const configTemplate = `# panosync configuration

[account]
# email = ""
# Prefer PANOSYNC_PASSWORD or a .env file over storing the password here.
# password = ""
# base_url = "https://api3-dev.panono.com"

[paths]
# Raw captures are copied to <archive_dir>/<year>/<YYYY-MM-DD>/<name>.
archive_dir = %q
# Processed panoramas are saved to <jpeg_dir>/<YYYY-MM-DD>/<id>.jpg.
# Leave empty to skip downloads.
# jpeg_dir = ""
# state_dir = ""
# mount_prefix = "Panono"

[sync]
# poll_interval = "25s"
# 0 polls until the processing queue drains.
# poll_max_attempts = 0
# workers = 2
# page_size = 50
# settle_delay = "1500ms"

[logging]
# log_level = "info"
# log_format = "auto"

[network]
# request_timeout = "0"
# user_agent = ""
`

// WriteTemplate creates a new commented config file at path with archive_dir
// filled in. It refuses to overwrite an existing file.
func WriteTemplate(path, archiveDir string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	return atomicWriteFile(path, fmt.Appendf(nil, configTemplate, archiveDir))
}

// atomicWriteFile writes data to a temp file in the target directory and
// renames it into place, so readers never observe a half-written config.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
