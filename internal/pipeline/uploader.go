// Package pipeline drives a capture from the local archive through upload,
// remote processing and download of the processed panorama.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/panosync/internal/cloud"
)

// Uploader sends a batch of archived captures to the cloud service over one
// session.
type Uploader struct {
	client  *cloud.Client
	logger  *slog.Logger
	metrics *Metrics
}

// NewUploader returns an Uploader. A nil logger uses slog.Default().
func NewUploader(client *cloud.Client, logger *slog.Logger, metrics *Metrics) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{client: client, logger: logger, metrics: metrics}
}

// UploadBatch logs in once and uploads files in order. The first failure
// stops the batch: later files are not attempted. uploaded reports whether
// at least one file reached the service; the session is returned whenever
// login succeeded so the caller can keep polling on it. An empty batch does
// not log in and returns (false, nil, nil).
func (u *Uploader) UploadBatch(
	ctx context.Context, files []string, creds cloud.Credentials,
) (bool, *cloud.Session, error) {
	n, session, err := u.uploadBatch(ctx, files, creds)

	return n > 0, session, err
}

// uploadBatch is UploadBatch reporting how many files were uploaded.
func (u *Uploader) uploadBatch(
	ctx context.Context, files []string, creds cloud.Credentials,
) (int, *cloud.Session, error) {
	if len(files) == 0 {
		return 0, nil, nil
	}

	session, err := u.client.Login(ctx, creds)
	if err != nil {
		return 0, nil, fmt.Errorf("pipeline: upload login: %w", err)
	}

	for i, path := range files {
		u.logger.Info("uploading capture",
			slog.String("path", path),
			slog.Int("index", i+1),
			slog.Int("total", len(files)),
		)

		if err := session.UploadFile(ctx, path); err != nil {
			u.logger.Error("upload failed, abandoning batch",
				slog.String("path", path),
				slog.Int("remaining", len(files)-i-1),
				slog.String("error", err.Error()),
			)

			return i, session, fmt.Errorf("pipeline: uploading %s: %w", path, err)
		}

		u.metrics.incUploaded()
	}

	return len(files), session, nil
}
