package cloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// UPFContentType is the media type of raw unstitched panorama captures.
const UPFContentType = "application/x-unstitched-panorama-format"

// downloadChunkSize is the fixed buffer size used to stream processed images.
const downloadChunkSize = 32 * 1024

// UploadBytes streams the file at path to a pre-authenticated upload URL.
// This never retries: a consumed reader cannot be replayed safely.
// Non-2xx responses wrap ErrUpload.
// Upload URLs carry no session cookies, so the base HTTP client is used.
func (s *Session) UploadBytes(ctx context.Context, uploadURL, path string) error {
	s.client.logger.Info("uploading capture", slog.String("file", filepath.Base(path)))

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cloud: opening %s for upload: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("cloud: stat %s: %w", path, err)
	}

	req, err := s.client.newRequest(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return err
	}

	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", UPFContentType)
	req.Header.Del("Cache-Control")

	resp, err := s.client.send(s.client.httpClient, req, ErrUpload)
	if err != nil {
		return fmt.Errorf("cloud: uploading %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return fmt.Errorf("%w: draining upload response: %w", ErrTransport, drainErr)
	}

	s.client.logger.Debug("capture uploaded",
		slog.String("file", filepath.Base(path)),
		slog.Int64("bytes", info.Size()),
	)

	return nil
}

// Download streams a processed image from a pre-authenticated URL into w in
// fixed-size chunks and returns the number of bytes written. Failures after
// the response headers arrived wrap ErrPartialDownload; the caller owns
// cleanup of whatever w already received. The URL itself is never logged.
func (s *Session) Download(ctx context.Context, imageURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("cloud: creating download request: %w", err)
	}

	req.Header.Set("User-Agent", s.client.userAgent)

	resp, err := s.client.send(s.client.httpClient, req, nil)
	if err != nil {
		return 0, fmt.Errorf("cloud: downloading image: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, downloadChunkSize)

	n, copyErr := io.CopyBuffer(onlyWriter{w}, resp.Body, buf)
	if copyErr != nil {
		s.client.logger.Error("streaming download content failed",
			slog.String("error", copyErr.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("%w: %w", ErrPartialDownload, copyErr)
	}

	return n, nil
}

// onlyWriter hides ReadFrom on w so io.CopyBuffer honors the fixed buffer.
type onlyWriter struct {
	io.Writer
}
