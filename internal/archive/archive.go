// Package archive copies camera captures into a date-bucketed local archive.
//
// The destination of every capture is a pure function of its modification
// time and filename:
//
//	<root>/<YYYY>/<YYYY-MM-DD>/<name>
//
// An existing file at that path means the capture is already archived, so
// a rerun over the same source tree copies nothing.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ErrSourceMissing is returned when the source tree does not exist.
var ErrSourceMissing = errors.New("archive: source tree does not exist")

const (
	yearLayout = "2006"
	dayLayout  = "2006-01-02"
	dirPerms   = 0o755
)

// File is one capture copied into the archive during a run.
type File struct {
	Source  string
	Path    string
	ModTime time.Time
	Size    int64
}

// Writer copies new captures from a source tree into an archive root.
type Writer struct {
	logger *slog.Logger

	// copyFunc is replaced in tests to simulate mid-copy failures.
	copyFunc func(dst io.Writer, src io.Reader) (int64, error)
}

// NewWriter returns a Writer. A nil logger uses slog.Default().
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{logger: logger, copyFunc: io.Copy}
}

// DestinationPath computes where a capture with the given name and
// modification time is archived. The time is interpreted in its own
// location; callers pass local time as reported by the filesystem. Names are
// NFC-normalized so the same capture read through different mounts maps to
// the same path.
func DestinationPath(root, name string, mtime time.Time) string {
	return filepath.Join(root,
		mtime.Format(yearLayout),
		mtime.Format(dayLayout),
		norm.NFC.String(name),
	)
}

// Archive walks src recursively and copies every regular file that is not
// yet present in dst. Per-file failures are logged and skipped; only a
// missing or unreadable source root, or context cancellation, fails the
// whole call. Newly archived files are returned in walk order.
func (w *Writer) Archive(ctx context.Context, src, dst string) ([]File, error) {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, src)
		}

		return nil, fmt.Errorf("archive: stat source %s: %w", src, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("archive: source %s is not a directory", src)
	}

	w.logger.Info("archiving captures",
		slog.String("source", src),
		slog.String("destination", dst),
	)

	var (
		archived []File
		skipped  int
		failed   int
	)

	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == src {
				return err
			}

			w.logger.Warn("skipping unreadable entry",
				slog.String("path", path), slog.String("error", err.Error()))

			failed++

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		// Symlinks and special files are never archived.
		if !d.Type().IsRegular() {
			return nil
		}

		f, ok, copyErr := w.archiveOne(path, d, dst)

		switch {
		case copyErr != nil:
			failed++

			w.logger.Error("archive copy failed",
				slog.String("path", path), slog.String("error", copyErr.Error()))
		case !ok:
			skipped++
		default:
			archived = append(archived, f)
		}

		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return archived, fmt.Errorf("archive: walk canceled: %w", ctx.Err())
		}

		return archived, fmt.Errorf("archive: walking %s: %w", src, walkErr)
	}

	w.logger.Info("archive complete",
		slog.Int("archived", len(archived)),
		slog.Int("already_present", skipped),
		slog.Int("failed", failed),
	)

	return archived, nil
}

// archiveOne copies a single capture. ok is false when the destination
// already exists.
func (w *Writer) archiveOne(path string, d fs.DirEntry, root string) (File, bool, error) {
	info, err := d.Info()
	if err != nil {
		return File{}, false, fmt.Errorf("archive: stat %s: %w", path, err)
	}

	dest := DestinationPath(root, d.Name(), info.ModTime())

	if _, err := os.Lstat(dest); err == nil {
		w.logger.Info("already archived", slog.String("path", dest))
		return File{}, false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return File{}, false, fmt.Errorf("archive: stat destination %s: %w", dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerms); err != nil {
		return File{}, false, fmt.Errorf("archive: creating %s: %w", filepath.Dir(dest), err)
	}

	n, err := w.copyFile(path, dest, info)
	if err != nil {
		return File{}, false, err
	}

	w.logger.Debug("archived capture",
		slog.String("source", path),
		slog.String("path", dest),
		slog.Int64("size", n),
	)

	return File{Source: path, Path: dest, ModTime: info.ModTime(), Size: n}, true, nil
}

// copyFile copies src to a new file at dst with src's permission bits and
// timestamps. A failed copy removes whatever was written so the next run
// retries instead of mistaking a truncated file for an archived one.
func (w *Writer) copyFile(src, dst string, info fs.FileInfo) (n int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("archive: opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("archive: creating %s: %w", dst, err)
	}

	defer func() {
		if err != nil {
			out.Close()

			if rmErr := os.Remove(dst); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				w.logger.Warn("failed to remove partial archive file",
					slog.String("path", dst), slog.String("error", rmErr.Error()))
			}
		}
	}()

	n, err = w.copyFunc(out, in)
	if err != nil {
		return n, fmt.Errorf("archive: copying %s: %w", src, err)
	}

	if err = out.Close(); err != nil {
		return n, fmt.Errorf("archive: closing %s: %w", dst, err)
	}

	// OpenFile's mode is filtered by umask; set it explicitly.
	if err = os.Chmod(dst, info.Mode().Perm()); err != nil {
		return n, fmt.Errorf("archive: chmod %s: %w", dst, err)
	}

	mtime := info.ModTime()
	if err = os.Chtimes(dst, accessTime(info, mtime), mtime); err != nil {
		return n, fmt.Errorf("archive: setting times on %s: %w", dst, err)
	}

	return n, nil
}
