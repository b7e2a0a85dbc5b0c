package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var march1 = time.Date(2023, 3, 1, 14, 30, 0, 0, time.Local)

// writeCapture creates a file under root with the given mtime.
func writeCapture(t *testing.T, root, rel, content string, mtime time.Time) string {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	return path
}

func newTestWriter() *Writer {
	return NewWriter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDestinationPath(t *testing.T) {
	t.Parallel()

	got := DestinationPath("/archive", "capture.upf", march1)
	assert.Equal(t, filepath.Join("/archive", "2023", "2023-03-01", "capture.upf"), got)

	// Pure function of (mtime, name): the source directory does not matter.
	assert.Equal(t, got, DestinationPath("/archive", "capture.upf", march1))
}

func TestDestinationPath_CollisionAcrossDirectories(t *testing.T) {
	t.Parallel()

	a := DestinationPath("/archive", "DCIM.upf", march1)
	b := DestinationPath("/archive", "DCIM.upf", march1.Add(time.Hour))
	assert.Equal(t, a, b)
}

func TestArchive_SameNameAndDayKeepsFirst(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	writeCapture(t, src, "a/x.upf", "from-a", march1)
	writeCapture(t, src, "b/x.upf", "from-b", march1)

	var logs bytes.Buffer
	w := NewWriter(slog.New(slog.NewTextHandler(&logs, nil)))

	files, err := w.Archive(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(filepath.Join(dst, "2023", "2023-03-01", "x.upf"))
	require.NoError(t, err)
	assert.Equal(t, "from-a", string(data))

	assert.Contains(t, logs.String(), "already archived")
	assert.Contains(t, logs.String(), "already_present=1")
}

func TestDestinationPath_NFC(t *testing.T) {
	t.Parallel()

	nfd := "cafe\u0301.upf"
	nfc := "caf\u00e9.upf"
	assert.Equal(t,
		DestinationPath("/archive", nfc, march1),
		DestinationPath("/archive", nfd, march1))
}

func TestArchive_CopiesAndPreservesMetadata(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	writeCapture(t, src, "DCIM/100PANO/capture.upf", "raw-bytes", march1)

	files, err := newTestWriter().Archive(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, files, 1)

	want := filepath.Join(dst, "2023", "2023-03-01", "capture.upf")
	assert.Equal(t, want, files[0].Path)
	assert.Equal(t, int64(len("raw-bytes")), files[0].Size)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "raw-bytes", string(data))

	info, err := os.Stat(want)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(march1), "mtime not preserved: %v", info.ModTime())
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestArchive_Idempotent(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	writeCapture(t, src, "a.upf", "a", march1)
	writeCapture(t, src, "sub/b.upf", "b", march1.AddDate(0, 0, 1))

	w := newTestWriter()

	first, err := w.Archive(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := w.Archive(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestArchive_ExistingDestinationNotOverwritten(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	writeCapture(t, src, "one/capture.upf", "first", march1)
	writeCapture(t, src, "two/capture.upf", "second", march1)

	files, err := newTestWriter().Archive(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, files, 1)

	// Walk order is lexical, so "one" wins.
	data, err := os.ReadFile(filepath.Join(dst, "2023", "2023-03-01", "capture.upf"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestArchive_SkipsSymlinks(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	target := writeCapture(t, t.TempDir(), "outside.upf", "x", march1)
	require.NoError(t, os.Symlink(target, filepath.Join(src, "link.upf")))

	files, err := newTestWriter().Archive(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestArchive_MissingSource(t *testing.T) {
	t.Parallel()

	_, err := newTestWriter().Archive(context.Background(), filepath.Join(t.TempDir(), "gone"), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceMissing)
}

func TestArchive_SourceIsFile(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, t.TempDir(), "file.upf", "x", march1)

	_, err := newTestWriter().Archive(context.Background(), path, t.TempDir())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSourceMissing)
}

func TestArchive_FailedCopyRemovesPartial(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	writeCapture(t, src, "a.upf", "aaaa", march1)
	writeCapture(t, src, "b.upf", "bbbb", march1)

	w := newTestWriter()
	w.copyFunc = func(out io.Writer, in io.Reader) (int64, error) {
		f, ok := in.(*os.File)
		if ok && filepath.Base(f.Name()) == "a.upf" {
			_, _ = out.Write([]byte("aa"))
			return 2, errors.New("device went away")
		}

		return io.Copy(out, in)
	}

	files, err := w.Archive(context.Background(), src, dst)
	require.NoError(t, err, "per-file failures are not fatal")
	require.Len(t, files, 1)
	assert.Equal(t, "b.upf", filepath.Base(files[0].Path))

	_, statErr := os.Stat(filepath.Join(dst, "2023", "2023-03-01", "a.upf"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)

	// Next run retries the failed capture.
	w.copyFunc = io.Copy
	files, err = w.Archive(context.Background(), src, dst)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.upf", filepath.Base(files[0].Path))
}

func TestArchive_Canceled(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeCapture(t, src, "a.upf", "a", march1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestWriter().Archive(ctx, src, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
