package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/panosync/internal/cloud"
	"github.com/tonimelisma/panosync/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeCreds() cloud.Credentials {
	return cloud.Credentials{Email: testutil.FakeEmail, Password: testutil.FakePassword}
}

func newFake(t *testing.T) (*testutil.FakeCloud, *cloud.Client) {
	t.Helper()

	fc := testutil.NewFakeCloud()
	t.Cleanup(fc.Close)

	return fc, cloud.NewClient(fc.URL(), nil, testLogger())
}

func login(t *testing.T, client *cloud.Client) *cloud.Session {
	t.Helper()

	s, err := client.Login(context.Background(), fakeCreds())
	require.NoError(t, err)

	return s
}

// writeFile creates a file with the given content and mtime.
func writeFile(t *testing.T, path, content string, mtime time.Time) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	return path
}

// noSleep records requested sleeps without waiting.
type noSleep struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.calls = append(n.calls, d)
	n.mu.Unlock()

	return ctx.Err()
}

func (n *noSleep) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.calls)
}
