package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, ctx context.Context, what string) {
	t.Helper()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("context not canceled within 2 seconds of %s", what)
	}
}

func TestShutdownContext_FirstSignalCancels(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx := shutdownContext(parent, quietLogger(), nil)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	waitDone(t, ctx, "SIGTERM")
}

func TestShutdownContext_ParentCancelPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := shutdownContext(parent, quietLogger(), nil)

	cancel()
	waitDone(t, ctx, "parent cancel")
}

func TestShutdownAttrs(t *testing.T) {
	attrs := shutdownAttrs(syscall.SIGTERM, nil)
	require.Len(t, attrs, 1)
	assert.True(t, attrs[0].(slog.Attr).Equal(slog.String("signal", "terminated")))

	attrs = shutdownAttrs(syscall.SIGINT, func() int { return 3 })
	require.Len(t, attrs, 2)
	assert.True(t, attrs[1].(slog.Attr).Equal(slog.Int("in_flight_runs", 3)))
}
