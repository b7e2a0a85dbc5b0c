package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := OpenLedger(context.Background(), filepath.Join(t.TempDir(), "runs.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return l
}

func TestLedger_StartAndFinish(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return base }

	run, err := l.StartRun(ctx, "/media/Panono", "/archive")
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err, "run IDs are UUIDs")
	assert.Equal(t, RunRunning, run.Status)

	l.nowFunc = func() time.Time { return base.Add(time.Minute) }
	run.Archived, run.Uploaded, run.Downloaded = 3, 2, 1
	require.NoError(t, l.FinishRun(ctx, run, nil))

	runs, err := l.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "/media/Panono", got.MountPath)
	assert.Equal(t, "/archive", got.ArchiveRoot)
	assert.Equal(t, RunSucceeded, got.Status)
	assert.Equal(t, 3, got.Archived)
	assert.Equal(t, 2, got.Uploaded)
	assert.Equal(t, 1, got.Downloaded)
	assert.True(t, got.StartedAt.Equal(base))
	assert.True(t, got.FinishedAt.Equal(base.Add(time.Minute)))
	assert.Empty(t, got.Error)
}

func TestLedger_FailedRun(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	run, err := l.StartRun(ctx, "/media/Panono", "/archive")
	require.NoError(t, err)
	require.NoError(t, l.FinishRun(ctx, run, errors.New("login refused")))

	runs, err := l.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, "login refused", runs[0].Error)
}

func TestLedger_RecentRunsNewestFirst(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	var ids []string

	for i := range 3 {
		l.nowFunc = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }

		run, err := l.StartRun(ctx, "/m", "/a")
		require.NoError(t, err)

		ids = append(ids, run.ID)
	}

	runs, err := l.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Equal(t, RunRunning, runs[0].Status)
	assert.True(t, runs[0].FinishedAt.IsZero())
}

func TestLedger_FinishUnknownRun(t *testing.T) {
	l := openTestLedger(t)

	err := l.FinishRun(context.Background(), &Run{ID: "missing"}, nil)
	require.Error(t, err)
}

func TestLedger_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	l, err := OpenLedger(ctx, path, testLogger())
	require.NoError(t, err)

	_, err = l.StartRun(ctx, "/m", "/a")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenLedger(ctx, path, testLogger())
	require.NoError(t, err)
	defer l.Close()

	runs, err := l.RecentRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
