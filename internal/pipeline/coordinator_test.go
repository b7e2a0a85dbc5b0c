package pipeline

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/panosync/internal/mount"
	"github.com/tonimelisma/panosync/testutil"
)

var march1 = time.Date(2023, 3, 1, 9, 0, 0, 0, time.Local)

type coordFixture struct {
	fc        *testutil.FakeCloud
	coord     *Coordinator
	processed atomic.Int32
	ledger    *Ledger
	metrics   *Metrics
	src       string
	archive   string
	jpeg      string
}

func newCoordFixture(t *testing.T, withJPEG bool) *coordFixture {
	t.Helper()

	fc, client := newFake(t)
	l := openTestLedger(t)
	m := NewMetrics(prometheus.NewRegistry())

	f := &coordFixture{
		fc:      fc,
		ledger:  l,
		metrics: m,
		src:     t.TempDir(),
		archive: t.TempDir(),
	}

	cfg := Config{
		ArchiveRoot: f.archive,
		Credentials: fakeCreds(),
		Workers:     1,
		OnProcessed: func() { f.processed.Add(1) },
	}

	if withJPEG {
		f.jpeg = t.TempDir()
		cfg.JPEGRoot = f.jpeg
	}

	f.coord = NewCoordinator(cfg, client, l, m, testLogger())
	f.coord.poller.sleepFunc = (&noSleep{}).sleep

	return f
}

func TestCoordinator_EndToEnd(t *testing.T) {
	f := newCoordFixture(t, false)
	writeFile(t, filepath.Join(f.src, "DCIM", "capture.upf"), "raw", march1)

	run, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 1, run.Archived)

	f.coord.Wait()

	archived := filepath.Join(f.archive, "2023", "2023-03-01", "capture.upf")
	data, err := os.ReadFile(archived)
	require.NoError(t, err)
	assert.Equal(t, "raw", string(data))

	counts := f.fc.Counts()
	assert.Equal(t, 1, counts.Logins)
	assert.Equal(t, 1, counts.Creates)
	assert.Equal(t, 1, counts.Uploads)
	assert.Equal(t, 1, counts.Callbacks)
	assert.Equal(t, 1, counts.TaskPolls)
	assert.Zero(t, counts.Pages, "no JPEG root means no catalog walk")
	assert.EqualValues(t, 1, f.processed.Load())

	runs, err := f.ledger.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunSucceeded, runs[0].Status)
	assert.Equal(t, 1, runs[0].Archived)
	assert.Equal(t, 1, runs[0].Uploaded)

	assert.InDelta(t, 1, promtest.ToFloat64(f.metrics.archived), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(f.metrics.uploaded), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(f.metrics.runs.WithLabelValues(outcomeSucceeded)), 0)
}

func TestCoordinator_DownloadsAfterProcessing(t *testing.T) {
	f := newCoordFixture(t, true)
	f.fc.SetTaskCounts(2, 0)
	f.fc.SetPanoramas(testutil.FakePanorama{
		ID:        "p1",
		CreatedAt: march1Stamp,
		Variants:  []testutil.FakeVariant{{Width: 4, Height: 2, Body: []byte("jpeg")}},
	})

	writeFile(t, filepath.Join(f.src, "capture.upf"), "raw", march1)

	_, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)
	f.coord.Wait()

	data, err := os.ReadFile(filepath.Join(f.jpeg, "2023-03-01", "p1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	counts := f.fc.Counts()
	assert.Equal(t, 2, counts.TaskPolls)
	assert.Equal(t, 2, counts.Logins, "upload and download use separate sessions")
	assert.EqualValues(t, 1, f.processed.Load(), "completion fires once")

	runs, err := f.ledger.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, runs[0].Downloaded)
}

func TestCoordinator_NothingNew(t *testing.T) {
	f := newCoordFixture(t, true)

	run, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)
	f.coord.Wait()

	assert.Zero(t, run.Archived)
	assert.Equal(t, RunSucceeded, run.Status)
	assert.Zero(t, f.fc.Counts().Logins)
	assert.InDelta(t, 1, promtest.ToFloat64(f.metrics.runs.WithLabelValues(outcomeSkipped)), 0)
}

func TestCoordinator_SecondTriggerIsNoOp(t *testing.T) {
	f := newCoordFixture(t, false)
	writeFile(t, filepath.Join(f.src, "capture.upf"), "raw", march1)

	_, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)
	f.coord.Wait()

	_, err = f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)
	f.coord.Wait()

	assert.Equal(t, 1, f.fc.Counts().Uploads)
}

func TestCoordinator_UploadFailureRecorded(t *testing.T) {
	f := newCoordFixture(t, true)
	f.fc.UploadStatus = http.StatusForbidden
	writeFile(t, filepath.Join(f.src, "capture.upf"), "raw", march1)

	_, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err, "background failures are not returned to the trigger")
	f.coord.Wait()

	counts := f.fc.Counts()
	assert.Zero(t, counts.TaskPolls)
	assert.Zero(t, counts.Pages)

	runs, err := f.ledger.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "capture.upf")
	assert.InDelta(t, 1, promtest.ToFloat64(f.metrics.runs.WithLabelValues(outcomeFailed)), 0)
}

func TestCoordinator_MissingSource(t *testing.T) {
	f := newCoordFixture(t, false)

	run, err := f.coord.OnDeviceAvailable(context.Background(), filepath.Join(f.src, "gone"))
	require.Error(t, err)
	require.NotNil(t, run)

	runs, lerr := f.ledger.RecentRuns(context.Background(), 1)
	require.NoError(t, lerr)
	assert.Equal(t, RunFailed, runs[0].Status)

	// The guard is released, so a later event is accepted.
	_, err = f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)
}

func TestCoordinator_NoCompletionCallbackSkipsPolling(t *testing.T) {
	f := newCoordFixture(t, true)
	f.coord.cfg.OnProcessed = nil
	f.fc.SetTaskCounts(5)
	f.fc.SetPanoramas(testutil.FakePanorama{
		ID:        "p1",
		CreatedAt: march1Stamp,
		Variants:  []testutil.FakeVariant{{Width: 4, Height: 2, Body: []byte("jpeg")}},
	})

	writeFile(t, filepath.Join(f.src, "capture.upf"), "raw", march1)

	_, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)
	f.coord.Wait()

	counts := f.fc.Counts()
	assert.Equal(t, 1, counts.Uploads)
	assert.Zero(t, counts.TaskPolls)

	_, err = os.Stat(filepath.Join(f.jpeg, "2023-03-01", "p1.jpg"))
	require.NoError(t, err, "download runs straight after upload")
}

func TestCoordinator_DuplicateEventWhileArchiving(t *testing.T) {
	f := newCoordFixture(t, false)
	writeFile(t, filepath.Join(f.src, "capture.upf"), "raw", march1)

	require.True(t, f.coord.claim(f.src))

	_, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Zero(t, f.fc.Counts().Logins)

	f.coord.release(f.src)
}

func TestCoordinator_RemountWhilePollingArchivesNewCaptures(t *testing.T) {
	f := newCoordFixture(t, false)
	f.fc.SetTaskCounts(1)
	writeFile(t, filepath.Join(f.src, "a.upf"), "a", march1)

	parked := make(chan struct{}, 1)
	release := make(chan struct{})
	f.coord.poller.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		select {
		case parked <- struct{}{}:
		default:
		}

		select {
		case <-release:
			f.fc.SetTaskCounts(0)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)

	select {
	case <-parked:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the poller")
	}

	writeFile(t, filepath.Join(f.src, "b.upf"), "b", march1)

	run, err := f.coord.OnDeviceAvailable(context.Background(), f.src)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Archived)

	_, err = os.Stat(filepath.Join(f.archive, "2023", "2023-03-01", "b.upf"))
	require.NoError(t, err)

	assert.Equal(t, 2, f.coord.InFlight())

	close(release)
	f.coord.Wait()

	assert.Zero(t, f.coord.InFlight())
	assert.Equal(t, 2, f.fc.Counts().Uploads)
	assert.EqualValues(t, 2, f.processed.Load())
}

func TestCoordinator_HandleEvent(t *testing.T) {
	f := newCoordFixture(t, false)
	writeFile(t, filepath.Join(f.src, "capture.upf"), "raw", march1)

	f.coord.HandleEvent(context.Background(), mount.Event{Kind: mount.Left, Path: f.src})
	f.coord.Wait()
	assert.Zero(t, f.fc.Counts().Logins)

	f.coord.HandleEvent(context.Background(), mount.Event{Kind: mount.Arrived, Path: f.src})
	f.coord.Wait()
	assert.Equal(t, 1, f.fc.Counts().Uploads)
}

func TestCoordinator_NoLedger(t *testing.T) {
	_, client := newFake(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "capture.upf"), "raw", march1)

	c := NewCoordinator(Config{ArchiveRoot: t.TempDir(), Credentials: fakeCreds()}, client, nil, nil, testLogger())
	c.poller.sleepFunc = (&noSleep{}).sleep

	run, err := c.OnDeviceAvailable(context.Background(), src)
	require.NoError(t, err)
	c.Wait()

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunSucceeded, run.Status)
	assert.Equal(t, 1, run.Uploaded)
}

func TestKeyedMutex_Serializes(t *testing.T) {
	var (
		km      keyedMutex
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := km.Lock("/archive")
			defer unlock()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, km.locks, "entries are dropped once unused")
}
