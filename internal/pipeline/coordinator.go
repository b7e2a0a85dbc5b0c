package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/panosync/internal/archive"
	"github.com/tonimelisma/panosync/internal/cloud"
	"github.com/tonimelisma/panosync/internal/mount"
)

// DefaultWorkers is the number of background runs allowed at once.
const DefaultWorkers = 2

// ErrRunInProgress is returned when a device is still being archived by an
// earlier event.
var ErrRunInProgress = errors.New("pipeline: run already in progress for this device")

// Config is everything a Coordinator needs to run the pipeline.
type Config struct {
	// ArchiveRoot receives raw captures as <root>/<YYYY>/<YYYY-MM-DD>/<name>.
	ArchiveRoot string
	// JPEGRoot receives processed panoramas. Empty disables the download step.
	JPEGRoot    string
	Credentials cloud.Credentials
	// OnProcessed is called once the cloud has drained its task queue after
	// an upload. Nil skips polling and downloads straight after upload.
	OnProcessed func()

	PollInterval    time.Duration
	PollMaxAttempts int
	PageSize        int
	Workers         int
}

// Coordinator runs archive → upload → poll → download for each device that
// becomes available. Archiving happens on the caller's goroutine; the rest
// runs in the background on a bounded pool.
type Coordinator struct {
	cfg Config

	archiver   *archive.Writer
	uploader   *Uploader
	poller     *Poller
	downloader *Downloader
	ledger     *Ledger
	metrics    *Metrics
	logger     *slog.Logger

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	active atomic.Int32
	locks  keyedMutex

	mu       sync.Mutex
	inFlight map[string]bool

	nowFunc func() time.Time
}

// NewCoordinator wires the pipeline components. ledger and metrics may be
// nil. A nil logger uses slog.Default().
func NewCoordinator(
	cfg Config, client *cloud.Client, ledger *Ledger, metrics *Metrics, logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	poller := NewPoller(logger, metrics)
	if cfg.PollInterval > 0 {
		poller.Interval = cfg.PollInterval
	}

	poller.MaxAttempts = cfg.PollMaxAttempts

	downloader := NewDownloader(client, logger, metrics)
	downloader.PageSize = cfg.PageSize

	return &Coordinator{
		cfg:        cfg,
		archiver:   archive.NewWriter(logger),
		uploader:   NewUploader(client, logger, metrics),
		poller:     poller,
		downloader: downloader,
		ledger:     ledger,
		metrics:    metrics,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		inFlight:   make(map[string]bool),
		nowFunc:    time.Now,
	}
}

// HandleEvent dispatches a device event. Errors are logged; the watcher
// keeps running regardless of the outcome of one run.
func (c *Coordinator) HandleEvent(ctx context.Context, ev mount.Event) {
	switch ev.Kind {
	case mount.Arrived:
		if _, err := c.OnDeviceAvailable(ctx, ev.Path); err != nil {
			c.logger.Error("device run failed",
				slog.String("mount", ev.Path), slog.String("error", err.Error()))
		}
	case mount.Left:
		c.logger.Info("device left", slog.String("mount", ev.Path))
	default:
		c.logger.Warn("unknown device event", slog.String("kind", ev.Kind.String()))
	}
}

// OnDeviceAvailable archives new captures from sourceTree and, when there
// are any, starts the upload, poll and download steps in the background. It
// returns once archiving is done. The returned Run describes the archive
// step; background progress is recorded in the ledger.
//
// The device is claimed only while archiving, so a mount that comes back
// while an earlier batch is still waiting on the cloud is archived again.
func (c *Coordinator) OnDeviceAvailable(ctx context.Context, sourceTree string) (*Run, error) {
	if !c.claim(sourceTree) {
		c.logger.Info("run already in progress, ignoring device event", slog.String("mount", sourceTree))
		return nil, ErrRunInProgress
	}

	run, err := c.startRun(ctx, sourceTree)
	if err != nil {
		c.release(sourceTree)
		return nil, err
	}

	log := c.logger.With(slog.String("run_id", run.ID))

	files, err := c.archive(ctx, sourceTree)
	run.Archived = len(files)
	c.metrics.addArchived(len(files))

	if err != nil {
		c.finishRun(run, err)
		c.release(sourceTree)

		return run, err
	}

	if len(files) == 0 {
		log.Info("no new captures, nothing to upload", slog.String("mount", sourceTree))
		c.metrics.incRun(outcomeSkipped)
		c.finishRun(run, nil)
		c.release(sourceTree)

		return run, nil
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	c.wg.Add(1)
	c.active.Add(1)

	go func() {
		defer c.wg.Done()
		defer c.active.Add(-1)

		c.runBackground(ctx, log, run, paths)
	}()

	c.release(sourceTree)

	return run, nil
}

// InFlight reports how many dispatched runs have not finished yet.
func (c *Coordinator) InFlight() int {
	return int(c.active.Load())
}

// Wait blocks until every background run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) archive(ctx context.Context, src string) ([]archive.File, error) {
	unlock := c.locks.Lock(c.cfg.ArchiveRoot)
	defer unlock()

	files, err := c.archiver.Archive(ctx, src, c.cfg.ArchiveRoot)
	if err != nil {
		return files, fmt.Errorf("pipeline: archiving %s: %w", src, err)
	}

	return files, nil
}

// runBackground runs the remote steps for one batch on a pool slot. Panics
// are recovered so one bad run cannot take the process down.
func (c *Coordinator) runBackground(ctx context.Context, log *slog.Logger, run *Run, paths []string) {
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: panic in run %s: %v", run.ID, r)
			log.Error("panic in background run", slog.Any("panic", r))
		}

		if err != nil {
			c.metrics.incRun(outcomeFailed)
			log.Error("run failed", slog.String("error", err.Error()))
		} else {
			c.metrics.incRun(outcomeSucceeded)
			log.Info("run complete",
				slog.Int("archived", run.Archived),
				slog.Int("uploaded", run.Uploaded),
				slog.Int("downloaded", run.Downloaded),
			)
		}

		c.finishRun(run, err)
	}()

	if err = c.sem.Acquire(ctx, 1); err != nil {
		err = fmt.Errorf("pipeline: waiting for worker slot: %w", err)
		return
	}
	defer c.sem.Release(1)

	err = c.remoteSteps(ctx, log, run, paths)
}

func (c *Coordinator) remoteSteps(ctx context.Context, log *slog.Logger, run *Run, paths []string) error {
	n, session, err := c.uploader.uploadBatch(ctx, paths, c.cfg.Credentials)
	run.Uploaded = n

	if err != nil {
		return err
	}

	if n == 0 {
		return nil
	}

	if c.cfg.OnProcessed == nil {
		log.Debug("no completion callback, skipping task poll")
	}

	if err := c.poller.AwaitCompletion(ctx, session, c.cfg.OnProcessed); err != nil {
		return err
	}

	if c.cfg.JPEGRoot == "" {
		return nil
	}

	unlock := c.locks.Lock(c.cfg.JPEGRoot)
	defer unlock()

	run.Downloaded, err = c.downloader.DownloadNew(ctx, c.cfg.JPEGRoot, c.cfg.Credentials)

	return err
}

func (c *Coordinator) startRun(ctx context.Context, src string) (*Run, error) {
	if c.ledger == nil {
		return &Run{
			ID:          uuid.New().String(),
			MountPath:   src,
			ArchiveRoot: c.cfg.ArchiveRoot,
			Status:      RunRunning,
			StartedAt:   c.nowFunc(),
		}, nil
	}

	return c.ledger.StartRun(ctx, src, c.cfg.ArchiveRoot)
}

// finishRun records the outcome. It uses a fresh context so a run ended by
// shutdown is still written as failed.
func (c *Coordinator) finishRun(run *Run, err error) {
	if c.ledger == nil {
		run.FinishedAt = c.nowFunc()
		run.Status = RunSucceeded

		if err != nil {
			run.Status = RunFailed
			run.Error = err.Error()
		}

		return
	}

	if ledgerErr := c.ledger.FinishRun(context.Background(), run, err); ledgerErr != nil {
		c.logger.Warn("failed to record run outcome",
			slog.String("run_id", run.ID), slog.String("error", ledgerErr.Error()))
	}
}

// claim marks src in flight, reporting false if it already was.
func (c *Coordinator) claim(src string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight[src] {
		return false
	}

	c.inFlight[src] = true

	return true
}

func (c *Coordinator) release(src string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, src)
}

// keyedMutex serializes work per key. Entries are reference counted and
// removed when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()

	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}

	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}

	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		defer k.mu.Unlock()

		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
	}
}
