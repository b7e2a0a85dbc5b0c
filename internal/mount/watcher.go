// Package mount watches a directory for camera storage being mounted into
// it and reports arrivals and departures as tagged events.
package mount

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Defaults for a Watcher.
const (
	DefaultPrefix = "Panono"
	DefaultSettle = 1500 * time.Millisecond
)

// Error backoff for the watch loop.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// Kind tags a device event.
type Kind int

const (
	// Arrived means a device directory appeared and is ready to read.
	Arrived Kind = iota + 1
	// Left means a device directory was removed or renamed away.
	Left
)

func (k Kind) String() string {
	switch k {
	case Arrived:
		return "arrived"
	case Left:
		return "left"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event reports a device directory change.
type Event struct {
	Kind Kind
	Path string
}

// fsWatcher abstracts fsnotify so tests can inject events and errors.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWrapper) Add(name string) error { return f.w.Add(name) }
func (f *fsnotifyWrapper) Close() error { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error { return f.w.Errors }

func newFsnotifyWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

// Watcher reports device directories appearing in and leaving Root. Only
// direct children of Root whose names start with Prefix and that are real
// directories (not symlinks) count as devices.
type Watcher struct {
	Root   string
	Prefix string
	// Settle delays each Arrived event so the mount can finish populating.
	Settle time.Duration
	// ScanExisting reports devices already present when Run starts.
	ScanExisting bool

	logger     *slog.Logger
	newWatcher func() (fsWatcher, error)
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// NewWatcher returns a Watcher for root. An empty prefix uses DefaultPrefix.
func NewWatcher(root, prefix string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Watcher{
		Root:         root,
		Prefix:       prefix,
		Settle:       DefaultSettle,
		ScanExisting: true,
		logger:       logger,
		newWatcher:   newFsnotifyWatcher,
		sleepFunc:    timeSleep,
	}
}

// Run watches Root until ctx is canceled, calling handler for each device
// event. Handlers may run concurrently; Run waits for in-flight handlers
// before returning.
func (w *Watcher) Run(ctx context.Context, handler func(Event)) error {
	info, err := os.Stat(w.Root)
	if err != nil {
		return fmt.Errorf("mount: watch root %s: %w", w.Root, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("mount: watch root %s is not a directory", w.Root)
	}

	watcher, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("mount: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.Root); err != nil {
		return fmt.Errorf("mount: watching %s: %w", w.Root, err)
	}

	w.logger.Info("watching for devices",
		slog.String("root", w.Root),
		slog.String("prefix", w.Prefix),
	)

	var wg sync.WaitGroup
	defer wg.Wait()

	if w.ScanExisting {
		w.scanExisting(ctx, &wg, handler)
	}

	return w.watchLoop(ctx, watcher, &wg, handler)
}

// scanExisting reports devices mounted before the watcher started.
func (w *Watcher) scanExisting(ctx context.Context, wg *sync.WaitGroup, handler func(Event)) {
	entries, err := os.ReadDir(w.Root)
	if err != nil {
		w.logger.Warn("initial device scan failed", slog.String("error", err.Error()))
		return
	}

	for _, e := range entries {
		path := filepath.Join(w.Root, e.Name())
		if w.isDevice(path) {
			w.logger.Info("device already present", slog.String("path", path))
			w.emitArrived(ctx, wg, path, handler)
		}
	}
}

func (w *Watcher) watchLoop(ctx context.Context, watcher fsWatcher, wg *sync.WaitGroup, handler func(Event)) error {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			w.handleFsEvent(ctx, ev, wg, handler)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := w.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

func (w *Watcher) handleFsEvent(ctx context.Context, ev fsnotify.Event, wg *sync.WaitGroup, handler func(Event)) {
	if filepath.Dir(ev.Name) != filepath.Clean(w.Root) || !strings.HasPrefix(filepath.Base(ev.Name), w.Prefix) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		if !w.isDevice(ev.Name) {
			w.logger.Debug("ignoring non-directory entry", slog.String("path", ev.Name))
			return
		}

		w.logger.Info("device mounted", slog.String("path", ev.Name))
		w.emitArrived(ctx, wg, ev.Name, handler)

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.logger.Info("device removed", slog.String("path", ev.Name))
		handler(Event{Kind: Left, Path: ev.Name})
	}
}

// emitArrived waits out the settle delay on its own goroutine so a slow
// mount does not hold up other events.
func (w *Watcher) emitArrived(ctx context.Context, wg *sync.WaitGroup, path string, handler func(Event)) {
	wg.Add(1)

	go func() {
		defer wg.Done()

		if w.Settle > 0 {
			if err := w.sleepFunc(ctx, w.Settle); err != nil {
				return
			}
		}

		handler(Event{Kind: Arrived, Path: path})
	}()
}

// isDevice reports whether path is a real directory with the device prefix.
func (w *Watcher) isDevice(path string) bool {
	if !strings.HasPrefix(filepath.Base(path), w.Prefix) {
		return false
	}

	info, err := os.Lstat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug("stat failed for candidate device",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return false
	}

	return info.IsDir()
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
