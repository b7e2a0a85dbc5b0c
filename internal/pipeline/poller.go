package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/panosync/internal/cloud"
)

// DefaultPollInterval is the pause between task queue polls.
const DefaultPollInterval = 25 * time.Second

// ErrPollAttemptsExhausted is returned when MaxAttempts polls found the
// queue still busy.
var ErrPollAttemptsExhausted = errors.New("pipeline: task queue did not drain")

// Poller waits for the account's remote processing queue to drain.
type Poller struct {
	// Interval is the pause after every poll that did not see an empty
	// queue. Zero means DefaultPollInterval.
	Interval time.Duration
	// MaxAttempts bounds the number of polls. Zero polls until the queue
	// drains or the context ends.
	MaxAttempts int

	logger  *slog.Logger
	metrics *Metrics

	// sleepFunc is replaced in tests to avoid real waits.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewPoller returns a Poller with the default interval and no attempt limit.
func NewPoller(logger *slog.Logger, metrics *Metrics) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		Interval:  DefaultPollInterval,
		logger:    logger,
		metrics:   metrics,
		sleepFunc: timeSleep,
	}
}

// AwaitCompletion polls the task queue on session until its count is zero,
// then calls onComplete exactly once. With a nil session or nil onComplete
// there is nothing to wait for and it returns at once. Poll failures are
// logged and retried after the interval. It returns the context error if
// ctx ends first.
func (p *Poller) AwaitCompletion(ctx context.Context, session *cloud.Session, onComplete func()) error {
	if session == nil || onComplete == nil {
		return nil
	}

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for attempt := 1; ; attempt++ {
		p.metrics.incPolls()

		count, err := session.ListTasks(ctx)

		switch {
		case err != nil && ctx.Err() != nil:
			return fmt.Errorf("pipeline: polling canceled: %w", ctx.Err())
		case err != nil:
			p.logger.Warn("task poll failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		case count == 0:
			p.logger.Info("remote processing complete", slog.Int("polls", attempt))
			onComplete()

			return nil
		default:
			p.logger.Debug("tasks pending",
				slog.Int("count", count),
				slog.Int("attempt", attempt),
			)
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d polls", ErrPollAttemptsExhausted, attempt)
		}

		if err := p.sleepFunc(ctx, interval); err != nil {
			return fmt.Errorf("pipeline: polling canceled: %w", err)
		}
	}
}

// timeSleep waits for d or until ctx is canceled.
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
