package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tonimelisma/panosync/internal/config"
	"github.com/tonimelisma/panosync/internal/pipeline"
)

// openLedger opens the run ledger, or returns nil when state_dir is empty.
func openLedger(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*pipeline.Ledger, error) {
	path := cfg.LedgerPath()
	if path == "" {
		logger.Debug("state_dir empty, run history disabled")
		return nil, nil
	}

	ledger, err := pipeline.OpenLedger(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening run ledger: %w", err)
	}

	return ledger, nil
}

// newCoordinator assembles a coordinator from the resolved config.
// onProcessed runs each time the cloud finishes a batch; nil downloads
// without waiting. The returned close function releases the ledger and must
// be called after Coordinator.Wait.
func newCoordinator(
	ctx context.Context, cfg *config.Resolved, reg prometheus.Registerer, onProcessed func(), logger *slog.Logger,
) (*pipeline.Coordinator, func(), error) {
	if err := cfg.RequireArchive(); err != nil {
		return nil, nil, err
	}

	if err := cfg.RequireAccount(); err != nil {
		return nil, nil, err
	}

	ledger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var metrics *pipeline.Metrics
	if reg != nil {
		metrics = pipeline.NewMetrics(reg)
	}

	coord := pipeline.NewCoordinator(pipeline.Config{
		ArchiveRoot:     cfg.Paths.ArchiveDir,
		JPEGRoot:        cfg.Paths.JPEGDir,
		Credentials:     credentials(cfg),
		OnProcessed:     onProcessed,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.Sync.PollMaxAttempts,
		PageSize:        cfg.Sync.PageSize,
		Workers:         cfg.Sync.Workers,
	}, newCloudClient(cfg, logger), ledger, metrics, logger)

	closeFn := func() {
		if ledger == nil {
			return
		}

		if err := ledger.Close(); err != nil {
			logger.Warn("closing run ledger", slog.String("error", err.Error()))
		}
	}

	return coord, closeFn, nil
}
