package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/panosync/internal/mount"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <mount-dir>",
		Short: "Watch for the camera and sync every time it is mounted",
		Long: `Watch a mount directory (for example /media/$USER) for the camera's
storage to appear. Each time a directory whose name starts with the mount
prefix shows up, new captures are archived, uploaded, and, once the cloud has
processed them, downloaded as JPEG panoramas.

Only one watcher may run per state directory. Press Ctrl-C once to stop
gracefully and twice to force exit.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9110)")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	root := args[0]

	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return err
	}

	cleanup, err := writePIDFile(cc.Cfg.PIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "panosync",
		Name:      "batches_processed_total",
		Help:      "Uploaded batches the cloud finished processing.",
	})
	reg.MustRegister(processed)

	onProcessed := func() {
		processed.Inc()
		logger.Info("cloud finished processing uploaded batch")
	}

	coord, closeCoord, err := newCoordinator(cmd.Context(), cc.Cfg, reg, onProcessed, logger)
	if err != nil {
		return err
	}
	defer closeCoord()

	ctx := shutdownContext(cmd.Context(), logger, coord.InFlight)

	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr, reg, logger)
		defer stop()
	}

	w := mount.NewWatcher(root, cc.Cfg.Paths.MountPrefix, logger)
	w.Settle = cc.Cfg.SettleDelay

	statusf(cc.Flags.Quiet, "Watching %s for %s* devices\n", root, w.Prefix)

	runErr := w.Run(ctx, func(ev mount.Event) {
		coord.HandleEvent(ctx, ev)
	})

	logger.Info("waiting for in-flight runs to finish")
	coord.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("watching %s: %w", root, runErr)
	}

	return nil
}

// serveMetrics exposes reg over HTTP until the returned stop function runs.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}
}
