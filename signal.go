package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT or
// SIGTERM and force-exits on the second. The first signal lets in-flight
// runs record their outcome; the second is for when something hangs.
// pending, if non-nil, reports the runs still uploading or downloading.
func shutdownContext(parent context.Context, logger *slog.Logger, pending func() int) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down (repeat to force)", shutdownAttrs(sig, pending)...)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// shutdownAttrs describes what the first signal interrupts.
func shutdownAttrs(sig os.Signal, pending func() int) []any {
	attrs := []any{slog.String("signal", sig.String())}

	if pending != nil {
		attrs = append(attrs, slog.Int("in_flight_runs", pending()))
	}

	return attrs
}
