package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/panosync/internal/pipeline"
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload raw capture files to the cloud",
		Long: `Upload one or more raw .upf captures in the order given. The first
failure stops the batch. With --wait, block until the cloud's processing
queue is empty.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().Bool("wait", false, "wait for cloud processing to finish")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	wait, err := cmd.Flags().GetBool("wait")
	if err != nil {
		return err
	}

	if err := cc.Cfg.RequireAccount(); err != nil {
		return err
	}

	var total int64

	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("checking %s: %w", path, err)
		}

		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s is not a regular file", path)
		}

		total += info.Size()
	}

	statusf(cc.Flags.Quiet, "Uploading %d file(s), %s\n", len(args), formatSize(total))

	ctx := shutdownContext(cmd.Context(), logger, nil)
	client := newCloudClient(cc.Cfg, logger)

	uploaded, session, err := pipeline.NewUploader(client, logger, nil).UploadBatch(ctx, args, credentials(cc.Cfg))
	if err != nil {
		return err
	}

	statusf(cc.Flags.Quiet, "Upload complete\n")

	if !wait || !uploaded {
		return nil
	}

	poller := pipeline.NewPoller(logger, nil)
	poller.Interval = cc.Cfg.PollInterval
	poller.MaxAttempts = cc.Cfg.Sync.PollMaxAttempts

	statusf(cc.Flags.Quiet, "Waiting for processing to finish\n")

	return poller.AwaitCompletion(ctx, session, func() {
		logger.Info("processing finished", slog.Int("files", len(args)))
		statusf(cc.Flags.Quiet, "Processing finished\n")
	})
}
