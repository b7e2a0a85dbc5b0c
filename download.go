package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/panosync/internal/pipeline"
)

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download [dest]",
		Short: "Download processed panoramas not yet saved locally",
		Long: `Walk the account's panorama catalog and save the largest
equirectangular rendering of each panorama that is not already present under
<dest>/<YYYY-MM-DD>/<id>.jpg. dest defaults to jpeg_dir.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDownload,
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	dest := cc.Cfg.Paths.JPEGDir
	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving %s: %w", args[0], err)
		}

		dest = abs
	}

	if dest == "" {
		return errors.New("no destination: pass [dest], set [paths] jpeg_dir or use --jpeg-dir")
	}

	if err := cc.Cfg.RequireAccount(); err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger, nil)

	d := pipeline.NewDownloader(newCloudClient(cc.Cfg, logger), logger, nil)
	d.PageSize = cc.Cfg.Sync.PageSize

	n, err := d.DownloadNew(ctx, dest, credentials(cc.Cfg))
	if err != nil {
		return err
	}

	statusf(cc.Flags.Quiet, "Downloaded %d new panorama(s) to %s\n", n, dest)

	return nil
}
