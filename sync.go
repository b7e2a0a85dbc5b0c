package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/panosync/internal/pipeline"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <source>",
		Short: "Run the full pipeline once against a capture directory",
		Long: `Archive new captures from <source>, upload them, wait for the cloud to
finish processing and download the resulting panoramas. This is what watch
does on every device arrival, run once in the foreground.

Examples:
  panosync sync /media/$USER/Panono
  panosync sync --jpeg-dir ~/Pictures/Panono /mnt/camera`,
		Args: cobra.ExactArgs(1),
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	onProcessed := func() {
		statusf(cc.Flags.Quiet, "Cloud processing complete\n")
	}

	coord, closeCoord, err := newCoordinator(cmd.Context(), cc.Cfg, nil, onProcessed, cc.Logger)
	if err != nil {
		return err
	}
	defer closeCoord()

	ctx := shutdownContext(cmd.Context(), cc.Logger, coord.InFlight)

	run, err := coord.OnDeviceAvailable(ctx, args[0])
	if err != nil {
		return err
	}

	coord.Wait()

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(run); err != nil {
			return err
		}
	} else {
		statusf(cc.Flags.Quiet, "Archived %d, uploaded %d, downloaded %d\n",
			run.Archived, run.Uploaded, run.Downloaded)
	}

	if run.Status == pipeline.RunFailed {
		return fmt.Errorf("sync failed: %s", run.Error)
	}

	return nil
}
