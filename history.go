package main

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/panosync/internal/pipeline"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs",
		Long: `List the most recent runs recorded in the run ledger, newest first,
and report whether a watcher is currently running.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", defaultHistoryLimit, "maximum number of runs to show")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	ledger, err := openLedger(cmd.Context(), cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	if ledger == nil {
		return errors.New("run history is disabled (state_dir is empty)")
	}
	defer ledger.Close()

	runs, err := ledger.RecentRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(runs)
	}

	if pid, alive := watcherPID(cc.Cfg.PIDPath()); alive {
		statusf(cc.Flags.Quiet, "Watcher running (PID %d)\n\n", pid)
	}

	if len(runs) == 0 {
		statusf(cc.Flags.Quiet, "No runs recorded yet\n")
		return nil
	}

	printTable(os.Stdout, []string{"STARTED", "STATUS", "ARCHIVED", "UPLOADED", "DOWNLOADED", "MOUNT", "ERROR"},
		historyRows(runs))

	return nil
}

func historyRows(runs []pipeline.Run) [][]string {
	rows := make([][]string, 0, len(runs))

	for i := range runs {
		r := &runs[i]
		rows = append(rows, []string{
			formatTime(r.StartedAt),
			r.Status,
			strconv.Itoa(r.Archived),
			strconv.Itoa(r.Uploaded),
			strconv.Itoa(r.Downloaded),
			r.MountPath,
			truncate(r.Error, maxErrorColumn),
		})
	}

	return rows
}
