// file: cmd/run.go
// version: 1.0.0
// guid: c47e0a93-6f25-4b18-9d3c-2a8e5f1b7d06

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jdfalk/paced-downloader/internal/models"
)

// runCmd drains the persisted queue without serving the API.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Work through the persisted queue and exit",
	Long: `Restore queue.json and download every pending item with the configured
pacing and limits. Exits when the queue is drained or on interrupt; anything
unfinished is saved for the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		quiet, _ := cmd.Flags().GetBool("quiet")
		out := cmd.ErrOrStderr()
		if quiet {
			out = io.Discard
		}
		return runDrain(ctx, cmd.OutOrStdout(), out)
	},
}

func init() {
	runCmd.Flags().Int("workers", 0, "number of concurrent downloads")
	runCmd.Flags().Int("per-hour", 0, "global downloads per hour (0 = unlimited)")
	runCmd.Flags().BoolP("quiet", "q", false, "hide the progress bar")
}

func isFinal(s models.Status) bool {
	return s == models.StatusCompleted || s == models.StatusFailed || s == models.StatusCancelled
}

func runDrain(ctx context.Context, stdout, barOut io.Writer) error {
	var finished, failed atomic.Int64
	progressed := make(chan struct{}, 1)
	listener := func(it models.DownloadItem) {
		if !isFinal(it.Status) {
			return
		}
		finished.Add(1)
		if it.Status == models.StatusFailed {
			failed.Add(1)
		}
		select {
		case progressed <- struct{}{}:
		default:
		}
	}

	rt, err := openApp(appCfg, listener)
	if err != nil {
		return err
	}
	if !rt.cfg.EnableQueuePersistence {
		fmt.Fprintln(stdout, "queue persistence is disabled; nothing to restore")
		return rt.stop()
	}
	if err := rt.queue.Start(ctx); err != nil {
		return errors.Join(err, rt.stop())
	}

	total := 0
	for _, it := range rt.queue.List() {
		if !isFinal(it.Status) {
			total++
		}
	}
	total += int(finished.Load())
	if total == 0 {
		fmt.Fprintln(stdout, "queue is empty")
		return rt.stop()
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(barOut),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
	_ = bar.Set(int(finished.Load()))

	for int(finished.Load()) < total {
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout, "\ninterrupted; unfinished items were saved")
			return rt.stop()
		case <-progressed:
			_ = bar.Set(int(finished.Load()))
		}
	}
	_ = bar.Finish()

	fmt.Fprintf(stdout, "done: %d finished, %d failed\n", finished.Load(), failed.Load())
	return rt.stop()
}
