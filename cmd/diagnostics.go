// file: cmd/diagnostics.go
// version: 2.0.0
// guid: c8f6a0d4-2a8b-48cf-9d08-02cc9915d9fc

package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jdfalk/paced-downloader/internal/history"
	"github.com/jdfalk/paced-downloader/internal/persistence"
	"github.com/jdfalk/paced-downloader/internal/stats"
)

var (
	diagnosticsCmd = &cobra.Command{
		Use:   "diagnostics",
		Short: "Inspect history and the status file",
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent download outcomes from the history ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return showHistory(cmd.OutOrStdout(), appCfg.HistoryPath, limit)
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the last status.json written by the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			top, _ := cmd.Flags().GetInt("top")
			return showStatus(cmd.OutOrStdout(), filepath.Join(appCfg.QueuePersistencePath, persistence.StatusFile), top)
		},
	}
)

func init() {
	historyCmd.Flags().Int("limit", 20, "number of entries to display")
	statusCmd.Flags().Int("top", 5, "number of artists to display")

	diagnosticsCmd.AddCommand(historyCmd)
	diagnosticsCmd.AddCommand(statusCmd)
}

func showHistory(w io.Writer, dir string, limit int) error {
	ledger, err := history.Open(dir)
	if err != nil {
		return err
	}
	defer ledger.Close()

	totals, err := ledger.Totals()
	if err != nil {
		return fmt.Errorf("failed to read history totals: %w", err)
	}
	entries, err := ledger.Recent(limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	fmt.Fprintf(w, "completed: %d  failed: %d  artists: %d\n", totals.Completed, totals.Failed, len(totals.Artists))
	if len(entries) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tSTATUS\tATTEMPTS\tID\tTITLE\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.FinishedAt.Local().Format("2006-01-02 15:04:05"), e.Status, e.Attempts, e.ID, e.Title, e.Error)
	}
	return tw.Flush()
}

func showStatus(w io.Writer, path string, top int) error {
	st, err := persistence.ReadStatus(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "version:     %s\n", st.PluginVersion)
	fmt.Fprintf(w, "updated:     %s\n", st.LastUpdated.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "pending:     %d\n", st.TotalPendingDownloads)
	fmt.Fprintf(w, "completed:   %d\n", st.TotalCompletedDownloads)
	fmt.Fprintf(w, "failed:      %d\n", st.TotalFailedDownloads)
	fmt.Fprintf(w, "rate/hour:   %d\n", st.DownloadRate)
	fmt.Fprintf(w, "high volume: %t\n", st.IsHighVolumeMode)

	sum := stats.Summary{Artists: st.ArtistStats}
	for _, name := range sum.TopArtists(top) {
		a := st.ArtistStats[name]
		fmt.Fprintf(w, "  %-30s %d completed, %d failed\n", name, a.Completed, a.Failed)
	}
	return nil
}
