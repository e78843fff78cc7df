// file: cmd/snapshot.go
// version: 1.0.0
// guid: 2a7f4d91-e8c3-4b6a-95d0-7c1e3b8f6a24

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/persistence"
)

// snapshotCmd inspects queue.json without starting the queue.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Show the persisted queue",
	Long: `Read queue.json from the state directory, falling back to queue.json.bak
when the primary file is unreadable. Nothing is downloaded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return showSnapshot(cmd.OutOrStdout(), appCfg.QueuePersistencePath, asJSON)
	},
}

func init() {
	snapshotCmd.Flags().Bool("json", false, "print raw records as JSON")
}

func showSnapshot(w io.Writer, dir string, asJSON bool) error {
	store := persistence.NewStore(dir)
	records, err := store.Load()
	if err != nil {
		fmt.Fprintf(w, "warning: %v\n", err)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	fmt.Fprintf(w, "%s: %d item(s)\n", store.Path(), len(records))
	if len(records) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUALITY\tQUEUED\tNAME")
	for _, r := range records {
		name := r.Title
		if it, err := r.ToItem(); err == nil {
			name = it.DisplayName()
		}
		q, qerr := models.ParseQuality(r.Bitrate)
		quality := r.Bitrate
		if qerr == nil {
			quality = q.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, quality, r.QueuedTime.Format("2006-01-02 15:04"), name)
	}
	return tw.Flush()
}
