// file: cmd/items.go
// version: 1.0.0
// guid: e1a6c3f8-7d92-4b05-9c4e-36b8f0d2a517

package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/server"
)

var serverAddr string

var addCmd = &cobra.Command{
	Use:   "add TITLE SOURCE",
	Short: "Queue a download on the running daemon",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		req := server.AddItemRequest{Title: args[0], SourceRef: args[1]}
		req.ID, _ = f.GetString("id")
		req.Artist, _ = f.GetString("artist")
		req.Album, _ = f.GetString("album")
		req.Quality, _ = f.GetString("quality")
		req.DestinationPath, _ = f.GetString("dest")
		req.TotalSize, _ = f.GetInt64("size")
		req.Explicit, _ = f.GetBool("explicit")
		if req.ID == "" {
			req.ID = ulid.Make().String()
		}

		it, err := clientFromConfig(serverAddr).Add(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s)\n", it.ID, it.DisplayName())
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List items on the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		match, _ := cmd.Flags().GetString("match")
		items, err := clientFromConfig(serverAddr).List(cmd.Context(), status, match)
		if err != nil {
			return err
		}
		if match != "" {
			rankByMatch(items, match)
		}
		printItems(cmd.OutOrStdout(), items)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove ID...",
	Short: "Remove items from the running daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := clientFromConfig(serverAddr)
		for _, id := range args {
			if err := client.Remove(cmd.Context(), id); err != nil {
				return fmt.Errorf("remove %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
		}
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Pause a downloading item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return clientFromConfig(serverAddr).Pause(cmd.Context(), args[0])
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume ID",
	Short: "Resume a paused item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return clientFromConfig(serverAddr).Resume(cmd.Context(), args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, listCmd, removeCmd, pauseCmd, resumeCmd} {
		c.Flags().StringVar(&serverAddr, "server", "", "daemon address (default: listen from config)")
	}

	addCmd.Flags().String("id", "", "item id (default: generated)")
	addCmd.Flags().String("artist", "", "artist name")
	addCmd.Flags().String("album", "", "album name")
	addCmd.Flags().String("quality", "standard", "low, standard, lossless or hires")
	addCmd.Flags().String("dest", "", "destination directory")
	addCmd.Flags().Int64("size", 0, "expected size in bytes")
	addCmd.Flags().Bool("explicit", false, "mark as explicit")

	listCmd.Flags().String("status", "", "only items in this status")
	listCmd.Flags().String("match", "", "fuzzy filter on artist, album and title")
}

// rankByMatch orders items by fuzzy distance to term, closest first.
func rankByMatch(items []models.DownloadItem, term string) {
	rank := func(it models.DownloadItem) int {
		r := fuzzy.RankMatchNormalizedFold(term, it.DisplayName())
		if r < 0 {
			return int(^uint(0) >> 1)
		}
		return r
	}
	sort.SliceStable(items, func(i, j int) bool { return rank(items[i]) < rank(items[j]) })
}

func printItems(w io.Writer, items []models.DownloadItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no items")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tQUALITY\tPROGRESS\tRETRIES\tNAME")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%3.0f%%\t%d\t%s\n",
			it.ID, it.Status, it.Quality, it.Progress*100, it.RetryCount, it.DisplayName())
	}
	_ = tw.Flush()
}
