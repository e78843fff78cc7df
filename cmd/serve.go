// file: cmd/serve.go
// version: 1.0.1
// guid: 8d2f6a14-3b9e-4c75-a0e1-5f7c9b2d4e68

package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdfalk/paced-downloader/internal/logging"
	"github.com/jdfalk/paced-downloader/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download queue with its control API",
	Long: `Start the queue, restore any persisted items and serve the JSON control
API, server-sent events and Prometheus metrics until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cmd)
	},
}

// cmdFlagKeys maps command flags onto config keys.
var cmdFlagKeys = map[string]string{
	"workers":  "max_concurrent_downloads",
	"per-hour": "max_downloads_per_hour",
}

func init() {
	serveCmd.Flags().Int("workers", 0, "number of concurrent downloads")
	serveCmd.Flags().Int("per-hour", 0, "global downloads per hour (0 = unlimited)")
	serveCmd.Flags().Duration("read-timeout", 15*time.Second, "API read timeout")
	serveCmd.Flags().Duration("idle-timeout", 60*time.Second, "API idle timeout")
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	rt, err := openApp(appCfg, nil)
	if err != nil {
		return err
	}

	if err := rt.queue.Start(ctx); err != nil {
		return errors.Join(err, rt.stop())
	}

	srvCfg := server.GetDefaultServerConfig()
	if d, err := cmd.Flags().GetDuration("read-timeout"); err == nil {
		srvCfg.ReadTimeout = d
	}
	if d, err := cmd.Flags().GetDuration("idle-timeout"); err == nil {
		srvCfg.IdleTimeout = d
	}

	srv := server.New(rt.cfg, rt.queue, rt.hub, Version)
	serveErr := srv.ListenAndServe(ctx, srvCfg)
	if serveErr != nil {
		logging.Error("api stopped", "err", serveErr)
	}
	return errors.Join(serveErr, rt.stop())
}
