// file: cmd/root.go
// version: 2.0.0
// guid: 6a7b8c9d-0e1f-2a3b-4c5d-6e7f8a9b0c1d

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdfalk/paced-downloader/internal/config"
	"github.com/jdfalk/paced-downloader/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile string
	v       *viper.Viper
	appCfg  config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "paced-downloader",
	Short: "Download media at a human pace",
	Long: `paced-downloader queues audio downloads and works through them with
bounded concurrency, hourly rate limits, randomized human-like delays and a
circuit breaker around the remote API. The queue survives restarts.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.paced-downloader.yaml)")
	flags.String("state-dir", "", "directory for queue.json, status.json and history")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "log to this file instead of stderr")
	flags.Bool("log-json", false, "emit JSON log lines")
	flags.String("listen", "", "API listen address")

	rootCmd.AddCommand(serveCmd, runCmd, addCmd, listCmd, removeCmd, pauseCmd, resumeCmd,
		snapshotCmd, configCmd, diagnosticsCmd)
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"state-dir": "queue_persistence_path",
	"log-level": "log_level",
	"log-file":  "log_file",
	"log-json":  "log_json",
	"listen":    "listen",
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	v, err = config.NewViper(cfgFile)
	if err != nil {
		return err
	}
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", flag, err)
			}
		}
	}
	for flag, key := range cmdFlagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", flag, err)
			}
		}
	}

	if f := cmd.Flags().Lookup("state-dir"); f != nil && f.Changed && !v.InConfig("history_path") {
		v.Set("history_path", filepath.Join(f.Value.String(), "history"))
	}

	appCfg, err = config.Load(v)
	if err != nil {
		return err
	}
	if err := logging.Init(logging.Options{Level: appCfg.LogLevel, File: appCfg.LogFile, JSON: appCfg.LogJSON}); err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logging.Debug("using config file", "path", used)
	}
	return nil
}
