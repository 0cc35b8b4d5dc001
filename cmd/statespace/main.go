package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/StateSpace/internal/config"
	"github.com/AaronLay10/StateSpace/internal/logger"
	"github.com/AaronLay10/StateSpace/internal/version"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.RuntimeConfig

	rootCmd = &cobra.Command{
		Use:   "statespace",
		Short: "Drive a verification engine: explore, model check and replay traces",
		Long: `statespace talks to an external verification engine over its term
protocol, builds the state space lazily, runs bounded model checks and
replays recorded traces against the loaded model.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath != "" {
				cfg, err = config.LoadRuntimeConfig(configPath)
				if err != nil {
					return fmt.Errorf("load %s: %w", configPath, err)
				}
			} else {
				cfg = config.Default()
			}
			level, format := cfg.Log.Level, cfg.Log.Format
			if cmd.Flags().Changed("log-level") || level == "" {
				level = logLevel
			}
			if cmd.Flags().Changed("log-format") || format == "" {
				format = logFormat
			}
			logger.Init(level, logger.Format(format))
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to runtime.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(checkCmd, replayCmd, serveCmd, versionCmd)
}

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
