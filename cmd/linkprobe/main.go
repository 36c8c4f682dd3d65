package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/linkprobe/internal/config"
	"github.com/hazz-dev/linkprobe/internal/logging"
	"github.com/hazz-dev/linkprobe/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "linkprobe",
		Short:        "Bulk URL liveness checker",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(serveCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "linkprobe %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// setup loads the config, falling back to defaults, and installs the
// configured logger as the default one.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, func() error, error) {
	bootstrap := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	cfg := config.LoadOrDefault(cfgFile, bootstrap)

	logger, closeLog, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, closeLog, nil
}
