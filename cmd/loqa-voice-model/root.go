package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loqa-voice-model",
		Short:         "Inspect voice models and run one-off synthesis or recognition",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			activeCfg = loaded
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional loqa-voice.yaml")

	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newSynthCmd())
	cmd.AddCommand(newTranscribeCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	})
	return cmd
}

// newLogger keeps command output readable: adapters only log warnings
// unless the config asks for debug.
func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Telemetry.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
