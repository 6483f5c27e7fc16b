// Package cli provides shared helpers for contextd commands.
package cli

import (
	"github.com/harborhq/contextd/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewStandardCommand creates a new command with the standard contextd
// flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to contextd.yml config file")

	return cmd
}

// GetLogger creates a logger based on command flags.
func GetLogger(cmd *cobra.Command) *logrus.Logger {
	entry := logging.NewLogger("contextd-cli")
	logger := entry.Logger

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// JSONOutput reports whether --json was requested.
func JSONOutput(cmd *cobra.Command) bool {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return jsonOutput
}
