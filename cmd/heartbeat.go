package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/harborhq/contextd/cli"
	"github.com/spf13/cobra"
)

// NewHeartbeatCmd returns the heartbeat command.
func NewHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <session-id> <usage-fraction>",
		Short: "Report a context usage sample",
		Long: `Report a context usage sample for a session. Usage is a fraction in
[0,1]; crossing a configured threshold may trigger a checkpoint.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid usage fraction %q: %w", args[1], err)
			}

			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			rec, err := client.Heartbeat(context.Background(), args[0], usage)
			if err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}
			fmt.Printf("%s %s (%.0f%%)\n", rec.SessionID, rec.Status, rec.UsageFraction*100)
			return nil
		},
	}
}
