package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/harborhq/contextd/cli"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/spf13/cobra"
)

// NewCheckpointCmd returns the checkpoint command tree.
func NewCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Request and inspect checkpoints",
	}
	cmd.AddCommand(newCheckpointRequestCmd())
	cmd.AddCommand(newCheckpointListCmd())
	return cmd
}

func newCheckpointRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <session-id>",
		Short: "Request a manual checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := client.RequestCheckpoint(context.Background(), args[0], models.TriggerManual)
			if err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}
			fmt.Println(id)
			return nil
		},
	}
}

func newCheckpointListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's checkpoints in trigger order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			cps, err := client.ListCheckpoints(context.Background(), args[0])
			if err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}

			if cli.JSONOutput(cmd) {
				return json.NewEncoder(os.Stdout).Encode(cps)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHECKPOINT\tTRIGGER\tSTATUS\tUSAGE\tTRIGGERED\tLOCATION")
			for _, cp := range cps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
					cp.CheckpointID, cp.Trigger, cp.Status, cp.UsageAtTrigger*100,
					cp.TriggeredAt.Format(time.RFC3339), cp.ArtifactLocation)
			}
			return w.Flush()
		},
	}
}
