package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harborhq/contextd/cli"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/spf13/cobra"
)

// NewWatchCmd returns the watch command: a terminal observer on the
// daemon's state stream.
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live session and checkpoint events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				cancel()
			}()

			ch, err := client.StreamState(ctx)
			if err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}

			jsonOut := cli.JSONOutput(cmd)
			for update := range ch {
				if jsonOut {
					if err := json.NewEncoder(os.Stdout).Encode(update); err != nil {
						return err
					}
					continue
				}
				printUpdate(update)
			}
			return nil
		},
	}
}

func printUpdate(u models.StateUpdate) {
	ts := u.SentAt.Format("15:04:05")
	switch u.UpdateType {
	case "snapshot":
		fmt.Printf("%s snapshot: %d sessions, %d checkpoints\n", ts, len(u.Sessions), len(u.Checkpoints))
	case "session":
		if u.Session != nil {
			fmt.Printf("%s session %s: %s (%.0f%%)\n", ts,
				u.Session.SessionID, u.Session.Status, u.Session.UsageFraction*100)
		}
	case "checkpoint":
		if u.Checkpoint != nil {
			fmt.Printf("%s checkpoint %s: %s (%s)\n", ts,
				u.Checkpoint.CheckpointID, u.Checkpoint.Status, u.Checkpoint.Trigger)
		}
	case "alert":
		if u.Alert != nil {
			fmt.Printf("%s ALERT [%s] %s: %s\n", ts, u.Alert.Kind, u.Alert.SessionID, u.Alert.Message)
		}
	case "config_reload":
		fmt.Printf("%s config reloaded: %s\n", ts, u.ConfigFile)
	}
}
