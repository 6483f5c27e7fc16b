package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/harborhq/contextd/cli"
	"github.com/harborhq/contextd/pkg/daemon"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/spf13/cobra"
)

// connect dials the daemon and funnels failures through the shared
// error handler.
func connect(cmd *cobra.Command) (daemon.Client, error) {
	client, err := daemon.Connect()
	if err != nil {
		verbose, _ := cmd.Flags().GetBool("verbose")
		return nil, cli.NewErrorHandler(verbose).Handle(err)
	}
	return client, nil
}

// NewSessionsCmd returns the session management command tree.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage registered sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsGetCmd())
	cmd.AddCommand(newSessionsRegisterCmd())
	cmd.AddCommand(newSessionsDeregisterCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var liveOnly bool
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			sessions, err := client.ListSessions(context.Background(), models.SessionFilter{
				LiveOnly: liveOnly,
				Role:     models.Role(role),
			})
			if err != nil {
				return err
			}

			if cli.JSONOutput(cmd) {
				return json.NewEncoder(os.Stdout).Encode(sessions)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tROLE\tSTATUS\tUSAGE\tCHECKPOINTS\tLAST HEARTBEAT")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d\t%s\n",
					s.SessionID, s.Role, s.Status, s.UsageFraction*100,
					len(s.CheckpointIDs), s.LastHeartbeatAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&liveOnly, "live", false, "Only show live sessions")
	cmd.Flags().StringVar(&role, "role", "", "Filter by role (root, orchestrator, child)")
	return cmd
}

func newSessionsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show one session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			rec, err := client.GetSession(context.Background(), args[0])
			if err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func newSessionsRegisterCmd() *cobra.Command {
	var role string
	var parent string
	var autonomous bool
	cmd := &cobra.Command{
		Use:   "register [session-id]",
		Short: "Register a session",
		Long: `Register a session with the coordinator. With no argument the id is
taken from CONTEXTD_SESSION_ID, marking a self-registration; the daemon
assigns an id when neither is present.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			req := models.RegisterRequest{
				Role:            models.Role(role),
				ParentSessionID: parent,
				Autonomous:      autonomous,
			}
			if len(args) == 1 {
				req.SessionID = args[0]
			} else if self := daemon.SelfSessionID(); self != "" {
				req.SessionID = self
				req.SelfDeclared = true
			}

			rec, err := client.Register(context.Background(), req)
			if err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}
			fmt.Println(rec.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Session role (root, orchestrator, child)")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent session id")
	cmd.Flags().BoolVar(&autonomous, "autonomous", false, "Mark the session autonomous")
	return cmd
}

func newSessionsDeregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <session-id>",
		Short: "Deregister a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Deregister(context.Background(), args[0]); err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}
			fmt.Printf("Session %s deregistered\n", args[0])
			return nil
		},
	}
}
