package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/harborhq/contextd/cli"
	"github.com/harborhq/contextd/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd returns the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			if cli.JSONOutput(cmd) {
				return json.NewEncoder(os.Stdout).Encode(info)
			}
			fmt.Println(info.String())
			return nil
		},
	}
}
