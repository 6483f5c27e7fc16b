package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/harborhq/contextd/cli"
	"github.com/harborhq/contextd/config"
	"github.com/harborhq/contextd/pkg/daemon"
	"github.com/harborhq/contextd/pkg/paths"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd returns the config command tree.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and reload the coordinator configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigReloadCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		Long: `Show the configuration the daemon is actually running with. Falls back
to the local file (or built-in defaults) when the daemon is down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if client, err := daemon.Connect(); err == nil {
				defer client.Close()
				if remote, ok := client.(*daemon.RemoteClient); ok {
					raw, err := remote.GetConfig(context.Background())
					if err == nil {
						fmt.Println(string(raw))
						return nil
					}
				}
			}

			cfg, err := config.LoadDefault()
			if err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			os.Stdout.Write(out)
			return nil
		},
	}
}

func newConfigReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the daemon to re-read its config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			remote, ok := client.(*daemon.RemoteClient)
			if !ok {
				return fmt.Errorf("reload requires a daemon connection")
			}
			if err := remote.ReloadConfig(context.Background()); err != nil {
				verbose, _ := cmd.Flags().GetBool("verbose")
				return cli.NewErrorHandler(verbose).Handle(err)
			}
			fmt.Println("Configuration reloaded")
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(paths.ConfigFilePath())
		},
	}
}
