package main

import (
	"os"

	"github.com/harborhq/contextd/cli"
	"github.com/harborhq/contextd/cmd"
	"github.com/harborhq/contextd/pkg/profiling"
	"github.com/harborhq/contextd/version"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"contextd",
		"Session registry and context-checkpoint coordinator",
	)

	profiler := profiling.NewCobraProfiler()
	profiler.AddFlags(rootCmd)
	rootCmd.PersistentPreRunE = profiler.PreRun
	rootCmd.PersistentPostRun = profiler.PostRun
	rootCmd.Version = version.Version
	cli.SetVersionTemplate(rootCmd, cli.VersionInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildDate: version.BuildDate,
	})

	rootCmd.AddCommand(cmd.NewStartCmd())
	rootCmd.AddCommand(cmd.NewStopCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewSessionsCmd())
	rootCmd.AddCommand(cmd.NewHeartbeatCmd())
	rootCmd.AddCommand(cmd.NewCheckpointCmd())
	rootCmd.AddCommand(cmd.NewConfigCmd())
	rootCmd.AddCommand(cmd.NewWatchCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
