// Package cmd implements the contextd command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harborhq/contextd/cli"
	"github.com/harborhq/contextd/config"
	"github.com/harborhq/contextd/internal/daemon/checkpoint"
	"github.com/harborhq/contextd/internal/daemon/engine"
	"github.com/harborhq/contextd/internal/daemon/monitor"
	"github.com/harborhq/contextd/internal/daemon/pidfile"
	"github.com/harborhq/contextd/internal/daemon/reaper"
	"github.com/harborhq/contextd/internal/daemon/registry"
	"github.com/harborhq/contextd/internal/daemon/server"
	"github.com/harborhq/contextd/logging"
	"github.com/harborhq/contextd/pkg/daemon"
	"github.com/harborhq/contextd/pkg/paths"
	"github.com/spf13/cobra"
)

// daemonRole names the coordinator's own singleton slot.
const daemonRole = "contextd"

// NewStartCmd returns the daemon start command.
func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the coordinator daemon",
		Long:  "Start the contextd session coordinator in foreground mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 1. Load configuration before anything logs.
			configFile, _ := cmd.Flags().GetString("config")
			var cfg *config.Config
			var err error
			if configFile != "" {
				cfg, err = config.Load(configFile)
			} else {
				cfg, err = config.LoadDefault()
			}
			if err != nil {
				return err
			}
			logging.Configure(cfg.Logging)
			logger := logging.NewLogger("contextd")

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create state directories: %w", err)
			}

			// 2. Acquire the singleton lock.
			if err := pidfile.Acquire(daemonRole); err != nil {
				return cli.NewErrorHandler(false).Handle(err)
			}
			defer func() {
				if err := pidfile.Release(daemonRole); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			// 3. Wire the core.
			provider := config.NewProvider(cfg)
			reg := registry.New()

			checkpointDir := cfg.Checkpoint.Dir
			if checkpointDir == "" {
				checkpointDir = paths.CheckpointDir()
			}
			writer, err := checkpoint.NewFileWriter(checkpointDir)
			if err != nil {
				return fmt.Errorf("failed to prepare checkpoint directory: %w", err)
			}
			coord := checkpoint.New(reg, provider, writer, nil, logging.NewLogger("coordinator"))
			mon := monitor.New(reg, coord, provider, logging.NewLogger("monitor"))

			eng := engine.New(logger)
			eng.Register(reaper.New(reg, provider, logging.NewLogger("reaper")))

			watcher, err := daemon.NewConfigWatcher(250, func(file string) {
				next, err := config.LoadDefault()
				if err != nil {
					logger.WithError(err).Error("Config reload failed, keeping previous configuration")
					return
				}
				if err := provider.Reload(next); err != nil {
					logger.WithError(err).Error("Config reload rejected, keeping previous configuration")
					return
				}
				reg.BroadcastConfigReload(file)
				logger.WithField("file", file).Info("Configuration reloaded")
			})
			if err != nil {
				logger.WithError(err).Warn("Config watcher unavailable, reload via API only")
			} else {
				eng.Register(watcher)
			}

			srv := server.New(reg, mon, coord, provider, logging.NewLogger("server"))

			// 4. Handle signals.
			ctx, cancel := context.WithCancel(context.Background())
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-stop
				logger.Info("Received stop signal")
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(
					context.Background(), provider.Get().Timeouts.Shutdown.Std())
				defer shutdownCancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}
				// Let in-flight checkpoint writes settle; losing one at
				// shutdown defeats their purpose.
				coord.Wait()

				_ = pidfile.Release(daemonRole)
				os.Exit(0)
			}()

			// 5. Start workers in background.
			go eng.Start(ctx)

			// 6. Start server (blocking).
			logger.WithField("pid", os.Getpid()).Info("Starting contextd")
			if err := srv.ListenAndServe(paths.SocketPath()); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

// NewStopCmd returns the daemon stop command.
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(daemonRole)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}

			if !running {
				fmt.Println("contextd is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Printf("Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

// NewStatusCmd returns the daemon status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(daemonRole)
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			if running {
				fmt.Printf("Running (PID: %d)\nSocket: %s\n", pid, paths.SocketPath())
			} else {
				fmt.Println("Stopped")
				os.Exit(1) // Non-zero for stopped state, useful for scripts
			}
			return nil
		},
	}
}
