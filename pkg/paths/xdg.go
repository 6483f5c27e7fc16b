// Package paths provides XDG-compliant path resolution for contextd.
//
// Resolution order:
// 1. CONTEXTD_HOME (portable root) → $CONTEXTD_HOME/{config,data,state}
// 2. XDG env vars → $XDG_*_HOME/contextd
// 3. Platform defaults → ~/.config/contextd, ~/.local/share/contextd, etc.
package paths

import (
	"os"
	"path/filepath"
)

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("CONTEXTD_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getDataHome returns the base data home directory.
func getDataHome() string {
	if home := os.Getenv("CONTEXTD_HOME"); home != "" {
		return filepath.Join(home, "data")
	}
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return xdgDataHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "share")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("CONTEXTD_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the contextd configuration directory.
// Used for contextd.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "contextd")
}

// DataDir returns the contextd data directory.
// Checkpoint artifacts live here; they must survive daemon restarts.
func DataDir() string {
	base := getDataHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "contextd")
}

// StateDir returns the contextd state directory.
// Used for runtime state, pidfiles, logs.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "contextd")
}

// CheckpointDir returns the durable checkpoint artifact directory.
func CheckpointDir() string {
	data := DataDir()
	if data == "" {
		return ""
	}
	return filepath.Join(data, "checkpoints")
}

// RuntimeDir returns the runtime directory for sockets and pipes.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("CONTEXTD_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "contextd")
	}
	return StateDir()
}

// SocketPath returns the path to the contextd daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "contextd.sock")
}

// PidFilePath returns the path to the lock file for the given role.
// Each long-running role holds its own exclusive lock.
func PidFilePath(role string) string {
	return filepath.Join(StateDir(), role+".pid")
}

// ConfigFilePath returns the path to the daemon config file.
func ConfigFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "contextd.yml")
}

// EnsureDirs creates all contextd directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		DataDir(),
		StateDir(),
		CheckpointDir(),
		RuntimeDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
