// Package pidfile enforces single-instance startup per daemon role.
//
// Duplicate writers against the registry are the dominant corruption
// vector in this domain, so acquisition failure is fatal to the caller.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/paths"
	"github.com/harborhq/contextd/pkg/process"
)

// Acquire claims the exclusive lock for a role by writing the current
// PID to the role's pidfile. It returns a SINGLETON_CONFLICT error if
// another live instance holds the lock. A pidfile left behind by a dead
// process is reclaimed silently.
func Acquire(role string) error {
	path := paths.PidFilePath(role)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	// Check if file exists
	if content, err := os.ReadFile(path); err == nil {
		pidStr := strings.TrimSpace(string(content))
		if pid, err := strconv.Atoi(pidStr); err == nil {
			if process.IsProcessAlive(pid) {
				return coorderr.SingletonConflict(role, pid)
			}
			// Process is dead, cleanup stale file
			_ = os.Remove(path)
		}
	}

	// Write current PID
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	return nil
}

// Release removes the role's pidfile.
func Release(role string) error {
	return os.Remove(paths.PidFilePath(role))
}

// Read returns the PID recorded for the role, or an error if the
// pidfile is missing or invalid.
func Read(role string) (int, error) {
	content, err := os.ReadFile(paths.PidFilePath(role))
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(content))
	return strconv.Atoi(pidStr)
}

// IsRunning checks if the instance described by the role's pidfile is
// active.
func IsRunning(role string) (bool, int, error) {
	pid, err := Read(role)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return process.IsProcessAlive(pid), pid, nil
}
