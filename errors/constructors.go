package errors

import "fmt"

// SessionNotFound creates a not-found error for an unknown session id.
// Non-fatal: the caller should re-register.
func SessionNotFound(sessionID string) *CoordError {
	return New(ErrCodeNotFound, fmt.Sprintf("session '%s' not found", sessionID)).
		WithDetail("session_id", sessionID)
}

// DuplicateSession creates a registration-collision error. Fatal to the
// registration attempt, not to the system.
func DuplicateSession(sessionID string) *CoordError {
	return New(ErrCodeDuplicateSession,
		fmt.Sprintf("session '%s' is already registered and live", sessionID)).
		WithDetail("session_id", sessionID)
}

// CheckpointRejected creates an in-flight-coalescing rejection.
func CheckpointRejected(sessionID, pendingID string) *CoordError {
	return New(ErrCodeCheckpointRejected,
		fmt.Sprintf("checkpoint for session '%s' already in flight", sessionID)).
		WithDetail("session_id", sessionID).
		WithDetail("pending_checkpoint_id", pendingID)
}

// CheckpointWriteFailed wraps an artifact write failure.
func CheckpointWriteFailed(checkpointID string, err error) *CoordError {
	return Wrap(err, ErrCodeCheckpointWriteFailed,
		fmt.Sprintf("failed to write checkpoint '%s'", checkpointID)).
		WithDetail("checkpoint_id", checkpointID)
}

// CheckpointTimeout creates a bounded-write timeout error.
func CheckpointTimeout(checkpointID string, timeout string) *CoordError {
	return New(ErrCodeCheckpointTimeout,
		fmt.Sprintf("checkpoint '%s' did not complete within %s", checkpointID, timeout)).
		WithDetail("checkpoint_id", checkpointID).
		WithDetail("timeout", timeout)
}

// SingletonConflict creates a fatal startup error for a duplicate role
// instance.
func SingletonConflict(role string, pid int) *CoordError {
	return New(ErrCodeSingletonConflict,
		fmt.Sprintf("another '%s' instance is already running with PID %d", role, pid)).
		WithDetail("role", role).
		WithDetail("pid", pid)
}

// StaleChannel creates an observer-side staleness error; it triggers a
// client reconnect, never a server failure.
func StaleChannel(interval string) *CoordError {
	return New(ErrCodeStaleChannel,
		fmt.Sprintf("no heartbeat frame received within %s", interval)).
		WithDetail("interval", interval)
}

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *CoordError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *CoordError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}
