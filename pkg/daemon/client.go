// Package daemon provides the client for the contextd daemon API over
// its Unix socket.
package daemon

import (
	"context"
	"net"
	"os"
	"time"

	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/harborhq/contextd/pkg/paths"
)

// SessionIDEnv is the environment variable through which a session
// process advertises its own session id to child tooling.
const SessionIDEnv = "CONTEXTD_SESSION_ID"

// SelfSessionID returns the session id this process was started under,
// or empty when none was advertised.
func SelfSessionID() string {
	return os.Getenv(SessionIDEnv)
}

// Client defines the interface for interacting with the contextd
// daemon.
type Client interface {
	// Register creates a session record. An empty SessionID in the
	// request lets the daemon assign one.
	Register(ctx context.Context, req models.RegisterRequest) (*models.SessionRecord, error)

	// GetSession returns one session record.
	GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error)

	// ListSessions returns all sessions passing the filter.
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.SessionRecord, error)

	// PatchSession applies a partial update atomically.
	PatchSession(ctx context.Context, sessionID string, patch models.SessionPatch) (*models.SessionRecord, error)

	// Deregister marks the session terminated.
	Deregister(ctx context.Context, sessionID string) error

	// Heartbeat reports a usage sample and returns the updated record.
	Heartbeat(ctx context.Context, sessionID string, usage float64) (*models.SessionRecord, error)

	// RequestCheckpoint asks for a checkpoint and returns its id. While
	// one is already in flight the request fails with
	// CHECKPOINT_REJECTED.
	RequestCheckpoint(ctx context.Context, sessionID string, trigger models.CheckpointTrigger) (string, error)

	// ListCheckpoints returns a session's checkpoint history in trigger
	// order.
	ListCheckpoints(ctx context.Context, sessionID string) ([]*models.CheckpointRecord, error)

	// StreamState subscribes to real-time state updates. The first frame
	// after every (re)connect is a full snapshot; consumers must discard
	// cached state when one arrives. The channel closes when ctx is
	// canceled.
	StreamState(ctx context.Context) (<-chan models.StateUpdate, error)

	// IsRunning returns true if the daemon is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}

// Connect dials the daemon at the standard socket path. It fails fast
// with DAEMON_UNREACHABLE when no daemon is listening; callers decide
// whether that is fatal.
func Connect() (Client, error) {
	socketPath := paths.SocketPath()
	if _, err := os.Stat(socketPath); err != nil {
		return nil, coorderr.New(coorderr.ErrCodeDaemonUnreachable,
			"contextd is not running; start it with 'contextd start'")
	}
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return nil, coorderr.Wrap(err, coorderr.ErrCodeDaemonUnreachable,
			"contextd socket exists but is not accepting connections")
	}
	conn.Close()
	return NewRemoteClient(socketPath)
}
