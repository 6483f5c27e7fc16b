package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harborhq/contextd/config"
	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/internal/daemon/checkpoint"
	"github.com/harborhq/contextd/internal/daemon/monitor"
	"github.com/harborhq/contextd/internal/daemon/registry"
	"github.com/harborhq/contextd/internal/daemon/server"
	"github.com/harborhq/contextd/logging"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDaemon brings up a real server on a unix socket and returns a
// connected client.
func startDaemon(t *testing.T) *RemoteClient {
	t.Helper()
	t.Setenv("CONTEXTD_HOME", t.TempDir())

	// Unix socket paths have a hard length limit; keep it short.
	dir, err := os.MkdirTemp("", "contextd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "contextd.sock")

	cfg := config.Default()
	cfg.Checkpoint.Dir = filepath.Join(dir, "checkpoints")
	cfg.Intervals.PublishHeartbeat = config.Duration(50 * time.Millisecond)
	provider := config.NewProvider(cfg)

	reg := registry.New()
	writer, err := checkpoint.NewFileWriter(cfg.Checkpoint.Dir)
	require.NoError(t, err)
	coord := checkpoint.New(reg, provider, writer, nil, logging.NewLogger("client-test"))
	mon := monitor.New(reg, coord, provider, logging.NewLogger("client-test"))
	srv := server.New(reg, mon, coord, provider, logging.NewLogger("client-test"))

	go func() {
		_ = srv.ListenAndServe(socket)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		coord.Wait()
	})

	client, err := NewRemoteClient(socket)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)
	return client
}

func TestClientSessionRoundTrip(t *testing.T) {
	client := startDaemon(t)
	ctx := context.Background()

	rec, err := client.Register(ctx, models.RegisterRequest{
		SessionID: "sess-1",
		Role:      models.RoleOrchestrator,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)

	rec, err = client.Heartbeat(ctx, "sess-1", 0.55)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, rec.Status)

	sessions, err := client.ListSessions(ctx, models.SessionFilter{LiveOnly: true})
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	autonomous := true
	role := models.RoleOrchestrator
	rec, err = client.PatchSession(ctx, "sess-1", models.SessionPatch{Role: &role, Autonomous: &autonomous})
	require.NoError(t, err)
	assert.True(t, rec.Autonomous)

	require.NoError(t, client.Deregister(ctx, "sess-1"))
	rec, err = client.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, rec.Status)
}

func TestClientErrorCodesCrossTheWire(t *testing.T) {
	client := startDaemon(t)
	ctx := context.Background()

	_, err := client.GetSession(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrCodeNotFound))

	_, err = client.Register(ctx, models.RegisterRequest{SessionID: "sess-1"})
	require.NoError(t, err)
	_, err = client.Register(ctx, models.RegisterRequest{SessionID: "sess-1"})
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrCodeDuplicateSession))
}

func TestClientCheckpointFlow(t *testing.T) {
	client := startDaemon(t)
	ctx := context.Background()

	_, err := client.Register(ctx, models.RegisterRequest{SessionID: "sess-1", UsageFraction: 0.4})
	require.NoError(t, err)

	id, err := client.RequestCheckpoint(ctx, "sess-1", models.TriggerManual)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		cps, err := client.ListCheckpoints(ctx, "sess-1")
		if err != nil || len(cps) != 1 {
			return false
		}
		return cps[0].Status == models.CheckpointWritten
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientStreamSnapshotThenDelta(t *testing.T) {
	client := startDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := client.Register(ctx, models.RegisterRequest{SessionID: "sess-1"})
	require.NoError(t, err)

	ch, err := client.StreamState(ctx)
	require.NoError(t, err)

	next := func() models.StateUpdate {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "stream closed unexpectedly")
			return u
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream frame")
			return models.StateUpdate{}
		}
	}

	first := next()
	require.Equal(t, "snapshot", first.UpdateType)
	require.Len(t, first.Sessions, 1)

	_, err = client.Heartbeat(ctx, "sess-1", 0.33)
	require.NoError(t, err)

	u := next()
	require.Equal(t, "session", u.UpdateType)
	assert.Equal(t, 0.33, u.Session.UsageFraction)

	// Cancel closes the stream.
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// drain any frame already in flight
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestSelfSessionID(t *testing.T) {
	t.Setenv(SessionIDEnv, "sess-from-env")
	assert.Equal(t, "sess-from-env", SelfSessionID())
}
