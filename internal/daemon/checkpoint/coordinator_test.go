package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harborhq/contextd/config"
	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/internal/daemon/registry"
	"github.com/harborhq/contextd/logging"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingWriter always fails, for exercising the FAILED path without
// touching disk.
type failingWriter struct{}

func (failingWriter) Write(ctx context.Context, artifact *models.CheckpointArtifact) (string, int64, error) {
	return "", 0, coorderr.CheckpointWriteFailed(artifact.CheckpointID, fmt.Errorf("disk on fire"))
}

func newTestCoordinator(t *testing.T, writer ArtifactWriter) (*Coordinator, *registry.Registry, *config.Provider) {
	t.Helper()
	reg := registry.New()
	cfg := config.Default()
	cfg.Checkpoint.MaxRetries = 1 // keep the failure path fast
	provider := config.NewProvider(cfg)
	if writer == nil {
		fw, err := NewFileWriter(filepath.Join(t.TempDir(), "checkpoints"))
		require.NoError(t, err)
		writer = fw
	}
	c := New(reg, provider, writer, nil, logging.NewLogger("checkpoint-test"))
	return c, reg, provider
}

func registerSession(t *testing.T, reg *registry.Registry, id string, usage float64) {
	t.Helper()
	_, err := reg.Register(models.RegisterRequest{SessionID: id, UsageFraction: usage}, time.Now())
	require.NoError(t, err)
}

func TestRequestCheckpointWritesArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	fw, err := NewFileWriter(dir)
	require.NoError(t, err)
	c, reg, _ := newTestCoordinator(t, fw)
	registerSession(t, reg, "sess-1", 0.78)

	id, err := c.RequestCheckpoint("sess-1", models.TriggerThreshold)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	c.Wait()

	// Checkpoint record finalized
	cp, ok := reg.GetCheckpoint(id)
	require.True(t, ok)
	assert.Equal(t, models.CheckpointWritten, cp.Status)
	assert.Equal(t, 0.78, cp.UsageAtTrigger)
	assert.NotEmpty(t, cp.ArtifactLocation)
	assert.Greater(t, cp.SizeBytes, int64(0))

	// Session updated atomically
	rec, err := reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, rec.CheckpointIDs)
	assert.Empty(t, rec.PendingCheckpointID)
	assert.False(t, rec.LastCheckpointAt.IsZero())
	assert.Equal(t, models.StatusWarning, rec.Status)

	// Artifact is self-describing and readable standalone
	data, err := os.ReadFile(cp.ArtifactLocation)
	require.NoError(t, err)
	var artifact models.CheckpointArtifact
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, models.ArtifactFormatVersion, artifact.FormatVersion)
	assert.Equal(t, id, artifact.CheckpointID)
	assert.Equal(t, "sess-1", artifact.SessionID)
	assert.Equal(t, models.TriggerThreshold, artifact.Trigger)
	require.NotNil(t, artifact.Session)
	assert.Equal(t, "sess-1", artifact.Session.SessionID)
}

func TestSecondRequestWhilePendingIsRejected(t *testing.T) {
	// A writer that blocks until released keeps the first checkpoint
	// pending.
	release := make(chan struct{})
	blocking := writerFunc(func(ctx context.Context, a *models.CheckpointArtifact) (string, int64, error) {
		<-release
		return "loc", 1, nil
	})
	c, reg, _ := newTestCoordinator(t, blocking)
	registerSession(t, reg, "sess-1", 0.78)

	first, err := c.RequestCheckpoint("sess-1", models.TriggerThreshold)
	require.NoError(t, err)

	_, err = c.RequestCheckpoint("sess-1", models.TriggerEmergency)
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrCodeCheckpointRejected))

	// Only one PENDING record exists.
	pending := 0
	for _, cp := range reg.ListCheckpoints("sess-1") {
		if cp.Status == models.CheckpointPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending)

	// The coalesced emergency raised the pending record's trigger.
	cp, ok := reg.GetCheckpoint(first)
	require.True(t, ok)
	assert.Equal(t, models.TriggerEmergency, cp.Trigger)

	close(release)
	c.Wait()

	// Finalizing keeps the upgraded trigger.
	cp, ok = reg.GetCheckpoint(first)
	require.True(t, ok)
	assert.Equal(t, models.CheckpointWritten, cp.Status)
	assert.Equal(t, models.TriggerEmergency, cp.Trigger)
}

func TestWriteFailureMarksFailedAndReleasesClaim(t *testing.T) {
	c, reg, _ := newTestCoordinator(t, failingWriter{})
	registerSession(t, reg, "sess-1", 0.78)

	ch := reg.Subscribe()
	defer reg.Unsubscribe(ch)

	id, err := c.RequestCheckpoint("sess-1", models.TriggerThreshold)
	require.NoError(t, err)
	c.Wait()

	cp, ok := reg.GetCheckpoint(id)
	require.True(t, ok)
	assert.Equal(t, models.CheckpointFailed, cp.Status)
	assert.NotEmpty(t, cp.Error)

	rec, err := reg.Get("sess-1")
	require.NoError(t, err)
	assert.Empty(t, rec.PendingCheckpointID)
	assert.Empty(t, rec.CheckpointIDs)
	assert.True(t, rec.TriggerArmed, "failed write must re-arm the trigger")

	// MaxRetries=1, so one failure already exhausts the budget.
	sawAlert := false
	deadline := time.After(time.Second)
	for !sawAlert {
		select {
		case u := <-ch:
			if u.UpdateType == "alert" && u.Alert != nil && u.Alert.Kind == models.AlertWriteExhausted {
				sawAlert = true
			}
		case <-deadline:
			t.Fatal("no write-exhausted alert received")
		}
	}
}

func TestRequestForUnknownSession(t *testing.T) {
	c, _, _ := newTestCoordinator(t, nil)
	_, err := c.RequestCheckpoint("ghost", models.TriggerManual)
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrCodeNotFound))
}

func TestEmergencyStatusPreservedDuringClaim(t *testing.T) {
	release := make(chan struct{})
	blocking := writerFunc(func(ctx context.Context, a *models.CheckpointArtifact) (string, int64, error) {
		<-release
		return "loc", 1, nil
	})
	c, reg, _ := newTestCoordinator(t, blocking)
	registerSession(t, reg, "sess-1", 0.95)
	_, err := reg.Mutate("sess-1", "test", func(r *models.SessionRecord) error {
		r.Status = models.StatusEmergency
		return nil
	})
	require.NoError(t, err)

	_, err = c.RequestCheckpoint("sess-1", models.TriggerEmergency)
	require.NoError(t, err)

	// An emergency is never downgraded to checkpointing by the claim.
	rec, err := reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmergency, rec.Status)

	close(release)
	c.Wait()
}

// writerFunc adapts a function to ArtifactWriter.
type writerFunc func(ctx context.Context, artifact *models.CheckpointArtifact) (string, int64, error)

func (f writerFunc) Write(ctx context.Context, artifact *models.CheckpointArtifact) (string, int64, error) {
	return f(ctx, artifact)
}
