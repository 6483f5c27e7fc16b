package reaper

import (
	"testing"
	"time"

	"github.com/harborhq/contextd/config"
	"github.com/harborhq/contextd/internal/daemon/registry"
	"github.com/harborhq/contextd/logging"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReaper(t *testing.T) (*Reaper, *registry.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Timeouts.Heartbeat = config.Duration(30 * time.Second)
	cfg.Timeouts.StaleGrace = config.Duration(60 * time.Second)
	reg := registry.New()
	r := New(reg, config.NewProvider(cfg), logging.NewLogger("reaper-test"))
	return r, reg
}

func TestSweepMarksExpiredSessionStale(t *testing.T) {
	r, reg := newTestReaper(t)
	start := time.Now()
	_, err := reg.Register(models.RegisterRequest{SessionID: "sess-1"}, start)
	require.NoError(t, err)

	// Inside the heartbeat window: untouched.
	r.Sweep(start.Add(10 * time.Second))
	rec, err := reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)

	// Past the window: stale, not terminated.
	r.Sweep(start.Add(31 * time.Second))
	rec, err = reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStale, rec.Status)
	assert.False(t, rec.StaleSince.IsZero())
}

func TestSweepTerminatesAfterGrace(t *testing.T) {
	r, reg := newTestReaper(t)
	start := time.Now()
	_, err := reg.Register(models.RegisterRequest{SessionID: "sess-1"}, start)
	require.NoError(t, err)

	r.Sweep(start.Add(31 * time.Second)) // stale
	r.Sweep(start.Add(60 * time.Second)) // still inside grace
	rec, err := reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStale, rec.Status)

	r.Sweep(start.Add(31*time.Second + 61*time.Second)) // grace exceeded
	rec, err = reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, rec.Status)
}

func TestHeartbeatDuringGraceSurvives(t *testing.T) {
	r, reg := newTestReaper(t)
	start := time.Now()
	_, err := reg.Register(models.RegisterRequest{SessionID: "sess-1"}, start)
	require.NoError(t, err)
	_, err = reg.Mutate("sess-1", "test", func(rec *models.SessionRecord) error {
		rec.CheckpointIDs = []string{"cp-1"}
		return nil
	})
	require.NoError(t, err)

	r.Sweep(start.Add(31 * time.Second))

	// A heartbeat lands during the grace window and reclaims the record.
	_, err = reg.Mutate("sess-1", "monitor", func(rec *models.SessionRecord) error {
		rec.Status = models.StatusActive
		rec.StaleSince = time.Time{}
		rec.LastHeartbeatAt = start.Add(40 * time.Second)
		return nil
	})
	require.NoError(t, err)

	// The next sweeps must not terminate the reclaimed session.
	r.Sweep(start.Add(65 * time.Second))
	rec, err := reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)
	// No data loss across the stale episode.
	assert.Equal(t, []string{"cp-1"}, rec.CheckpointIDs)
}

func TestSweepRaisesUsageUnknownAlert(t *testing.T) {
	r, reg := newTestReaper(t)
	start := time.Now()
	_, err := reg.Register(models.RegisterRequest{SessionID: "sess-1"}, start)
	require.NoError(t, err)

	ch := reg.Subscribe()
	defer reg.Unsubscribe(ch)

	r.Sweep(start.Add(31 * time.Second))

	deadline := time.After(time.Second)
	for {
		select {
		case u := <-ch:
			if u.UpdateType == "alert" {
				require.NotNil(t, u.Alert)
				assert.Equal(t, models.AlertUsageUnknown, u.Alert.Kind)
				return
			}
		case <-deadline:
			t.Fatal("no usage-unknown alert received")
		}
	}
}

func TestSweepIgnoresTerminatedSessions(t *testing.T) {
	r, reg := newTestReaper(t)
	start := time.Now()
	_, err := reg.Register(models.RegisterRequest{SessionID: "sess-1"}, start)
	require.NoError(t, err)
	require.NoError(t, reg.Deregister("sess-1"))

	r.Sweep(start.Add(time.Hour))
	rec, err := reg.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, rec.Status)
}
