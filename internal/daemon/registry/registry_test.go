package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	now := time.Now()

	rec, err := r.Register(models.RegisterRequest{SessionID: "sess-1", Role: models.RoleRoot}, now)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.True(t, rec.TriggerArmed)

	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, got.SessionID)
}

func TestRegisterGeneratesID(t *testing.T) {
	r := New()
	rec, err := r.Register(models.RegisterRequest{}, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, rec.SessionID)
	assert.Equal(t, models.RoleChild, rec.Role)
}

func TestRegisterDuplicateLiveFails(t *testing.T) {
	r := New()
	now := time.Now()

	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1"}, now)
	require.NoError(t, err)

	_, err = r.Register(models.RegisterRequest{SessionID: "sess-1"}, now)
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrCodeDuplicateSession))
}

func TestRegisterReclaimsStale(t *testing.T) {
	r := New()
	now := time.Now()

	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1"}, now)
	require.NoError(t, err)
	_, err = r.Mutate("sess-1", "test", func(rec *models.SessionRecord) error {
		rec.Status = models.StatusStale
		rec.CheckpointIDs = []string{"cp-1"}
		return nil
	})
	require.NoError(t, err)

	rec, err := r.Register(models.RegisterRequest{SessionID: "sess-1", Role: models.RoleOrchestrator, Autonomous: true}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.Equal(t, models.RoleOrchestrator, rec.Role)
	// Checkpoint history survives reclamation
	assert.Equal(t, []string{"cp-1"}, rec.CheckpointIDs)
}

func TestMutateNotFound(t *testing.T) {
	r := New()
	_, err := r.Mutate("ghost", "test", func(rec *models.SessionRecord) error { return nil })
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrCodeNotFound))
}

func TestMutateErrorLeavesNoChange(t *testing.T) {
	r := New()
	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1"}, time.Now())
	require.NoError(t, err)

	_, err = r.Mutate("sess-1", "test", func(rec *models.SessionRecord) error {
		rec.Status = models.StatusEmergency
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

// Concurrent mutations on one id must linearize: every increment lands.
func TestMutateLinearizable(t *testing.T) {
	r := New()
	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1"}, time.Now())
	require.NoError(t, err)

	const workers = 16
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := r.Mutate("sess-1", "test", func(rec *models.SessionRecord) error {
					rec.CheckpointIDs = append(rec.CheckpointIDs, "cp")
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Len(t, got.CheckpointIDs, workers*perWorker, "lost updates under concurrency")
}

// Correlated fields must never be observed torn: an orchestrator is
// always autonomous, a child never is.
func TestPatchCorrelatedFieldsNeverTorn(t *testing.T) {
	r := New()
	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1", Role: models.RoleChild}, time.Now())
	require.NoError(t, err)

	orch := models.RoleOrchestrator
	child := models.RoleChild
	yes, no := true, false

	done := make(chan struct{})
	var writerWg, readerWg sync.WaitGroup
	writerWg.Add(1)
	readerWg.Add(1)
	go func() {
		defer writerWg.Done()
		for i := 0; i < 200; i++ {
			_, _ = r.ApplyPatch("sess-1", models.SessionPatch{Role: &orch, Autonomous: &yes})
			_, _ = r.ApplyPatch("sess-1", models.SessionPatch{Role: &child, Autonomous: &no})
		}
	}()
	go func() {
		defer readerWg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			rec, err := r.Get("sess-1")
			if err != nil {
				t.Error(err)
				return
			}
			if rec.Role == models.RoleOrchestrator && !rec.Autonomous {
				t.Error("observed orchestrator without autonomous flag")
				return
			}
			if rec.Role == models.RoleChild && rec.Autonomous {
				t.Error("observed autonomous child")
				return
			}
		}
	}()

	writerWg.Wait()
	close(done)
	readerWg.Wait()
}

func TestPatchRejectsPartialCorrelatedUpdate(t *testing.T) {
	r := New()
	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1"}, time.Now())
	require.NoError(t, err)

	orch := models.RoleOrchestrator
	_, err = r.ApplyPatch("sess-1", models.SessionPatch{Role: &orch})
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrCodeInvalidInput))
}

func TestListFilter(t *testing.T) {
	r := New()
	now := time.Now()
	_, err := r.Register(models.RegisterRequest{SessionID: "root", Role: models.RoleRoot}, now)
	require.NoError(t, err)
	_, err = r.Register(models.RegisterRequest{SessionID: "child-1", Role: models.RoleChild, ParentSessionID: "root"}, now)
	require.NoError(t, err)
	_, err = r.Register(models.RegisterRequest{SessionID: "child-2", Role: models.RoleChild, ParentSessionID: "root"}, now)
	require.NoError(t, err)
	require.NoError(t, r.Deregister("child-2"))

	assert.Len(t, r.List(models.SessionFilter{}), 3)
	assert.Len(t, r.List(models.SessionFilter{LiveOnly: true}), 2)
	assert.Len(t, r.List(models.SessionFilter{ParentSessionID: "root"}), 2)
	assert.Len(t, r.List(models.SessionFilter{Role: models.RoleRoot}), 1)
	assert.Len(t, r.List(models.SessionFilter{Status: models.StatusTerminated}), 1)
}

func TestDeregisterArchives(t *testing.T) {
	r := New()
	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1"}, time.Now())
	require.NoError(t, err)

	require.NoError(t, r.Deregister("sess-1"))

	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, got.Status)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	r := New()
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1"}, time.Now())
	require.NoError(t, err)

	select {
	case u := <-ch:
		assert.Equal(t, "session", u.UpdateType)
		require.NotNil(t, u.Session)
		assert.Equal(t, "sess-1", u.Session.SessionID)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestCheckpointRecords(t *testing.T) {
	r := New()
	now := time.Now()
	r.PutCheckpoint(&models.CheckpointRecord{
		CheckpointID: "cp-2", SessionID: "sess-1",
		TriggeredAt: now.Add(time.Second), Status: models.CheckpointPending,
	})
	r.PutCheckpoint(&models.CheckpointRecord{
		CheckpointID: "cp-1", SessionID: "sess-1",
		TriggeredAt: now, Status: models.CheckpointWritten,
	})
	r.PutCheckpoint(&models.CheckpointRecord{
		CheckpointID: "cp-3", SessionID: "other",
		TriggeredAt: now, Status: models.CheckpointWritten,
	})

	cps := r.ListCheckpoints("sess-1")
	require.Len(t, cps, 2)
	assert.Equal(t, "cp-1", cps[0].CheckpointID)
	assert.Equal(t, "cp-2", cps[1].CheckpointID)

	cp, ok := r.GetCheckpoint("cp-3")
	require.True(t, ok)
	assert.Equal(t, "other", cp.SessionID)
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	r := New()
	_, err := r.Register(models.RegisterRequest{SessionID: "sess-1"}, time.Now())
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap.Sessions, 1)

	// Mutating the snapshot must not leak into the store.
	snap.Sessions[0].Status = models.StatusEmergency
	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}
