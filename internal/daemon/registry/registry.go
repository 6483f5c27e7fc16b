// Package registry provides the authoritative session store for the
// contextd daemon. It is thread-safe and supports pub/sub for real-time
// updates.
//
// Every mutation that depends on prior state goes through Mutate, a
// single read-modify-write under the store lock. Decision logic stays in
// pure functions applied inside the mutation, which closes the
// check-then-act window between observing a record and writing it.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/pkg/models"
)

// Registry is the in-memory session and checkpoint store.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*models.SessionRecord
	checkpoints map[string]*models.CheckpointRecord
	subscribers map[chan models.StateUpdate]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sessions:    make(map[string]*models.SessionRecord),
		checkpoints: make(map[string]*models.CheckpointRecord),
		subscribers: make(map[chan models.StateUpdate]struct{}),
	}
}

// Register creates a session record. It fails with DUPLICATE_SESSION if
// the id is taken by a live record; a stale or terminated record is
// reclaimed in place so a restarting session keeps its checkpoint
// history.
func (r *Registry) Register(req models.RegisterRequest, now time.Time) (*models.SessionRecord, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	role := req.Role
	if role == "" {
		role = models.RoleChild
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		if existing.Status.IsLive() {
			return nil, coorderr.DuplicateSession(id)
		}
		// Reclaim: keep identity and history, reset liveness fields.
		existing.Status = models.StatusActive
		existing.Role = role
		existing.Autonomous = req.Autonomous
		existing.ParentSessionID = req.ParentSessionID
		existing.UsageFraction = req.UsageFraction
		existing.LastHeartbeatAt = now
		existing.StaleSince = time.Time{}
		existing.TriggerArmed = true
		existing.EnteredCheckpointBandAt = time.Time{}
		rec := existing.Clone()
		r.broadcastLocked(sessionUpdate("registry", rec, now))
		return rec, nil
	}

	record := &models.SessionRecord{
		SessionID:       id,
		ParentSessionID: req.ParentSessionID,
		Role:            role,
		Autonomous:      req.Autonomous,
		Status:          models.StatusActive,
		UsageFraction:   req.UsageFraction,
		LastHeartbeatAt: now,
		CreatedAt:       now,
		TriggerArmed:    true,
	}
	r.sessions[id] = record
	rec := record.Clone()
	r.broadcastLocked(sessionUpdate("registry", rec, now))
	return rec, nil
}

// Mutate applies fn to the session's record as one indivisible
// operation and broadcasts the result. fn works on a private copy and
// may modify it freely; returning an error aborts the mutation with no
// visible change. Mutations on the same id are totally ordered by the
// store lock.
func (r *Registry) Mutate(sessionID, source string, fn func(*models.SessionRecord) error) (*models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.sessions[sessionID]
	if !ok {
		return nil, coorderr.SessionNotFound(sessionID)
	}

	working := record.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.SessionID = record.SessionID // identity is immutable
	working.CreatedAt = record.CreatedAt
	r.sessions[sessionID] = working

	rec := working.Clone()
	r.broadcastLocked(sessionUpdate(source, rec, time.Now()))
	return rec, nil
}

// ApplyPatch applies a partial update atomically. Role and Autonomous
// are correlated: a patch touching one must carry both, so no reader
// can ever observe an orchestrator that is not autonomous mid-update.
func (r *Registry) ApplyPatch(sessionID string, patch models.SessionPatch) (*models.SessionRecord, error) {
	if (patch.Role == nil) != (patch.Autonomous == nil) {
		return nil, coorderr.New(coorderr.ErrCodeInvalidInput,
			"role and autonomous are correlated and must be patched together")
	}
	return r.Mutate(sessionID, "patch", func(rec *models.SessionRecord) error {
		if patch.Role != nil {
			rec.Role = *patch.Role
			rec.Autonomous = *patch.Autonomous
		}
		return nil
	})
}

// Get returns a copy of the session record.
func (r *Registry) Get(sessionID string) (*models.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.sessions[sessionID]
	if !ok {
		return nil, coorderr.SessionNotFound(sessionID)
	}
	return record.Clone(), nil
}

// List returns copies of all records passing the filter.
func (r *Registry) List(filter models.SessionFilter) []*models.SessionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*models.SessionRecord, 0, len(r.sessions))
	for _, record := range r.sessions {
		if filter.Matches(record) {
			result = append(result, record.Clone())
		}
	}
	return result
}

// Deregister marks the session terminated. The record is archived, not
// deleted, so checkpoint history stays resolvable.
func (r *Registry) Deregister(sessionID string) error {
	_, err := r.Mutate(sessionID, "registry", func(rec *models.SessionRecord) error {
		rec.Status = models.StatusTerminated
		return nil
	})
	return err
}

// PutCheckpoint stores a checkpoint record and broadcasts it. A stored
// record's trigger is only ever raised in priority, never lowered, so a
// coalesced emergency survives the original request finalizing.
func (r *Registry) PutCheckpoint(cp *models.CheckpointRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cloneCheckpoint(cp)
	if existing, ok := r.checkpoints[cp.CheckpointID]; ok &&
		existing.Trigger.Priority() > stored.Trigger.Priority() {
		stored.Trigger = existing.Trigger
	}
	r.checkpoints[cp.CheckpointID] = stored
	r.broadcastLocked(models.StateUpdate{
		UpdateType: "checkpoint",
		Source:     "coordinator",
		SentAt:     time.Now(),
		Checkpoint: cloneCheckpoint(stored),
	})
}

// UpgradeCheckpointTrigger raises a pending checkpoint's trigger to a
// higher-priority reason. Lower or equal priorities are ignored.
func (r *Registry) UpgradeCheckpointTrigger(checkpointID string, trigger models.CheckpointTrigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.checkpoints[checkpointID]
	if !ok || trigger.Priority() <= cp.Trigger.Priority() {
		return
	}
	cp.Trigger = trigger
	r.broadcastLocked(models.StateUpdate{
		UpdateType: "checkpoint",
		Source:     "coordinator",
		SentAt:     time.Now(),
		Checkpoint: cloneCheckpoint(cp),
	})
}

// GetCheckpoint returns a copy of the checkpoint record.
func (r *Registry) GetCheckpoint(checkpointID string) (*models.CheckpointRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp, ok := r.checkpoints[checkpointID]
	if !ok {
		return nil, false
	}
	return cloneCheckpoint(cp), true
}

// ListCheckpoints returns the checkpoint records for a session in
// trigger order.
func (r *Registry) ListCheckpoints(sessionID string) []*models.CheckpointRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*models.CheckpointRecord
	for _, cp := range r.checkpoints {
		if cp.SessionID == sessionID {
			result = append(result, cloneCheckpoint(cp))
		}
	}
	sortCheckpoints(result)
	return result
}

// Snapshot returns a consistent copy of the full state, used for the
// observer snapshot frame.
func (r *Registry) Snapshot() models.StateUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*models.SessionRecord, 0, len(r.sessions))
	for _, record := range r.sessions {
		sessions = append(sessions, record.Clone())
	}
	checkpoints := make([]*models.CheckpointRecord, 0, len(r.checkpoints))
	for _, cp := range r.checkpoints {
		checkpoints = append(checkpoints, cloneCheckpoint(cp))
	}
	return models.StateUpdate{
		UpdateType:  "snapshot",
		Source:      "registry",
		SentAt:      time.Now(),
		Sessions:    sessions,
		Checkpoints: checkpoints,
	}
}

// Subscribe creates a new subscription channel for state updates.
func (r *Registry) Subscribe() chan models.StateUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan models.StateUpdate, 100) // Buffered
	r.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (r *Registry) Unsubscribe(ch chan models.StateUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[ch]; !ok {
		return
	}
	delete(r.subscribers, ch)
	close(ch)
}

// BroadcastAlert pushes an operator-visible alert to all observers.
func (r *Registry) BroadcastAlert(alert *models.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(models.StateUpdate{
		UpdateType: "alert",
		Source:     "monitor",
		SentAt:     time.Now(),
		Alert:      alert,
	})
}

// BroadcastConfigReload notifies observers that the threshold set was
// replaced.
func (r *Registry) BroadcastConfigReload(file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(models.StateUpdate{
		UpdateType: "config_reload",
		Source:     "config",
		SentAt:     time.Now(),
		ConfigFile: file,
	})
}

// broadcastLocked sends an update to all subscribers. Callers hold the
// write lock. Sends are non-blocking so a slow observer cannot stall
// the store.
func (r *Registry) broadcastLocked(update models.StateUpdate) {
	for ch := range r.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}

func sessionUpdate(source string, rec *models.SessionRecord, now time.Time) models.StateUpdate {
	return models.StateUpdate{
		UpdateType: "session",
		Source:     source,
		SentAt:     now,
		Session:    rec,
	}
}

func cloneCheckpoint(cp *models.CheckpointRecord) *models.CheckpointRecord {
	c := *cp
	return &c
}

func sortCheckpoints(cps []*models.CheckpointRecord) {
	sort.Slice(cps, func(i, j int) bool {
		return cps[i].TriggeredAt.Before(cps[j].TriggeredAt)
	})
}
