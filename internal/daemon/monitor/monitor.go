// Package monitor implements the per-session context-usage state
// machine. Transitions are computed by pure functions and applied under
// the registry's atomic mutation, so two processes evaluating the same
// session can never race a stale decision into the store.
package monitor

import (
	"fmt"
	"time"

	"github.com/harborhq/contextd/config"
	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/internal/daemon/registry"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/sirupsen/logrus"
)

// Action is what the state machine wants done after a sample.
type Action int

const (
	ActionNone Action = iota
	// ActionCheckpoint requests a threshold checkpoint, at most once per
	// upward crossing of the checkpoint band.
	ActionCheckpoint
	// ActionEmergency requests a forced checkpoint and raises an alert.
	ActionEmergency
)

// Requester accepts checkpoint trigger requests. Implemented by the
// checkpoint coordinator; requests may be rejected while one is in
// flight.
type Requester interface {
	RequestCheckpoint(sessionID string, trigger models.CheckpointTrigger) (string, error)
}

// StatusForUsage maps a usage fraction onto the passive session status,
// ignoring latches and in-flight checkpoints. Used when a session
// returns to normal operation after a checkpoint completes.
func StatusForUsage(usage float64, th config.Thresholds) models.SessionStatus {
	if usage < th.Warning {
		return models.StatusActive
	}
	return models.StatusWarning
}

// Evaluate ingests one usage sample into the record and returns the
// action to take. It mutates the record in place and must be called
// inside registry.Mutate.
//
// The checkpoint trigger is edge-triggered via rec.TriggerArmed: it
// fires once when usage crosses into the checkpoint band and stays
// silent until usage drops below the band or the re-arm interval
// elapses after a successful checkpoint. A usage decrease re-arms the
// latch but never cancels an in-flight checkpoint.
func Evaluate(rec *models.SessionRecord, usage float64, now time.Time, cfg *config.Config) Action {
	th := cfg.Thresholds

	rec.UsageFraction = usage
	rec.LastHeartbeatAt = now

	// A heartbeat during the stale grace window reclaims the session.
	if rec.Status == models.StatusStale {
		rec.Status = models.StatusActive
		rec.StaleSince = time.Time{}
	}

	// Time-based re-arm after a successful checkpoint.
	if !rec.TriggerArmed && !rec.LastCheckpointAt.IsZero() &&
		now.Sub(rec.LastCheckpointAt) >= cfg.Timeouts.Rearm.Std() {
		rec.TriggerArmed = true
	}

	switch {
	case usage < th.Warning:
		rec.TriggerArmed = true
		rec.EnteredCheckpointBandAt = time.Time{}
		if rec.PendingCheckpointID == "" {
			rec.Status = models.StatusActive
		}
		return ActionNone

	case usage < th.Checkpoint:
		// Usage dropped out of the checkpoint band: reset the latch.
		rec.TriggerArmed = true
		rec.EnteredCheckpointBandAt = time.Time{}
		if rec.PendingCheckpointID == "" {
			rec.Status = models.StatusWarning
		}
		return ActionNone

	case usage < th.AutoCompact:
		return evaluateCheckpointBand(rec, now)

	case usage < th.Emergency:
		// Past auto-compact without a successful checkpoint since
		// entering the band: the next forced compaction would lose state.
		if checkpointOverdue(rec) {
			rec.Status = models.StatusEmergency
			return ActionEmergency
		}
		return evaluateCheckpointBand(rec, now)

	default:
		rec.Status = models.StatusEmergency
		if rec.EnteredCheckpointBandAt.IsZero() {
			rec.EnteredCheckpointBandAt = now
		}
		// Always surface emergencies; the coordinator coalesces
		// duplicates while a write is in flight.
		rec.TriggerArmed = false
		return ActionEmergency
	}
}

// evaluateCheckpointBand handles checkpoint ≤ usage < auto-compact.
func evaluateCheckpointBand(rec *models.SessionRecord, now time.Time) Action {
	if rec.EnteredCheckpointBandAt.IsZero() {
		rec.EnteredCheckpointBandAt = now
	}
	if rec.TriggerArmed {
		rec.TriggerArmed = false
		rec.Status = models.StatusCheckpointing
		return ActionCheckpoint
	}
	if rec.PendingCheckpointID == "" {
		rec.Status = models.StatusWarning
	}
	return ActionNone
}

// checkpointOverdue reports whether the session entered the checkpoint
// band and has not completed a checkpoint since.
func checkpointOverdue(rec *models.SessionRecord) bool {
	if rec.EnteredCheckpointBandAt.IsZero() {
		return false
	}
	return rec.LastCheckpointAt.Before(rec.EnteredCheckpointBandAt)
}

// Monitor glues sample ingestion to the registry and the checkpoint
// coordinator.
type Monitor struct {
	registry  *registry.Registry
	requester Requester
	provider  *config.Provider
	logger    *logrus.Entry
}

// New creates a Monitor.
func New(reg *registry.Registry, req Requester, provider *config.Provider, logger *logrus.Entry) *Monitor {
	return &Monitor{
		registry:  reg,
		requester: req,
		provider:  provider,
		logger:    logger,
	}
}

// HandleHeartbeat ingests one usage sample for a session. The FSM
// transition happens atomically inside the registry mutation; any
// resulting checkpoint request is issued after the new state is
// published.
func (m *Monitor) HandleHeartbeat(sessionID string, usage float64, ts time.Time) (*models.SessionRecord, error) {
	if usage < 0 || usage > 1 {
		return nil, coorderr.New(coorderr.ErrCodeInvalidInput,
			fmt.Sprintf("usage fraction %v outside [0,1]", usage))
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	cfg := m.provider.Get()

	var action Action
	rec, err := m.registry.Mutate(sessionID, "monitor", func(rec *models.SessionRecord) error {
		if rec.Status.IsTerminal() {
			// The caller should re-register; a terminated record only
			// exists for checkpoint history.
			return coorderr.SessionNotFound(sessionID)
		}
		action = Evaluate(rec, usage, ts, cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionCheckpoint:
		m.request(sessionID, models.TriggerThreshold)
	case ActionEmergency:
		m.request(sessionID, models.TriggerEmergency)
		m.registry.BroadcastAlert(&models.Alert{
			SessionID: sessionID,
			Kind:      models.AlertEmergency,
			Message:   fmt.Sprintf("session usage %.2f requires immediate checkpoint", usage),
			RaisedAt:  ts,
		})
	}
	return rec, nil
}

func (m *Monitor) request(sessionID string, trigger models.CheckpointTrigger) {
	id, err := m.requester.RequestCheckpoint(sessionID, trigger)
	if err != nil {
		if coorderr.Is(err, coorderr.ErrCodeCheckpointRejected) {
			// Coalesced: a write is already in flight for this session.
			m.logger.WithField("session", sessionID).Debug("Checkpoint request coalesced")
			return
		}
		m.logger.WithField("session", sessionID).WithError(err).Error("Checkpoint request failed")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"session":    sessionID,
		"checkpoint": id,
		"trigger":    trigger,
	}).Info("Checkpoint requested")
}
