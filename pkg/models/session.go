package models

import "time"

// Role identifies where a session sits in the orchestration hierarchy.
type Role string

const (
	RoleRoot         Role = "root"
	RoleOrchestrator Role = "orchestrator"
	RoleChild        Role = "child"
)

// SessionStatus is the lifecycle state of a registered session.
type SessionStatus string

const (
	StatusActive        SessionStatus = "active"
	StatusWarning       SessionStatus = "warning"
	StatusCheckpointing SessionStatus = "checkpointing"
	StatusEmergency     SessionStatus = "emergency"
	StatusStale         SessionStatus = "stale"
	StatusTerminated    SessionStatus = "terminated"
)

// IsLive reports whether the session is still considered running.
// Stale sessions are in the grace window and may still be reclaimed,
// so they are not live but not yet gone either.
func (s SessionStatus) IsLive() bool {
	switch s {
	case StatusActive, StatusWarning, StatusCheckpointing, StatusEmergency:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the session has left the registry for good.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusTerminated
}

// SessionRecord is the authoritative registry entry for one agent session.
//
// Role and Autonomous are correlated: an orchestrator is always
// autonomous, a child never is. They are only ever written together
// through a single registry mutation so no reader can observe a torn
// combination.
type SessionRecord struct {
	SessionID       string        `json:"session_id"`
	ParentSessionID string        `json:"parent_session_id,omitempty"`
	Role            Role          `json:"role"`
	Autonomous      bool          `json:"autonomous"`
	Status          SessionStatus `json:"status"`

	// UsageFraction is the last reported context-budget consumption in [0,1].
	UsageFraction   float64   `json:"usage_fraction"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	CreatedAt       time.Time `json:"created_at"`
	StaleSince      time.Time `json:"stale_since,omitempty"`

	// CheckpointIDs lists completed checkpoints in trigger order.
	CheckpointIDs []string `json:"checkpoint_ids,omitempty"`

	// PendingCheckpointID is non-empty while a checkpoint write is in
	// flight. At most one per session.
	PendingCheckpointID string `json:"pending_checkpoint_id,omitempty"`

	// TriggerArmed is the edge-trigger latch for the checkpoint band.
	// It disarms when a trigger fires and re-arms when usage drops below
	// the band or the configured re-arm interval elapses after a
	// successful checkpoint.
	TriggerArmed     bool      `json:"trigger_armed"`
	LastCheckpointAt time.Time `json:"last_checkpoint_at,omitempty"`

	// EnteredCheckpointBandAt records when usage first crossed the
	// checkpoint threshold without a checkpoint since; zero when clear.
	EnteredCheckpointBandAt time.Time `json:"entered_checkpoint_band_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers outside the
// registry lock.
func (r *SessionRecord) Clone() *SessionRecord {
	cp := *r
	if r.CheckpointIDs != nil {
		cp.CheckpointIDs = append([]string(nil), r.CheckpointIDs...)
	}
	return &cp
}
