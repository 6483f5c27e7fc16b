package models

import "time"

// RegisterRequest is the payload for POST /api/sessions.
type RegisterRequest struct {
	SessionID       string  `json:"session_id,omitempty"` // generated when empty
	ParentSessionID string  `json:"parent_session_id,omitempty"`
	Role            Role    `json:"role,omitempty"`
	Autonomous      bool    `json:"autonomous,omitempty"`
	UsageFraction   float64 `json:"usage_fraction,omitempty"`

	// SelfDeclared marks a registration carrying the process's own
	// advertised session id (CONTEXTD_SESSION_ID), distinguishing an
	// orchestrator registering itself from one registering a child.
	SelfDeclared bool `json:"self_declared,omitempty"`
}

// HeartbeatRequest is the payload for POST /api/sessions/{id}/heartbeat.
type HeartbeatRequest struct {
	UsageFraction float64   `json:"usage_fraction"`
	Timestamp     time.Time `json:"timestamp,omitempty"` // server time when zero
}

// SessionPatch is a partial update applied atomically as a unit.
// Nil fields are left untouched. Role and Autonomous travel together:
// patching one requires patching the other.
type SessionPatch struct {
	Role       *Role `json:"role,omitempty"`
	Autonomous *bool `json:"autonomous,omitempty"`
}

// CheckpointRequest is the payload for POST /api/sessions/{id}/checkpoint.
type CheckpointRequest struct {
	Trigger CheckpointTrigger `json:"trigger,omitempty"` // manual when empty
}

// SessionFilter narrows List results. Zero values match everything.
type SessionFilter struct {
	Status          SessionStatus `json:"status,omitempty"`
	Role            Role          `json:"role,omitempty"`
	ParentSessionID string        `json:"parent_session_id,omitempty"`
	LiveOnly        bool          `json:"live_only,omitempty"`
}

// Matches reports whether the record passes the filter.
func (f SessionFilter) Matches(r *SessionRecord) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Role != "" && r.Role != f.Role {
		return false
	}
	if f.ParentSessionID != "" && r.ParentSessionID != f.ParentSessionID {
		return false
	}
	if f.LiveOnly && !r.Status.IsLive() {
		return false
	}
	return true
}

// StateUpdate is one frame on the observer push channel.
type StateUpdate struct {
	// UpdateType is "snapshot", "session", "checkpoint", "alert",
	// "config_reload", or "heartbeat".
	UpdateType string    `json:"update_type"`
	Source     string    `json:"source,omitempty"`
	SentAt     time.Time `json:"sent_at"`

	Sessions    []*SessionRecord    `json:"sessions,omitempty"`
	Session     *SessionRecord      `json:"session,omitempty"`
	Checkpoint  *CheckpointRecord   `json:"checkpoint,omitempty"`
	Alert       *Alert              `json:"alert,omitempty"`
	Checkpoints []*CheckpointRecord `json:"checkpoints,omitempty"`
	ConfigFile  string              `json:"config_file,omitempty"`
}

// Alert surfaces an operator-visible condition. Emergency-tier
// conditions are never silently swallowed; they always produce a frame.
type Alert struct {
	SessionID string    `json:"session_id"`
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
}

// AlertKind enumerates alertable conditions.
type AlertKind string

const (
	AlertEmergency      AlertKind = "emergency"
	AlertUsageUnknown   AlertKind = "usage_unknown"
	AlertWriteExhausted AlertKind = "checkpoint_write_exhausted"
)
