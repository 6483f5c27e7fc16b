package models

import "time"

// CheckpointTrigger records why a checkpoint was requested.
type CheckpointTrigger string

const (
	TriggerScheduled CheckpointTrigger = "scheduled"
	TriggerThreshold CheckpointTrigger = "threshold"
	TriggerManual    CheckpointTrigger = "manual"
	TriggerEmergency CheckpointTrigger = "emergency"
)

// Priority orders triggers; emergency requests are never downgraded by
// later, lower-priority samples.
func (t CheckpointTrigger) Priority() int {
	switch t {
	case TriggerEmergency:
		return 3
	case TriggerThreshold:
		return 2
	case TriggerManual:
		return 1
	default:
		return 0
	}
}

// CheckpointStatus is the write state of a checkpoint artifact.
type CheckpointStatus string

const (
	CheckpointPending CheckpointStatus = "pending"
	CheckpointWritten CheckpointStatus = "written"
	CheckpointFailed  CheckpointStatus = "failed"
)

// CheckpointRecord describes one durable snapshot of a session's
// recoverable state. Records are never deleted by this subsystem;
// retention is an external concern.
type CheckpointRecord struct {
	CheckpointID   string            `json:"checkpoint_id"`
	SessionID      string            `json:"session_id"`
	TriggeredAt    time.Time         `json:"triggered_at"`
	UsageAtTrigger float64           `json:"usage_at_trigger"`
	Trigger        CheckpointTrigger `json:"trigger"`

	// ArtifactLocation is set only after the artifact write is confirmed
	// complete, so no record ever points at partial bytes.
	ArtifactLocation string           `json:"artifact_location,omitempty"`
	SizeBytes        int64            `json:"size_bytes,omitempty"`
	Status           CheckpointStatus `json:"status"`
	CompletedAt      time.Time        `json:"completed_at,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// CheckpointArtifact is the self-describing payload persisted to durable
// storage. It must stay readable by a recovery procedure that does not
// have the original process available.
type CheckpointArtifact struct {
	FormatVersion  int               `json:"format_version"`
	CheckpointID   string            `json:"checkpoint_id"`
	SessionID      string            `json:"session_id"`
	Trigger        CheckpointTrigger `json:"trigger"`
	UsageAtTrigger float64           `json:"usage_at_trigger"`
	TriggeredAt    time.Time         `json:"triggered_at"`

	// StatePointer references the serialized session content produced by
	// the external snapshot collaborator.
	StatePointer string `json:"state_pointer,omitempty"`

	// Session is the registry record at trigger time, embedded so the
	// artifact is recoverable standalone.
	Session *SessionRecord `json:"session,omitempty"`
}

// ArtifactFormatVersion is bumped whenever CheckpointArtifact changes
// incompatibly.
const ArtifactFormatVersion = 1
