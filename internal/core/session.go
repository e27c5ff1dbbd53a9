package core

import "time"

// SessionEventKind enumerates the session stream's emitted event kinds
// (spec §4.3.7).
type SessionEventKind string

const (
	SessionStarted       SessionEventKind = "session_started"
	SessionKeepalive     SessionEventKind = "session_keepalive"
	SessionRelationships SessionEventKind = "session_relationships"
	SessionCheckpoint    SessionEventKind = "session_checkpoint"
	SessionTeardown      SessionEventKind = "session_teardown"
)

// SessionStatus is the payload status carried by session events.
type SessionStatus string

const (
	SessionStatusPending            SessionStatus = "pending"
	SessionStatusRunning            SessionStatus = "running"
	SessionStatusCompleted          SessionStatus = "completed"
	SessionStatusFailed             SessionStatus = "failed"
	SessionStatusRolledBack         SessionStatus = "rolled_back"
	SessionStatusCancelled          SessionStatus = "cancelled"
	SessionStatusQueued             SessionStatus = "queued"
	SessionStatusManualIntervention SessionStatus = "manual_intervention"
)

// SessionRelationshipRef is one relationship entry carried in a
// session_relationships event payload.
type SessionRelationshipRef struct {
	ID           string
	Type         string
	FromEntityID string
	ToEntityID   string
	Metadata     map[string]any
}

// SessionEventPayload holds the optional fields of a SessionEvent.
type SessionEventPayload struct {
	ChangeID         string
	Relationships    []SessionRelationshipRef
	CheckpointID     string
	Seeds            []string
	Status           SessionStatus
	Errors           []SyncError
	ProcessedChanges int
	TotalChanges     int
	Details          map[string]any
}

// SessionEvent is one emission on the per-operation session stream.
type SessionEvent struct {
	Kind        SessionEventKind
	SessionID   string
	OperationID string
	Timestamp   time.Time
	Payload     SessionEventPayload
}

// CheckpointReason is why a checkpoint was scheduled.
type CheckpointReason string

const (
	CheckpointReasonDaily    CheckpointReason = "daily"
	CheckpointReasonIncident CheckpointReason = "incident"
	CheckpointReasonManual   CheckpointReason = "manual"
)

// SessionCheckpointRecord is one scheduling history entry, kept per
// session and trimmed to the most recent 25 (spec §3).
type SessionCheckpointRecord struct {
	CheckpointID  string
	Reason        CheckpointReason
	HopCount      int
	Attempts      int
	SeedEntityIDs []string
	JobID         string
	RecordedAt    time.Time
}

// SessionSequenceTrackingState is the per-session anomaly-detection
// state described in spec §3 / §4.3.7.
type SessionSequenceTrackingState struct {
	LastSequence int
	LastType     string
	PerType      map[string]int
}

// AnomalyReason classifies a detected sequence anomaly.
type AnomalyReason string

const (
	AnomalyDuplicate  AnomalyReason = "duplicate"
	AnomalyOutOfOrder AnomalyReason = "out_of_order"
)

// SequenceAnomaly is emitted via sessionSequenceAnomaly (spec §4.3.7).
type SequenceAnomaly struct {
	SessionID        string
	Type             string
	SequenceNumber   int
	PreviousSequence int
	Reason           AnomalyReason
	EventID          string
	Timestamp        time.Time
	PreviousType     string
}

// AnomalyResolutionMode selects how recorded anomalies are handled.
type AnomalyResolutionMode string

const (
	AnomalySkip    AnomalyResolutionMode = "skip"
	AnomalyWarn    AnomalyResolutionMode = "warn"
	AnomalyProcess AnomalyResolutionMode = "process"
)
