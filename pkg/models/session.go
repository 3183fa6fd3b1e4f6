// Package models defines the persisted rows and domain records shared by
// the store, the orchestrator, and the API layer.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusPaused     SessionStatus = "paused"
	StatusCompleted  SessionStatus = "completed"
	StatusAbandoned  SessionStatus = "abandoned"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether no further mutation of the session is permitted.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusFailed:
		return true
	}
	return false
}

// Stage numbering: interviews run stages 1..5; CompletedStage means every
// gate has passed and the session is ready for charter generation.
const (
	FirstStage     = 1
	LastStage      = 5
	CompletedStage = 6
)

// Session is the root aggregate. current_stage is monotonically
// non-decreasing; 6 means all five gates have passed.
type Session struct {
	ID           string        `gorm:"primaryKey;column:session_id" json:"session_id"`
	Owner        string        `gorm:"index;not null" json:"owner"`
	ProjectName  string        `gorm:"not null" json:"project_name"`
	StartedAt    time.Time     `gorm:"index;not null" json:"started_at"`
	LastUpdated  time.Time     `gorm:"not null" json:"last_updated"`
	CurrentStage int           `gorm:"not null;default:1" json:"current_stage"`
	Status       SessionStatus `gorm:"index;not null;default:in_progress" json:"status"`
}

// TableName implements gorm's Tabler.
func (Session) TableName() string { return "sessions" }

// StageDataRow is one typed field of a committed stage deliverable.
// UNIQUE(session_id, stage_number, field_name) makes stage writes
// idempotent: rewriting an existing field is a constraint violation the
// store surfaces as ErrDuplicateStageWrite.
type StageDataRow struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string         `gorm:"uniqueIndex:uq_stage_field;not null" json:"session_id"`
	StageNumber  int            `gorm:"uniqueIndex:uq_stage_field;not null" json:"stage_number"`
	FieldName    string         `gorm:"uniqueIndex:uq_stage_field;not null" json:"field_name"`
	FieldValue   datatypes.JSON `gorm:"not null" json:"field_value"`
	QualityScore *int           `json:"quality_score,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TableName implements gorm's Tabler.
func (StageDataRow) TableName() string { return "stage_data" }

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	RoleAssistant TurnRole = "assistant"
	RoleUser      TurnRole = "user"
	RoleSystem    TurnRole = "system"
)

// ConversationTurn is an append-only audit log entry. Sequence numbers are
// dense and monotonic per session; turns are never mutated once appended.
type ConversationTurn struct {
	ID          uint              `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID   string            `gorm:"uniqueIndex:uq_turn_seq;not null" json:"session_id"`
	Seq         int               `gorm:"uniqueIndex:uq_turn_seq;not null" json:"seq"`
	Role        TurnRole          `gorm:"not null" json:"role"`
	Content     string            `gorm:"not null" json:"content"`
	StageNumber int               `gorm:"not null" json:"stage_number"`
	Timestamp   time.Time         `gorm:"not null" json:"timestamp"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
}

// TableName implements gorm's Tabler.
func (ConversationTurn) TableName() string { return "conversation_history" }

// TurnMetadata is the structured shape stored in ConversationTurn.Metadata.
type TurnMetadata struct {
	QualityScore *int     `json:"quality_score,omitempty"`
	Attempt      int      `json:"attempt,omitempty"`
	Issues       []string `json:"issues,omitempty"`
	Outcome      string   `json:"outcome,omitempty"`
}

// Checkpoint is a resumable snapshot taken exactly once per successful
// stage advancement. StageNumber is the stage whose gate was just passed.
type Checkpoint struct {
	ID               uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID        string         `gorm:"uniqueIndex:uq_ckpt_stage;not null" json:"session_id"`
	StageNumber      int            `gorm:"uniqueIndex:uq_ckpt_stage;not null" json:"stage_number"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	Snapshot         datatypes.JSON `gorm:"not null" json:"snapshot"`
	ValidationPassed bool           `gorm:"not null" json:"validation_passed"`
	Feedback         datatypes.JSON `json:"feedback,omitempty"`
}

// TableName implements gorm's Tabler.
func (Checkpoint) TableName() string { return "checkpoints" }

// CheckpointSnapshot is the JSON payload persisted in Checkpoint.Snapshot:
// every deliverable committed so far plus the history length at the moment
// the checkpoint was taken.
type CheckpointSnapshot struct {
	Deliverables  map[int]*StageDeliverable `json:"deliverables"`
	HistoryLength int                       `json:"history_length"`
}

// CharterRow persists the terminal charter artifact, one per session.
type CharterRow struct {
	SessionID          string         `gorm:"primaryKey;column:session_id" json:"session_id"`
	Content            datatypes.JSON `gorm:"not null" json:"content"`
	GovernanceDecision string         `gorm:"not null" json:"governance_decision"`
	CreatedAt          time.Time      `gorm:"not null" json:"created_at"`
}

// TableName implements gorm's Tabler.
func (CharterRow) TableName() string { return "charters" }

// ConsistencyReportRow persists the cross-stage consistency verdict, one
// per session.
type ConsistencyReportRow struct {
	SessionID    string         `gorm:"primaryKey;column:session_id" json:"session_id"`
	IsConsistent bool           `gorm:"not null" json:"is_consistent"`
	Feasibility  string         `gorm:"not null" json:"feasibility"`
	Findings     datatypes.JSON `json:"findings"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
}

// TableName implements gorm's Tabler.
func (ConsistencyReportRow) TableName() string { return "consistency_reports" }

// CreateSessionRequest contains fields for creating a new interview session.
type CreateSessionRequest struct {
	Owner       string `json:"owner"`
	ProjectName string `json:"project_name"`
}

// SessionFilters contains filtering options for listing sessions.
type SessionFilters struct {
	Owner  string `json:"owner,omitempty"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Skip   int    `json:"skip,omitempty"`
}

// SessionListResponse contains a paginated session list.
type SessionListResponse struct {
	Sessions   []*Session `json:"sessions"`
	TotalCount int        `json:"total_count"`
	Limit      int        `json:"limit"`
	Skip       int        `json:"skip"`
}

// SessionEnvelope is the full session view returned by GET /sessions/:id:
// the aggregate root plus its committed children.
type SessionEnvelope struct {
	Session      *Session                  `json:"session"`
	Deliverables map[int]*StageDeliverable `json:"deliverables,omitempty"`
	Checkpoints  []*Checkpoint             `json:"checkpoints,omitempty"`
	HistoryLen   int                       `json:"history_length"`
	Charter      *Charter                  `json:"charter,omitempty"`
	Consistency  *ConsistencyReport        `json:"consistency_report,omitempty"`
}
