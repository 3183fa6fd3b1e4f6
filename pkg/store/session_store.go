// Package store implements durable CRUD for sessions, stage data,
// checkpoints, conversation history, charters, and consistency reports.
//
// All mutations to one session are serialized by the orchestrator's
// per-session lock; the store itself only enforces the schema-level
// invariants (unique stage fields, dense turn sequence, one checkpoint per
// stage).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charterworks/charterd/pkg/models"
)

// SessionStore manages the session aggregate and its children.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a SessionStore over a GORM handle.
func NewSessionStore(db *gorm.DB) *SessionStore {
	if db == nil {
		panic("NewSessionStore: db must not be nil")
	}
	return &SessionStore{db: db}
}

// CreateSession creates a new interview session at stage 1.
func (s *SessionStore) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if req.Owner == "" {
		return nil, NewValidationError("owner", "required")
	}
	if req.ProjectName == "" {
		return nil, NewValidationError("project_name", "required")
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:           uuid.New().String(),
		Owner:        req.Owner,
		ProjectName:  req.ProjectName,
		StartedAt:    now,
		LastUpdated:  now,
		CurrentStage: models.FirstStage,
		Status:       models.StatusInProgress,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).First(&session, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ListSessions lists sessions with filtering and pagination, ordered by
// started-at descending.
func (s *SessionStore) ListSessions(ctx context.Context, filters models.SessionFilters) (*models.SessionListResponse, error) {
	query := s.db.WithContext(ctx).Model(&models.Session{})

	if filters.Owner != "" {
		query = query.Where("owner = ?", filters.Owner)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	skip := filters.Skip
	if skip < 0 {
		skip = 0
	}

	var sessions []*models.Session
	err := query.
		Order("started_at DESC").
		Limit(limit).
		Offset(skip).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return &models.SessionListResponse{
		Sessions:   sessions,
		TotalCount: int(total),
		Limit:      limit,
		Skip:       skip,
	}, nil
}

// UpdateSessionStatus updates a session's lifecycle state and touches
// last_updated.
func (s *SessionStore) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"status":       status,
			"last_updated": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update session status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendStageData writes one stage deliverable as field rows. Rewriting an
// existing (session, stage, field) is rejected with ErrDuplicateStageWrite
// unless reset is set, in which case existing rows for the stage are
// removed first (explicit session reset path).
func (s *SessionStore) AppendStageData(ctx context.Context, sessionID string, deliverable *models.StageDeliverable, reset bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendStageDataTx(tx, sessionID, deliverable, reset)
	})
}

func appendStageDataTx(tx *gorm.DB, sessionID string, deliverable *models.StageDeliverable, reset bool) error {
	fields, err := deliverable.FieldMap()
	if err != nil {
		return err
	}

	if reset {
		err := tx.Where("session_id = ? AND stage_number = ?", sessionID, deliverable.Stage).
			Delete(&models.StageDataRow{}).Error
		if err != nil {
			return fmt.Errorf("failed to reset stage data: %w", err)
		}
	}

	now := time.Now().UTC()
	for name, value := range fields {
		row := &models.StageDataRow{
			SessionID:   sessionID,
			StageNumber: deliverable.Stage,
			FieldName:   name,
			FieldValue:  datatypes.JSON(value),
			CreatedAt:   now,
		}
		if score, ok := deliverable.FieldScores[name]; ok {
			row.QualityScore = &score
		}
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: stage %d field %q", ErrDuplicateStageWrite, deliverable.Stage, name)
			}
			return fmt.Errorf("failed to write stage data: %w", err)
		}
	}
	return nil
}

// StageDeliverables reassembles all committed deliverables keyed by stage.
func (s *SessionStore) StageDeliverables(ctx context.Context, sessionID string) (map[int]*models.StageDeliverable, error) {
	var rows []models.StageDataRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("stage_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read stage data: %w", err)
	}

	byStage := make(map[int]map[string]json.RawMessage)
	for _, row := range rows {
		if byStage[row.StageNumber] == nil {
			byStage[row.StageNumber] = make(map[string]json.RawMessage)
		}
		byStage[row.StageNumber][row.FieldName] = json.RawMessage(row.FieldValue)
	}

	out := make(map[int]*models.StageDeliverable, len(byStage))
	for stage, fields := range byStage {
		d, err := models.DeliverableFromFields(stage, fields)
		if err != nil {
			return nil, err
		}
		out[stage] = d
	}
	return out, nil
}

// AppendConversationTurn appends one audit turn with the next dense
// sequence number. Conversation appends never reject on content.
func (s *SessionStore) AppendConversationTurn(ctx context.Context, sessionID string, role models.TurnRole, content string, stage int, meta *models.TurnMetadata) (*models.ConversationTurn, error) {
	var turn *models.ConversationTurn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		row := tx.Model(&models.ConversationTurn{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)")
		if err := row.Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to read max seq: %w", err)
		}

		turn = &models.ConversationTurn{
			SessionID:   sessionID,
			Seq:         maxSeq + 1,
			Role:        role,
			Content:     content,
			StageNumber: stage,
			Timestamp:   time.Now().UTC(),
		}
		if meta != nil {
			raw, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("failed to marshal turn metadata: %w", err)
			}
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("failed to shape turn metadata: %w", err)
			}
			turn.Metadata = datatypes.JSONMap(m)
		}
		return tx.Create(turn).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return turn, nil
}

// ConversationHistory returns all turns for a session in sequence order.
func (s *SessionStore) ConversationHistory(ctx context.Context, sessionID string) ([]*models.ConversationTurn, error) {
	var turns []*models.ConversationTurn
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation history: %w", err)
	}
	return turns, nil
}

// HistoryLength returns the number of turns appended for a session.
func (s *SessionStore) HistoryLength(ctx context.Context, sessionID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ConversationTurn{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count conversation turns: %w", err)
	}
	return int(count), nil
}

// CommitStageAdvancement persists a stage advancement as a single
// transaction: stage deliverable rows, the checkpoint, and the session's
// new current-stage either all commit or none do.
func (s *SessionStore) CommitStageAdvancement(
	ctx context.Context,
	sessionID string,
	deliverable *models.StageDeliverable,
	snapshot models.CheckpointSnapshot,
	validation *models.StageValidation,
	newStage int,
) (*models.Checkpoint, error) {
	var ckpt *models.Checkpoint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := appendStageDataTx(tx, sessionID, deliverable, false); err != nil {
			return err
		}

		snapRaw, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint snapshot: %w", err)
		}
		feedbackRaw, err := json.Marshal(validation)
		if err != nil {
			return fmt.Errorf("failed to marshal validator feedback: %w", err)
		}

		ckpt = &models.Checkpoint{
			SessionID:        sessionID,
			StageNumber:      deliverable.Stage,
			CreatedAt:        time.Now().UTC(),
			Snapshot:         datatypes.JSON(snapRaw),
			ValidationPassed: validation.CanProceed,
			Feedback:         datatypes.JSON(feedbackRaw),
		}
		if err := tx.Create(ckpt).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: checkpoint for stage %d", ErrDuplicateStageWrite, deliverable.Stage)
			}
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}

		result := tx.Model(&models.Session{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"current_stage": newStage,
				"last_updated":  time.Now().UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to advance session stage: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ckpt, nil
}

// ReadCheckpoints returns a session's checkpoints in stage order.
func (s *SessionStore) ReadCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error) {
	var checkpoints []*models.Checkpoint
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("stage_number ASC").
		Find(&checkpoints).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints: %w", err)
	}
	return checkpoints, nil
}

// SaveCharter persists the terminal charter and marks the session
// completed in one transaction.
func (s *SessionStore) SaveCharter(ctx context.Context, sessionID string, charter *models.Charter) error {
	raw, err := json.Marshal(charter)
	if err != nil {
		return fmt.Errorf("failed to marshal charter: %w", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &models.CharterRow{
			SessionID:          sessionID,
			Content:            datatypes.JSON(raw),
			GovernanceDecision: string(charter.GovernanceDecision),
			CreatedAt:          time.Now().UTC(),
		}
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to save charter: %w", err)
		}

		result := tx.Model(&models.Session{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"status":       models.StatusCompleted,
				"last_updated": time.Now().UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to complete session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetCharter loads the charter for a session, if one exists.
func (s *SessionStore) GetCharter(ctx context.Context, sessionID string) (*models.Charter, error) {
	var row models.CharterRow
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get charter: %w", err)
	}
	var charter models.Charter
	if err := json.Unmarshal(row.Content, &charter); err != nil {
		return nil, fmt.Errorf("failed to decode charter: %w", err)
	}
	return &charter, nil
}

// SaveConsistencyReport persists (or replaces) the session's consistency
// report. Re-running the check overwrites the previous verdict.
func (s *SessionStore) SaveConsistencyReport(ctx context.Context, sessionID string, report *models.ConsistencyReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal consistency report: %w", err)
	}
	row := &models.ConsistencyReportRow{
		SessionID:    sessionID,
		IsConsistent: report.IsConsistent,
		Feasibility:  string(report.Feasibility),
		Findings:     datatypes.JSON(raw),
		CreatedAt:    time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("session_id = ?", sessionID).Delete(&models.ConsistencyReportRow{}).Error
		if err != nil {
			return fmt.Errorf("failed to clear consistency report: %w", err)
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to save consistency report: %w", err)
		}
		return nil
	})
}

// GetConsistencyReport loads the session's consistency report, if any.
func (s *SessionStore) GetConsistencyReport(ctx context.Context, sessionID string) (*models.ConsistencyReport, error) {
	var row models.ConsistencyReportRow
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get consistency report: %w", err)
	}
	var report models.ConsistencyReport
	if err := json.Unmarshal(row.Findings, &report); err != nil {
		return nil, fmt.Errorf("failed to decode consistency report: %w", err)
	}
	return &report, nil
}
