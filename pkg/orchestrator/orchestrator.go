// Package orchestrator coordinates session lifecycle: stage routing, the
// gate between stages, checkpointing, and charter assembly. All writes to
// one session are serialized through a per-session lock; the lock is never
// held across a stage boundary — run_stage and advance_stage are two
// independently locked operations.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/charterworks/charterd/pkg/agent"
	"github.com/charterworks/charterd/pkg/conversation"
	"github.com/charterworks/charterd/pkg/gate"
	"github.com/charterworks/charterd/pkg/models"
	"github.com/charterworks/charterd/pkg/store"
)

// ConsistencyChecker is the slice of the consistency checker the
// orchestrator needs.
type ConsistencyChecker interface {
	Check(ctx context.Context, deliverables map[int]*models.StageDeliverable) (*models.ConsistencyReport, error)
}

// sessionEntry holds the per-session lock and the deliverable pending
// between run_stage and advance_stage.
type sessionEntry struct {
	mu      sync.Mutex
	pending map[int]*models.StageDeliverable
}

// Orchestrator owns the agent registry and a map from session id to
// per-session lock plus in-memory pending state.
type Orchestrator struct {
	store     *store.SessionStore
	agents    *agent.Registry
	validator *gate.Validator
	checker   ConsistencyChecker

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// New creates an orchestrator.
func New(st *store.SessionStore, agents *agent.Registry, validator *gate.Validator, checker ConsistencyChecker) *Orchestrator {
	return &Orchestrator{
		store:     st,
		agents:    agents,
		validator: validator,
		checker:   checker,
		sessions:  make(map[string]*sessionEntry),
	}
}

// entry returns (creating if needed) the lock entry for a session.
func (o *Orchestrator) entry(sessionID string) *sessionEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.sessions[sessionID]
	if !ok {
		e = &sessionEntry{pending: make(map[int]*models.StageDeliverable)}
		o.sessions[sessionID] = e
	}
	return e
}

// CreateSession starts a new interview session.
func (o *Orchestrator) CreateSession(ctx context.Context, owner, projectName string) (*models.Session, error) {
	session, err := o.store.CreateSession(ctx, models.CreateSessionRequest{
		Owner:       owner,
		ProjectName: projectName,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Session created", "session_id", session.ID, "owner", owner, "project", projectName)
	return session, nil
}

// GetSession loads the full session envelope. Reads take no lock and
// tolerate concurrent writes.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*models.SessionEnvelope, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	deliverables, err := o.store.StageDeliverables(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	checkpoints, err := o.store.ReadCheckpoints(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	historyLen, err := o.store.HistoryLength(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	envelope := &models.SessionEnvelope{
		Session:      session,
		Deliverables: deliverables,
		Checkpoints:  checkpoints,
		HistoryLen:   historyLen,
	}
	if charter, err := o.store.GetCharter(ctx, sessionID); err == nil {
		envelope.Charter = charter
	}
	if report, err := o.store.GetConsistencyReport(ctx, sessionID); err == nil {
		envelope.Consistency = report
	}
	return envelope, nil
}

// ListSessions lists sessions without locking.
func (o *Orchestrator) ListSessions(ctx context.Context, filters models.SessionFilters) (*models.SessionListResponse, error) {
	return o.store.ListSessions(ctx, filters)
}

// RunStage conducts the interview for a stage and caches the resulting
// deliverable pending advancement. It does NOT advance the session.
func (o *Orchestrator) RunStage(ctx context.Context, sessionID string, stage int, source conversation.AnswerSource) (*models.StageDeliverable, error) {
	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	switch {
	case stage < models.FirstStage || stage > models.LastStage:
		return nil, fmt.Errorf("%w: stage %d", ErrStageNotReady, stage)
	case stage < session.CurrentStage:
		return nil, fmt.Errorf("%w: stage %d", ErrStageAlreadyCommitted, stage)
	case stage > session.CurrentStage:
		return nil, fmt.Errorf("%w: current stage is %d", ErrStageNotReady, session.CurrentStage)
	}

	stageAgent, err := o.agents.Get(stage)
	if err != nil {
		return nil, err
	}

	deliverable, err := stageAgent.ConductInterview(ctx, sessionID, source)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation: discard the partial stage, note it in the
			// audit log, pause the session, and leave prior checkpoints
			// standing. resume_session picks it back up.
			o.recordCancellation(sessionID, stage)
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, err
	}

	// A fresh run replaces any previous pending deliverable for the stage.
	e.pending[stage] = deliverable
	slog.Info("Stage interview complete", "session_id", sessionID, "stage", stage)
	return deliverable, nil
}

// recordCancellation appends the audit turn for a cancelled run outside
// the request context, which is already dead.
func (o *Orchestrator) recordCancellation(sessionID string, stage int) {
	auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.store.AppendConversationTurn(auditCtx, sessionID, models.RoleSystem,
		"stage interview cancelled; partial answers discarded", stage, nil); err != nil {
		slog.Warn("Failed to record cancellation turn", "session_id", sessionID, "error", err)
	}
	if err := o.store.UpdateSessionStatus(auditCtx, sessionID, models.StatusPaused); err != nil {
		slog.Warn("Failed to pause cancelled session", "session_id", sessionID, "error", err)
	}
}

// AdvanceStage validates the pending deliverable for the session's current
// stage. On pass it commits deliverable + checkpoint + stage increment in
// one transaction; on fail it returns the validation verbatim and mutates
// nothing.
func (o *Orchestrator) AdvanceStage(ctx context.Context, sessionID string) (*models.StageValidation, error) {
	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.CurrentStage > models.LastStage {
		return nil, fmt.Errorf("%w: all stages committed", ErrStageAlreadyCommitted)
	}

	stage := session.CurrentStage
	deliverable, ok := e.pending[stage]
	if !ok {
		return nil, fmt.Errorf("%w: stage %d", ErrStageNotRun, stage)
	}

	validation := o.validator.Validate(stage, deliverable)
	if !validation.CanProceed {
		slog.Info("Stage gate failed",
			"session_id", sessionID, "stage", stage,
			"completeness", validation.Completeness,
			"missing", validation.MissingItems)
		return validation, nil
	}

	committed, err := o.store.StageDeliverables(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	committed[stage] = deliverable

	historyLen, err := o.store.HistoryLength(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	snapshot := models.CheckpointSnapshot{
		Deliverables:  committed,
		HistoryLength: historyLen,
	}
	if _, err := o.store.CommitStageAdvancement(ctx, sessionID, deliverable, snapshot, validation, stage+1); err != nil {
		return nil, err
	}
	delete(e.pending, stage)

	slog.Info("Stage advanced",
		"session_id", sessionID, "stage", stage, "next_stage", stage+1)
	return validation, nil
}

// ResumeSession restores a session from its latest checkpoint. In-flight
// turns at crash time are lost; the conversation history shows where to
// continue.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID string) (*models.SessionEnvelope, error) {
	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	envelope, err := o.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session := envelope.Session
	if session.Status.Terminal() {
		return envelope, nil
	}

	// current_stage must equal 1 + the highest checkpointed stage.
	maxCheckpointed := 0
	for _, ckpt := range envelope.Checkpoints {
		if ckpt.StageNumber > maxCheckpointed {
			maxCheckpointed = ckpt.StageNumber
		}
	}
	if session.CurrentStage != maxCheckpointed+1 {
		return nil, fmt.Errorf("session %s is inconsistent: current_stage %d with max checkpoint %d",
			sessionID, session.CurrentStage, maxCheckpointed)
	}

	if session.Status == models.StatusPaused {
		if err := o.store.UpdateSessionStatus(ctx, sessionID, models.StatusInProgress); err != nil {
			return nil, err
		}
		session.Status = models.StatusInProgress
	}

	slog.Info("Session resumed",
		"session_id", sessionID,
		"current_stage", session.CurrentStage,
		"checkpoints", len(envelope.Checkpoints))
	return envelope, nil
}

// CheckConsistency runs the cross-stage checker on demand and persists the
// report.
func (o *Orchestrator) CheckConsistency(ctx context.Context, sessionID string) (*models.ConsistencyReport, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CurrentStage <= models.LastStage {
		return nil, fmt.Errorf("%w: current stage is %d", ErrInterviewIncomplete, session.CurrentStage)
	}

	deliverables, err := o.store.StageDeliverables(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	report, err := o.checker.Check(ctx, deliverables)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveConsistencyReport(ctx, sessionID, report); err != nil {
		return nil, err
	}
	return report, nil
}

// GenerateCharter runs the consistency check and, unless blocked,
// composes and persists the charter and marks the session completed.
func (o *Orchestrator) GenerateCharter(ctx context.Context, sessionID string) (*models.Charter, error) {
	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if session.CurrentStage <= models.LastStage {
		return nil, fmt.Errorf("%w: current stage is %d", ErrInterviewIncomplete, session.CurrentStage)
	}

	deliverables, err := o.store.StageDeliverables(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report, err := o.checker.Check(ctx, deliverables)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveConsistencyReport(ctx, sessionID, report); err != nil {
		return nil, err
	}
	if report.Feasibility == models.FeasibilityInfeasible {
		return nil, fmt.Errorf("%w: %d contradiction(s)", ErrCharterBlocked, len(report.Contradictions))
	}

	charter := composeCharter(session, deliverables, report)
	if err := o.store.SaveCharter(ctx, sessionID, charter); err != nil {
		return nil, err
	}

	slog.Info("Charter generated",
		"session_id", sessionID,
		"governance_decision", charter.GovernanceDecision,
		"feasibility", charter.Feasibility)
	return charter, nil
}

// AbortSession transitions the session to ABANDONED; no further mutation
// is permitted afterwards.
func (o *Orchestrator) AbortSession(ctx context.Context, sessionID, reason string) error {
	e := o.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrSessionTerminal
	}

	if err := o.store.UpdateSessionStatus(ctx, sessionID, models.StatusAbandoned); err != nil {
		return err
	}
	if _, err := o.store.AppendConversationTurn(ctx, sessionID, models.RoleSystem,
		fmt.Sprintf("session aborted: %s", reason), session.CurrentStage, nil); err != nil {
		slog.Warn("Failed to record abort turn", "session_id", sessionID, "error", err)
	}

	for stage := range e.pending {
		delete(e.pending, stage)
	}
	slog.Info("Session aborted", "session_id", sessionID, "reason", reason)
	return nil
}

// composeCharter assembles the terminal artifact from the five
// deliverables and the consistency verdict.
func composeCharter(session *models.Session, deliverables map[int]*models.StageDeliverable, report *models.ConsistencyReport) *models.Charter {
	charter := &models.Charter{
		ProjectName:  session.ProjectName,
		CreatedAt:    session.StartedAt,
		CompletedAt:  session.LastUpdated,
		Deliverables: deliverables,
		Feasibility:  report.Feasibility,
	}

	if ethics := deliverables[5]; ethics != nil && ethics.Ethics != nil {
		charter.GovernanceDecision = models.DeriveGovernanceDecision(ethics.Ethics.Principles)
		for _, principle := range models.EthicalPrinciples {
			if a, ok := ethics.Ethics.Principles[principle]; ok && a.ResidualRisk >= 3 {
				charter.MajorRisks = append(charter.MajorRisks,
					fmt.Sprintf("%s residual risk %d", principle, a.ResidualRisk))
			}
		}
	}
	charter.MajorRisks = append(charter.MajorRisks, report.RiskAreas...)

	if metrics := deliverables[2]; metrics != nil && metrics.Metrics != nil {
		for _, kpi := range metrics.Metrics.BusinessKPIs {
			charter.CriticalSuccessFactors = append(charter.CriticalSuccessFactors,
				fmt.Sprintf("%s: %s → %s (%s)", kpi.Name, kpi.Baseline, kpi.Target, kpi.Cadence))
		}
	}
	return charter
}
