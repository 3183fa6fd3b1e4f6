package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/charterworks/charterd/pkg/agent"
	"github.com/charterworks/charterd/pkg/consistency"
	"github.com/charterworks/charterd/pkg/conversation"
	"github.com/charterworks/charterd/pkg/gate"
	"github.com/charterworks/charterd/pkg/llm"
	"github.com/charterworks/charterd/pkg/models"
	"github.com/charterworks/charterd/pkg/store"
)

// passthroughLoop accepts every answer at score 8 and appends the audit
// turns the way the real loop does.
type passthroughLoop struct {
	turns *store.SessionStore
}

func (p *passthroughLoop) Run(ctx context.Context, sessionID string, stage int, question string, source conversation.AnswerSource) (*conversation.Result, error) {
	if _, err := p.turns.AppendConversationTurn(ctx, sessionID, models.RoleAssistant, question, stage, nil); err != nil {
		return nil, err
	}
	answer, err := source.NextAnswer(ctx, question, nil)
	if err != nil {
		return nil, err
	}
	if _, err := p.turns.AppendConversationTurn(ctx, sessionID, models.RoleUser, answer, stage, nil); err != nil {
		return nil, err
	}
	score := 8
	if _, err := p.turns.AppendConversationTurn(ctx, sessionID, models.RoleSystem, "response accepted", stage,
		&models.TurnMetadata{QualityScore: &score, Attempt: 1}); err != nil {
		return nil, err
	}
	return &conversation.Result{
		Response:   answer,
		Sanitized:  conversation.Sanitize(answer),
		Assessment: &models.QualityAssessment{Score: 8, Acceptable: true, Attempt: 1},
		Outcome:    conversation.OutcomeAccept,
		Attempts:   1,
	}, nil
}

// queueRouter replays synthesis replies in order.
type queueRouter struct {
	replies []string
}

func (q *queueRouter) Complete(_ context.Context, _ llm.Request) (*llm.Completion, error) {
	if len(q.replies) == 0 {
		return &llm.Completion{Text: "{}"}, nil
	}
	text := q.replies[0]
	q.replies = q.replies[1:]
	return &llm.Completion{Text: text}, nil
}

func (q *queueRouter) enqueue(replies ...string) {
	q.replies = append(q.replies, replies...)
}

type fixture struct {
	store  *store.SessionStore
	router *queueRouter
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// A pooled second connection to :memory: would see an empty database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Session{}, &models.StageDataRow{}, &models.ConversationTurn{},
		&models.Checkpoint{}, &models.CharterRow{}, &models.ConsistencyReportRow{},
	))

	st := store.NewSessionStore(db)
	router := &queueRouter{}
	registry, err := agent.NewRegistry(&passthroughLoop{turns: st}, router)
	require.NoError(t, err)

	return &fixture{
		store:  st,
		router: router,
		orch:   New(st, registry, gate.NewValidator(), consistency.NewChecker(nil)),
	}
}

// restart builds a second orchestrator over the same store,
// simulating a process restart with in-memory state lost.
func (f *fixture) restart(t *testing.T) *Orchestrator {
	t.Helper()
	registry, err := agent.NewRegistry(&passthroughLoop{turns: f.store}, f.router)
	require.NoError(t, err)
	return New(f.store, registry, gate.NewValidator(), consistency.NewChecker(nil))
}

func answers() conversation.AnswerSource {
	return conversation.AnswerFunc(func(context.Context, string, error) (string, error) {
		return "a thorough, specific answer with numbers: 5.2% to 3.5% in 6 months", nil
	})
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func synthReply(t *testing.T, stage int) string {
	t.Helper()
	switch stage {
	case 1:
		return mustJSON(t, models.ProblemStatement{
			BusinessObjective:        "reduce monthly churn from 5.2% to 3.5%",
			AINecessityJustification: "rules plateaued at 60% recall",
			InputFeatures:            []string{"tenure", "support_tickets"},
			TargetOutput:             "churn probability per customer",
			MLArchetype:              models.ArchetypeClassification,
			OutOfScope:               "pricing changes",
			Constraints:              "daily batch by 06:00 UTC",
		})
	case 2:
		return mustJSON(t, models.MetricAlignment{
			BusinessKPIs: []models.BusinessKPI{{Name: "churn", Baseline: "5.2%", Target: "3.5%", Cadence: "monthly"}},
			MLMetrics:    []models.MLMetric{{Name: "recall", AcceptableRange: "0.75+"}, {Name: "precision", AcceptableRange: "0.6+"}},
			Alignments: []models.MetricLink{
				{MLMetric: "recall", KPIs: []string{"churn"}},
				{MLMetric: "precision", KPIs: []string{"churn"}},
			},
			Tradeoffs: "recall preferred",
		})
	case 3:
		scores := map[string]float64{}
		for _, dim := range models.QualityDimensions {
			scores[dim] = 0.8
		}
		return mustJSON(t, models.DataQualityScorecard{
			AvailabilityReport: "warehouse covers tenure and support_tickets for 24 months",
			DimensionScores:    scores,
			OverallScore:       0.8,
			Gaps:               []models.DataGap{{Description: "sparse device data", Mitigation: "CRM join"}},
		})
	case 4:
		return mustJSON(t, models.UserContext{
			PrimaryUsers:               []models.Persona{{Name: "Retention analyst", Role: "analyst"}},
			Proficiency:                "intermediate",
			DecisionLoop:               models.LoopHumanInLoop,
			ExplainabilityRequirements: "feature attribution per score",
			UnintendedConsequences:     "discount over-targeting",
		})
	default:
		principles := map[string]models.PrincipleAssessment{}
		for _, p := range models.EthicalPrinciples {
			principles[p] = models.PrincipleAssessment{InitialRisk: 2, Mitigations: []string{"quarterly audit"}, ResidualRisk: 1}
		}
		return mustJSON(t, map[string]any{"principles": principles, "governance_decision": ""})
	}
}

func advanceThrough(t *testing.T, f *fixture, sessionID string, lastStage int) {
	t.Helper()
	ctx := context.Background()
	for stage := 1; stage <= lastStage; stage++ {
		f.router.enqueue(synthReply(t, stage))
		_, err := f.orch.RunStage(ctx, sessionID, stage, answers())
		require.NoError(t, err, "run stage %d", stage)

		validation, err := f.orch.AdvanceStage(ctx, sessionID)
		require.NoError(t, err, "advance stage %d", stage)
		require.True(t, validation.CanProceed, "stage %d gate: %v %v", stage, validation.MissingItems, validation.Concerns)
	}
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.orch.CreateSession(ctx, "alice@example.com", "Churn Model")
	require.NoError(t, err)

	advanceThrough(t, f, session.ID, 5)

	got, err := f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedStage, got.CurrentStage)

	checkpoints, err := f.store.ReadCheckpoints(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, checkpoints, 5)

	charter, err := f.orch.GenerateCharter(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionProceed, charter.GovernanceDecision)
	assert.Equal(t, models.FeasibilityHigh, charter.Feasibility)
	assert.Equal(t, "Churn Model", charter.ProjectName)

	got, err = f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestGateFailureLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.orch.CreateSession(ctx, "alice@example.com", "Churn Model")
	require.NoError(t, err)

	advanceThrough(t, f, session.ID, 1)

	// Stage 2 synthesis drops ml_metrics and alignments.
	f.router.enqueue(mustJSON(t, models.MetricAlignment{
		BusinessKPIs: []models.BusinessKPI{{Name: "churn", Baseline: "5.2%", Target: "3.5%", Cadence: "monthly"}},
		Tradeoffs:    "n/a",
	}))
	_, err = f.orch.RunStage(ctx, session.ID, 2, answers())
	require.NoError(t, err)

	validation, err := f.orch.AdvanceStage(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, validation.CanProceed)
	assert.Contains(t, validation.MissingItems, "ml_metrics")

	got, err := f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStage, "failed gate must not advance")

	checkpoints, err := f.store.ReadCheckpoints(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)

	// A second run re-collects; corrected data commits cleanly.
	f.router.enqueue(synthReply(t, 2))
	_, err = f.orch.RunStage(ctx, session.ID, 2, answers())
	require.NoError(t, err)

	validation, err = f.orch.AdvanceStage(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, validation.CanProceed)

	got, err = f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentStage)
}

func TestStageRoutingGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.orch.CreateSession(ctx, "alice@example.com", "P")
	require.NoError(t, err)

	t.Run("advance before run", func(t *testing.T) {
		_, err := f.orch.AdvanceStage(ctx, session.ID)
		assert.ErrorIs(t, err, ErrStageNotRun)
	})

	t.Run("run a stage ahead of current", func(t *testing.T) {
		_, err := f.orch.RunStage(ctx, session.ID, 3, answers())
		assert.ErrorIs(t, err, ErrStageNotReady)
	})

	advanceThrough(t, f, session.ID, 1)

	t.Run("re-running a committed stage is rejected", func(t *testing.T) {
		_, err := f.orch.RunStage(ctx, session.ID, 1, answers())
		assert.ErrorIs(t, err, ErrStageAlreadyCommitted)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.orch.RunStage(ctx, "missing", 1, answers())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestCharterBlockedOnInconsistency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.orch.CreateSession(ctx, "alice@example.com", "Churn Model")
	require.NoError(t, err)

	// Stage 3's availability report omits "tenure", the primary stage 1
	// feature: a critical contradiction.
	for stage := 1; stage <= 5; stage++ {
		reply := synthReply(t, stage)
		if stage == 3 {
			scores := map[string]float64{}
			for _, dim := range models.QualityDimensions {
				scores[dim] = 0.8
			}
			reply = mustJSON(t, models.DataQualityScorecard{
				AvailabilityReport: "warehouse covers support_tickets only",
				DimensionScores:    scores,
				OverallScore:       0.8,
				Gaps:               []models.DataGap{{Description: "gap", Mitigation: "fix"}},
			})
		}
		f.router.enqueue(reply)
		_, err := f.orch.RunStage(ctx, session.ID, stage, answers())
		require.NoError(t, err)
		validation, err := f.orch.AdvanceStage(ctx, session.ID)
		require.NoError(t, err)
		require.True(t, validation.CanProceed)
	}

	_, err = f.orch.GenerateCharter(ctx, session.ID)
	assert.ErrorIs(t, err, ErrCharterBlocked)

	// Charter row is not written; session is not completed.
	_, err = f.store.GetCharter(ctx, session.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusCompleted, got.Status)

	report, err := f.store.GetConsistencyReport(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeasibilityInfeasible, report.Feasibility)
}

func TestCrashAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.orch.CreateSession(ctx, "alice@example.com", "Churn Model")
	require.NoError(t, err)

	advanceThrough(t, f, session.ID, 2)

	historyBefore, err := f.store.HistoryLength(ctx, session.ID)
	require.NoError(t, err)

	// Simulate a crash mid stage 3: pending in-memory state is lost.
	restarted := f.restart(t)

	envelope, err := restarted.ResumeSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, envelope.Session.CurrentStage)
	assert.Len(t, envelope.Checkpoints, 2)
	assert.Nil(t, envelope.Deliverables[3], "stage 3 deliverable must be absent")
	assert.Equal(t, historyBefore, envelope.HistoryLen)

	// The user can continue: run and advance stage 3 on the new process.
	f.router.enqueue(synthReply(t, 3))
	_, err = restarted.RunStage(ctx, session.ID, 3, answers())
	require.NoError(t, err)
	validation, err := restarted.AdvanceStage(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, validation.CanProceed)
}

func TestAbortSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.orch.CreateSession(ctx, "alice@example.com", "P")
	require.NoError(t, err)

	require.NoError(t, f.orch.AbortSession(ctx, session.ID, "owner requested"))

	got, err := f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbandoned, got.Status)

	_, err = f.orch.RunStage(ctx, session.ID, 1, answers())
	assert.ErrorIs(t, err, ErrSessionTerminal)

	err = f.orch.AbortSession(ctx, session.ID, "again")
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestCancellationPausesSession(t *testing.T) {
	f := newFixture(t)
	session, err := f.orch.CreateSession(context.Background(), "alice@example.com", "P")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	blocking := conversation.AnswerFunc(func(ctx context.Context, _ string, _ error) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err = f.orch.RunStage(ctx, session.ID, 1, blocking)
	assert.ErrorIs(t, err, ErrCancelled)

	got, err := f.store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)

	// The cancellation is recorded in the audit log.
	turns, err := f.store.ConversationHistory(context.Background(), session.ID)
	require.NoError(t, err)
	var cancelled bool
	for _, turn := range turns {
		if turn.Role == models.RoleSystem && turn.StageNumber == 1 {
			cancelled = true
		}
	}
	assert.True(t, cancelled)

	// Resume restores the session to in-progress at the same stage.
	envelope, err := f.orch.ResumeSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, envelope.Session.Status)
	assert.Equal(t, 1, envelope.Session.CurrentStage)
}

func TestConsistencyRequiresCompletedInterview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.orch.CreateSession(ctx, "alice@example.com", "P")
	require.NoError(t, err)

	_, err = f.orch.CheckConsistency(ctx, session.ID)
	assert.ErrorIs(t, err, ErrInterviewIncomplete)

	_, err = f.orch.GenerateCharter(ctx, session.ID)
	assert.ErrorIs(t, err, ErrInterviewIncomplete)
}
