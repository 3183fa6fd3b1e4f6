// Package agent implements the five stage agents: each owns a declarative
// question plan, drives the conversation loop per question, and
// synthesizes the stage deliverable from the accumulated answers.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charterworks/charterd/pkg/config"
	"github.com/charterworks/charterd/pkg/conversation"
	"github.com/charterworks/charterd/pkg/llm"
	"github.com/charterworks/charterd/pkg/models"
)

// ErrSynthesisFailed is returned when deliverable synthesis cannot produce
// a parseable structure even after the in-agent retry.
var ErrSynthesisFailed = errors.New("synthesis failed")

// Completer is the slice of the LLM router the agents need.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// QuestionRunner is the slice of the conversation loop the agents need.
type QuestionRunner interface {
	Run(ctx context.Context, sessionID string, stage int, question string, source conversation.AnswerSource) (*conversation.Result, error)
}

// Agent conducts one stage's interview.
type Agent struct {
	plan   Plan
	loop   QuestionRunner
	router Completer
}

// NewAgent creates the agent for one stage.
func NewAgent(stage int, loop QuestionRunner, router Completer) (*Agent, error) {
	plan, ok := PlanFor(stage)
	if !ok {
		return nil, fmt.Errorf("no question plan for stage %d", stage)
	}
	return &Agent{plan: plan, loop: loop, router: router}, nil
}

// Stage returns the stage number this agent conducts.
func (a *Agent) Stage() int { return a.plan.Stage }

// ConductInterview runs the stage's question plan against the answer
// source and synthesizes the deliverable. The result is NOT persisted;
// persistence is the orchestrator's responsibility.
func (a *Agent) ConductInterview(ctx context.Context, sessionID string, source conversation.AnswerSource) (*models.StageDeliverable, error) {
	log := slog.With("component", "agent", "stage", a.plan.Stage)
	answers := make(map[string]string)
	scores := make(map[string]int)

	for _, group := range a.plan.Groups {
		for _, question := range group.Questions {
			rendered := renderTemplate(question.Template, answers)

			result, err := a.loop.Run(ctx, sessionID, a.plan.Stage, rendered, source)
			if err != nil {
				return nil, err
			}
			answers[question.ID] = result.Sanitized
			if result.Assessment != nil {
				scores[question.ID] = result.Assessment.Score
			}
		}
	}

	log.Info("Interview complete, synthesizing deliverable", "answers", len(answers))

	deliverable, err := a.synthesize(ctx, answers)
	if err != nil {
		return nil, err
	}
	deliverable.FieldScores = scores
	return deliverable, nil
}

// synthesize makes one structured LLM call consuming all accumulated
// answers. Parse failures trigger one retry; persistent failure raises
// ErrSynthesisFailed. Stage 5 uses the POWERFUL tier for the governance
// determination; everything else runs BALANCED.
func (a *Agent) synthesize(ctx context.Context, answers map[string]string) (*models.StageDeliverable, error) {
	tier := config.TierBalanced
	if a.plan.Stage == models.LastStage {
		tier = config.TierPowerful
	}

	payload, err := json.MarshalIndent(answers, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize answers: %w", err)
	}

	var lastErr error
	for try := 0; try < 2; try++ {
		completion, err := a.router.Complete(ctx, llm.Request{
			System: synthesisPrompts[a.plan.Stage],
			Prompt: string(payload),
			Tier:   tier,
		})
		if err != nil {
			return nil, err
		}

		deliverable, perr := a.parseDeliverable(completion.Text)
		if perr == nil {
			return deliverable, nil
		}
		lastErr = perr
		slog.Warn("Deliverable synthesis unparseable, retrying",
			"stage", a.plan.Stage, "try", try+1, "error", perr)
	}
	return nil, fmt.Errorf("%w: stage %d: %v", ErrSynthesisFailed, a.plan.Stage, lastErr)
}

// parseDeliverable decodes the synthesis reply into the stage's typed
// record. For stage 5 the governance decision is recomputed with the
// deterministic rule regardless of what the model returned.
func (a *Agent) parseDeliverable(text string) (*models.StageDeliverable, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", llm.ErrMalformedReply)
	}
	raw := json.RawMessage(trimmed[start : end+1])

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedReply, err)
	}

	deliverable, err := models.DeliverableFromFields(a.plan.Stage, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedReply, err)
	}

	if a.plan.Stage == models.LastStage && deliverable.Ethics != nil {
		deliverable.Ethics.GovernanceDecision = models.DeriveGovernanceDecision(deliverable.Ethics.Principles)
	}
	return deliverable, nil
}

// renderTemplate substitutes {id} placeholders with earlier answers from
// the same stage. Unknown placeholders are left intact.
func renderTemplate(template string, answers map[string]string) string {
	out := template
	for id, answer := range answers {
		out = strings.ReplaceAll(out, "{"+id+"}", summarize(answer, 120))
	}
	return out
}

// summarize truncates an answer for embedding in a question template.
func summarize(answer string, max int) string {
	runes := []rune(strings.TrimSpace(answer))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}

// Registry holds the per-stage agents.
type Registry struct {
	agents map[int]*Agent
}

// NewRegistry builds all five stage agents.
func NewRegistry(loop QuestionRunner, router Completer) (*Registry, error) {
	agents := make(map[int]*Agent, models.LastStage)
	for stage := models.FirstStage; stage <= models.LastStage; stage++ {
		a, err := NewAgent(stage, loop, router)
		if err != nil {
			return nil, err
		}
		agents[stage] = a
	}
	return &Registry{agents: agents}, nil
}

// Get returns the agent for a stage.
func (r *Registry) Get(stage int) (*Agent, error) {
	a, ok := r.agents[stage]
	if !ok {
		return nil, fmt.Errorf("no agent for stage %d", stage)
	}
	return a, nil
}
