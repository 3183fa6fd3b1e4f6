package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/charterworks/charterd/pkg/config"
	"github.com/charterworks/charterd/pkg/models"
	"github.com/charterworks/charterd/pkg/quality"
)

// Outcome is how the loop terminated for one question.
type Outcome string

const (
	// OutcomeAccept means a response met the quality threshold.
	OutcomeAccept Outcome = "ACCEPT"
	// OutcomeForceAccept means the attempt budget was exhausted and the
	// final response was recorded despite failing the threshold.
	OutcomeForceAccept Outcome = "FORCE_ACCEPT"
)

// AnswerSource supplies user responses. reject, when non-nil, explains why
// the previous submission was refused (injection or length) so the surface
// can re-prompt without consuming an attempt.
type AnswerSource interface {
	NextAnswer(ctx context.Context, question string, reject error) (string, error)
}

// AnswerFunc adapts a function to the AnswerSource interface.
type AnswerFunc func(ctx context.Context, question string, reject error) (string, error)

// NextAnswer implements AnswerSource.
func (f AnswerFunc) NextAnswer(ctx context.Context, question string, reject error) (string, error) {
	return f(ctx, question, reject)
}

// Evaluator is the slice of the quality evaluator the loop needs.
type Evaluator interface {
	Evaluate(ctx context.Context, question, response string, ec quality.Context) (*models.QualityAssessment, error)
}

// TurnAppender appends audit turns to the session conversation history.
type TurnAppender interface {
	AppendConversationTurn(ctx context.Context, sessionID string, role models.TurnRole, content string, stage int, meta *models.TurnMetadata) (*models.ConversationTurn, error)
}

// Result is the loop's terminal product for one question.
type Result struct {
	Response   string
	Sanitized  string
	Assessment *models.QualityAssessment
	Outcome    Outcome
	Attempts   int
}

// Loop drives one question to an accepted (or force-accepted) answer. It
// holds no durable state; everything lives in memory for the duration of
// the turn.
type Loop struct {
	evaluator Evaluator
	turns     TurnAppender
	screener  *Screener
	cfg       config.InterviewConfig
}

// NewLoop creates a conversation loop.
func NewLoop(evaluator Evaluator, turns TurnAppender, screener *Screener, cfg config.InterviewConfig) *Loop {
	return &Loop{evaluator: evaluator, turns: turns, screener: screener, cfg: cfg}
}

// Run asks one question and returns a validated (or force-accepted)
// response. The conversation history receives one assistant turn per
// question or follow-up issued, one user turn per response evaluated, and
// one system turn summarizing the terminal outcome. Screened-out input
// (injection, over-length) is rejected back to the source and consumes no
// attempt.
func (l *Loop) Run(ctx context.Context, sessionID string, stage int, question string, source AnswerSource) (*Result, error) {
	if err := l.screener.ScreenQuestion(question); err != nil {
		return nil, err
	}

	log := slog.With("component", "conversation", "stage", stage)

	// start_turn: IDLE → WAITING_FOR_RESPONSE
	if _, err := l.turns.AppendConversationTurn(ctx, sessionID, models.RoleAssistant, question, stage, nil); err != nil {
		return nil, err
	}

	currentQuestion := question
	var reject error
	var lastResponse string
	var lastAssessment *models.QualityAssessment

	for attempt := 1; attempt <= l.cfg.MaxAttempts; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		response, err := source.NextAnswer(ctx, currentQuestion, reject)
		if err != nil {
			return nil, err
		}
		reject = nil

		if err := l.screener.ScreenResponse(response); err != nil {
			// Rejected input never reaches the evaluator and does not
			// count toward the attempt budget; the raw text also stays out
			// of the audit log.
			reason := "response_too_long"
			if errors.Is(err, ErrSuspectedInjection) {
				reason = "suspected_injection"
			}
			if _, terr := l.turns.AppendConversationTurn(ctx, sessionID, models.RoleSystem,
				fmt.Sprintf("input rejected: %s", reason), stage, &models.TurnMetadata{Attempt: attempt}); terr != nil {
				return nil, terr
			}
			log.Warn("Input rejected", "reason", reason)
			reject = err
			continue
		}

		sanitized := Sanitize(response)

		if _, err := l.turns.AppendConversationTurn(ctx, sessionID, models.RoleUser, sanitized, stage, &models.TurnMetadata{Attempt: attempt}); err != nil {
			return nil, err
		}

		assessment, err := l.evaluateWithTimeout(ctx, currentQuestion, sanitized, stage, attempt)
		if err != nil {
			return nil, err
		}
		lastResponse = response
		lastAssessment = assessment

		if assessment.Acceptable {
			meta := &models.TurnMetadata{
				QualityScore: &assessment.Score,
				Attempt:      attempt,
				Outcome:      string(OutcomeAccept),
			}
			if _, err := l.turns.AppendConversationTurn(ctx, sessionID, models.RoleSystem,
				fmt.Sprintf("response accepted with score %d on attempt %d", assessment.Score, attempt), stage, meta); err != nil {
				return nil, err
			}
			return &Result{
				Response:   response,
				Sanitized:  sanitized,
				Assessment: assessment,
				Outcome:    OutcomeAccept,
				Attempts:   attempt,
			}, nil
		}

		if attempt == l.cfg.MaxAttempts {
			break
		}

		followUp := l.screener.BoundFollowUp(l.followUpFor(currentQuestion, assessment))
		meta := &models.TurnMetadata{
			QualityScore: &assessment.Score,
			Attempt:      attempt,
			Issues:       issueStrings(assessment.Issues),
		}
		if _, err := l.turns.AppendConversationTurn(ctx, sessionID, models.RoleAssistant, followUp, stage, meta); err != nil {
			return nil, err
		}

		currentQuestion = followUp
		attempt++
	}

	// FORCE_ACCEPT: budget exhausted, record escalation with final score.
	meta := &models.TurnMetadata{
		QualityScore: &lastAssessment.Score,
		Attempt:      l.cfg.MaxAttempts,
		Issues:       issueStrings(lastAssessment.Issues),
		Outcome:      string(OutcomeForceAccept),
	}
	if _, err := l.turns.AppendConversationTurn(ctx, sessionID, models.RoleSystem,
		fmt.Sprintf("attempts exhausted; force-accepting response with score %d", lastAssessment.Score), stage, meta); err != nil {
		return nil, err
	}
	log.Info("Force-accepting response", "score", lastAssessment.Score, "attempts", l.cfg.MaxAttempts)

	return &Result{
		Response:   lastResponse,
		Sanitized:  Sanitize(lastResponse),
		Assessment: lastAssessment,
		Outcome:    OutcomeForceAccept,
		Attempts:   l.cfg.MaxAttempts,
	}, nil
}

// evaluateWithTimeout bounds one evaluation by the hard wall-clock
// timeout, retrying the same response once on timeout before escalating.
func (l *Loop) evaluateWithTimeout(ctx context.Context, question, response string, stage, attempt int) (*models.QualityAssessment, error) {
	for try := 0; try < 2; try++ {
		evalCtx, cancel := context.WithTimeout(ctx, l.cfg.EvaluationTimeout)
		assessment, err := l.evaluator.Evaluate(evalCtx, question, response, quality.Context{Stage: stage, Attempt: attempt})
		cancel()
		if err == nil {
			return assessment, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			if try == 0 {
				slog.Warn("Evaluation timed out, retrying once", "stage", stage, "attempt", attempt)
				continue
			}
			return nil, ErrEvaluationTimeout
		}
		return nil, err
	}
	return nil, ErrEvaluationTimeout
}

// followUpFor prefers the evaluator's follow-up hint, falling back to a
// generic re-ask naming the detected issues.
func (l *Loop) followUpFor(question string, assessment *models.QualityAssessment) string {
	if assessment.FollowUp != "" {
		return assessment.FollowUp
	}
	if len(assessment.Issues) > 0 {
		return fmt.Sprintf("Your answer was flagged as %s. Could you be more specific? %s",
			assessment.Issues[0], question)
	}
	return fmt.Sprintf("Could you elaborate with concrete details? %s", question)
}

func issueStrings(issues []models.IssueTag) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = string(issue)
	}
	return out
}
