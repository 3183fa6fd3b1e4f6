// Package quality scores user responses against the interview's quality
// criteria by consulting the FAST tier.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charterworks/charterd/pkg/config"
	"github.com/charterworks/charterd/pkg/llm"
	"github.com/charterworks/charterd/pkg/models"
)

// Completer is the slice of the LLM router the evaluator needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Context carries evaluation context. It deliberately has no session
// identifier: session ids never cross the LLM boundary.
type Context struct {
	Stage   int
	Attempt int
}

// Evaluator scores one response 0–10 and emits issues and follow-up hints.
type Evaluator struct {
	router    Completer
	threshold int
}

// NewEvaluator creates an evaluator with the configured quality threshold.
func NewEvaluator(router Completer, cfg config.InterviewConfig) *Evaluator {
	return &Evaluator{router: router, threshold: cfg.QualityThreshold}
}

const evaluatorSystemPrompt = `You grade one answer given during a structured project interview.
Score the answer 0-10 against five criteria: specificity (concrete nouns,
numbers), completeness (addresses every sub-clause of the question),
relevance (topic match), clarity (unambiguous), and evidence (examples,
measurements).

Reply with ONLY a JSON object, no prose, of the shape:
{"score": <integer 0-10>, "issues": [<zero or more of "too_vague",
"missing_metrics", "off_topic", "ambiguous", "unsupported", "trivial",
"too_short">], "follow_up": "<one short question that would elicit the
missing detail, or empty if none needed>"}`

// evaluatorReply is the JSON shape the prompt commands.
type evaluatorReply struct {
	Score    int      `json:"score"`
	Issues   []string `json:"issues"`
	FollowUp string   `json:"follow_up"`
}

// Evaluate scores one (question, response) pair. Parse failures yield
// score 0 with issue "unparseable" rather than an error; the caller's loop
// handles the retry. Router errors propagate.
func (e *Evaluator) Evaluate(ctx context.Context, question, response string, ec Context) (*models.QualityAssessment, error) {
	prompt := fmt.Sprintf(
		"Interview stage: %d\nAttempt: %d\n\nQuestion:\n\"\"\"%s\"\"\"\n\nAnswer:\n\"\"\"%s\"\"\"",
		ec.Stage, ec.Attempt, question, response)

	completion, err := e.router.Complete(ctx, llm.Request{
		System: evaluatorSystemPrompt,
		Prompt: prompt,
		Tier:   config.TierFast,
	})
	if err != nil {
		return nil, err
	}

	reply, err := parseReply(completion.Text)
	if err != nil {
		slog.Warn("Evaluator reply unparseable, scoring 0",
			"stage", ec.Stage, "attempt", ec.Attempt, "error", err)
		return &models.QualityAssessment{
			Score:      0,
			Acceptable: false,
			Issues:     []models.IssueTag{models.IssueUnparseable},
			Attempt:    ec.Attempt,
		}, nil
	}

	score := reply.Score
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}

	return &models.QualityAssessment{
		Score:      score,
		Acceptable: score >= e.threshold,
		Issues:     knownIssues(reply.Issues),
		FollowUp:   strings.TrimSpace(reply.FollowUp),
		Attempt:    ec.Attempt,
	}, nil
}

// Threshold returns the configured acceptance threshold.
func (e *Evaluator) Threshold() int { return e.threshold }

// parseReply decodes the commanded JSON shape, tolerating markdown code
// fences around the object.
func parseReply(text string) (*evaluatorReply, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	// Tolerate leading/trailing prose by extracting the outermost object.
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", llm.ErrMalformedReply)
	}

	var reply evaluatorReply
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedReply, err)
	}
	return &reply, nil
}

// knownIssues filters the reply down to the closed tag set, preserving
// order.
func knownIssues(raw []string) []models.IssueTag {
	var out []models.IssueTag
	for _, issue := range raw {
		tag := models.IssueTag(strings.TrimSpace(issue))
		for _, known := range models.KnownIssueTags {
			if tag == known {
				out = append(out, tag)
				break
			}
		}
	}
	return out
}
