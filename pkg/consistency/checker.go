// Package consistency detects cross-stage contradictions before charter
// emission. Deterministic rules run first; a semantic pass consults the
// BALANCED tier and its findings are merged.
package consistency

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

// Completer is the slice of the LLM router the checker needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Checker runs the fixed cross-stage rule set over all five deliverables.
type Checker struct {
	router Completer
}

// NewChecker creates a consistency checker. router may be nil, in which
// case only the deterministic rules run.
func NewChecker(router Completer) *Checker {
	return &Checker{router: router}
}

// Check runs every rule and derives overall feasibility:
// INFEASIBLE on any critical contradiction, LOW at >=3 non-critical,
// MEDIUM at 1-2, HIGH otherwise.
func (c *Checker) Check(ctx context.Context, deliverables map[int]*models.StageDeliverable) (*models.ConsistencyReport, error) {
	report := &models.ConsistencyReport{}

	for stage := 1; stage <= 5; stage++ {
		if deliverables[stage] == nil {
			return nil, fmt.Errorf("stage %d deliverable missing; consistency requires all five stages", stage)
		}
	}

	report.Contradictions = append(report.Contradictions, checkDataCoversFeatures(deliverables)...)
	report.Contradictions = append(report.Contradictions, checkMetricsMatchArchetype(deliverables)...)
	report.Contradictions = append(report.Contradictions, checkAutomationAgainstAgencyRisk(deliverables)...)
	report.RiskAreas = append(report.RiskAreas, checkDataQualityFloor(deliverables)...)

	if c.router != nil {
		semantic, err := c.semanticPass(ctx, deliverables)
		if err != nil {
			return nil, err
		}
		report.Contradictions = append(report.Contradictions, semantic.Contradictions...)
		report.RiskAreas = append(report.RiskAreas, semantic.RiskAreas...)
		report.Recommendations = append(report.Recommendations, semantic.Recommendations...)
	}

	critical := 0
	nonCritical := 0
	for _, contradiction := range report.Contradictions {
		if contradiction.Critical {
			critical++
		} else {
			nonCritical++
		}
	}

	switch {
	case critical > 0:
		report.Feasibility = models.FeasibilityInfeasible
	case nonCritical >= 3:
		report.Feasibility = models.FeasibilityLow
	case nonCritical >= 1:
		report.Feasibility = models.FeasibilityMedium
	default:
		report.Feasibility = models.FeasibilityHigh
	}
	report.IsConsistent = len(report.Contradictions) == 0

	slog.Info("Consistency check complete",
		"critical", critical,
		"non_critical", nonCritical,
		"feasibility", report.Feasibility)
	return report, nil
}

// checkDataCoversFeatures verifies stage 3's availability report covers
// every input feature stage 1 depends on. An uncovered feature is a
// critical contradiction: the model cannot be trained without its inputs.
func checkDataCoversFeatures(d map[int]*models.StageDeliverable) []models.Contradiction {
	problem := d[1].Problem
	scorecard := d[3].DataQuality
	if problem == nil || scorecard == nil {
		return nil
	}

	report := strings.ToLower(scorecard.AvailabilityReport)
	var out []models.Contradiction
	for _, feature := range problem.InputFeatures {
		needle := strings.ToLower(strings.TrimSpace(feature))
		if needle == "" {
			continue
		}
		if !strings.Contains(report, needle) {
			out = append(out, models.Contradiction{
				Description: fmt.Sprintf("input feature %q has no coverage in the data availability report", feature),
				Stages:      []int{1, 3},
				Critical:    true,
			})
		}
	}
	return out
}

// Metric families used to sanity-check metric/archetype fit.
var (
	classificationMetrics = []string{"precision", "recall", "f1", "auc", "accuracy"}
	regressionMetrics     = []string{"rmse", "mae", "mape", "r2", "r-squared"}
)

// checkMetricsMatchArchetype flags ML metrics that cannot be measured for
// the declared archetype (e.g. RMSE for a classifier).
func checkMetricsMatchArchetype(d map[int]*models.StageDeliverable) []models.Contradiction {
	problem := d[1].Problem
	metrics := d[2].Metrics
	if problem == nil || metrics == nil {
		return nil
	}

	var wrongFamily []string
	switch problem.MLArchetype {
	case models.ArchetypeClassification, models.ArchetypeAnomaly:
		wrongFamily = regressionMetrics
	case models.ArchetypeRegression, models.ArchetypeTimeseries:
		wrongFamily = classificationMetrics
	default:
		return nil
	}

	var out []models.Contradiction
	for _, metric := range metrics.MLMetrics {
		name := strings.ToLower(metric.Name)
		for _, bad := range wrongFamily {
			if strings.Contains(name, bad) {
				out = append(out, models.Contradiction{
					Description: fmt.Sprintf("ml_metric %q does not fit the declared %s archetype", metric.Name, problem.MLArchetype),
					Stages:      []int{1, 2},
					Critical:    false,
				})
				break
			}
		}
	}
	return out
}

// checkAutomationAgainstAgencyRisk flags a fully automated decision loop
// combined with elevated residual human-agency risk.
func checkAutomationAgainstAgencyRisk(d map[int]*models.StageDeliverable) []models.Contradiction {
	users := d[4].Users
	ethics := d[5].Ethics
	if users == nil || ethics == nil {
		return nil
	}
	if users.DecisionLoop != models.LoopAutomated {
		return nil
	}
	agency, ok := ethics.Principles[models.PrincipleHumanAgency]
	if !ok || agency.ResidualRisk < 3 {
		return nil
	}
	return []models.Contradiction{{
		Description: fmt.Sprintf("automated decision loop with residual human-agency risk %d requires a human checkpoint", agency.ResidualRisk),
		Stages:      []int{4, 5},
		Critical:    false,
	}}
}

// checkDataQualityFloor surfaces weak overall data quality as a risk area.
func checkDataQualityFloor(d map[int]*models.StageDeliverable) []string {
	scorecard := d[3].DataQuality
	if scorecard == nil || scorecard.OverallScore >= 0.4 {
		return nil
	}
	return []string{fmt.Sprintf("overall data quality %.2f is below the 0.40 floor expected for the declared targets", scorecard.OverallScore)}
}

const semanticSystemPrompt = `You review a five-part AI project definition for internal contradictions:
problem statement, metric alignment, data quality scorecard, user context,
and ethical risk report. Identify statements in one part that conflict
with another part.

Reply with ONLY a JSON object of the shape:
{"contradictions": [{"description": "<conflict>", "stages": [<ints 1-5>],
"critical": <bool>}], "risk_areas": [<strings>], "recommendations": [<strings>]}`

// semanticReply is the JSON shape the semantic pass commands.
type semanticReply struct {
	Contradictions []models.Contradiction `json:"contradictions"`
	RiskAreas      []string               `json:"risk_areas"`
	Recommendations []string              `json:"recommendations"`
}

// semanticPass consults the BALANCED tier with all five deliverables and
// parses its findings. A malformed reply is retried once; persistent
// failure degrades to the deterministic findings with a note.
func (c *Checker) semanticPass(ctx context.Context, deliverables map[int]*models.StageDeliverable) (*semanticReply, error) {
	payload, err := json.MarshalIndent(deliverables, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize deliverables: %w", err)
	}

	var lastErr error
	for try := 0; try < 2; try++ {
		completion, err := c.router.Complete(ctx, llm.Request{
			System: semanticSystemPrompt,
			Prompt: string(payload),
			Tier:   config.TierBalanced,
		})
		if err != nil {
			return nil, err
		}

		reply, perr := parseSemanticReply(completion.Text)
		if perr == nil {
			return reply, nil
		}
		lastErr = perr
	}

	slog.Warn("Semantic consistency pass unparseable, using deterministic findings only", "error", lastErr)
	return &semanticReply{
		Recommendations: []string{"semantic consistency review was inconclusive; re-run the check"},
	}, nil
}

func parseSemanticReply(text string) (*semanticReply, error) {
	trimmed := strings.TrimSpace(text)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", llm.ErrMalformedReply)
	}
	var reply semanticReply
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedReply, err)
	}
	return &reply, nil
}
