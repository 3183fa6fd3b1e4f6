// Package gate implements the stage-gate validator: a pure completeness
// and cross-field check over a stage deliverable. No LLM calls, no I/O.
package gate

import (
	"fmt"
	"math"

	"github.com/charterworks/charterd/pkg/models"
)

// minCompleteness is the completeness score a deliverable must reach for
// its gate to pass.
const minCompleteness = 0.9

// Validator checks deliverable completeness against each stage's static
// requirement record.
type Validator struct{}

// NewValidator creates a stage-gate validator.
func NewValidator() *Validator { return &Validator{} }

// Validate checks the deliverable for the given stage and returns the gate
// verdict. can_proceed iff completeness >= 0.9 and no cross-field rule is
// violated.
func (v *Validator) Validate(stage int, deliverable *models.StageDeliverable) *models.StageValidation {
	if deliverable == nil || deliverable.Stage != stage {
		return &models.StageValidation{
			CanProceed:   false,
			Completeness: 0,
			Concerns:     []string{fmt.Sprintf("deliverable missing or tagged for a different stage than %d", stage)},
		}
	}

	var result checkResult
	switch stage {
	case 1:
		result = checkProblemStatement(deliverable.Problem)
	case 2:
		result = checkMetricAlignment(deliverable.Metrics)
	case 3:
		result = checkDataQuality(deliverable.DataQuality)
	case 4:
		result = checkUserContext(deliverable.Users)
	case 5:
		result = checkEthicalRisk(deliverable.Ethics)
	default:
		return &models.StageValidation{
			CanProceed: false,
			Concerns:   []string{fmt.Sprintf("unknown stage %d", stage)},
		}
	}

	completeness := 1.0
	if result.mandatory > 0 {
		completeness = 1 - float64(len(result.missing))/float64(result.mandatory)
	}
	// Guard against float drift on e.g. 1 - 1/6.
	completeness = math.Round(completeness*100) / 100

	validation := &models.StageValidation{
		CanProceed:   completeness >= minCompleteness && len(result.concerns) == 0,
		Completeness: completeness,
		MissingItems: result.missing,
		Concerns:     result.concerns,
	}
	for _, item := range result.missing {
		validation.Recommendations = append(validation.Recommendations,
			fmt.Sprintf("provide a value for %q", item))
	}
	validation.Recommendations = append(validation.Recommendations, result.recommendations...)
	return validation
}

// checkResult accumulates one stage's findings.
type checkResult struct {
	mandatory       int
	missing         []string
	concerns        []string
	recommendations []string
}

func (r *checkResult) requireString(name, value string) {
	r.mandatory++
	if value == "" {
		r.missing = append(r.missing, name)
	}
}

func (r *checkResult) requireList(name string, length, min int) {
	r.mandatory++
	if length == 0 {
		r.missing = append(r.missing, name)
		return
	}
	if length < min {
		r.concerns = append(r.concerns,
			fmt.Sprintf("%s requires at least %d entries, got %d", name, min, length))
	}
}

func checkProblemStatement(p *models.ProblemStatement) checkResult {
	var r checkResult
	if p == nil {
		r.mandatory = 7
		r.missing = []string{"business_objective", "ai_necessity_justification", "input_features",
			"target_output", "ml_archetype", "out_of_scope", "constraints"}
		return r
	}

	r.requireString("business_objective", p.BusinessObjective)
	r.requireString("ai_necessity_justification", p.AINecessityJustification)
	r.requireList("input_features", len(p.InputFeatures), 2)
	r.requireString("target_output", p.TargetOutput)
	r.requireString("ml_archetype", string(p.MLArchetype))
	r.requireString("out_of_scope", p.OutOfScope)
	r.requireString("constraints", p.Constraints)

	if p.MLArchetype != "" {
		valid := false
		for _, a := range models.MLArchetypes {
			if p.MLArchetype == a {
				valid = true
				break
			}
		}
		if !valid {
			r.concerns = append(r.concerns,
				fmt.Sprintf("ml_archetype %q is not a recognized archetype", p.MLArchetype))
		}
	}
	return r
}

func checkMetricAlignment(m *models.MetricAlignment) checkResult {
	var r checkResult
	if m == nil {
		r.mandatory = 4
		r.missing = []string{"business_kpis", "ml_metrics", "alignments", "tradeoffs"}
		return r
	}

	r.requireList("business_kpis", len(m.BusinessKPIs), 1)
	r.requireList("ml_metrics", len(m.MLMetrics), 2)
	r.requireList("alignments", len(m.Alignments), 1)
	r.requireString("tradeoffs", m.Tradeoffs)

	for i, kpi := range m.BusinessKPIs {
		if kpi.Baseline == "" || kpi.Target == "" || kpi.Cadence == "" {
			r.concerns = append(r.concerns,
				fmt.Sprintf("business_kpis[%d] (%s) must declare baseline, target, and cadence", i, kpi.Name))
		}
	}

	// Every ML metric must map to at least one KPI.
	kpiNames := make(map[string]bool, len(m.BusinessKPIs))
	for _, kpi := range m.BusinessKPIs {
		kpiNames[kpi.Name] = true
	}
	aligned := make(map[string]bool, len(m.Alignments))
	for _, link := range m.Alignments {
		if len(link.KPIs) == 0 {
			r.concerns = append(r.concerns,
				fmt.Sprintf("alignment for %q maps to no KPI", link.MLMetric))
			continue
		}
		aligned[link.MLMetric] = true
		for _, kpi := range link.KPIs {
			if !kpiNames[kpi] {
				r.concerns = append(r.concerns,
					fmt.Sprintf("alignment for %q references unknown KPI %q", link.MLMetric, kpi))
			}
		}
	}
	for _, metric := range m.MLMetrics {
		if !aligned[metric.Name] {
			r.concerns = append(r.concerns,
				fmt.Sprintf("ml_metric %q is not aligned to any business KPI", metric.Name))
		}
	}
	return r
}

func checkDataQuality(d *models.DataQualityScorecard) checkResult {
	var r checkResult
	if d == nil {
		r.mandatory = 4
		r.missing = []string{"availability_report", "dimension_scores", "overall_score", "gaps"}
		return r
	}

	r.requireString("availability_report", d.AvailabilityReport)
	r.requireList("dimension_scores", len(d.DimensionScores), len(models.QualityDimensions))
	r.mandatory++ // overall_score
	r.mandatory++ // gaps (may be an empty list, but the field must exist: zero gaps is valid)

	var sum float64
	present := 0
	for _, dim := range models.QualityDimensions {
		score, ok := d.DimensionScores[dim]
		if !ok {
			r.concerns = append(r.concerns, fmt.Sprintf("dimension_scores missing %q", dim))
			continue
		}
		if score < 0 || score > 1 {
			r.concerns = append(r.concerns,
				fmt.Sprintf("dimension_scores[%s] = %.2f is outside [0,1]", dim, score))
			continue
		}
		sum += score
		present++
	}

	if present == len(models.QualityDimensions) {
		mean := sum / float64(len(models.QualityDimensions))
		if math.Abs(mean-d.OverallScore) > 0.005 {
			r.concerns = append(r.concerns,
				fmt.Sprintf("overall_score %.3f does not equal the dimension mean %.3f", d.OverallScore, mean))
		}
	}

	for i, gap := range d.Gaps {
		if gap.Mitigation == "" {
			r.concerns = append(r.concerns,
				fmt.Sprintf("gaps[%d] (%s) has no mitigation", i, gap.Description))
		}
	}
	return r
}

func checkUserContext(u *models.UserContext) checkResult {
	var r checkResult
	if u == nil {
		r.mandatory = 5
		r.missing = []string{"primary_users", "proficiency", "decision_loop",
			"explainability_requirements", "unintended_consequences"}
		return r
	}

	r.requireList("primary_users", len(u.PrimaryUsers), 1)
	r.requireString("proficiency", u.Proficiency)
	r.requireString("decision_loop", string(u.DecisionLoop))
	r.requireString("explainability_requirements", u.ExplainabilityRequirements)
	r.requireString("unintended_consequences", u.UnintendedConsequences)

	if u.DecisionLoop != "" {
		valid := false
		for _, dl := range models.DecisionLoops {
			if u.DecisionLoop == dl {
				valid = true
				break
			}
		}
		if !valid {
			r.concerns = append(r.concerns,
				fmt.Sprintf("decision_loop %q is not one of automated, human_in_loop, advisory", u.DecisionLoop))
		}
	}

	// A fully automated loop with explainability requirements stated gets a
	// recommendation, not a concern, so it does not block the gate.
	if u.DecisionLoop == models.LoopAutomated && u.ExplainabilityRequirements != "" {
		r.recommendations = append(r.recommendations,
			"automated decision loops warrant reviewing explainability obligations with compliance")
	}
	return r
}

func checkEthicalRisk(e *models.EthicalRiskReport) checkResult {
	var r checkResult
	if e == nil {
		r.mandatory = 2
		r.missing = []string{"principles", "governance_decision"}
		return r
	}

	r.requireList("principles", len(e.Principles), len(models.EthicalPrinciples))
	r.requireString("governance_decision", string(e.GovernanceDecision))

	for _, principle := range models.EthicalPrinciples {
		assessment, ok := e.Principles[principle]
		if !ok {
			r.concerns = append(r.concerns, fmt.Sprintf("principles missing %q", principle))
			continue
		}
		if assessment.InitialRisk < 1 || assessment.InitialRisk > 5 {
			r.concerns = append(r.concerns,
				fmt.Sprintf("principles[%s].initial_risk %d is outside 1..5", principle, assessment.InitialRisk))
		}
		if assessment.ResidualRisk < 1 || assessment.ResidualRisk > 5 {
			r.concerns = append(r.concerns,
				fmt.Sprintf("principles[%s].residual_risk %d is outside 1..5", principle, assessment.ResidualRisk))
		}
	}

	// The recorded decision must match the deterministic rule.
	if len(e.Principles) > 0 && e.GovernanceDecision != "" {
		expected := models.DeriveGovernanceDecision(e.Principles)
		if e.GovernanceDecision != expected {
			r.concerns = append(r.concerns,
				fmt.Sprintf("governance_decision %q does not match the derived decision %q",
					e.GovernanceDecision, expected))
		}
	}
	return r
}
