package models

import (
	"encoding/json"
	"fmt"
)

// MLArchetype classifies the learning problem declared in stage 1.
type MLArchetype string

const (
	ArchetypeClassification MLArchetype = "classification"
	ArchetypeRegression     MLArchetype = "regression"
	ArchetypeTimeseries     MLArchetype = "timeseries"
	ArchetypeAnomaly        MLArchetype = "anomaly"
	ArchetypeClustering     MLArchetype = "clustering"
	ArchetypeNLP            MLArchetype = "nlp"
	ArchetypeVision         MLArchetype = "vision"
	ArchetypeRecommendation MLArchetype = "recommendation"
)

// MLArchetypes lists every valid archetype value.
var MLArchetypes = []MLArchetype{
	ArchetypeClassification, ArchetypeRegression, ArchetypeTimeseries,
	ArchetypeAnomaly, ArchetypeClustering, ArchetypeNLP,
	ArchetypeVision, ArchetypeRecommendation,
}

// DecisionLoop declares how model output reaches a decision in stage 4.
type DecisionLoop string

const (
	LoopAutomated   DecisionLoop = "automated"
	LoopHumanInLoop DecisionLoop = "human_in_loop"
	LoopAdvisory    DecisionLoop = "advisory"
)

// DecisionLoops lists every valid decision-loop value.
var DecisionLoops = []DecisionLoop{LoopAutomated, LoopHumanInLoop, LoopAdvisory}

// ProblemStatement is the stage 1 deliverable.
type ProblemStatement struct {
	BusinessObjective        string      `json:"business_objective"`
	AINecessityJustification string      `json:"ai_necessity_justification"`
	InputFeatures            []string    `json:"input_features"`
	TargetOutput             string      `json:"target_output"`
	MLArchetype              MLArchetype `json:"ml_archetype"`
	OutOfScope               string      `json:"out_of_scope"`
	Constraints              string      `json:"constraints"`
}

// BusinessKPI is one business metric with its baseline, target, and
// measurement cadence.
type BusinessKPI struct {
	Name     string `json:"name"`
	Baseline string `json:"baseline"`
	Target   string `json:"target"`
	Cadence  string `json:"cadence"`
}

// MLMetric is one model metric with its acceptable range.
type MLMetric struct {
	Name            string `json:"name"`
	AcceptableRange string `json:"acceptable_range"`
}

// MetricLink maps an ML metric to the business KPIs it moves.
type MetricLink struct {
	MLMetric string   `json:"ml_metric"`
	KPIs     []string `json:"kpis"`
}

// MetricAlignment is the stage 2 deliverable.
type MetricAlignment struct {
	BusinessKPIs []BusinessKPI `json:"business_kpis"`
	MLMetrics    []MLMetric    `json:"ml_metrics"`
	Alignments   []MetricLink  `json:"alignments"`
	Tradeoffs    string        `json:"tradeoffs"`
}

// Data quality dimensions scored in stage 3, each in [0,1].
const (
	DimCompleteness = "completeness"
	DimAccuracy     = "accuracy"
	DimConsistency  = "consistency"
	DimTimeliness   = "timeliness"
	DimValidity     = "validity"
	DimUniqueness   = "uniqueness"
)

// QualityDimensions lists the six scored dimensions.
var QualityDimensions = []string{
	DimCompleteness, DimAccuracy, DimConsistency,
	DimTimeliness, DimValidity, DimUniqueness,
}

// DataGap records a known data deficiency and its mitigation.
type DataGap struct {
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
}

// DataQualityScorecard is the stage 3 deliverable. OverallScore is the
// arithmetic mean of the six dimension scores.
type DataQualityScorecard struct {
	AvailabilityReport string             `json:"availability_report"`
	DimensionScores    map[string]float64 `json:"dimension_scores"`
	OverallScore       float64            `json:"overall_score"`
	Gaps               []DataGap          `json:"gaps"`
}

// Persona describes one primary user of the system.
type Persona struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// UserContext is the stage 4 deliverable.
type UserContext struct {
	PrimaryUsers              []Persona    `json:"primary_users"`
	Proficiency               string       `json:"proficiency"`
	DecisionLoop              DecisionLoop `json:"decision_loop"`
	ExplainabilityRequirements string      `json:"explainability_requirements"`
	UnintendedConsequences    string       `json:"unintended_consequences"`
}

// Ethical principles assessed in stage 5.
const (
	PrincipleHumanAgency   = "human_agency"
	PrincipleRobustness    = "technical_robustness"
	PrinciplePrivacy       = "privacy"
	PrincipleTransparency  = "transparency"
	PrincipleFairness      = "fairness"
)

// EthicalPrinciples lists the five assessed principles.
var EthicalPrinciples = []string{
	PrincipleHumanAgency, PrincipleRobustness, PrinciplePrivacy,
	PrincipleTransparency, PrincipleFairness,
}

// PrincipleAssessment holds initial risk, mitigations, and residual risk
// for one ethical principle. Risk levels are integers 1..5.
type PrincipleAssessment struct {
	InitialRisk  int      `json:"initial_risk"`
	Mitigations  []string `json:"mitigations"`
	ResidualRisk int      `json:"residual_risk"`
}

// EthicalRiskReport is the stage 5 deliverable. GovernanceDecision is
// derived deterministically from the residual-risk map; see governance.go.
type EthicalRiskReport struct {
	Principles         map[string]PrincipleAssessment `json:"principles"`
	GovernanceDecision GovernanceDecision             `json:"governance_decision"`
}

// StageDeliverable is the tagged union over the five concrete stage
// records. Exactly one payload pointer is set, matching Stage.
type StageDeliverable struct {
	Stage        int                   `json:"stage"`
	Problem      *ProblemStatement     `json:"problem_statement,omitempty"`
	Metrics      *MetricAlignment      `json:"metric_alignment,omitempty"`
	DataQuality  *DataQualityScorecard `json:"data_quality_scorecard,omitempty"`
	Users        *UserContext          `json:"user_context,omitempty"`
	Ethics       *EthicalRiskReport    `json:"ethical_risk_report,omitempty"`
	FieldScores  map[string]int        `json:"field_scores,omitempty"`
}

// payload returns the stage-specific record for the deliverable's tag.
func (d *StageDeliverable) payload() (any, error) {
	switch d.Stage {
	case 1:
		if d.Problem != nil {
			return d.Problem, nil
		}
	case 2:
		if d.Metrics != nil {
			return d.Metrics, nil
		}
	case 3:
		if d.DataQuality != nil {
			return d.DataQuality, nil
		}
	case 4:
		if d.Users != nil {
			return d.Users, nil
		}
	case 5:
		if d.Ethics != nil {
			return d.Ethics, nil
		}
	default:
		return nil, fmt.Errorf("invalid stage number %d", d.Stage)
	}
	return nil, fmt.Errorf("deliverable payload missing for stage %d", d.Stage)
}

// FieldMap flattens the deliverable payload into named JSON fields, the
// shape the stage-gate validator and the stage_data table consume.
func (d *StageDeliverable) FieldMap() (map[string]json.RawMessage, error) {
	payload, err := d.payload()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage %d deliverable: %w", d.Stage, err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten stage %d deliverable: %w", d.Stage, err)
	}
	return fields, nil
}

// DeliverableFromFields reassembles a typed deliverable from stage_data
// field rows. The inverse of FieldMap.
func DeliverableFromFields(stage int, fields map[string]json.RawMessage) (*StageDeliverable, error) {
	obj := make(map[string]json.RawMessage, len(fields))
	for name, value := range fields {
		obj[name] = value
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble stage %d fields: %w", stage, err)
	}

	d := &StageDeliverable{Stage: stage}
	var dst any
	switch stage {
	case 1:
		d.Problem = &ProblemStatement{}
		dst = d.Problem
	case 2:
		d.Metrics = &MetricAlignment{}
		dst = d.Metrics
	case 3:
		d.DataQuality = &DataQualityScorecard{}
		dst = d.DataQuality
	case 4:
		d.Users = &UserContext{}
		dst = d.Users
	case 5:
		d.Ethics = &EthicalRiskReport{}
		dst = d.Ethics
	default:
		return nil, fmt.Errorf("invalid stage number %d", stage)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("failed to decode stage %d deliverable: %w", stage, err)
	}
	return d, nil
}
