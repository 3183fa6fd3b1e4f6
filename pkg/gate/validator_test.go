package gate

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterworks/charterd/pkg/models"
)

func validProblem() *models.StageDeliverable {
	return &models.StageDeliverable{
		Stage: 1,
		Problem: &models.ProblemStatement{
			BusinessObjective:        "reduce monthly churn from 5.2% to 3.5%",
			AINecessityJustification: "rules plateaued",
			InputFeatures:            []string{"tenure", "support_tickets", "usage_minutes"},
			TargetOutput:             "churn probability",
			MLArchetype:              models.ArchetypeClassification,
			OutOfScope:               "pricing",
			Constraints:              "daily batch",
		},
	}
}

func validMetrics() *models.StageDeliverable {
	return &models.StageDeliverable{
		Stage: 2,
		Metrics: &models.MetricAlignment{
			BusinessKPIs: []models.BusinessKPI{
				{Name: "churn", Baseline: "5.2%", Target: "3.5%", Cadence: "monthly"},
			},
			MLMetrics: []models.MLMetric{
				{Name: "recall", AcceptableRange: "0.75+"},
				{Name: "precision", AcceptableRange: "0.6+"},
			},
			Alignments: []models.MetricLink{
				{MLMetric: "recall", KPIs: []string{"churn"}},
				{MLMetric: "precision", KPIs: []string{"churn"}},
			},
			Tradeoffs: "recall over precision",
		},
	}
}

func validDataQuality() *models.StageDeliverable {
	scores := map[string]float64{}
	for _, dim := range models.QualityDimensions {
		scores[dim] = 0.8
	}
	return &models.StageDeliverable{
		Stage: 3,
		DataQuality: &models.DataQualityScorecard{
			AvailabilityReport: "warehouse has 24 months of events",
			DimensionScores:    scores,
			OverallScore:       0.8,
			Gaps: []models.DataGap{
				{Description: "missing device data", Mitigation: "join against CRM export"},
			},
		},
	}
}

func validUsers() *models.StageDeliverable {
	return &models.StageDeliverable{
		Stage: 4,
		Users: &models.UserContext{
			PrimaryUsers:               []models.Persona{{Name: "Retention analyst", Role: "analyst"}},
			Proficiency:                "intermediate",
			DecisionLoop:               models.LoopHumanInLoop,
			ExplainabilityRequirements: "per-customer feature attribution",
			UnintendedConsequences:     "over-targeting discounts",
		},
	}
}

func validEthics() *models.StageDeliverable {
	principles := map[string]models.PrincipleAssessment{}
	for _, p := range models.EthicalPrinciples {
		principles[p] = models.PrincipleAssessment{InitialRisk: 2, Mitigations: []string{"review"}, ResidualRisk: 1}
	}
	return &models.StageDeliverable{
		Stage: 5,
		Ethics: &models.EthicalRiskReport{
			Principles:         principles,
			GovernanceDecision: models.DeriveGovernanceDecision(principles),
		},
	}
}

func validDeliverable(stage int) *models.StageDeliverable {
	switch stage {
	case 1:
		return validProblem()
	case 2:
		return validMetrics()
	case 3:
		return validDataQuality()
	case 4:
		return validUsers()
	default:
		return validEthics()
	}
}

func TestValidate_AcceptsCompleteDeliverables(t *testing.T) {
	v := NewValidator()
	for stage := 1; stage <= 5; stage++ {
		t.Run(fmt.Sprintf("stage %d", stage), func(t *testing.T) {
			result := v.Validate(stage, validDeliverable(stage))
			assert.True(t, result.CanProceed, "concerns: %v missing: %v", result.Concerns, result.MissingItems)
			assert.InDelta(t, 1.0, result.Completeness, 0.001)
			assert.Empty(t, result.MissingItems)
		})
	}
}

func TestValidate_MissingMLMetricsFailsGate(t *testing.T) {
	v := NewValidator()
	d := validMetrics()
	d.Metrics.MLMetrics = nil
	d.Metrics.Alignments = nil

	result := v.Validate(2, d)
	assert.False(t, result.CanProceed)
	assert.Contains(t, result.MissingItems, "ml_metrics")
	assert.Less(t, result.Completeness, 0.9)
}

func TestValidate_CrossFieldRules(t *testing.T) {
	v := NewValidator()

	t.Run("kpi missing baseline", func(t *testing.T) {
		d := validMetrics()
		d.Metrics.BusinessKPIs[0].Baseline = ""
		result := v.Validate(2, d)
		assert.False(t, result.CanProceed)
		assert.NotEmpty(t, result.Concerns)
	})

	t.Run("unaligned ml metric", func(t *testing.T) {
		d := validMetrics()
		d.Metrics.Alignments = d.Metrics.Alignments[:1] // precision left unaligned
		result := v.Validate(2, d)
		assert.False(t, result.CanProceed)
	})

	t.Run("overall score not the mean", func(t *testing.T) {
		d := validDataQuality()
		d.DataQuality.OverallScore = 0.95
		result := v.Validate(3, d)
		assert.False(t, result.CanProceed)
	})

	t.Run("dimension out of range", func(t *testing.T) {
		d := validDataQuality()
		d.DataQuality.DimensionScores[models.DimAccuracy] = 1.4
		result := v.Validate(3, d)
		assert.False(t, result.CanProceed)
	})

	t.Run("unknown archetype", func(t *testing.T) {
		d := validProblem()
		d.Problem.MLArchetype = "astrology"
		result := v.Validate(1, d)
		assert.False(t, result.CanProceed)
	})

	t.Run("single input feature", func(t *testing.T) {
		d := validProblem()
		d.Problem.InputFeatures = []string{"tenure"}
		result := v.Validate(1, d)
		assert.False(t, result.CanProceed)
	})

	t.Run("governance decision inconsistent with residual risks", func(t *testing.T) {
		d := validEthics()
		d.Ethics.GovernanceDecision = models.DecisionHalt
		result := v.Validate(5, d)
		assert.False(t, result.CanProceed)
	})

	t.Run("gap without mitigation", func(t *testing.T) {
		d := validDataQuality()
		d.DataQuality.Gaps = append(d.DataQuality.Gaps, models.DataGap{Description: "no labels"})
		result := v.Validate(3, d)
		assert.False(t, result.CanProceed)
	})
}

func TestValidate_NilAndMismatchedDeliverables(t *testing.T) {
	v := NewValidator()

	result := v.Validate(1, nil)
	assert.False(t, result.CanProceed)

	d := validProblem()
	result = v.Validate(2, d)
	assert.False(t, result.CanProceed)
}

// Property-style check: a valid deliverable passes; blanking any one
// mandatory string (or list) fails the gate and names that field.
func TestValidate_MutatedMandatoryFieldRejected(t *testing.T) {
	v := NewValidator()
	rng := rand.New(rand.NewSource(42))

	mutations := []struct {
		stage  int
		field  string
		mutate func(d *models.StageDeliverable)
	}{
		{1, "business_objective", func(d *models.StageDeliverable) { d.Problem.BusinessObjective = "" }},
		{1, "input_features", func(d *models.StageDeliverable) { d.Problem.InputFeatures = nil }},
		{1, "target_output", func(d *models.StageDeliverable) { d.Problem.TargetOutput = "" }},
		{1, "constraints", func(d *models.StageDeliverable) { d.Problem.Constraints = "" }},
		{2, "business_kpis", func(d *models.StageDeliverable) { d.Metrics.BusinessKPIs = nil }},
		{2, "tradeoffs", func(d *models.StageDeliverable) { d.Metrics.Tradeoffs = "" }},
		{3, "availability_report", func(d *models.StageDeliverable) { d.DataQuality.AvailabilityReport = "" }},
		{3, "dimension_scores", func(d *models.StageDeliverable) { d.DataQuality.DimensionScores = nil }},
		{4, "primary_users", func(d *models.StageDeliverable) { d.Users.PrimaryUsers = nil }},
		{4, "proficiency", func(d *models.StageDeliverable) { d.Users.Proficiency = "" }},
		{5, "principles", func(d *models.StageDeliverable) { d.Ethics.Principles = nil }},
	}

	// Shuffle to vary the order across the table without changing coverage.
	rng.Shuffle(len(mutations), func(i, j int) { mutations[i], mutations[j] = mutations[j], mutations[i] })

	for _, m := range mutations {
		t.Run(fmt.Sprintf("stage %d without %s", m.stage, m.field), func(t *testing.T) {
			d := validDeliverable(m.stage)
			require.True(t, v.Validate(m.stage, d).CanProceed)

			m.mutate(d)
			result := v.Validate(m.stage, d)
			assert.False(t, result.CanProceed)
			assert.Contains(t, result.MissingItems, m.field)
		})
	}
}
