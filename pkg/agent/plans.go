package agent

// Question is one template in a stage's question plan. ID is the stable
// key answers are stored under; templates may reference earlier answers in
// the same stage as {id}.
type Question struct {
	ID       string
	Template string
}

// QuestionGroup is an ordered list of related questions.
type QuestionGroup struct {
	Name      string
	Questions []Question
}

// Plan is a stage's declarative interview script. The plan is data, not
// code.
type Plan struct {
	Stage  int
	Title  string
	Groups []QuestionGroup
}

// stagePlans is the interview script for all five stages.
var stagePlans = map[int]Plan{
	1: {
		Stage: 1,
		Title: "Problem Statement",
		Groups: []QuestionGroup{
			{
				Name: "objective",
				Questions: []Question{
					{ID: "business_objective", Template: "What measurable business outcome should this project achieve, from what baseline to what target, and by when?"},
					{ID: "ai_necessity_justification", Template: "Why does reaching \"{business_objective}\" require a learned model rather than rules or a report?"},
				},
			},
			{
				Name: "shape",
				Questions: []Question{
					{ID: "input_features", Template: "Which input signals would the model consume? Name at least two concrete features and where each lives today."},
					{ID: "target_output", Template: "What exactly should the model output, at what granularity and frequency?"},
					{ID: "ml_archetype", Template: "Which problem family fits best: classification, regression, timeseries, anomaly, clustering, nlp, vision, or recommendation — and why?"},
				},
			},
			{
				Name: "boundaries",
				Questions: []Question{
					{ID: "out_of_scope", Template: "What is explicitly out of scope for this project?"},
					{ID: "constraints", Template: "What technical, regulatory, or timing constraints must the solution respect?"},
				},
			},
		},
	},
	2: {
		Stage: 2,
		Title: "Metric Alignment",
		Groups: []QuestionGroup{
			{
				Name: "business",
				Questions: []Question{
					{ID: "business_kpis", Template: "Which business KPIs will judge success? Give each a current baseline, a target, and a measurement cadence."},
				},
			},
			{
				Name: "model",
				Questions: []Question{
					{ID: "ml_metrics", Template: "Which model metrics will you track (at least two), and what range is acceptable for each?"},
					{ID: "alignments", Template: "For each model metric you named, which KPI does it move, and how?"},
					{ID: "tradeoffs", Template: "Where do the metrics pull against each other, and which side wins when they do?"},
				},
			},
		},
	},
	3: {
		Stage: 3,
		Title: "Data Quality Scorecard",
		Groups: []QuestionGroup{
			{
				Name: "availability",
				Questions: []Question{
					{ID: "availability_report", Template: "For each input signal you rely on, where does the data live, how far back does it go, and who owns access?"},
				},
			},
			{
				Name: "quality",
				Questions: []Question{
					{ID: "dimension_scores", Template: "Rate your data from 0 to 1 on completeness, accuracy, consistency, timeliness, validity, and uniqueness — with a sentence of evidence per dimension."},
					{ID: "gaps", Template: "What known data gaps exist, and what is the mitigation for each?"},
				},
			},
		},
	},
	4: {
		Stage: 4,
		Title: "User Context",
		Groups: []QuestionGroup{
			{
				Name: "users",
				Questions: []Question{
					{ID: "primary_users", Template: "Who will use the model's output day to day? Describe each persona and their role."},
					{ID: "proficiency", Template: "How technically proficient are those users with statistical or model-driven tooling?"},
				},
			},
			{
				Name: "decisions",
				Questions: []Question{
					{ID: "decision_loop", Template: "Will decisions be fully automated, human-in-the-loop, or advisory only?"},
					{ID: "explainability_requirements", Template: "What will users need to see to trust and act on a prediction?"},
					{ID: "unintended_consequences", Template: "What could go wrong for users or customers if the model is trusted too much?"},
				},
			},
		},
	},
	5: {
		Stage: 5,
		Title: "Ethical Risk Report",
		Groups: []QuestionGroup{
			{
				Name: "principles",
				Questions: []Question{
					{ID: "human_agency", Template: "How could this system reduce people's control over decisions that affect them, and what limits that?"},
					{ID: "technical_robustness", Template: "How could the system fail technically in ways that cause harm, and what mitigations exist?"},
					{ID: "privacy", Template: "What personal data is involved, and how is it protected across training and serving?"},
					{ID: "transparency", Template: "How will affected people know a model was involved and contest its output?"},
					{ID: "fairness", Template: "Which groups could be treated unequally by this system, and how will you detect and correct that?"},
				},
			},
		},
	},
}

// PlanFor returns the question plan for a stage.
func PlanFor(stage int) (Plan, bool) {
	plan, ok := stagePlans[stage]
	return plan, ok
}
