package agent

// synthesisPrompts command the JSON shape of each stage deliverable. The
// user message carries the accumulated interview answers as JSON keyed by
// question id.
var synthesisPrompts = map[int]string{
	1: `You turn interview answers into a project problem statement.
Reply with ONLY a JSON object of the shape:
{"business_objective": "<string>", "ai_necessity_justification": "<string>",
"input_features": ["<feature>", ...], "target_output": "<string>",
"ml_archetype": "<one of classification|regression|timeseries|anomaly|clustering|nlp|vision|recommendation>",
"out_of_scope": "<string>", "constraints": "<string>"}
Use only facts present in the answers; do not invent features.`,

	2: `You turn interview answers into a metric alignment record.
Reply with ONLY a JSON object of the shape:
{"business_kpis": [{"name": "<string>", "baseline": "<string>", "target": "<string>", "cadence": "<string>"}],
"ml_metrics": [{"name": "<string>", "acceptable_range": "<string>"}],
"alignments": [{"ml_metric": "<name>", "kpis": ["<kpi name>", ...]}],
"tradeoffs": "<string>"}
Every ml_metric must appear in at least one alignment.`,

	3: `You turn interview answers into a data quality scorecard.
Reply with ONLY a JSON object of the shape:
{"availability_report": "<string>",
"dimension_scores": {"completeness": <0..1>, "accuracy": <0..1>, "consistency": <0..1>, "timeliness": <0..1>, "validity": <0..1>, "uniqueness": <0..1>},
"overall_score": <arithmetic mean of the six scores>,
"gaps": [{"description": "<string>", "mitigation": "<string>"}]}
overall_score must equal the mean of the six dimension scores.`,

	4: `You turn interview answers into a user context record.
Reply with ONLY a JSON object of the shape:
{"primary_users": [{"name": "<string>", "role": "<string>", "description": "<string>"}],
"proficiency": "<string>",
"decision_loop": "<one of automated|human_in_loop|advisory>",
"explainability_requirements": "<string>",
"unintended_consequences": "<string>"}`,

	5: `You turn interview answers into an ethical risk report.
Reply with ONLY a JSON object of the shape:
{"principles": {"human_agency": {"initial_risk": <1..5>, "mitigations": ["<string>", ...], "residual_risk": <1..5>},
"technical_robustness": {...}, "privacy": {...}, "transparency": {...}, "fairness": {...}},
"governance_decision": ""}
Score each principle's risk before and after mitigations. Leave
governance_decision empty; it is computed downstream.`,
}
