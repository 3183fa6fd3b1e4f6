package models

// GovernanceDecision is the deterministic verdict computed from stage 5
// residual risks and recorded on the charter.
type GovernanceDecision string

const (
	DecisionProceed           GovernanceDecision = "PROCEED"
	DecisionProceedMonitoring GovernanceDecision = "PROCEED_WITH_MONITORING"
	DecisionRevise            GovernanceDecision = "REVISE"
	DecisionSubmitToCommittee GovernanceDecision = "SUBMIT_TO_COMMITTEE"
	DecisionHalt              GovernanceDecision = "HALT"
)

// DeriveGovernanceDecision applies the fixed decision rule to the
// residual-risk map. Pure: same input always yields the same decision.
//
//	any residual == 5                          → HALT
//	≥3 principles at residual 4                → SUBMIT_TO_COMMITTEE
//	1–2 principles at residual 4               → REVISE
//	any residual in {2,3} with mitigations     → PROCEED_WITH_MONITORING
//	otherwise                                  → PROCEED
func DeriveGovernanceDecision(principles map[string]PrincipleAssessment) GovernanceDecision {
	atFour := 0
	monitored := false
	for _, p := range principles {
		switch {
		case p.ResidualRisk >= 5:
			return DecisionHalt
		case p.ResidualRisk == 4:
			atFour++
		case p.ResidualRisk == 2 || p.ResidualRisk == 3:
			if len(p.Mitigations) > 0 {
				monitored = true
			}
		}
	}
	switch {
	case atFour >= 3:
		return DecisionSubmitToCommittee
	case atFour >= 1:
		return DecisionRevise
	case monitored:
		return DecisionProceedMonitoring
	default:
		return DecisionProceed
	}
}
