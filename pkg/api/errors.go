package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/charterworks/charterd/pkg/agent"
	"github.com/charterworks/charterd/pkg/conversation"
	"github.com/charterworks/charterd/pkg/llm"
	"github.com/charterworks/charterd/pkg/orchestrator"
	"github.com/charterworks/charterd/pkg/store"
)

// ErrorResponse is the wire shape of every error reply.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

// writeError maps a service error onto its stable error code and HTTP
// status. Unexpected errors are logged with a correlation id and surfaced
// as `internal`.
func writeError(c *gin.Context, err error) {
	status, code, message := classify(err)
	if code == "internal" {
		correlationID := uuid.New().String()
		slog.Error("Unexpected service error", "correlation_id", correlationID, "error", err)
		c.JSON(status, ErrorResponse{
			ErrorCode: code,
			Message:   "internal error; reference " + correlationID + " when reporting",
		})
		return
	}
	c.JSON(status, ErrorResponse{ErrorCode: code, Message: message})
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found",
			"no such resource; check the session id"
	case errors.Is(err, store.ErrDuplicateStageWrite):
		return http.StatusConflict, "duplicate_stage_write",
			"stage data already committed; do not retry — reset the session to amend it"
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, "duplicate_stage_write",
			"resource already exists"
	case store.IsValidationError(err):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, orchestrator.ErrStageAlreadyCommitted):
		return http.StatusConflict, "stage_already_committed",
			"this stage has already passed its gate; amending committed stages is not supported"
	case errors.Is(err, orchestrator.ErrStageNotReady):
		return http.StatusConflict, "stage_not_ready",
			"finish the current stage before running this one"
	case errors.Is(err, orchestrator.ErrStageNotRun):
		return http.StatusConflict, "stage_not_run",
			"run the stage before advancing it"
	case errors.Is(err, orchestrator.ErrInterviewIncomplete):
		return http.StatusConflict, "interview_incomplete",
			"all five stages must pass their gates first"
	case errors.Is(err, orchestrator.ErrCharterBlocked):
		return http.StatusConflict, "charter_blocked_inconsistent",
			"the consistency check found critical contradictions; resolve them and re-run"
	case errors.Is(err, orchestrator.ErrSessionTerminal):
		return http.StatusConflict, "cancelled",
			"session is in a terminal state and cannot be mutated"
	case errors.Is(err, orchestrator.ErrCancelled):
		return http.StatusConflict, "cancelled",
			"the operation was cancelled; re-answer the last question after resuming"
	case errors.Is(err, conversation.ErrSuspectedInjection):
		return http.StatusBadRequest, "suspected_injection",
			"the answer matched a blocked instruction pattern; rephrase it in your own words"
	case errors.Is(err, conversation.ErrResponseTooLong):
		return http.StatusBadRequest, "response_too_long",
			"shorten the answer and resubmit"
	case errors.Is(err, conversation.ErrQuestionTooLong):
		return http.StatusInternalServerError, "question_too_long",
			"the generated question exceeded its bound; retry the stage"
	case errors.Is(err, conversation.ErrEvaluationTimeout):
		return http.StatusGatewayTimeout, "evaluation_timeout",
			"evaluating the answer timed out; resubmit the same answer once"
	case errors.Is(err, agent.ErrSynthesisFailed):
		return http.StatusBadGateway, "synthesis_failed",
			"deliverable synthesis failed; previously committed stages are intact — re-run the stage"
	case errors.Is(err, llm.ErrProviderExhausted):
		return http.StatusBadGateway, "provider_exhausted",
			"all configured model providers failed; the session is unchanged — retry later"
	case errors.Is(err, ErrNoPendingQuestion):
		return http.StatusConflict, "invalid_request",
			"no question is awaiting an answer for this session"
	case errors.Is(err, ErrTurnMismatch):
		return http.StatusConflict, "invalid_request",
			"turn_id does not match the question currently awaiting an answer"
	default:
		return http.StatusInternalServerError, "internal", ""
	}
}
