package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// executeStageHandler handles POST /api/v1/sessions/:id/stages/:n/execute.
// The request blocks until every question in the stage has a validated
// answer. Answers arrive either inline in the body or through
// POST /sessions/:id/answer while this request is in flight.
func (s *Server) executeStageHandler(c *gin.Context) {
	stage, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: "invalid_request",
			Message:   "stage number must be an integer",
		})
		return
	}

	var req ExecuteStageRequest
	_ = c.ShouldBindJSON(&req)

	sessionID := c.Param("id")
	source := s.broker.Source(sessionID, req.Answers)

	deliverable, err := s.orch.RunStage(c.Request.Context(), sessionID, stage, source)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deliverable)
}

// advanceStageHandler handles POST /api/v1/sessions/:id/stages/:n/advance.
// The gate verdict is returned either way; a failed gate leaves the
// session unchanged.
func (s *Server) advanceStageHandler(c *gin.Context) {
	validation, err := s.orch.AdvanceStage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !validation.CanProceed {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, validation)
}

// pendingQuestionHandler handles GET /api/v1/sessions/:id/question.
func (s *Server) pendingQuestionHandler(c *gin.Context) {
	pending := s.broker.Pending(c.Param("id"))
	if pending == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorCode: "not_found",
			Message:   "no question is awaiting an answer for this session",
		})
		return
	}
	c.JSON(http.StatusOK, pending)
}

// answerHandler handles POST /api/v1/sessions/:id/answer: one user answer
// for the in-flight turn.
func (s *Server) answerHandler(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: "invalid_request",
			Message:   "turn_id and text are required",
		})
		return
	}

	if err := s.broker.Submit(c.Param("id"), req.TurnID, req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
