package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/charterworks/charterd/pkg/models"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: "invalid_request",
			Message:   "owner and project_name are required",
		})
		return
	}

	session, err := s.orch.CreateSession(c.Request.Context(), req.Owner, req.ProjectName)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID:    session.ID,
		CurrentStage: session.CurrentStage,
	})
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	envelope, err := s.orch.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope)
}

// listSessionsHandler handles GET /api/v1/sessions?owner=&status=&limit=&skip=.
func (s *Server) listSessionsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	resp, err := s.orch.ListSessions(c.Request.Context(), models.SessionFilters{
		Owner:  c.Query("owner"),
		Status: c.Query("status"),
		Limit:  limit,
		Skip:   skip,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// resumeSessionHandler handles POST /api/v1/sessions/:id/resume.
func (s *Server) resumeSessionHandler(c *gin.Context) {
	envelope, err := s.orch.ResumeSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope)
}

// abortSessionHandler handles POST /api/v1/sessions/:id/abort.
func (s *Server) abortSessionHandler(c *gin.Context) {
	var req AbortRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "aborted by client"
	}

	if err := s.orch.AbortSession(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusAbandoned)})
}
