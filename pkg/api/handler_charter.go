package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// consistencyHandler handles GET /api/v1/sessions/:id/consistency: an
// on-demand cross-stage check.
func (s *Server) consistencyHandler(c *gin.Context) {
	report, err := s.orch.CheckConsistency(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// generateCharterHandler handles POST /api/v1/sessions/:id/charter/generate.
func (s *Server) generateCharterHandler(c *gin.Context) {
	charter, err := s.orch.GenerateCharter(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, charter)
}
