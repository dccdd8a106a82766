package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// runTrialSweep lets an external scheduler trigger the sweeps; the
// in-process loop runs the same code.
func (s *Server) runTrialSweep(c *gin.Context) {
	result, err := s.charger.RunOnce(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
