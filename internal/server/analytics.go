package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) subscriptionAnalytics(c *gin.Context) {
	overview, err := s.analytics.Overview(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}
