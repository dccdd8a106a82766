package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// handleWebhook is shared by both providers; the ingest service picks
// up the provider-specific verification and parsing. Duplicates and
// ignored topics answer 200 so the provider stops redelivering.
func (s *Server) handleWebhook(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		outcome, err := s.webhooks.Ingest(c.Request.Context(), provider, payload, c.Request.Header, c.Request.URL.Query())
		if err != nil {
			s.log.Warn("webhook rejected",
				zap.String("provider", provider),
				zap.Error(err),
			)
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
	}
}
