package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/tiendly/internal/member"
	"go.uber.org/zap"
)

const contextUserIDKey = "user_id"

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Stripe-Signature, X-Signature, X-Request-Id")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// AuthRequired validates the bearer token and stores the caller's user
// id on the context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrUnauthorized
			}
			return []byte(s.cfg.AuthJWTSecret), nil
		})
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := snowflake.ParseString(claims.Subject)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// RequirePlatformAdmin gates the admin analytics surface.
func (s *Server) RequirePlatformAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		admin, err := member.IsPlatformAdmin(c.Request.Context(), s.db, userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !admin {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// WebhookRateLimit applies the per-provider token bucket. Limiter
// errors fail open; providers retry on 429 anyway.
func (s *Server) WebhookRateLimit(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		allowed, err := s.limiter.Allow(c.Request.Context(), provider)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	v, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(snowflake.ID)
	return id, ok
}
