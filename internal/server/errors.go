package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	intentdomain "github.com/smallbiznis/tiendly/internal/intent/domain"
	paymentdomain "github.com/smallbiznis/tiendly/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate_limited")
	ErrInvalidRequest = errors.New("invalid_request")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last gin error as a JSON body
// with the status mapped from the domain sentinel.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var upstream *paymentdomain.UpstreamError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway, errorPayload{Type: "upstream_error", Message: upstream.Error()}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, subscriptiondomain.ErrNotCompanyMember):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, intentdomain.ErrIntentNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrPlanNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}
	case errors.Is(err, intentdomain.ErrIntentAlreadyProgressed),
		errors.Is(err, intentdomain.ErrInvalidTransition),
		errors.Is(err, subscriptiondomain.ErrStaleSubscription):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, intentdomain.ErrInvalidIntent),
		errors.Is(err, subscriptiondomain.ErrSamePlan),
		errors.Is(err, subscriptiondomain.ErrInvalidPaymentMethod),
		errors.Is(err, paymentdomain.ErrMissingARSAmount),
		errors.Is(err, paymentdomain.ErrPlanChangeUnsupported),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
