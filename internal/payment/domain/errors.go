package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrMissingARSAmount      = errors.New("missing_ars_amount")
	ErrPlanChangeUnsupported = errors.New("plan_change_unsupported")
)

// UpstreamError wraps a provider API failure so handlers can surface
// the raw provider message with a 502.
type UpstreamError struct {
	Provider string
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream builds an UpstreamError for a provider call failure.
func Upstream(provider, message string, err error) *UpstreamError {
	return &UpstreamError{Provider: provider, Message: message, Err: err}
}
