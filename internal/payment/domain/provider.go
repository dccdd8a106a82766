// Package domain defines the provider-agnostic payment surface. Each
// gateway adapter normalizes its own vocabulary into these types before
// any billing state is touched.
package domain

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventKind classifies a normalized webhook notification.
type EventKind string

const (
	EventPaymentFailed        EventKind = "payment_failed"
	EventPaymentSucceeded     EventKind = "payment_succeeded"
	EventSubscriptionCanceled EventKind = "subscription_canceled"
	EventCheckoutConfirmed    EventKind = "checkout_confirmed"
)

// Status is the internal subscription status vocabulary that provider
// statuses are mapped into.
type Status string

const (
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// CheckoutSpec describes the subscription checkout to create on the
// provider side.
type CheckoutSpec struct {
	IntentID       snowflake.ID
	Email          string
	PlanName       string
	AmountUSDCents int64
	AmountARSCents int64
	TrialDays      int
	SuccessURL     string
	CancelURL      string
}

// Checkout is the provider-side session created for a CheckoutSpec.
type Checkout struct {
	URL                string
	ProviderCustomerID string
	ProviderSessionID  string
	ProviderPlanID     string
}

// TrialCharge is an out-of-band charge attempted once a trial elapses.
type TrialCharge struct {
	IntentID               snowflake.ID
	ProviderCustomerID     string
	ProviderSubscriptionID string
	AmountUSDCents         int64
	AmountARSCents         int64
	TrialEndsAt            time.Time
	Description            string
}

// PlanChange updates the recurring amount on an existing provider
// subscription. Upgrade selects the proration strategy.
type PlanChange struct {
	ProviderSubscriptionID string
	NewAmountUSDCents      int64
	Upgrade                bool
}

// Event is the canonical webhook notification shared by all adapters.
// EventKey is stable per logical provider event and keys the
// idempotency ledger.
type Event struct {
	Provider               string
	EventKey               string
	Kind                   EventKind
	ProviderSubscriptionID string
	ExternalReference      string
	MappedStatus           Status
	OccurredAt             time.Time
	RawPayload             []byte
}

// Provider is implemented once per payment gateway.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, spec CheckoutSpec) (*Checkout, error)
	ChargeTrialEnd(ctx context.Context, charge TrialCharge) error
	ChangePlan(ctx context.Context, change PlanChange) error
	VerifyWebhook(payload []byte, headers http.Header, query url.Values) error
	ParseWebhook(ctx context.Context, payload []byte, query url.Values) (*Event, error)
}
