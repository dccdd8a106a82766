// Package domain contains persistence models for company subscriptions
// and their audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Subscription is the canonical per-company billing record. Version is
// an optimistic-concurrency counter: every transition write checks and
// increments it, so concurrent webhook deliveries and sweeps cannot
// silently overwrite each other.
type Subscription struct {
	ID                     snowflake.ID    `gorm:"primaryKey"`
	CompanyID              snowflake.ID    `gorm:"not null;uniqueIndex"`
	PlanID                 snowflake.ID    `gorm:"not null;index"`
	Provider               string          `gorm:"type:text;not null"`
	ProviderCustomerID     string          `gorm:"type:text"`
	ProviderSubscriptionID string          `gorm:"type:text;index"`
	StripePaymentMethodID  *string         `gorm:"type:text"`
	MPPreapprovalID        *string         `gorm:"type:text"`
	Status                 Status          `gorm:"type:text;not null"`
	TrialEndsAt            *time.Time      `gorm:""`
	CurrentPeriodEnd       *time.Time      `gorm:""`
	PaymentFailedCount     int             `gorm:"not null;default:0"`
	LastPaymentFailedAt    *time.Time      `gorm:""`
	PaymentRetryAfter      *time.Time      `gorm:""`
	DisabledUntil          *time.Time      `gorm:""`
	Modules                datatypes.JSON  `gorm:"type:jsonb"`
	AmountUSDCents         int64           `gorm:"not null;default:0"`
	FxRateUSDARS           decimal.Decimal `gorm:"type:numeric(18,6)"`
	Version                int64           `gorm:"not null;default:0"`
	CreatedAt              time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

// EventType classifies audit trail entries.
type EventType string

const (
	EventPaymentFailed    EventType = "payment_failed"
	EventPaymentRecovered EventType = "payment_recovered"
	EventUpgraded         EventType = "upgraded"
	EventDowngraded       EventType = "downgraded"
	EventCanceled         EventType = "canceled"
)

// Event is an append-only audit trail entry. Rows are never mutated or
// deleted; ordering is by CreatedAt.
type Event struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	CompanyID snowflake.ID      `gorm:"not null;index"`
	EventType EventType         `gorm:"type:text;not null"`
	OldValue  string            `gorm:"type:text"`
	NewValue  string            `gorm:"type:text"`
	Reason    string            `gorm:"type:text"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Event) TableName() string { return "subscription_events" }

// PaymentMethod is a stored credential reference, never raw card data.
// At most one row per company carries IsDefault.
type PaymentMethod struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	CompanyID snowflake.ID `gorm:"not null;index"`
	Provider  string       `gorm:"type:text;not null"`
	Ref       string       `gorm:"type:text;not null"`
	Brand     string       `gorm:"type:text"`
	Last4     string       `gorm:"type:text"`
	ExpMonth  int          `gorm:""`
	ExpYear   int          `gorm:""`
	IsDefault bool         `gorm:"not null;default:false"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentMethod) TableName() string { return "company_payment_methods" }

// PaymentMethodStaging holds a credential captured before the company
// exists, keyed by signup email.
type PaymentMethodStaging struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Email     string       `gorm:"type:text;not null;index"`
	Provider  string       `gorm:"type:text;not null"`
	Ref       string       `gorm:"type:text;not null"`
	Brand     string       `gorm:"type:text"`
	Last4     string       `gorm:"type:text"`
	ExpMonth  int          `gorm:""`
	ExpYear   int          `gorm:""`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentMethodStaging) TableName() string { return "payment_method_staging" }

// Plan is a sellable subscription plan.
type Plan struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Code          string       `gorm:"type:text;not null;uniqueIndex"`
	Name          string       `gorm:"type:text;not null"`
	PriceUSDCents int64        `gorm:"not null"`
	Active        bool         `gorm:"not null;default:true"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "subscription_plans" }
