// Package domain contains the signup intent model, the record of a
// prospective subscription before any company exists.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is the signup intent lifecycle state. Transitions are
// monotonic along the chain except for the payment_failed branch,
// which is entered from completed and exits to deleted or back to
// subscription_active on a recovery charge.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusCheckoutCreated    Status = "checkout_created"
	StatusPaidReady          Status = "paid_ready"
	StatusCompleted          Status = "completed"
	StatusPaymentFailed      Status = "payment_failed"
	StatusSubscriptionActive Status = "subscription_active"
	StatusDeleted            Status = "deleted"
)

var statusRank = map[Status]int{
	StatusDraft:              0,
	StatusCheckoutCreated:    1,
	StatusPaidReady:          2,
	StatusCompleted:          3,
	StatusPaymentFailed:      4,
	StatusSubscriptionActive: 5,
	StatusDeleted:            6,
}

// CanTransition reports whether moving from one status to another is
// allowed. Forward moves along the chain are allowed; the only
// backward moves are checkout retries (paid_ready rollback) and a
// recovery charge out of payment_failed.
func CanTransition(from, to Status) bool {
	switch {
	case from == to:
		return false
	case from == StatusPaymentFailed:
		return to == StatusDeleted || to == StatusSubscriptionActive
	case from == StatusPaidReady && to == StatusCheckoutCreated:
		return true
	case from == StatusDeleted:
		return false
	default:
		return statusRank[to] > statusRank[from]
	}
}

// SignupIntent is a prospective subscription prior to company
// creation.
type SignupIntent struct {
	ID                     snowflake.ID    `gorm:"primaryKey"`
	Email                  string          `gorm:"type:text;not null;index"`
	FullName               string          `gorm:"type:text"`
	CompanyName            string          `gorm:"type:text"`
	PlanID                 snowflake.ID    `gorm:"not null"`
	Modules                datatypes.JSON  `gorm:"type:jsonb"`
	Provider               string          `gorm:"type:text;not null"`
	Status                 Status          `gorm:"type:text;not null;index"`
	AmountUSDCents         int64           `gorm:"not null;default:0"`
	AmountARSCents         int64           `gorm:"not null;default:0"`
	FxRateUSDARS           decimal.Decimal `gorm:"type:numeric(18,6)"`
	ProviderCustomerID     string          `gorm:"type:text"`
	ProviderSessionID      string          `gorm:"type:text"`
	ProviderPlanID         string          `gorm:"type:text"`
	ProviderSubscriptionID string          `gorm:"type:text;index"`
	TrialEndsAt            *time.Time      `gorm:""`
	PaymentFailedAt        *time.Time      `gorm:""`
	CompanyID              *snowflake.ID   `gorm:"index"`
	CreatedAt              time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SignupIntent) TableName() string { return "signup_intents" }
