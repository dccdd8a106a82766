package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence surface for subscriptions. Writes that
// take a *gorm.DB run inside the caller's transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByCompanyID(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*Subscription, error)
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider, providerSubID string) (*Subscription, error)

	// UpdateVersioned persists the row iff the stored version still
	// matches sub.Version, incrementing it. Returns
	// ErrStaleSubscription when another writer got there first.
	UpdateVersioned(ctx context.Context, db *gorm.DB, sub *Subscription) error

	AppendEvent(ctx context.Context, db *gorm.DB, event *Event) error
	ListRecentEvents(ctx context.Context, db *gorm.DB, limit int) ([]Event, error)

	FindPlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) (*Plan, error)
	FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)

	InsertPaymentMethod(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	CountPaymentMethods(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (int64, error)
	InsertStagedPaymentMethod(ctx context.Context, db *gorm.DB, staged *PaymentMethodStaging) error
}

// ChangePlanRequest asks to move a company to a new plan.
type ChangePlanRequest struct {
	CompanyID snowflake.ID
	NewPlanID snowflake.ID
	UserID    snowflake.ID
}

// ChangePlanResult reports the applied change for the caller.
type ChangePlanResult struct {
	OldPlan       string
	NewPlan       string
	OldPriceCents int64
	NewPriceCents int64
	Upgraded      bool
}

// SavePaymentMethodRequest captures a verified provider credential,
// either staged by email (pre-company) or attached to a company.
type SavePaymentMethodRequest struct {
	Email     string
	CompanyID snowflake.ID
	Provider  string
	Ref       string
	Brand     string
	Last4     string
	ExpMonth  int
	ExpYear   int
}
