package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence surface for signup intents.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *SignupIntent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SignupIntent, error)
	FindByExternalReference(ctx context.Context, db *gorm.DB, ref string) (*SignupIntent, error)
	FindByProviderSubscription(ctx context.Context, db *gorm.DB, provider, providerSubID string) (*SignupIntent, error)
	Update(ctx context.Context, db *gorm.DB, intent *SignupIntent) error

	// ListDueTrialCharges returns up to limit completed intents whose
	// trial has elapsed and that have not failed a charge yet.
	ListDueTrialCharges(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]SignupIntent, error)

	// ListExpiredFailures returns intents whose first charge failure is
	// at or past the grace cutoff.
	ListExpiredFailures(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]SignupIntent, error)
}

// CreateRequest starts a signup intent.
type CreateRequest struct {
	Email       string
	FullName    string
	CompanyName string
	PlanCode    string
	ModuleIDs   []string
	Provider    string
	FxRateARS   string
}

// CheckoutResult is the outcome of checkout initiation.
type CheckoutResult struct {
	CheckoutURL string
	Provider    string
}
