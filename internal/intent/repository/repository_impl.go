package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiendly/internal/intent/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide returns the gorm-backed signup intent repository.
func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, intent *domain.SignupIntent) error {
	return db.WithContext(ctx).Create(intent).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SignupIntent, error) {
	var intent domain.SignupIntent
	err := db.WithContext(ctx).Where("id = ?", id).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByExternalReference(ctx context.Context, db *gorm.DB, ref string) (*domain.SignupIntent, error) {
	id, err := snowflake.ParseString(ref)
	if err != nil {
		return nil, nil
	}
	return r.FindByID(ctx, db, id)
}

func (r *repository) FindByProviderSubscription(ctx context.Context, db *gorm.DB, provider, providerSubID string) (*domain.SignupIntent, error) {
	if providerSubID == "" {
		return nil, nil
	}
	var intent domain.SignupIntent
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubID).
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, intent *domain.SignupIntent) error {
	return db.WithContext(ctx).
		Model(&domain.SignupIntent{}).
		Where("id = ?", intent.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(intent).Error
}

func (r *repository) ListDueTrialCharges(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.SignupIntent, error) {
	var intents []domain.SignupIntent
	err := db.WithContext(ctx).
		Where("status = ? AND payment_failed_at IS NULL AND trial_ends_at <= ?", domain.StatusCompleted, now).
		Order("trial_ends_at").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) ListExpiredFailures(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.SignupIntent, error) {
	var intents []domain.SignupIntent
	err := db.WithContext(ctx).
		Where("status = ? AND payment_failed_at <= ?", domain.StatusPaymentFailed, cutoff).
		Order("payment_failed_at").
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}
