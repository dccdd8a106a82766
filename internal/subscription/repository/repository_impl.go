package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiendly/internal/subscription/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide returns the gorm-backed subscription repository.
func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindByCompanyID(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).Where("company_id = ?", companyID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider, providerSubID string) (*domain.Subscription, error) {
	if providerSubID == "" {
		return nil, nil
	}
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) UpdateVersioned(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	current := sub.Version
	sub.Version = current + 1
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, current).
		Select("*").
		Omit("id", "created_at").
		Updates(sub)
	if res.Error != nil {
		sub.Version = current
		return res.Error
	}
	if res.RowsAffected == 0 {
		sub.Version = current
		return domain.ErrStaleSubscription
	}
	return nil
}

func (r *repository) AppendEvent(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListRecentEvents(ctx context.Context, db *gorm.DB, limit int) ([]domain.Event, error) {
	var events []domain.Event
	err := db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) FindPlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Where("id = ?", planID).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Where("code = ?", code).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) InsertPaymentMethod(ctx context.Context, db *gorm.DB, method *domain.PaymentMethod) error {
	return db.WithContext(ctx).Create(method).Error
}

func (r *repository) CountPaymentMethods(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.PaymentMethod{}).
		Where("company_id = ?", companyID).
		Count(&count).Error
	return count, err
}

func (r *repository) InsertStagedPaymentMethod(ctx context.Context, db *gorm.DB, staged *domain.PaymentMethodStaging) error {
	return db.WithContext(ctx).Create(staged).Error
}
