// Package analytics computes the admin subscription overview on
// demand from the subscriptions table.
package analytics

import (
	"context"
	"time"

	"github.com/smallbiznis/tiendly/internal/clock"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	canceledLookback  = 90 * 24 * time.Hour
	churnLookback     = 30 * 24 * time.Hour
	trialExpiryWindow = 3 * 24 * time.Hour
	recentEventsLimit = 20
)

// Overview is the aggregated billing picture for the admin dashboard.
type Overview struct {
	MRRUSDCents        int64                             `json:"mrr_usd_cents"`
	ActiveCount        int64                             `json:"active_count"`
	TrialingCount      int64                             `json:"trialing_count"`
	CanceledLast90Days int64                             `json:"canceled_last_90_days"`
	ChurnRate30Days    float64                           `json:"churn_rate_30_days"`
	AtRisk             []subscriptiondomain.Subscription `json:"at_risk"`
	TrialsExpiringSoon []subscriptiondomain.Subscription `json:"trials_expiring_soon"`
	RecentEvents       []subscriptiondomain.Event        `json:"recent_events"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

func NewService(db *gorm.DB, log *zap.Logger, clk clock.Clock, repo subscriptiondomain.Repository) *Service {
	return &Service{db: db, log: log.Named("analytics"), clock: clk, repo: repo}
}

func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	now := s.clock.Now()
	overview := &Overview{}

	err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("status = ?", subscriptiondomain.StatusActive).
		Select("COALESCE(SUM(amount_usd_cents), 0)").
		Scan(&overview.MRRUSDCents).Error
	if err != nil {
		return nil, err
	}

	counts := []struct {
		status subscriptiondomain.Status
		target *int64
	}{
		{subscriptiondomain.StatusActive, &overview.ActiveCount},
		{subscriptiondomain.StatusTrialing, &overview.TrialingCount},
	}
	for _, c := range counts {
		err := s.db.WithContext(ctx).
			Model(&subscriptiondomain.Subscription{}).
			Where("status = ?", c.status).
			Count(c.target).Error
		if err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("status = ? AND updated_at >= ?", subscriptiondomain.StatusCanceled, now.Add(-canceledLookback)).
		Count(&overview.CanceledLast90Days).Error
	if err != nil {
		return nil, err
	}

	var canceled30 int64
	err = s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("status = ? AND updated_at >= ?", subscriptiondomain.StatusCanceled, now.Add(-churnLookback)).
		Count(&canceled30).Error
	if err != nil {
		return nil, err
	}
	if base := overview.ActiveCount + canceled30; base > 0 {
		overview.ChurnRate30Days = float64(canceled30) / float64(base)
	}

	err = s.db.WithContext(ctx).
		Where("status = ?", subscriptiondomain.StatusPastDue).
		Order("last_payment_failed_at").
		Find(&overview.AtRisk).Error
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Where("status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?", subscriptiondomain.StatusTrialing, now.Add(trialExpiryWindow)).
		Order("trial_ends_at").
		Find(&overview.TrialsExpiringSoon).Error
	if err != nil {
		return nil, err
	}

	overview.RecentEvents, err = s.repo.ListRecentEvents(ctx, s.db, recentEventsLimit)
	if err != nil {
		return nil, err
	}
	return overview, nil
}

var Module = fx.Module("analytics",
	fx.Provide(NewService),
)
