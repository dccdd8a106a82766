package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiendly/internal/clock"
	"github.com/smallbiznis/tiendly/internal/dunning"
	"github.com/smallbiznis/tiendly/internal/member"
	"github.com/smallbiznis/tiendly/internal/notification"
	"github.com/smallbiznis/tiendly/internal/payment"
	paymentdomain "github.com/smallbiznis/tiendly/internal/payment/domain"
	"github.com/smallbiznis/tiendly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Outbox    *notification.Outbox
	Providers *payment.Registry
}

// Service applies subscription state transitions. Every write goes
// through the versioned update; on a stale read the transition is
// re-fetched and re-applied once before giving up.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	outbox    *notification.Outbox
	providers *payment.Registry
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		outbox:    p.Outbox,
		providers: p.Providers,
	}
}

// ApplyPaymentFailed records a failed charge on the subscription bound
// to the provider subscription id: failure counter, retry schedule,
// suspension window once the threshold is crossed.
func (s *Service) ApplyPaymentFailed(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error) {
	return s.transition(ctx, provider, providerSubID, func(tx *gorm.DB, sub *domain.Subscription) error {
		now := s.clock.Now()
		sub.PaymentFailedCount++
		retryAt := now.Add(dunning.RetryDelay(sub.PaymentFailedCount))
		sub.Status = domain.StatusPastDue
		sub.LastPaymentFailedAt = &now
		sub.PaymentRetryAfter = &retryAt
		if dunning.ShouldSuspend(sub.PaymentFailedCount) {
			disabledUntil := now.Add(dunning.SuspensionWindow)
			sub.DisabledUntil = &disabledUntil
		}

		if err := s.repo.UpdateVersioned(ctx, tx, sub); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, sub.CompanyID, domain.EventPaymentFailed, "", string(sub.Status), "provider reported failed charge", map[string]any{
			"provider":             provider,
			"payment_failed_count": sub.PaymentFailedCount,
		}); err != nil {
			return err
		}
		return s.notify(ctx, tx, sub.CompanyID, notification.TemplatePaymentFailed, nil)
	})
}

// ApplyPaymentSucceeded resets the dunning state entirely, whatever
// the prior failure count.
func (s *Service) ApplyPaymentSucceeded(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error) {
	return s.transition(ctx, provider, providerSubID, func(tx *gorm.DB, sub *domain.Subscription) error {
		recovered := sub.PaymentFailedCount > 0
		sub.PaymentFailedCount = 0
		sub.LastPaymentFailedAt = nil
		sub.PaymentRetryAfter = nil
		sub.DisabledUntil = nil
		sub.Status = domain.StatusActive

		if err := s.repo.UpdateVersioned(ctx, tx, sub); err != nil {
			return err
		}
		if recovered {
			if err := s.appendEvent(ctx, tx, sub.CompanyID, domain.EventPaymentRecovered, string(domain.StatusPastDue), string(sub.Status), "charge succeeded", map[string]any{
				"provider": provider,
			}); err != nil {
				return err
			}
		}
		return s.notify(ctx, tx, sub.CompanyID, notification.TemplatePaymentRecovered, nil)
	})
}

// ApplyCanceled marks the subscription canceled after the provider
// reported deletion.
func (s *Service) ApplyCanceled(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error) {
	return s.transition(ctx, provider, providerSubID, func(tx *gorm.DB, sub *domain.Subscription) error {
		old := sub.Status
		sub.Status = domain.StatusCanceled

		if err := s.repo.UpdateVersioned(ctx, tx, sub); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, sub.CompanyID, domain.EventCanceled, string(old), string(sub.Status), "provider reported deletion", map[string]any{
			"provider": provider,
		})
	})
}

// ApplyProviderStatus updates the status in place from a re-fetched
// provider resource (MercadoPago preapproval notifications).
func (s *Service) ApplyProviderStatus(ctx context.Context, provider, providerSubID string, mapped paymentdomain.Status) (*domain.Subscription, error) {
	return s.transition(ctx, provider, providerSubID, func(tx *gorm.DB, sub *domain.Subscription) error {
		sub.Status = domain.Status(mapped)
		return s.repo.UpdateVersioned(ctx, tx, sub)
	})
}

// ChangePlan moves the company to a new plan. Same-price changes are
// rejected before any provider call; upgrades prorate onto the next
// invoice while downgrades invoice the credit immediately.
func (s *Service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (*domain.ChangePlanResult, error) {
	isMember, err := member.IsActiveMember(ctx, s.db, req.CompanyID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, domain.ErrNotCompanyMember
	}

	sub, err := s.repo.FindByCompanyID(ctx, s.db, req.CompanyID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}

	oldPlan, err := s.repo.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}
	newPlan, err := s.repo.FindPlan(ctx, s.db, req.NewPlanID)
	if err != nil {
		return nil, err
	}
	if oldPlan == nil || newPlan == nil {
		return nil, domain.ErrPlanNotFound
	}
	if newPlan.PriceUSDCents == oldPlan.PriceUSDCents {
		return nil, domain.ErrSamePlan
	}
	upgrade := newPlan.PriceUSDCents > oldPlan.PriceUSDCents

	provider, err := s.providers.Get(sub.Provider)
	if err != nil {
		return nil, err
	}
	if err := provider.ChangePlan(ctx, paymentdomain.PlanChange{
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		NewAmountUSDCents:      newPlan.PriceUSDCents,
		Upgrade:                upgrade,
	}); err != nil {
		return nil, err
	}

	eventType := domain.EventDowngraded
	if upgrade {
		eventType = domain.EventUpgraded
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub.PlanID = newPlan.ID
		sub.AmountUSDCents = newPlan.PriceUSDCents
		if err := s.repo.UpdateVersioned(ctx, tx, sub); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, sub.CompanyID, eventType, oldPlan.Code, newPlan.Code, "plan change requested", map[string]any{
			"old_price_cents": oldPlan.PriceUSDCents,
			"new_price_cents": newPlan.PriceUSDCents,
		}); err != nil {
			return err
		}
		return s.notify(ctx, tx, sub.CompanyID, notification.TemplatePlanChanged, map[string]any{
			"new_plan": newPlan.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	return &domain.ChangePlanResult{
		OldPlan:       oldPlan.Code,
		NewPlan:       newPlan.Code,
		OldPriceCents: oldPlan.PriceUSDCents,
		NewPriceCents: newPlan.PriceUSDCents,
		Upgraded:      upgrade,
	}, nil
}

// SavePaymentMethod persists a verified credential reference. The
// first method saved for a company becomes the default; pre-company
// signups are staged by email.
func (s *Service) SavePaymentMethod(ctx context.Context, req domain.SavePaymentMethodRequest) error {
	if req.Ref == "" || req.Provider == "" {
		return domain.ErrInvalidPaymentMethod
	}

	if req.CompanyID == 0 {
		if req.Email == "" {
			return domain.ErrInvalidPaymentMethod
		}
		return s.repo.InsertStagedPaymentMethod(ctx, s.db, &domain.PaymentMethodStaging{
			ID:       s.genID.Generate(),
			Email:    req.Email,
			Provider: req.Provider,
			Ref:      req.Ref,
			Brand:    req.Brand,
			Last4:    req.Last4,
			ExpMonth: req.ExpMonth,
			ExpYear:  req.ExpYear,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.repo.CountPaymentMethods(ctx, tx, req.CompanyID)
		if err != nil {
			return err
		}
		if err := s.repo.InsertPaymentMethod(ctx, tx, &domain.PaymentMethod{
			ID:        s.genID.Generate(),
			CompanyID: req.CompanyID,
			Provider:  req.Provider,
			Ref:       req.Ref,
			Brand:     req.Brand,
			Last4:     req.Last4,
			ExpMonth:  req.ExpMonth,
			ExpYear:   req.ExpYear,
			IsDefault: count == 0,
		}); err != nil {
			return err
		}

		sub, err := s.repo.FindByCompanyID(ctx, tx, req.CompanyID)
		if err != nil || sub == nil {
			return err
		}
		switch req.Provider {
		case "stripe":
			sub.StripePaymentMethodID = &req.Ref
			sub.MPPreapprovalID = nil
		case "mercadopago":
			sub.MPPreapprovalID = &req.Ref
			sub.StripePaymentMethodID = nil
		default:
			return domain.ErrInvalidPaymentMethod
		}
		return s.repo.UpdateVersioned(ctx, tx, sub)
	})
}

// transition runs fn against the subscription row, retrying once when
// a concurrent writer bumped the version between read and write.
func (s *Service) transition(ctx context.Context, provider, providerSubID string, fn func(tx *gorm.DB, sub *domain.Subscription) error) (*domain.Subscription, error) {
	var result *domain.Subscription
	for attempt := 0; attempt < 2; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sub, err := s.repo.FindByProviderSubscriptionID(ctx, tx, provider, providerSubID)
			if err != nil {
				return err
			}
			if sub == nil {
				return domain.ErrSubscriptionNotFound
			}
			if err := fn(tx, sub); err != nil {
				return err
			}
			result = sub
			return nil
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrStaleSubscription) {
			return nil, err
		}
		s.log.Debug("stale subscription write, retrying",
			zap.String("provider", provider),
			zap.String("provider_subscription_id", providerSubID),
		)
	}
	return nil, domain.ErrStaleSubscription
}

func (s *Service) appendEvent(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, eventType domain.EventType, oldValue, newValue, reason string, metadata map[string]any) error {
	return s.repo.AppendEvent(ctx, tx, &domain.Event{
		ID:        s.genID.Generate(),
		CompanyID: companyID,
		EventType: eventType,
		OldValue:  oldValue,
		NewValue:  newValue,
		Reason:    reason,
		Metadata:  datatypes.JSONMap(metadata),
		CreatedAt: s.clock.Now(),
	})
}

func (s *Service) notify(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, template string, payload map[string]any) error {
	recipient, err := member.BillingContact(ctx, tx, companyID)
	if err != nil {
		return err
	}
	if recipient == "" {
		return nil
	}
	return s.outbox.Enqueue(ctx, tx, notification.Message{
		CompanyID: companyID,
		Recipient: recipient,
		Template:  template,
		Payload:   datatypes.JSONMap(payload),
	})
}
