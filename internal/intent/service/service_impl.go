package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tiendly/internal/clock"
	"github.com/smallbiznis/tiendly/internal/config"
	"github.com/smallbiznis/tiendly/internal/intent/domain"
	"github.com/smallbiznis/tiendly/internal/member"
	"github.com/smallbiznis/tiendly/internal/payment"
	paymentdomain "github.com/smallbiznis/tiendly/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Config    config.Config
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo          domain.Repository
	Subscriptions subscriptiondomain.Repository
	Providers     *payment.Registry
}

// Service drives signup intents through their lifecycle, from the
// first draft to a live subscription or deletion.
type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           config.Config
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	subscriptions subscriptiondomain.Repository
	providers     *payment.Registry
}

func NewService(p Params) *Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("intent"),
		cfg:           p.Config,
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		providers:     p.Providers,
	}
}

// Create records a new draft intent. The USD amount is the plan price
// plus the per-module addon; the ARS amount is snapshotted from the
// supplied FX rate when present.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.SignupIntent, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	provider := strings.TrimSpace(strings.ToLower(req.Provider))
	if email == "" || provider == "" || req.PlanCode == "" {
		return nil, domain.ErrInvalidIntent
	}
	if !s.providers.Exists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}

	plan, err := s.subscriptions.FindPlanByCode(ctx, s.db, req.PlanCode)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, subscriptiondomain.ErrPlanNotFound
	}

	amountUSD := plan.PriceUSDCents + s.cfg.Billing.ModuleAddonCents*int64(len(req.ModuleIDs))

	var fxRate decimal.Decimal
	var amountARS int64
	if req.FxRateARS != "" {
		fxRate, err = decimal.NewFromString(req.FxRateARS)
		if err != nil || fxRate.IsNegative() {
			return nil, domain.ErrInvalidIntent
		}
		amountARS = decimal.NewFromInt(amountUSD).Mul(fxRate).Round(0).IntPart()
	}

	modules, err := json.Marshal(req.ModuleIDs)
	if err != nil {
		return nil, err
	}

	intent := &domain.SignupIntent{
		ID:             s.genID.Generate(),
		Email:          email,
		FullName:       strings.TrimSpace(req.FullName),
		CompanyName:    strings.TrimSpace(req.CompanyName),
		PlanID:         plan.ID,
		Modules:        datatypes.JSON(modules),
		Provider:       provider,
		Status:         domain.StatusDraft,
		AmountUSDCents: amountUSD,
		AmountARSCents: amountARS,
		FxRateUSDARS:   fxRate,
	}
	if err := s.repo.Insert(ctx, s.db, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// StartCheckout creates the provider-side checkout session for the
// intent and returns its URL. Only draft and checkout_created intents
// may start a checkout; repeated calls create fresh provider sessions.
func (s *Service) StartCheckout(ctx context.Context, intentID snowflake.ID, successURL, cancelURL string) (*domain.CheckoutResult, error) {
	intent, err := s.repo.FindByID(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}
	if intent.Status != domain.StatusDraft && intent.Status != domain.StatusCheckoutCreated {
		return nil, domain.ErrIntentAlreadyProgressed
	}

	provider, err := s.providers.Get(intent.Provider)
	if err != nil {
		return nil, err
	}

	plan, err := s.subscriptions.FindPlan(ctx, s.db, intent.PlanID)
	if err != nil {
		return nil, err
	}
	planName := intent.CompanyName
	if plan != nil {
		planName = plan.Name
	}

	checkout, err := provider.CreateCheckout(ctx, paymentdomain.CheckoutSpec{
		IntentID:       intent.ID,
		Email:          intent.Email,
		PlanName:       planName,
		AmountUSDCents: intent.AmountUSDCents,
		AmountARSCents: intent.AmountARSCents,
		TrialDays:      s.cfg.Billing.TrialDays,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
	})
	if err != nil {
		return nil, err
	}

	intent.Status = domain.StatusCheckoutCreated
	intent.ProviderCustomerID = checkout.ProviderCustomerID
	intent.ProviderSessionID = checkout.ProviderSessionID
	intent.ProviderPlanID = checkout.ProviderPlanID
	if err := s.repo.Update(ctx, s.db, intent); err != nil {
		return nil, err
	}

	s.log.Info("checkout created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("provider", intent.Provider),
	)
	return &domain.CheckoutResult{CheckoutURL: checkout.URL, Provider: intent.Provider}, nil
}

// ConfirmCheckout reacts to a provider checkout confirmation for the
// intent named by external reference. An active mapped status advances
// to paid_ready and starts the trial clock; anything else rolls the
// intent back to checkout_created.
func (s *Service) ConfirmCheckout(ctx context.Context, externalRef, providerSubID string, active bool) (*domain.SignupIntent, error) {
	intent, err := s.repo.FindByExternalReference(ctx, s.db, externalRef)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}

	if providerSubID != "" {
		intent.ProviderSubscriptionID = providerSubID
	}

	target := domain.StatusPaidReady
	if !active {
		target = domain.StatusCheckoutCreated
	}
	if intent.Status != target {
		if !domain.CanTransition(intent.Status, target) {
			return nil, domain.ErrInvalidTransition
		}
		intent.Status = target
	}
	if target == domain.StatusPaidReady && intent.TrialEndsAt == nil {
		trialEnds := s.clock.Now().Add(time.Duration(s.cfg.Billing.TrialDays) * 24 * time.Hour)
		intent.TrialEndsAt = &trialEnds
	}

	if err := s.repo.Update(ctx, s.db, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Complete materializes a paid-ready intent into a live company: a
// fresh company id, the owner membership, the trialing subscription
// row, and the intent moved to completed, all in one transaction.
func (s *Service) Complete(ctx context.Context, intentID snowflake.ID) (*domain.SignupIntent, error) {
	var result *domain.SignupIntent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		intent, err := s.repo.FindByID(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if intent == nil {
			return domain.ErrIntentNotFound
		}
		if intent.Status != domain.StatusPaidReady {
			return domain.ErrIntentAlreadyProgressed
		}

		companyID := s.genID.Generate()
		if err := tx.Create(&member.Member{
			ID:        s.genID.Generate(),
			CompanyID: companyID,
			UserID:    s.genID.Generate(),
			Email:     intent.Email,
			Role:      "owner",
			Active:    true,
		}).Error; err != nil {
			return err
		}

		if err := s.subscriptions.Insert(ctx, tx, &subscriptiondomain.Subscription{
			ID:                     s.genID.Generate(),
			CompanyID:              companyID,
			PlanID:                 intent.PlanID,
			Provider:               intent.Provider,
			ProviderCustomerID:     intent.ProviderCustomerID,
			ProviderSubscriptionID: intent.ProviderSubscriptionID,
			Status:                 subscriptiondomain.StatusTrialing,
			TrialEndsAt:            intent.TrialEndsAt,
			Modules:                intent.Modules,
			AmountUSDCents:         intent.AmountUSDCents,
			FxRateUSDARS:           intent.FxRateUSDARS,
		}); err != nil {
			return err
		}

		intent.Status = domain.StatusCompleted
		intent.CompanyID = &companyID
		if err := s.repo.Update(ctx, tx, intent); err != nil {
			return err
		}
		result = intent
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("signup completed",
		zap.String("intent_id", result.ID.String()),
		zap.String("company_id", result.CompanyID.String()),
	)
	return result, nil
}

// MarkChargeSucceeded advances the intent to subscription_active after
// a successful trial-end charge.
func (s *Service) MarkChargeSucceeded(ctx context.Context, intentID snowflake.ID) (*domain.SignupIntent, error) {
	return s.mutate(ctx, intentID, func(intent *domain.SignupIntent) error {
		if !domain.CanTransition(intent.Status, domain.StatusSubscriptionActive) {
			return domain.ErrInvalidTransition
		}
		intent.Status = domain.StatusSubscriptionActive
		intent.PaymentFailedAt = nil
		return nil
	})
}

// MarkChargeFailed starts the grace countdown after a failed trial-end
// charge.
func (s *Service) MarkChargeFailed(ctx context.Context, intentID snowflake.ID) (*domain.SignupIntent, error) {
	return s.mutate(ctx, intentID, func(intent *domain.SignupIntent) error {
		if !domain.CanTransition(intent.Status, domain.StatusPaymentFailed) {
			return domain.ErrInvalidTransition
		}
		now := s.clock.Now()
		intent.Status = domain.StatusPaymentFailed
		intent.PaymentFailedAt = &now
		return nil
	})
}

// RecoverFailedCharge resolves the grace countdown when the provider
// later reports a successful payment for the intent's subscription.
// Intents not currently in the failed state return ErrIntentNotFound.
func (s *Service) RecoverFailedCharge(ctx context.Context, provider, providerSubID string) (*domain.SignupIntent, error) {
	intent, err := s.repo.FindByProviderSubscription(ctx, s.db, provider, providerSubID)
	if err != nil {
		return nil, err
	}
	if intent == nil || intent.Status != domain.StatusPaymentFailed {
		return nil, domain.ErrIntentNotFound
	}
	return s.MarkChargeSucceeded(ctx, intent.ID)
}

// MarkDeleted terminates an intent whose grace window elapsed.
func (s *Service) MarkDeleted(ctx context.Context, intentID snowflake.ID) (*domain.SignupIntent, error) {
	return s.mutate(ctx, intentID, func(intent *domain.SignupIntent) error {
		if !domain.CanTransition(intent.Status, domain.StatusDeleted) {
			return domain.ErrInvalidTransition
		}
		intent.Status = domain.StatusDeleted
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, intentID snowflake.ID, fn func(*domain.SignupIntent) error) (*domain.SignupIntent, error) {
	intent, err := s.repo.FindByID(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}
	if err := fn(intent); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, s.db, intent); err != nil {
		return nil, err
	}
	return intent, nil
}
