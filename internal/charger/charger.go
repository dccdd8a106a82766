// Package charger runs the scheduled billing sweeps: charging intents
// whose trial elapsed and deleting accounts whose grace window ran
// out.
package charger

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiendly/internal/clock"
	"github.com/smallbiznis/tiendly/internal/config"
	intentdomain "github.com/smallbiznis/tiendly/internal/intent/domain"
	intentservice "github.com/smallbiznis/tiendly/internal/intent/service"
	"github.com/smallbiznis/tiendly/internal/member"
	"github.com/smallbiznis/tiendly/internal/notification"
	"github.com/smallbiznis/tiendly/internal/observability/metrics"
	"github.com/smallbiznis/tiendly/internal/payment"
	paymentdomain "github.com/smallbiznis/tiendly/internal/payment/domain"
	"github.com/smallbiznis/tiendly/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobTimeout = 2 * time.Minute

// IntentResult is one per-intent entry in a sweep result. Errors are
// captured here instead of aborting the batch.
type IntentResult struct {
	IntentID snowflake.ID `json:"intent_id"`
	Email    string       `json:"email"`
	Action   string       `json:"action"`
	Status   string       `json:"status"`
	Error    string       `json:"error,omitempty"`
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Processed int            `json:"processed"`
	Results   []IntentResult `json:"results"`
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Config    config.Config
	Clock     clock.Clock
	Repo      intentdomain.Repository
	Intents   *intentservice.Service
	Providers *payment.Registry
	Outbox    *notification.Outbox
	Limiter   *ratelimit.WebhookLimiter `optional:"true"`
}

type Charger struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       config.Config
	clock     clock.Clock
	repo      intentdomain.Repository
	intents   *intentservice.Service
	providers *payment.Registry
	outbox    *notification.Outbox
	limiter   *ratelimit.WebhookLimiter
}

func NewCharger(p Params) *Charger {
	return &Charger{
		db:        p.DB,
		log:       p.Log.Named("charger"),
		cfg:       p.Config,
		clock:     p.Clock,
		repo:      p.Repo,
		intents:   p.Intents,
		providers: p.Providers,
		outbox:    p.Outbox,
		limiter:   p.Limiter,
	}
}

// RunOnce executes both sweeps back to back with per-job timeouts and
// returns the combined result. A cross-instance lease keeps multiple
// replicas from sweeping the same batch.
func (c *Charger) RunOnce(ctx context.Context) (*SweepResult, error) {
	combined := &SweepResult{}

	token, acquired, err := c.limiter.AcquireSweep(ctx)
	if err != nil {
		c.log.Warn("sweep lease unavailable", zap.Error(err))
	} else if !acquired {
		c.log.Info("sweep already running elsewhere")
		return combined, nil
	}
	defer func() {
		if token != "" {
			if err := c.limiter.ReleaseSweep(ctx, token); err != nil {
				c.log.Warn("sweep lease release failed", zap.Error(err))
			}
		}
	}()

	chargeCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	charged, err := c.ChargeDueTrials(chargeCtx)
	cancel()
	if err != nil {
		return combined, err
	}
	combined.Processed += charged.Processed
	combined.Results = append(combined.Results, charged.Results...)

	deleteCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	deleted, err := c.DeleteExpired(deleteCtx)
	cancel()
	if err != nil {
		return combined, err
	}
	combined.Processed += deleted.Processed
	combined.Results = append(combined.Results, deleted.Results...)
	return combined, nil
}

// RunForever runs the sweeps on the configured interval until the
// context ends.
func (c *Charger) RunForever(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Billing.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := c.RunOnce(ctx); err != nil {
			c.log.Warn("sweep run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ChargeDueTrials attempts the trial-end charge for up to the batch
// size of completed intents whose trial elapsed. Per-intent failures
// land in the result list; the batch never aborts.
func (c *Charger) ChargeDueTrials(ctx context.Context) (*SweepResult, error) {
	timer := time.Now()
	metrics.SweepRuns.WithLabelValues("charge_due_trials").Inc()
	defer func() {
		metrics.SweepDuration.WithLabelValues("charge_due_trials").Observe(time.Since(timer).Seconds())
	}()

	now := c.clock.Now()
	due, err := c.repo.ListDueTrialCharges(ctx, c.db, now, c.cfg.Billing.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Processed: len(due)}
	for i := range due {
		result.Results = append(result.Results, c.chargeOne(ctx, &due[i]))
	}
	return result, nil
}

func (c *Charger) chargeOne(ctx context.Context, intent *intentdomain.SignupIntent) IntentResult {
	res := IntentResult{IntentID: intent.ID, Email: intent.Email, Action: "charge"}

	provider, err := c.providers.Get(intent.Provider)
	if err != nil {
		return c.chargeFailed(ctx, intent, res, err)
	}

	trialEnds := c.clock.Now()
	if intent.TrialEndsAt != nil {
		trialEnds = *intent.TrialEndsAt
	}
	err = provider.ChargeTrialEnd(ctx, paymentdomain.TrialCharge{
		IntentID:               intent.ID,
		ProviderCustomerID:     intent.ProviderCustomerID,
		ProviderSubscriptionID: intent.ProviderSubscriptionID,
		AmountUSDCents:         intent.AmountUSDCents,
		AmountARSCents:         intent.AmountARSCents,
		TrialEndsAt:            trialEnds,
		Description:            fmt.Sprintf("Suscripción %s", intent.CompanyName),
	})
	if err != nil {
		return c.chargeFailed(ctx, intent, res, err)
	}

	if _, err := c.intents.MarkChargeSucceeded(ctx, intent.ID); err != nil {
		metrics.SweepErrors.WithLabelValues("charge_due_trials").Inc()
		res.Status = "error"
		res.Error = err.Error()
		return res
	}
	res.Status = "charged"
	return res
}

// chargeFailed starts the grace countdown and warns the signer. The
// warning email is best effort.
func (c *Charger) chargeFailed(ctx context.Context, intent *intentdomain.SignupIntent, res IntentResult, cause error) IntentResult {
	metrics.SweepErrors.WithLabelValues("charge_due_trials").Inc()
	c.log.Warn("trial charge failed",
		zap.String("intent_id", intent.ID.String()),
		zap.String("provider", intent.Provider),
		zap.Error(cause),
	)

	if _, err := c.intents.MarkChargeFailed(ctx, intent.ID); err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	msg := notification.Message{
		Recipient: intent.Email,
		Template:  notification.TemplateGraceWarning,
	}
	if intent.CompanyID != nil {
		msg.CompanyID = *intent.CompanyID
	}
	if err := c.outbox.Enqueue(ctx, c.db, msg); err != nil {
		c.log.Warn("grace warning enqueue failed", zap.Error(err))
	}

	res.Status = "payment_failed"
	res.Error = cause.Error()
	return res
}

// DeleteExpired removes accounts whose first charge failure is at
// least the grace window in the past: company-scoped rows go first,
// then the intent is marked deleted.
func (c *Charger) DeleteExpired(ctx context.Context) (*SweepResult, error) {
	timer := time.Now()
	metrics.SweepRuns.WithLabelValues("delete_expired_intents").Inc()
	defer func() {
		metrics.SweepDuration.WithLabelValues("delete_expired_intents").Observe(time.Since(timer).Seconds())
	}()

	cutoff := c.clock.Now().Add(-c.cfg.Billing.GraceWindow)
	expired, err := c.repo.ListExpiredFailures(ctx, c.db, cutoff)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Processed: len(expired)}
	for i := range expired {
		result.Results = append(result.Results, c.deleteOne(ctx, &expired[i]))
	}
	return result, nil
}

func (c *Charger) deleteOne(ctx context.Context, intent *intentdomain.SignupIntent) IntentResult {
	res := IntentResult{IntentID: intent.ID, Email: intent.Email, Action: "delete"}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if intent.CompanyID != nil {
			companyID := *intent.CompanyID
			if err := tx.Where("company_id = ?", companyID).Delete(&subscriptiondomain.Subscription{}).Error; err != nil {
				return err
			}
			if err := tx.Where("company_id = ?", companyID).Delete(&subscriptiondomain.PaymentMethod{}).Error; err != nil {
				return err
			}
			if err := tx.Where("company_id = ?", companyID).Delete(&member.Member{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.SweepErrors.WithLabelValues("delete_expired_intents").Inc()
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	if _, err := c.intents.MarkDeleted(ctx, intent.ID); err != nil {
		metrics.SweepErrors.WithLabelValues("delete_expired_intents").Inc()
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	c.log.Info("expired signup deleted", zap.String("intent_id", intent.ID.String()))
	res.Status = "deleted"
	return res
}

var Module = fx.Module("charger",
	fx.Provide(NewCharger),
)
