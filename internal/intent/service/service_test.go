package service

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tiendly/internal/clock"
	"github.com/smallbiznis/tiendly/internal/config"
	"github.com/smallbiznis/tiendly/internal/intent/domain"
	"github.com/smallbiznis/tiendly/internal/intent/repository"
	"github.com/smallbiznis/tiendly/internal/member"
	"github.com/smallbiznis/tiendly/internal/payment"
	paymentdomain "github.com/smallbiznis/tiendly/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/tiendly/internal/subscription/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubProvider struct {
	name          string
	checkouts     int
	checkoutErr   error
	lastSpec      paymentdomain.CheckoutSpec
	checkoutReply paymentdomain.Checkout
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) CreateCheckout(_ context.Context, spec paymentdomain.CheckoutSpec) (*paymentdomain.Checkout, error) {
	p.checkouts++
	p.lastSpec = spec
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	reply := p.checkoutReply
	return &reply, nil
}

func (p *stubProvider) ChargeTrialEnd(context.Context, paymentdomain.TrialCharge) error { return nil }
func (p *stubProvider) ChangePlan(context.Context, paymentdomain.PlanChange) error      { return nil }
func (p *stubProvider) VerifyWebhook([]byte, http.Header, url.Values) error             { return nil }
func (p *stubProvider) ParseWebhook(context.Context, []byte, url.Values) (*paymentdomain.Event, error) {
	return nil, paymentdomain.ErrEventIgnored
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	clk      *clock.FakeClock
	genID    *snowflake.Node
	provider *stubProvider
	plan     *subscriptiondomain.Plan
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.SignupIntent{},
		&subscriptiondomain.Plan{},
		&subscriptiondomain.Subscription{},
		&member.Member{},
	))

	genID, err := snowflake.NewNode(2)
	require.NoError(t, err)

	plan := &subscriptiondomain.Plan{
		ID:            genID.Generate(),
		Code:          "pro",
		Name:          "Pro",
		PriceUSDCents: 2500,
		Active:        true,
	}
	require.NoError(t, db.Create(plan).Error)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := &stubProvider{
		name: "stripe",
		checkoutReply: paymentdomain.Checkout{
			URL:                "https://checkout.example.test/cs_1",
			ProviderCustomerID: "cus_1",
			ProviderSessionID:  "cs_1",
		},
	}

	cfg := config.Config{}
	cfg.Billing.TrialDays = 7
	cfg.Billing.ModuleAddonCents = 1000

	svc := NewService(Params{
		DB:            db,
		Log:           zap.NewNop(),
		Config:        cfg,
		GenID:         genID,
		Clock:         clk,
		Repo:          repository.Provide(),
		Subscriptions: subscriptionrepo.Provide(),
		Providers:     payment.NewRegistry(provider),
	})

	return &fixture{db: db, svc: svc, clk: clk, genID: genID, provider: provider, plan: plan}
}

func TestCreateComputesAmounts(t *testing.T) {
	f := setup(t)

	intent, err := f.svc.Create(context.Background(), domain.CreateRequest{
		Email:     "Buyer@Example.Test",
		FullName:  "Ana Diaz",
		PlanCode:  "pro",
		ModuleIDs: []string{"pos", "stock"},
		Provider:  "stripe",
		FxRateARS: "1450.5",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, intent.Status)
	require.Equal(t, "buyer@example.test", intent.Email)
	// 2500 plan + 2 * 1000 modules
	require.Equal(t, int64(4500), intent.AmountUSDCents)
	// 4500 * 1450.5, rounded
	require.Equal(t, int64(6527250), intent.AmountARSCents)
}

func TestCreateUnknownPlan(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Create(context.Background(), domain.CreateRequest{
		Email:    "buyer@example.test",
		PlanCode: "enterprise",
		Provider: "stripe",
	})
	require.ErrorIs(t, err, subscriptiondomain.ErrPlanNotFound)
}

func TestCreateUnknownProvider(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Create(context.Background(), domain.CreateRequest{
		Email:    "buyer@example.test",
		PlanCode: "pro",
		Provider: "paypal",
	})
	require.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func (f *fixture) createIntent(t *testing.T) *domain.SignupIntent {
	t.Helper()
	intent, err := f.svc.Create(context.Background(), domain.CreateRequest{
		Email:    "buyer@example.test",
		PlanCode: "pro",
		Provider: "stripe",
	})
	require.NoError(t, err)
	return intent
}

func TestStartCheckoutFromDraft(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)

	result, err := f.svc.StartCheckout(context.Background(), intent.ID, "https://app.example.test/ok", "https://app.example.test/cancel")
	require.NoError(t, err)
	require.Equal(t, "https://checkout.example.test/cs_1", result.CheckoutURL)
	require.Equal(t, "stripe", result.Provider)

	require.Equal(t, 1, f.provider.checkouts)
	require.Equal(t, intent.ID, f.provider.lastSpec.IntentID)
	require.Equal(t, int64(2500), f.provider.lastSpec.AmountUSDCents)
	require.Equal(t, 7, f.provider.lastSpec.TrialDays)

	var stored domain.SignupIntent
	require.NoError(t, f.db.First(&stored, "id = ?", intent.ID).Error)
	require.Equal(t, domain.StatusCheckoutCreated, stored.Status)
	require.Equal(t, "cus_1", stored.ProviderCustomerID)
	require.Equal(t, "cs_1", stored.ProviderSessionID)
}

func TestStartCheckoutRepeatAllowedBeforeConfirmation(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)

	_, err := f.svc.StartCheckout(context.Background(), intent.ID, "", "")
	require.NoError(t, err)
	_, err = f.svc.StartCheckout(context.Background(), intent.ID, "", "")
	require.NoError(t, err)
	require.Equal(t, 2, f.provider.checkouts)
}

func TestStartCheckoutRejectsProgressedIntent(t *testing.T) {
	f := setup(t)

	for _, status := range []domain.Status{
		domain.StatusPaidReady,
		domain.StatusCompleted,
		domain.StatusSubscriptionActive,
		domain.StatusDeleted,
	} {
		intent := f.createIntent(t)
		require.NoError(t, f.db.Model(&domain.SignupIntent{}).
			Where("id = ?", intent.ID).
			Update("status", status).Error)

		_, err := f.svc.StartCheckout(context.Background(), intent.ID, "", "")
		require.ErrorIs(t, err, domain.ErrIntentAlreadyProgressed, "status %s", status)
	}
	require.Zero(t, f.provider.checkouts)
}

func TestStartCheckoutUnknownIntent(t *testing.T) {
	f := setup(t)

	_, err := f.svc.StartCheckout(context.Background(), f.genID.Generate(), "", "")
	require.ErrorIs(t, err, domain.ErrIntentNotFound)
}

func TestConfirmCheckoutActiveAdvancesToPaidReady(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)
	_, err := f.svc.StartCheckout(context.Background(), intent.ID, "", "")
	require.NoError(t, err)

	got, err := f.svc.ConfirmCheckout(context.Background(), intent.ID.String(), "pre_abc", true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaidReady, got.Status)
	require.Equal(t, "pre_abc", got.ProviderSubscriptionID)
	require.NotNil(t, got.TrialEndsAt)
	require.Equal(t, f.clk.Now().Add(7*24*time.Hour), got.TrialEndsAt.UTC())
}

func TestConfirmCheckoutInactiveRollsBack(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)
	_, err := f.svc.StartCheckout(context.Background(), intent.ID, "", "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmCheckout(context.Background(), intent.ID.String(), "pre_abc", true)
	require.NoError(t, err)

	got, err := f.svc.ConfirmCheckout(context.Background(), intent.ID.String(), "", false)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCheckoutCreated, got.Status)
}

func TestCompleteMaterializesCompany(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)
	_, err := f.svc.StartCheckout(context.Background(), intent.ID, "", "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmCheckout(context.Background(), intent.ID.String(), "pre_abc", true)
	require.NoError(t, err)

	got, err := f.svc.Complete(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.CompanyID)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "company_id = ?", *got.CompanyID).Error)
	require.Equal(t, subscriptiondomain.StatusTrialing, sub.Status)
	require.Equal(t, "pre_abc", sub.ProviderSubscriptionID)
	require.Equal(t, "cus_1", sub.ProviderCustomerID)
	require.Equal(t, f.plan.ID, sub.PlanID)
	require.Equal(t, int64(2500), sub.AmountUSDCents)
	require.NotNil(t, sub.TrialEndsAt)

	var owner member.Member
	require.NoError(t, f.db.First(&owner, "company_id = ?", *got.CompanyID).Error)
	require.Equal(t, "buyer@example.test", owner.Email)
	require.Equal(t, "owner", owner.Role)
	require.True(t, owner.Active)

	// A redelivered confirmation cannot materialize twice.
	_, err = f.svc.Complete(context.Background(), intent.ID)
	require.ErrorIs(t, err, domain.ErrIntentAlreadyProgressed)
}

func TestCompleteRequiresPaidReady(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)

	_, err := f.svc.Complete(context.Background(), intent.ID)
	require.ErrorIs(t, err, domain.ErrIntentAlreadyProgressed)

	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRecoverFailedCharge(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)
	_, err := f.svc.StartCheckout(context.Background(), intent.ID, "", "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmCheckout(context.Background(), intent.ID.String(), "pre_abc", true)
	require.NoError(t, err)
	_, err = f.svc.Complete(context.Background(), intent.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkChargeFailed(context.Background(), intent.ID)
	require.NoError(t, err)

	got, err := f.svc.RecoverFailedCharge(context.Background(), "stripe", "pre_abc")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSubscriptionActive, got.Status)
	require.Nil(t, got.PaymentFailedAt)

	// Nothing to recover once active again.
	_, err = f.svc.RecoverFailedCharge(context.Background(), "stripe", "pre_abc")
	require.ErrorIs(t, err, domain.ErrIntentNotFound)
}

func TestLifecycleCompleteChargeFail(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)
	_, err := f.svc.StartCheckout(context.Background(), intent.ID, "", "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmCheckout(context.Background(), intent.ID.String(), "pre_abc", true)
	require.NoError(t, err)

	got, err := f.svc.Complete(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.CompanyID)

	got, err = f.svc.MarkChargeFailed(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaymentFailed, got.Status)
	require.NotNil(t, got.PaymentFailedAt)
	require.Equal(t, f.clk.Now(), got.PaymentFailedAt.UTC())

	// Recovery out of payment_failed is allowed.
	got, err = f.svc.MarkChargeSucceeded(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSubscriptionActive, got.Status)
	require.Nil(t, got.PaymentFailedAt)

	// subscription_active cannot fail back through this path.
	_, err = f.svc.MarkChargeFailed(context.Background(), intent.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMarkDeletedOnlyFromPaymentFailed(t *testing.T) {
	f := setup(t)
	intent := f.createIntent(t)

	_, err := f.svc.MarkDeleted(context.Background(), intent.ID)
	require.NoError(t, err)

	var stored domain.SignupIntent
	require.NoError(t, f.db.First(&stored, "id = ?", intent.ID).Error)
	require.Equal(t, domain.StatusDeleted, stored.Status)

	_, err = f.svc.MarkChargeSucceeded(context.Background(), intent.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}
