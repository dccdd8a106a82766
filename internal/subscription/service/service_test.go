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
	"github.com/smallbiznis/tiendly/internal/member"
	"github.com/smallbiznis/tiendly/internal/notification"
	"github.com/smallbiznis/tiendly/internal/payment"
	paymentdomain "github.com/smallbiznis/tiendly/internal/payment/domain"
	"github.com/smallbiznis/tiendly/internal/subscription/domain"
	"github.com/smallbiznis/tiendly/internal/subscription/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	name            string
	changePlanCalls int
	lastChange      paymentdomain.PlanChange
	changePlanErr   error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) CreateCheckout(context.Context, paymentdomain.CheckoutSpec) (*paymentdomain.Checkout, error) {
	return &paymentdomain.Checkout{URL: "https://example.test/checkout"}, nil
}

func (p *fakeProvider) ChargeTrialEnd(context.Context, paymentdomain.TrialCharge) error { return nil }

func (p *fakeProvider) ChangePlan(_ context.Context, change paymentdomain.PlanChange) error {
	p.changePlanCalls++
	p.lastChange = change
	return p.changePlanErr
}

func (p *fakeProvider) VerifyWebhook([]byte, http.Header, url.Values) error { return nil }

func (p *fakeProvider) ParseWebhook(context.Context, []byte, url.Values) (*paymentdomain.Event, error) {
	return nil, paymentdomain.ErrEventIgnored
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	clk      *clock.FakeClock
	genID    *snowflake.Node
	provider *fakeProvider
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Subscription{},
		&domain.Event{},
		&domain.PaymentMethod{},
		&domain.PaymentMethodStaging{},
		&domain.Plan{},
		&member.Member{},
		&notification.Message{},
	))

	genID, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := &fakeProvider{name: "stripe"}

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     genID,
		Clock:     clk,
		Repo:      repository.Provide(),
		Outbox:    notification.NewOutbox(genID),
		Providers: payment.NewRegistry(provider),
	})

	return &fixture{db: db, svc: svc, clk: clk, genID: genID, provider: provider}
}

func (f *fixture) seedSubscription(t *testing.T, mutate func(*domain.Subscription)) *domain.Subscription {
	t.Helper()

	companyID := f.genID.Generate()
	sub := &domain.Subscription{
		ID:                     f.genID.Generate(),
		CompanyID:              companyID,
		PlanID:                 f.genID.Generate(),
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_test_1",
		Status:                 domain.StatusActive,
		AmountUSDCents:         2500,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, f.db.Create(sub).Error)

	require.NoError(t, f.db.Create(&member.Member{
		ID:        f.genID.Generate(),
		CompanyID: sub.CompanyID,
		UserID:    f.genID.Generate(),
		Email:     "owner@example.test",
		Role:      "owner",
		Active:    true,
	}).Error)
	return sub
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *domain.Subscription {
	t.Helper()
	var sub domain.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", id).Error)
	return &sub
}

func TestApplyPaymentFailedSchedulesRetry(t *testing.T) {
	f := setup(t)
	seeded := f.seedSubscription(t, nil)

	got, err := f.svc.ApplyPaymentFailed(context.Background(), "stripe", "sub_test_1")
	require.NoError(t, err)
	require.Equal(t, 1, got.PaymentFailedCount)
	require.Equal(t, domain.StatusPastDue, got.Status)
	require.NotNil(t, got.PaymentRetryAfter)
	require.Equal(t, f.clk.Now().Add(3*24*time.Hour), got.PaymentRetryAfter.UTC())
	require.Nil(t, got.DisabledUntil)

	stored := f.reload(t, seeded.ID)
	require.Equal(t, 1, stored.PaymentFailedCount)
	require.Equal(t, int64(1), stored.Version)
}

func TestApplyPaymentFailedSuspendsAtThreshold(t *testing.T) {
	f := setup(t)
	seeded := f.seedSubscription(t, func(sub *domain.Subscription) {
		sub.PaymentFailedCount = 2
		sub.Status = domain.StatusPastDue
	})

	got, err := f.svc.ApplyPaymentFailed(context.Background(), "stripe", "sub_test_1")
	require.NoError(t, err)
	require.Equal(t, 3, got.PaymentFailedCount)
	require.NotNil(t, got.DisabledUntil)
	require.Equal(t, f.clk.Now().Add(7*24*time.Hour), got.DisabledUntil.UTC())
	require.NotNil(t, got.PaymentRetryAfter)
	require.Equal(t, f.clk.Now().Add(7*24*time.Hour), got.PaymentRetryAfter.UTC())

	var events []domain.Event
	require.NoError(t, f.db.Where("company_id = ?", seeded.CompanyID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventPaymentFailed, events[0].EventType)

	var msgs []notification.Message
	require.NoError(t, f.db.Find(&msgs).Error)
	require.Len(t, msgs, 1)
	require.Equal(t, notification.TemplatePaymentFailed, msgs[0].Template)
	require.Equal(t, "owner@example.test", msgs[0].Recipient)
}

func TestApplyPaymentSucceededResetsDunningState(t *testing.T) {
	f := setup(t)
	failedAt := f.clk.Now().Add(-48 * time.Hour)
	retryAt := f.clk.Now().Add(24 * time.Hour)
	seeded := f.seedSubscription(t, func(sub *domain.Subscription) {
		sub.Status = domain.StatusPastDue
		sub.PaymentFailedCount = 4
		sub.LastPaymentFailedAt = &failedAt
		sub.PaymentRetryAfter = &retryAt
		sub.DisabledUntil = &retryAt
	})

	got, err := f.svc.ApplyPaymentSucceeded(context.Background(), "stripe", "sub_test_1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, got.Status)
	require.Zero(t, got.PaymentFailedCount)
	require.Nil(t, got.LastPaymentFailedAt)
	require.Nil(t, got.PaymentRetryAfter)
	require.Nil(t, got.DisabledUntil)

	var events []domain.Event
	require.NoError(t, f.db.Where("company_id = ?", seeded.CompanyID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventPaymentRecovered, events[0].EventType)
}

func TestApplyPaymentSucceededWithoutPriorFailureSkipsRecoveryEvent(t *testing.T) {
	f := setup(t)
	seeded := f.seedSubscription(t, nil)

	_, err := f.svc.ApplyPaymentSucceeded(context.Background(), "stripe", "sub_test_1")
	require.NoError(t, err)

	var count int64
	require.NoError(t, f.db.Model(&domain.Event{}).Where("company_id = ?", seeded.CompanyID).Count(&count).Error)
	require.Zero(t, count)
}

func TestApplyCanceled(t *testing.T) {
	f := setup(t)
	seeded := f.seedSubscription(t, nil)

	got, err := f.svc.ApplyCanceled(context.Background(), "stripe", "sub_test_1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, got.Status)

	var events []domain.Event
	require.NoError(t, f.db.Where("company_id = ?", seeded.CompanyID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventCanceled, events[0].EventType)
	require.Equal(t, string(domain.StatusActive), events[0].OldValue)
	require.Equal(t, string(domain.StatusCanceled), events[0].NewValue)
}

func TestTransitionUnknownSubscription(t *testing.T) {
	f := setup(t)

	_, err := f.svc.ApplyPaymentFailed(context.Background(), "stripe", "sub_missing")
	require.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestChangePlanSamePriceRejectedBeforeProviderCall(t *testing.T) {
	f := setup(t)

	oldPlan := &domain.Plan{ID: f.genID.Generate(), Code: "basic", Name: "Basic", PriceUSDCents: 2500, Active: true}
	newPlan := &domain.Plan{ID: f.genID.Generate(), Code: "basic-v2", Name: "Basic v2", PriceUSDCents: 2500, Active: true}
	require.NoError(t, f.db.Create(oldPlan).Error)
	require.NoError(t, f.db.Create(newPlan).Error)

	seeded := f.seedSubscription(t, func(sub *domain.Subscription) {
		sub.PlanID = oldPlan.ID
	})

	var m member.Member
	require.NoError(t, f.db.First(&m, "company_id = ?", seeded.CompanyID).Error)

	_, err := f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		CompanyID: seeded.CompanyID,
		NewPlanID: newPlan.ID,
		UserID:    m.UserID,
	})
	require.ErrorIs(t, err, domain.ErrSamePlan)
	require.Zero(t, f.provider.changePlanCalls)
}

func TestChangePlanUpgrade(t *testing.T) {
	f := setup(t)

	oldPlan := &domain.Plan{ID: f.genID.Generate(), Code: "basic", Name: "Basic", PriceUSDCents: 2500, Active: true}
	newPlan := &domain.Plan{ID: f.genID.Generate(), Code: "pro", Name: "Pro", PriceUSDCents: 5000, Active: true}
	require.NoError(t, f.db.Create(oldPlan).Error)
	require.NoError(t, f.db.Create(newPlan).Error)

	seeded := f.seedSubscription(t, func(sub *domain.Subscription) {
		sub.PlanID = oldPlan.ID
	})
	var m member.Member
	require.NoError(t, f.db.First(&m, "company_id = ?", seeded.CompanyID).Error)

	result, err := f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		CompanyID: seeded.CompanyID,
		NewPlanID: newPlan.ID,
		UserID:    m.UserID,
	})
	require.NoError(t, err)
	require.True(t, result.Upgraded)
	require.Equal(t, "basic", result.OldPlan)
	require.Equal(t, "pro", result.NewPlan)

	require.Equal(t, 1, f.provider.changePlanCalls)
	require.True(t, f.provider.lastChange.Upgrade)
	require.Equal(t, int64(5000), f.provider.lastChange.NewAmountUSDCents)

	stored := f.reload(t, seeded.ID)
	require.Equal(t, newPlan.ID, stored.PlanID)
	require.Equal(t, int64(5000), stored.AmountUSDCents)

	var events []domain.Event
	require.NoError(t, f.db.Where("company_id = ?", seeded.CompanyID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventUpgraded, events[0].EventType)
}

func TestChangePlanDowngrade(t *testing.T) {
	f := setup(t)

	oldPlan := &domain.Plan{ID: f.genID.Generate(), Code: "pro", Name: "Pro", PriceUSDCents: 5000, Active: true}
	newPlan := &domain.Plan{ID: f.genID.Generate(), Code: "basic", Name: "Basic", PriceUSDCents: 2500, Active: true}
	require.NoError(t, f.db.Create(oldPlan).Error)
	require.NoError(t, f.db.Create(newPlan).Error)

	seeded := f.seedSubscription(t, func(sub *domain.Subscription) {
		sub.PlanID = oldPlan.ID
	})
	var m member.Member
	require.NoError(t, f.db.First(&m, "company_id = ?", seeded.CompanyID).Error)

	result, err := f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		CompanyID: seeded.CompanyID,
		NewPlanID: newPlan.ID,
		UserID:    m.UserID,
	})
	require.NoError(t, err)
	require.False(t, result.Upgraded)
	require.False(t, f.provider.lastChange.Upgrade)

	var events []domain.Event
	require.NoError(t, f.db.Where("company_id = ?", seeded.CompanyID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventDowngraded, events[0].EventType)
}

func TestChangePlanNonMemberRejected(t *testing.T) {
	f := setup(t)

	plan := &domain.Plan{ID: f.genID.Generate(), Code: "pro", Name: "Pro", PriceUSDCents: 5000, Active: true}
	require.NoError(t, f.db.Create(plan).Error)
	seeded := f.seedSubscription(t, nil)

	_, err := f.svc.ChangePlan(context.Background(), domain.ChangePlanRequest{
		CompanyID: seeded.CompanyID,
		NewPlanID: plan.ID,
		UserID:    f.genID.Generate(),
	})
	require.ErrorIs(t, err, domain.ErrNotCompanyMember)
	require.Zero(t, f.provider.changePlanCalls)
}

func TestSavePaymentMethodFirstIsDefault(t *testing.T) {
	f := setup(t)
	seeded := f.seedSubscription(t, nil)

	err := f.svc.SavePaymentMethod(context.Background(), domain.SavePaymentMethodRequest{
		CompanyID: seeded.CompanyID,
		Provider:  "stripe",
		Ref:       "pm_123",
		Brand:     "visa",
		Last4:     "4242",
	})
	require.NoError(t, err)

	var methods []domain.PaymentMethod
	require.NoError(t, f.db.Where("company_id = ?", seeded.CompanyID).Find(&methods).Error)
	require.Len(t, methods, 1)
	require.True(t, methods[0].IsDefault)

	err = f.svc.SavePaymentMethod(context.Background(), domain.SavePaymentMethodRequest{
		CompanyID: seeded.CompanyID,
		Provider:  "stripe",
		Ref:       "pm_456",
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Where("company_id = ?", seeded.CompanyID).Order("created_at").Find(&methods).Error)
	require.Len(t, methods, 2)
	require.False(t, methods[1].IsDefault && methods[0].IsDefault)

	stored := f.reload(t, seeded.ID)
	require.NotNil(t, stored.StripePaymentMethodID)
	require.Equal(t, "pm_456", *stored.StripePaymentMethodID)
	require.Nil(t, stored.MPPreapprovalID)
}

func TestSavePaymentMethodStagedByEmail(t *testing.T) {
	f := setup(t)

	err := f.svc.SavePaymentMethod(context.Background(), domain.SavePaymentMethodRequest{
		Email:    "signup@example.test",
		Provider: "mercadopago",
		Ref:      "pre_abc",
	})
	require.NoError(t, err)

	var staged []domain.PaymentMethodStaging
	require.NoError(t, f.db.Where("email = ?", "signup@example.test").Find(&staged).Error)
	require.Len(t, staged, 1)
	require.Equal(t, "pre_abc", staged[0].Ref)
}

func TestSavePaymentMethodValidation(t *testing.T) {
	f := setup(t)

	err := f.svc.SavePaymentMethod(context.Background(), domain.SavePaymentMethodRequest{Provider: "stripe"})
	require.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)

	err = f.svc.SavePaymentMethod(context.Background(), domain.SavePaymentMethodRequest{Provider: "stripe", Ref: "pm_1"})
	require.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)
}
