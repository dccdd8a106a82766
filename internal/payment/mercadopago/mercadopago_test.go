package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiendly/internal/payment/domain"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	responses map[string]string
	requests  []*http.Request
	bodies    []string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	var body string
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	f.bodies = append(f.bodies, body)

	reply, ok := f.responses[req.Method+" "+req.URL.Path]
	if !ok {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"message":"not found"}`))),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader([]byte(reply))),
	}, nil
}

func newTestProvider(doer *fakeDoer) *Provider {
	return &Provider{
		accessToken:   "token",
		webhookSecret: "secret",
		baseURL:       "https://api.mercadopago.test",
		http:          doer,
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]domain.Status{
		"authorized": domain.StatusActive,
		"approved":   domain.StatusActive,
		"ACTIVE":     domain.StatusActive,
		"paused":     domain.StatusPastDue,
		"cancelled":  domain.StatusCanceled,
		"pending":    domain.StatusIncomplete,
		"whatever":   domain.StatusIncomplete,
	}
	for raw, want := range cases {
		require.Equal(t, want, MapStatus(raw), "status %q", raw)
	}
}

func TestChargeReferenceDeterministic(t *testing.T) {
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	charge := domain.TrialCharge{
		IntentID:    node.Generate(),
		TrialEndsAt: time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC),
	}
	first := ChargeReference(charge)
	second := ChargeReference(charge)
	require.Equal(t, first, second)

	// A different trial end produces a different reference.
	charge.TrialEndsAt = charge.TrialEndsAt.Add(time.Hour)
	require.NotEqual(t, first, ChargeReference(charge))
}

func signManifest(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(buildManifest(dataID, requestID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	p := newTestProvider(&fakeDoer{})
	payload := []byte(`{"type":"preapproval","data":{"id":"PRE123"}}`)

	headers := http.Header{}
	headers.Set("x-request-id", "req-1")
	headers.Set("x-signature", "ts=1700000000,v1="+signManifest("secret", "PRE123", "req-1", "1700000000"))
	require.NoError(t, p.VerifyWebhook(payload, headers, nil))

	// Wrong secret.
	headers.Set("x-signature", "ts=1700000000,v1="+signManifest("other", "PRE123", "req-1", "1700000000"))
	require.ErrorIs(t, p.VerifyWebhook(payload, headers, nil), domain.ErrInvalidSignature)

	// Tampered resource id.
	headers.Set("x-signature", "ts=1700000000,v1="+signManifest("secret", "PRE999", "req-1", "1700000000"))
	require.ErrorIs(t, p.VerifyWebhook(payload, headers, nil), domain.ErrInvalidSignature)

	// Missing header.
	headers.Del("x-signature")
	require.ErrorIs(t, p.VerifyWebhook(payload, headers, nil), domain.ErrInvalidSignature)
}

func TestVerifyWebhookRequiresSecret(t *testing.T) {
	p := newTestProvider(&fakeDoer{})
	p.webhookSecret = ""
	require.ErrorIs(t, p.VerifyWebhook(nil, http.Header{}, nil), domain.ErrInvalidSignature)
}

func TestCreateCheckoutRequiresARSAmount(t *testing.T) {
	p := newTestProvider(&fakeDoer{})
	_, err := p.CreateCheckout(context.Background(), domain.CheckoutSpec{AmountARSCents: 0})
	require.ErrorIs(t, err, domain.ErrMissingARSAmount)
}

func TestCreateCheckout(t *testing.T) {
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	intentID := node.Generate()

	doer := &fakeDoer{responses: map[string]string{
		"POST /preapproval_plan": `{"id":"plan_1"}`,
		"POST /preapproval":      `{"id":"pre_1","init_point":"https://mp.test/init","sandbox_init_point":"https://mp.test/sandbox"}`,
	}}
	p := newTestProvider(doer)

	checkout, err := p.CreateCheckout(context.Background(), domain.CheckoutSpec{
		IntentID:       intentID,
		Email:          "buyer@example.test",
		PlanName:       "Pro",
		AmountARSCents: 3500050,
		TrialDays:      7,
		SuccessURL:     "https://app.example.test/ok",
	})
	require.NoError(t, err)
	require.Equal(t, "https://mp.test/init", checkout.URL)
	require.Equal(t, "pre_1", checkout.ProviderSessionID)
	require.Equal(t, "plan_1", checkout.ProviderPlanID)

	var plan preapprovalPlanRequest
	require.NoError(t, json.Unmarshal([]byte(doer.bodies[0]), &plan))
	require.Equal(t, 1, plan.AutoRecurring.Frequency)
	require.Equal(t, "months", plan.AutoRecurring.FrequencyType)
	require.Equal(t, "ARS", plan.AutoRecurring.CurrencyID)
	require.InDelta(t, 35000.50, plan.AutoRecurring.TransactionAmount, 1e-9)
	require.NotNil(t, plan.AutoRecurring.FreeTrial)
	require.Equal(t, 7, plan.AutoRecurring.FreeTrial.Frequency)
	require.Equal(t, "days", plan.AutoRecurring.FreeTrial.FrequencyType)

	var pre preapprovalRequest
	require.NoError(t, json.Unmarshal([]byte(doer.bodies[1]), &pre))
	require.Equal(t, intentID.String(), pre.ExternalReference)
	require.Equal(t, "plan_1", pre.PreapprovalPlanID)
}

func TestCreateCheckoutSandbox(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"POST /preapproval_plan": `{"id":"plan_1"}`,
		"POST /preapproval":      `{"id":"pre_1","init_point":"https://mp.test/init","sandbox_init_point":"https://mp.test/sandbox"}`,
	}}
	p := newTestProvider(doer)
	p.sandbox = true

	checkout, err := p.CreateCheckout(context.Background(), domain.CheckoutSpec{AmountARSCents: 100})
	require.NoError(t, err)
	require.Equal(t, "https://mp.test/sandbox", checkout.URL)
}

func TestChargeTrialEndUsesDeterministicReference(t *testing.T) {
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	doer := &fakeDoer{responses: map[string]string{
		"POST /authorized_payments": `{"id":9,"status":"approved","preapproval_id":"pre_1"}`,
	}}
	p := newTestProvider(doer)

	charge := domain.TrialCharge{
		IntentID:               node.Generate(),
		ProviderSubscriptionID: "pre_1",
		AmountARSCents:         3500000,
		TrialEndsAt:            time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC),
		Description:            "Suscripción Tiendly",
	}
	require.NoError(t, p.ChargeTrialEnd(context.Background(), charge))

	var req authorizedPaymentRequest
	require.NoError(t, json.Unmarshal([]byte(doer.bodies[0]), &req))
	require.Equal(t, "pre_1", req.PreapprovalID)
	require.Equal(t, ChargeReference(charge), req.ExternalReference)
	require.InDelta(t, 35000.0, req.TransactionAmount, 1e-9)
}

func TestChargeTrialEndValidation(t *testing.T) {
	p := newTestProvider(&fakeDoer{})

	err := p.ChargeTrialEnd(context.Background(), domain.TrialCharge{AmountARSCents: 0})
	require.ErrorIs(t, err, domain.ErrMissingARSAmount)

	err = p.ChargeTrialEnd(context.Background(), domain.TrialCharge{AmountARSCents: 100})
	require.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestChangePlanUnsupported(t *testing.T) {
	p := newTestProvider(&fakeDoer{})
	err := p.ChangePlan(context.Background(), domain.PlanChange{})
	require.ErrorIs(t, err, domain.ErrPlanChangeUnsupported)
}

func TestParseWebhookPreapprovalRefetches(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"GET /preapproval/PRE123": `{"id":"PRE123","status":"authorized","external_reference":"12345"}`,
	}}
	p := newTestProvider(doer)

	payload := []byte(`{"type":"preapproval","data":{"id":"PRE123"}}`)
	event, err := p.ParseWebhook(context.Background(), payload, nil)
	require.NoError(t, err)
	require.Equal(t, "preapproval:PRE123", event.EventKey)
	require.Equal(t, domain.EventCheckoutConfirmed, event.Kind)
	require.Equal(t, "PRE123", event.ProviderSubscriptionID)
	require.Equal(t, "12345", event.ExternalReference)
	require.Equal(t, domain.StatusActive, event.MappedStatus)
}

func TestParseWebhookAuthorizedPayment(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"GET /authorized_payments/777": `{"id":777,"status":"rejected","preapproval_id":"pre_1"}`,
	}}
	p := newTestProvider(doer)

	// Topic and id arrive via query params only.
	query := url.Values{}
	query.Set("topic", "authorized_payment")
	query.Set("id", "777")

	event, err := p.ParseWebhook(context.Background(), nil, query)
	require.NoError(t, err)
	require.Equal(t, "authorized_payment:777", event.EventKey)
	require.Equal(t, domain.EventPaymentFailed, event.Kind)
	require.Equal(t, "pre_1", event.ProviderSubscriptionID)
}

func TestParseWebhookIgnoresUnknownTopic(t *testing.T) {
	p := newTestProvider(&fakeDoer{})
	payload := []byte(`{"type":"plan","data":{"id":"x"}}`)
	_, err := p.ParseWebhook(context.Background(), payload, nil)
	require.ErrorIs(t, err, domain.ErrEventIgnored)
}

func TestParseWebhookMissingKey(t *testing.T) {
	p := newTestProvider(&fakeDoer{})
	_, err := p.ParseWebhook(context.Background(), []byte(`{}`), nil)
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
}
