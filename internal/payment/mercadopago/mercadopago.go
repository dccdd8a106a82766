// Package mercadopago adapts the MercadoPago preapproval (recurring
// billing) API to the internal payment.Provider surface. There is no
// maintained Go SDK, so the adapter talks to the REST API directly.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tiendly/internal/config"
	"github.com/smallbiznis/tiendly/internal/payment/domain"
)

const providerName = "mercadopago"

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Provider struct {
	accessToken   string
	webhookSecret string
	baseURL       string
	sandbox       bool
	http          httpDoer
}

func New(cfg config.MercadoPagoConfig) (*Provider, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, domain.ErrProviderNotFound
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.mercadopago.com"
	}
	return &Provider{
		accessToken:   token,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       base,
		sandbox:       cfg.Sandbox,
		http:          &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *Provider) Name() string { return providerName }

// MapStatus translates MercadoPago's preapproval status vocabulary
// into the internal one.
func MapStatus(raw string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "authorized", "approved", "active":
		return domain.StatusActive
	case "paused":
		return domain.StatusPastDue
	case "cancelled":
		return domain.StatusCanceled
	default:
		return domain.StatusIncomplete
	}
}

// ChargeReference builds the deterministic idempotency reference for a
// trial-end charge. It is stable across retries of the same logical
// attempt, so transient network retries cannot double-charge.
func ChargeReference(charge domain.TrialCharge) string {
	return fmt.Sprintf("trial-%s-%d", charge.IntentID, charge.TrialEndsAt.UTC().Unix())
}

type autoRecurring struct {
	Frequency         int       `json:"frequency"`
	FrequencyType     string    `json:"frequency_type"`
	TransactionAmount float64   `json:"transaction_amount"`
	CurrencyID        string    `json:"currency_id"`
	FreeTrial         *mpPeriod `json:"free_trial,omitempty"`
}

type mpPeriod struct {
	Frequency     int    `json:"frequency"`
	FrequencyType string `json:"frequency_type"`
}

type preapprovalPlanRequest struct {
	Reason        string        `json:"reason"`
	AutoRecurring autoRecurring `json:"auto_recurring"`
	BackURL       string        `json:"back_url"`
}

type preapprovalPlanResponse struct {
	ID string `json:"id"`
}

type preapprovalRequest struct {
	PreapprovalPlanID string `json:"preapproval_plan_id"`
	Reason            string `json:"reason"`
	ExternalReference string `json:"external_reference"`
	PayerEmail        string `json:"payer_email"`
	BackURL           string `json:"back_url"`
}

type preapprovalResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point"`
	PayerID           int64  `json:"payer_id"`
}

type authorizedPaymentRequest struct {
	PreapprovalID     string  `json:"preapproval_id"`
	Reason            string  `json:"reason"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

type authorizedPaymentResponse struct {
	ID            int64  `json:"id"`
	Status        string `json:"status"`
	PreapprovalID string `json:"preapproval_id"`
}

// CreateCheckout creates a preapproval_plan with the monthly recurrence
// and free trial, then a preapproval referencing it for the signer.
// The returned URL is the plan's init_point (sandbox variant when
// configured).
func (p *Provider) CreateCheckout(ctx context.Context, spec domain.CheckoutSpec) (*domain.Checkout, error) {
	if spec.AmountARSCents <= 0 {
		return nil, domain.ErrMissingARSAmount
	}
	amount := centsToUnits(spec.AmountARSCents)

	var plan preapprovalPlanResponse
	err := p.call(ctx, http.MethodPost, "/preapproval_plan", preapprovalPlanRequest{
		Reason: spec.PlanName,
		AutoRecurring: autoRecurring{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: amount,
			CurrencyID:        "ARS",
			FreeTrial: &mpPeriod{
				Frequency:     spec.TrialDays,
				FrequencyType: "days",
			},
		},
		BackURL: spec.SuccessURL,
	}, &plan)
	if err != nil {
		return nil, err
	}

	var pre preapprovalResponse
	err = p.call(ctx, http.MethodPost, "/preapproval", preapprovalRequest{
		PreapprovalPlanID: plan.ID,
		Reason:            spec.PlanName,
		ExternalReference: spec.IntentID.String(),
		PayerEmail:        spec.Email,
		BackURL:           spec.SuccessURL,
	}, &pre)
	if err != nil {
		return nil, err
	}

	checkoutURL := pre.InitPoint
	if p.sandbox && pre.SandboxInitPoint != "" {
		checkoutURL = pre.SandboxInitPoint
	}

	return &domain.Checkout{
		URL:               checkoutURL,
		ProviderSessionID: pre.ID,
		ProviderPlanID:    plan.ID,
	}, nil
}

// ChargeTrialEnd posts an authorized payment against the stored
// preapproval using the deterministic charge reference.
func (p *Provider) ChargeTrialEnd(ctx context.Context, charge domain.TrialCharge) error {
	if charge.AmountARSCents <= 0 {
		return domain.ErrMissingARSAmount
	}
	if strings.TrimSpace(charge.ProviderSubscriptionID) == "" {
		return domain.ErrInvalidEvent
	}

	var resp authorizedPaymentResponse
	return p.call(ctx, http.MethodPost, "/authorized_payments", authorizedPaymentRequest{
		PreapprovalID:     charge.ProviderSubscriptionID,
		Reason:            charge.Description,
		ExternalReference: ChargeReference(charge),
		TransactionAmount: centsToUnits(charge.AmountARSCents),
		CurrencyID:        "ARS",
	}, &resp)
}

// ChangePlan is not offered for MercadoPago subscriptions.
func (p *Provider) ChangePlan(context.Context, domain.PlanChange) error {
	return domain.ErrPlanChangeUnsupported
}

type webhookBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	ID     any    `json:"id"`
	Data   struct {
		ID any `json:"id"`
	} `json:"data"`
}

// ParseWebhook extracts topic and resource id from the body or query
// parameters, then re-fetches the authoritative resource from the API.
// The embedded status in the notification body is never trusted.
func (p *Provider) ParseWebhook(ctx context.Context, payload []byte, query url.Values) (*domain.Event, error) {
	topic, dataID := notificationKey(payload, query)
	if topic == "" || dataID == "" {
		return nil, domain.ErrInvalidPayload
	}

	base := domain.Event{
		Provider:   providerName,
		EventKey:   topic + ":" + dataID,
		OccurredAt: time.Now().UTC(),
		RawPayload: payload,
	}

	switch topic {
	case "preapproval", "subscription_preapproval":
		var pre preapprovalResponse
		if err := p.call(ctx, http.MethodGet, "/preapproval/"+dataID, nil, &pre); err != nil {
			return nil, err
		}
		base.Kind = domain.EventCheckoutConfirmed
		base.ProviderSubscriptionID = pre.ID
		base.ExternalReference = strings.TrimSpace(pre.ExternalReference)
		base.MappedStatus = MapStatus(pre.Status)
		return &base, nil

	case "payment", "authorized_payment", "subscription_authorized_payment":
		var pay authorizedPaymentResponse
		if err := p.call(ctx, http.MethodGet, "/authorized_payments/"+dataID, nil, &pay); err != nil {
			return nil, err
		}
		base.ProviderSubscriptionID = pay.PreapprovalID
		switch strings.ToLower(strings.TrimSpace(pay.Status)) {
		case "approved", "accredited":
			base.Kind = domain.EventPaymentSucceeded
			base.MappedStatus = domain.StatusActive
		case "rejected", "cancelled", "refunded":
			base.Kind = domain.EventPaymentFailed
			base.MappedStatus = domain.StatusPastDue
		default:
			return nil, domain.ErrEventIgnored
		}
		return &base, nil

	default:
		return nil, domain.ErrEventIgnored
	}
}

func notificationKey(payload []byte, query url.Values) (topic, dataID string) {
	var body webhookBody
	_ = json.Unmarshal(payload, &body)

	topic = strings.ToLower(strings.TrimSpace(body.Type))
	if topic == "" {
		topic = strings.ToLower(strings.TrimSpace(body.Topic))
	}
	if topic == "" {
		topic = strings.ToLower(strings.TrimSpace(query.Get("type")))
	}
	if topic == "" {
		topic = strings.ToLower(strings.TrimSpace(query.Get("topic")))
	}

	dataID = anyToString(body.Data.ID)
	if dataID == "" {
		dataID = anyToString(body.ID)
	}
	if dataID == "" {
		dataID = strings.TrimSpace(query.Get("data.id"))
	}
	if dataID == "" {
		dataID = strings.TrimSpace(query.Get("id"))
	}
	return topic, dataID
}

func anyToString(v any) string {
	switch cast := v.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return decimal.NewFromFloat(cast).String()
	case json.Number:
		return cast.String()
	default:
		return ""
	}
}

func centsToUnits(cents int64) float64 {
	units, _ := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).Round(2).Float64()
	return units
}

func (p *Provider) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return domain.Upstream(providerName, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Upstream(providerName, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Upstream(providerName, strings.TrimSpace(string(raw)), fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return domain.Upstream(providerName, path, err)
		}
	}
	return nil
}
