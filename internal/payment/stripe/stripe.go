// Package stripe adapts the Stripe billing API to the internal
// payment.Provider surface.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/smallbiznis/tiendly/internal/config"
	"github.com/smallbiznis/tiendly/internal/payment/domain"
)

const providerName = "stripe"

type Provider struct {
	webhookSecret string
}

func New(cfg config.StripeConfig) (*Provider, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, domain.ErrProviderNotFound
	}
	stripelib.Key = key
	return &Provider{webhookSecret: strings.TrimSpace(cfg.WebhookSecret)}, nil
}

func (p *Provider) Name() string { return providerName }

// CreateCheckout creates a Customer and a subscription-mode Checkout
// Session with a dynamically priced monthly line item and the standard
// free trial.
func (p *Provider) CreateCheckout(ctx context.Context, spec domain.CheckoutSpec) (*domain.Checkout, error) {
	cust, err := customer.New(&stripelib.CustomerParams{
		Params: stripelib.Params{Context: ctx},
		Email:  stripelib.String(spec.Email),
		Metadata: map[string]string{
			"intent_id": spec.IntentID.String(),
		},
	})
	if err != nil {
		return nil, upstream("create customer", err)
	}

	sess, err := session.New(&stripelib.CheckoutSessionParams{
		Params:            stripelib.Params{Context: ctx},
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:          stripelib.String(cust.ID),
		SuccessURL:        stripelib.String(spec.SuccessURL),
		CancelURL:         stripelib.String(spec.CancelURL),
		ClientReferenceID: stripelib.String(spec.IntentID.String()),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Quantity: stripelib.Int64(1),
				PriceData: &stripelib.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripelib.String(string(stripelib.CurrencyUSD)),
					UnitAmount: stripelib.Int64(spec.AmountUSDCents),
					ProductData: &stripelib.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripelib.String(spec.PlanName),
					},
					Recurring: &stripelib.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripelib.String(string(stripelib.PriceRecurringIntervalMonth)),
					},
				},
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripelib.Int64(int64(spec.TrialDays)),
			Metadata: map[string]string{
				"intent_id": spec.IntentID.String(),
			},
		},
	})
	if err != nil {
		return nil, upstream("create checkout session", err)
	}

	return &domain.Checkout{
		URL:                sess.URL,
		ProviderCustomerID: cust.ID,
		ProviderSessionID:  sess.ID,
	}, nil
}

// ChargeTrialEnd creates an immediate auto-advancing invoice against
// the stored customer. Stripe finalizes and attempts collection; the
// outcome arrives asynchronously as an invoice webhook.
func (p *Provider) ChargeTrialEnd(ctx context.Context, charge domain.TrialCharge) error {
	if strings.TrimSpace(charge.ProviderCustomerID) == "" {
		return domain.ErrInvalidEvent
	}

	_, err := invoiceitem.New(&stripelib.InvoiceItemParams{
		Params:      stripelib.Params{Context: ctx},
		Customer:    stripelib.String(charge.ProviderCustomerID),
		Amount:      stripelib.Int64(charge.AmountUSDCents),
		Currency:    stripelib.String(string(stripelib.CurrencyUSD)),
		Description: stripelib.String(charge.Description),
	})
	if err != nil {
		return upstream("create invoice item", err)
	}

	_, err = invoice.New(&stripelib.InvoiceParams{
		Params:           stripelib.Params{Context: ctx},
		Customer:         stripelib.String(charge.ProviderCustomerID),
		AutoAdvance:      stripelib.Bool(true),
		CollectionMethod: stripelib.String(string(stripelib.InvoiceCollectionMethodChargeAutomatically)),
	})
	if err != nil {
		return upstream("create invoice", err)
	}
	return nil
}

// ChangePlan swaps the single subscription item for a new dynamically
// priced one. Upgrades prorate onto the next invoice; downgrades
// invoice the credit immediately.
func (p *Provider) ChangePlan(ctx context.Context, change domain.PlanChange) error {
	sub, err := subscription.Get(change.ProviderSubscriptionID, &stripelib.SubscriptionParams{
		Params: stripelib.Params{Context: ctx},
	})
	if err != nil {
		return upstream("fetch subscription", err)
	}
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return domain.ErrInvalidEvent
	}
	item := sub.Items.Data[0]

	behavior := prorationBehavior(change.Upgrade)

	productID := ""
	if item.Price != nil && item.Price.Product != nil {
		productID = item.Price.Product.ID
	}

	_, err = subscription.Update(change.ProviderSubscriptionID, &stripelib.SubscriptionParams{
		Params:            stripelib.Params{Context: ctx},
		ProrationBehavior: stripelib.String(behavior),
		Items: []*stripelib.SubscriptionItemsParams{
			{
				ID: stripelib.String(item.ID),
				PriceData: &stripelib.SubscriptionItemPriceDataParams{
					Currency:   stripelib.String(string(stripelib.CurrencyUSD)),
					Product:    stripelib.String(productID),
					UnitAmount: stripelib.Int64(change.NewAmountUSDCents),
					Recurring: &stripelib.SubscriptionItemPriceDataRecurringParams{
						Interval: stripelib.String(string(stripelib.PriceRecurringIntervalMonth)),
					},
				},
			},
		},
	})
	if err != nil {
		return upstream("update subscription", err)
	}
	return nil
}

// prorationBehavior selects the proration_behavior value for a
// subscription update; the SDK exports no constants for it.
func prorationBehavior(upgrade bool) string {
	if upgrade {
		return "create_prorations"
	}
	return "always_invoice"
}

// VerifyWebhook checks the Stripe-Signature header against the
// configured endpoint secret.
func (p *Provider) VerifyWebhook(payload []byte, headers http.Header, _ url.Values) error {
	if p.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	sig := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sig == "" {
		return domain.ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, sig, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

type stripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

type stripeCheckoutSession struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentStatus     string `json:"payment_status"`
}

// ParseWebhook normalizes a verified Stripe event. Unhandled event
// types return ErrEventIgnored.
func (p *Provider) ParseWebhook(_ context.Context, payload []byte, _ url.Values) (*domain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := time.Unix(event.Created, 0).UTC()
	base := domain.Event{
		Provider:   providerName,
		EventKey:   event.ID,
		OccurredAt: occurredAt,
		RawPayload: payload,
	}

	switch strings.TrimSpace(event.Type) {
	case "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		base.Kind = domain.EventPaymentFailed
		base.ProviderSubscriptionID = inv.Subscription
		base.MappedStatus = domain.StatusPastDue
		return &base, nil

	case "invoice.payment_succeeded":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		base.Kind = domain.EventPaymentSucceeded
		base.ProviderSubscriptionID = inv.Subscription
		base.MappedStatus = domain.StatusActive
		return &base, nil

	case "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		base.Kind = domain.EventSubscriptionCanceled
		base.ProviderSubscriptionID = sub.ID
		base.MappedStatus = domain.StatusCanceled
		return &base, nil

	case "checkout.session.completed":
		var sess stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &sess); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		base.Kind = domain.EventCheckoutConfirmed
		base.ProviderSubscriptionID = sess.Subscription
		base.ExternalReference = strings.TrimSpace(sess.ClientReferenceID)
		base.MappedStatus = domain.StatusActive
		if sess.PaymentStatus == "unpaid" {
			base.MappedStatus = domain.StatusIncomplete
		}
		return &base, nil

	default:
		return nil, domain.ErrEventIgnored
	}
}

func upstream(op string, err error) error {
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		return domain.Upstream(providerName, stripeErr.Msg, err)
	}
	return domain.Upstream(providerName, op, err)
}
