package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiendly/internal/clock"
	intentdomain "github.com/smallbiznis/tiendly/internal/intent/domain"
	intentservice "github.com/smallbiznis/tiendly/internal/intent/service"
	"github.com/smallbiznis/tiendly/internal/observability/metrics"
	"github.com/smallbiznis/tiendly/internal/payment"
	paymentdomain "github.com/smallbiznis/tiendly/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/tiendly/internal/subscription/service"
	"github.com/smallbiznis/tiendly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Providers     *payment.Registry
	Intents       *intentservice.Service
	Subscriptions *subscriptionservice.Service
}

// Service is the provider-agnostic webhook ingest pipeline: verify,
// parse, ledger, dispatch.
type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	providers     *payment.Registry
	intents       *intentservice.Service
	subscriptions *subscriptionservice.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("webhook"),
		genID:         p.GenID,
		clock:         p.Clock,
		providers:     p.Providers,
		intents:       p.Intents,
		subscriptions: p.Subscriptions,
	}
}

// Ingest runs one inbound notification through the pipeline. A
// verification failure surfaces as ErrInvalidSignature; a redelivered
// processed event returns OutcomeDuplicate without touching any
// billing state.
func (s *Service) Ingest(ctx context.Context, providerName string, payload []byte, headers http.Header, query url.Values) (Outcome, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return "", err
	}

	if err := provider.VerifyWebhook(payload, headers, query); err != nil {
		metrics.WebhookEvents.WithLabelValues(providerName, "unknown", "rejected").Inc()
		return "", err
	}

	event, err := provider.ParseWebhook(ctx, payload, query)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			metrics.WebhookEvents.WithLabelValues(providerName, "unknown", "ignored").Inc()
			return OutcomeIgnored, nil
		}
		return "", err
	}

	entry, outcome, err := s.recordEvent(ctx, event)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeDuplicate {
		metrics.WebhookEvents.WithLabelValues(event.Provider, string(event.Kind), "duplicate").Inc()
		return OutcomeDuplicate, nil
	}

	if err := s.dispatch(ctx, event); err != nil {
		s.markError(ctx, entry, err)
		metrics.WebhookEvents.WithLabelValues(event.Provider, string(event.Kind), "error").Inc()
		return "", err
	}

	s.markProcessed(ctx, entry)
	metrics.WebhookEvents.WithLabelValues(event.Provider, string(event.Kind), "processed").Inc()
	return OutcomeProcessed, nil
}

// recordEvent inserts the ledger row. On a unique-key collision the
// existing row decides: processed or in-flight rows short-circuit,
// errored rows are retried.
func (s *Service) recordEvent(ctx context.Context, event *paymentdomain.Event) (*Event, Outcome, error) {
	entry := &Event{
		ID:       s.genID.Generate(),
		Provider: event.Provider,
		EventKey: event.EventKey,
		Kind:     string(event.Kind),
		Status:   LedgerReceived,
		Payload:  datatypes.JSON(event.RawPayload),
	}
	err := s.db.WithContext(ctx).Create(entry).Error
	if err == nil {
		return entry, OutcomeProcessed, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, "", err
	}

	var existing Event
	findErr := s.db.WithContext(ctx).
		Where("provider = ? AND event_key = ?", event.Provider, event.EventKey).
		First(&existing).Error
	if findErr != nil {
		return nil, "", findErr
	}
	if existing.Status != LedgerError {
		return nil, OutcomeDuplicate, nil
	}
	return &existing, OutcomeProcessed, nil
}

func (s *Service) dispatch(ctx context.Context, event *paymentdomain.Event) error {
	switch event.Kind {
	case paymentdomain.EventCheckoutConfirmed:
		return s.dispatchCheckoutConfirmed(ctx, event)
	case paymentdomain.EventPaymentFailed:
		_, err := s.subscriptions.ApplyPaymentFailed(ctx, event.Provider, event.ProviderSubscriptionID)
		return s.tolerateUnknown(event, err)
	case paymentdomain.EventPaymentSucceeded:
		// A late successful charge during the grace window also
		// rescues the intent from deletion.
		if _, err := s.intents.RecoverFailedCharge(ctx, event.Provider, event.ProviderSubscriptionID); err != nil && !errors.Is(err, intentdomain.ErrIntentNotFound) {
			return err
		}
		_, err := s.subscriptions.ApplyPaymentSucceeded(ctx, event.Provider, event.ProviderSubscriptionID)
		return s.tolerateUnknown(event, err)
	case paymentdomain.EventSubscriptionCanceled:
		_, err := s.subscriptions.ApplyCanceled(ctx, event.Provider, event.ProviderSubscriptionID)
		return s.tolerateUnknown(event, err)
	default:
		s.log.Info("unhandled event kind",
			zap.String("provider", event.Provider),
			zap.String("kind", string(event.Kind)),
		)
		return nil
	}
}

// dispatchCheckoutConfirmed routes a confirmation: a matching pending
// intent advances to paid_ready and is materialized (or rolled back);
// otherwise a subscription already bound to the provider id gets its
// status updated in place.
func (s *Service) dispatchCheckoutConfirmed(ctx context.Context, event *paymentdomain.Event) error {
	active := event.MappedStatus == paymentdomain.StatusActive
	intent, err := s.intents.ConfirmCheckout(ctx, event.ExternalReference, event.ProviderSubscriptionID, active)
	if err == nil {
		if !active {
			return nil
		}
		if _, err := s.intents.Complete(ctx, intent.ID); err != nil && !errors.Is(err, intentdomain.ErrIntentAlreadyProgressed) {
			return err
		}
		return nil
	}
	if !errors.Is(err, intentdomain.ErrIntentNotFound) && !errors.Is(err, intentdomain.ErrInvalidTransition) {
		return err
	}

	_, err = s.subscriptions.ApplyProviderStatus(ctx, event.Provider, event.ProviderSubscriptionID, event.MappedStatus)
	return s.tolerateUnknown(event, err)
}

// tolerateUnknown swallows notifications for resources we no longer
// track; a provider redelivery cannot fix those.
func (s *Service) tolerateUnknown(event *paymentdomain.Event, err error) error {
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		s.log.Warn("notification for unknown subscription",
			zap.String("provider", event.Provider),
			zap.String("provider_subscription_id", event.ProviderSubscriptionID),
			zap.String("kind", string(event.Kind)),
		)
		return nil
	}
	return err
}

func (s *Service) markProcessed(ctx context.Context, entry *Event) {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"status":       LedgerProcessed,
			"processed_at": now,
			"last_error":   "",
			"updated_at":   now,
		}).Error
	if err != nil {
		s.log.Error("ledger update failed", zap.Error(err))
	}
}

func (s *Service) markError(ctx context.Context, entry *Event, cause error) {
	err := s.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"status":     LedgerError,
			"last_error": cause.Error(),
			"updated_at": s.clock.Now(),
		}).Error
	if err != nil {
		s.log.Error("ledger update failed", zap.Error(err))
	}
}

var Module = fx.Module("webhook",
	fx.Provide(NewService),
)
