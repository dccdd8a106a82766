package payment

import (
	"errors"

	"github.com/smallbiznis/tiendly/internal/config"
	"github.com/smallbiznis/tiendly/internal/payment/domain"
	"github.com/smallbiznis/tiendly/internal/payment/mercadopago"
	"github.com/smallbiznis/tiendly/internal/payment/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewProviders builds the registry from whichever gateways are
// configured. An unconfigured gateway is skipped, not fatal.
func NewProviders(cfg config.Config, log *zap.Logger) *Registry {
	var providers []domain.Provider

	sp, err := stripe.New(cfg.Stripe)
	if err == nil {
		providers = append(providers, sp)
	} else if !errors.Is(err, domain.ErrProviderNotFound) {
		log.Warn("stripe provider disabled", zap.Error(err))
	}

	mp, err := mercadopago.New(cfg.MercadoPago)
	if err == nil {
		providers = append(providers, mp)
	} else if !errors.Is(err, domain.ErrProviderNotFound) {
		log.Warn("mercadopago provider disabled", zap.Error(err))
	}

	if len(providers) == 0 {
		log.Warn("no payment providers configured")
	}
	return NewRegistry(providers...)
}

var Module = fx.Module("payment",
	fx.Provide(NewProviders),
)
