package notification

import (
	"github.com/smallbiznis/tiendly/internal/config"
	"github.com/smallbiznis/tiendly/internal/notification/email"
	"go.uber.org/fx"
)

// NewEmailProvider selects SMTP when configured, otherwise a no-op
// sender (local development).
func NewEmailProvider(cfg config.Config) email.Provider {
	if cfg.SMTP.Host == "" {
		return &email.NoOpProvider{}
	}
	return email.NewSMTP(cfg.SMTP)
}

var Module = fx.Module("notification",
	fx.Provide(
		NewEmailProvider,
		NewOutbox,
		NewDispatcher,
	),
)
