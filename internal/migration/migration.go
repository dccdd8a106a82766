// Package migration applies the schema on startup.
package migration

import (
	intentdomain "github.com/smallbiznis/tiendly/internal/intent/domain"
	"github.com/smallbiznis/tiendly/internal/member"
	"github.com/smallbiznis/tiendly/internal/notification"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
	"github.com/smallbiznis/tiendly/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	err := db.AutoMigrate(
		&intentdomain.SignupIntent{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Event{},
		&subscriptiondomain.Plan{},
		&subscriptiondomain.PaymentMethod{},
		&subscriptiondomain.PaymentMethodStaging{},
		&webhook.Event{},
		&notification.Message{},
		&member.Member{},
	)
	if err != nil {
		return err
	}
	log.Info("schema migrated")
	return nil
}

var Module = fx.Module("migration",
	fx.Invoke(AutoMigrate),
)
