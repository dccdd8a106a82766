package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiendly/internal/analytics"
	"github.com/smallbiznis/tiendly/internal/charger"
	"github.com/smallbiznis/tiendly/internal/clock"
	"github.com/smallbiznis/tiendly/internal/config"
	"github.com/smallbiznis/tiendly/internal/intent"
	"github.com/smallbiznis/tiendly/internal/logger"
	"github.com/smallbiznis/tiendly/internal/migration"
	"github.com/smallbiznis/tiendly/internal/notification"
	"github.com/smallbiznis/tiendly/internal/payment"
	"github.com/smallbiznis/tiendly/internal/ratelimit"
	"github.com/smallbiznis/tiendly/internal/server"
	"github.com/smallbiznis/tiendly/internal/subscription"
	"github.com/smallbiznis/tiendly/internal/webhook"
	"github.com/smallbiznis/tiendly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		payment.Module,
		notification.Module,
		subscription.Module,
		intent.Module,
		webhook.Module,
		charger.Module,
		analytics.Module,
		ratelimit.Module,

		server.Module,
		fx.Invoke(runWorkers),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// runWorkers starts the in-process background loops: the billing
// sweeps and the notification outbox dispatcher.
func runWorkers(lc fx.Lifecycle, cfg config.Config, sweeper *charger.Charger, dispatcher *notification.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sweeper.RunForever(ctx)
			go dispatcher.RunForever(ctx, cfg.Billing.OutboxInterval, cfg.Billing.SweepBatchSize)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
