package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tiendly/internal/analytics"
	"github.com/smallbiznis/tiendly/internal/charger"
	"github.com/smallbiznis/tiendly/internal/config"
	intentservice "github.com/smallbiznis/tiendly/internal/intent/service"
	"github.com/smallbiznis/tiendly/internal/ratelimit"
	subscriptionservice "github.com/smallbiznis/tiendly/internal/subscription/service"
	"github.com/smallbiznis/tiendly/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	intents       *intentservice.Service
	subscriptions *subscriptionservice.Service
	webhooks      *webhook.Service
	charger       *charger.Charger
	analytics     *analytics.Service
	limiter       *ratelimit.WebhookLimiter
}

type Params struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Intents       *intentservice.Service
	Subscriptions *subscriptionservice.Service
	Webhooks      *webhook.Service
	Charger       *charger.Charger
	Analytics     *analytics.Service
	Limiter       *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("server"),
		genID:         p.GenID,
		intents:       p.Intents,
		subscriptions: p.Subscriptions,
		webhooks:      p.Webhooks,
		charger:       p.Charger,
		analytics:     p.Analytics,
		limiter:       p.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/signup-intents", s.createSignupIntent)
	v1.POST("/checkout", s.startCheckout)
	v1.POST("/payment-methods", s.savePaymentMethod)

	v1.POST("/webhooks/stripe", s.WebhookRateLimit("stripe"), s.handleWebhook("stripe"))
	v1.POST("/webhooks/mercadopago", s.WebhookRateLimit("mercadopago"), s.handleWebhook("mercadopago"))

	v1.POST("/sweeps/trial-charges", s.runTrialSweep)

	authed := v1.Group("", s.AuthRequired())
	authed.POST("/subscriptions/change-plan", s.changePlan)
	authed.GET("/analytics/subscriptions", s.RequirePlatformAdmin(), s.subscriptionAnalytics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)
