package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tiendly/internal/config"
)

const (
	keyWebhook   = "webhook:%s"
	keySweepLock = "sweep:billing"

	webhookRate  = 20.0
	webhookBurst = 60

	sweepLockTTL = 5 * time.Minute
)

// WebhookLimiter bounds inbound webhook traffic per provider and
// serializes the billing sweep across instances. Without redis both
// degrade to pass-through.
type WebhookLimiter struct {
	enabled bool
	bucket  *TokenBucket
	locker  *Locker
}

func NewWebhookLimiter(cfg config.Config) *WebhookLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return &WebhookLimiter{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
	})
	return &WebhookLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow consumes one webhook token for the provider.
func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhook, strings.TrimSpace(provider)), webhookRate, webhookBurst)
}

// AcquireSweep takes the cross-instance sweep lease. The returned
// token must be passed back to ReleaseSweep.
func (l *WebhookLimiter) AcquireSweep(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keySweepLock, sweepLockTTL)
}

func (l *WebhookLimiter) ReleaseSweep(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keySweepLock, token)
}
