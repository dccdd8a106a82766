package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/tiendly/internal/clock"
	"github.com/smallbiznis/tiendly/internal/notification/email"
	"github.com/smallbiznis/tiendly/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxAttempts  = 5
	retryBackoff = 10 * time.Minute
)

// Dispatcher drains pending outbox rows and delivers them via the
// email provider. Bounded retries; a message that keeps failing is
// parked as failed, never blocking the queue.
type Dispatcher struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	email email.Provider
}

func NewDispatcher(db *gorm.DB, log *zap.Logger, clk clock.Clock, provider email.Provider) *Dispatcher {
	return &Dispatcher{
		db:    db,
		log:   log.Named("notification.dispatcher"),
		clock: clk,
		email: provider,
	}
}

// DispatchPending processes up to batchSize due messages and returns
// how many were attempted.
func (d *Dispatcher) DispatchPending(ctx context.Context, batchSize int) (int, error) {
	now := d.clock.Now()

	var messages []Message
	err := d.db.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", StatusPending, now).
		Order("created_at").
		Limit(batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}

	for i := range messages {
		d.deliver(ctx, &messages[i])
	}
	return len(messages), nil
}

// RunForever dispatches on a fixed interval until the context ends.
func (d *Dispatcher) RunForever(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchPending(ctx, batchSize); err != nil {
			d.log.Warn("outbox dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg *Message) {
	subject, body := Render(msg.Template, msg.Payload)
	sendErr := d.email.Send(ctx, []string{msg.Recipient}, subject, body)

	now := d.clock.Now()
	msg.Attempts++
	if sendErr == nil {
		msg.Status = StatusSent
		msg.LastError = ""
		msg.NextAttemptAt = nil
		metrics.OutboxDeliveries.WithLabelValues("sent").Inc()
	} else {
		msg.LastError = sendErr.Error()
		if msg.Attempts >= maxAttempts {
			msg.Status = StatusFailed
			metrics.OutboxDeliveries.WithLabelValues("failed").Inc()
			d.log.Warn("notification gave up",
				zap.String("template", msg.Template),
				zap.Int("attempts", msg.Attempts),
				zap.Error(sendErr),
			)
		} else {
			next := now.Add(retryBackoff)
			msg.NextAttemptAt = &next
			metrics.OutboxDeliveries.WithLabelValues("retry").Inc()
		}
	}
	msg.UpdatedAt = now

	if err := d.db.WithContext(ctx).Save(msg).Error; err != nil {
		d.log.Error("outbox row update failed", zap.Error(err))
	}
}

// Render produces the subject and HTML body for a template. Kept as
// plain string assembly; the payload carries the variable bits.
func Render(template string, payload map[string]any) (subject, body string) {
	plan := str(payload, "plan")
	switch template {
	case TemplatePaymentFailed:
		subject = "Problema con tu pago"
		body = fmt.Sprintf("<p>No pudimos procesar el pago de tu suscripción%s. Reintentaremos automáticamente.</p>", planSuffix(plan))
	case TemplatePaymentRecovered:
		subject = "Pago confirmado"
		body = fmt.Sprintf("<p>Tu pago fue procesado correctamente%s. ¡Gracias!</p>", planSuffix(plan))
	case TemplateGraceWarning:
		subject = "Tu cuenta será eliminada en 2 días"
		body = "<p>No pudimos cobrar tu suscripción al finalizar la prueba. Tenés 2 días para actualizar tu método de pago antes de que la cuenta sea eliminada.</p>"
	case TemplatePlanChanged:
		subject = "Cambio de plan confirmado"
		body = fmt.Sprintf("<p>Tu plan fue actualizado a %s.</p>", str(payload, "new_plan"))
	default:
		subject = "Notificación de facturación"
		body = "<p>Hay novedades en tu facturación.</p>"
	}
	return subject, body
}

func planSuffix(plan string) string {
	if plan == "" {
		return ""
	}
	return " (" + plan + ")"
}

func str(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
