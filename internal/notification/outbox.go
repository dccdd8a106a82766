// Package notification implements a post-commit email outbox. Billing
// transitions enqueue a row inside their own transaction; a separate
// dispatcher delivers them. A delivery failure can therefore never be
// mistaken for a state-mutation failure, and vice versa.
package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Template names understood by the renderer.
const (
	TemplatePaymentFailed    = "payment_failed"
	TemplatePaymentRecovered = "payment_recovered"
	TemplateGraceWarning     = "grace_warning"
	TemplatePlanChanged      = "plan_changed"
)

// Message is one pending outbound notification.
type Message struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	CompanyID     snowflake.ID      `gorm:"index"`
	Recipient     string            `gorm:"type:text;not null"`
	Template      string            `gorm:"type:text;not null"`
	Payload       datatypes.JSONMap `gorm:"type:jsonb"`
	Status        Status            `gorm:"type:text;not null;index"`
	Attempts      int               `gorm:"not null;default:0"`
	NextAttemptAt *time.Time        `gorm:"index"`
	LastError     string            `gorm:"type:text"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Message) TableName() string { return "notification_outbox" }

// Outbox enqueues messages transactionally.
type Outbox struct {
	genID *snowflake.Node
}

func NewOutbox(genID *snowflake.Node) *Outbox {
	return &Outbox{genID: genID}
}

// Enqueue inserts a pending message using the caller's transaction so
// the notification commits atomically with the state change it
// announces.
func (o *Outbox) Enqueue(ctx context.Context, tx *gorm.DB, msg Message) error {
	msg.ID = o.genID.Generate()
	msg.Status = StatusPending
	msg.Attempts = 0
	return tx.WithContext(ctx).Create(&msg).Error
}
