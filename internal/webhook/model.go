// Package webhook ingests provider notifications exactly once and
// translates them into billing state transitions.
package webhook

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type LedgerStatus string

const (
	LedgerReceived  LedgerStatus = "received"
	LedgerProcessed LedgerStatus = "processed"
	LedgerError     LedgerStatus = "error"
)

// Event is the idempotency ledger row. The unique (provider,
// event_key) pair guarantees a logical provider event is processed at
// most once; a redelivery of a processed event short-circuits.
type Event struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	Provider    string         `gorm:"type:text;not null;uniqueIndex:idx_webhook_provider_event_key"`
	EventKey    string         `gorm:"type:text;not null;uniqueIndex:idx_webhook_provider_event_key"`
	Kind        string         `gorm:"type:text"`
	Status      LedgerStatus   `gorm:"type:text;not null;index"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	LastError   string         `gorm:"type:text"`
	ProcessedAt *time.Time     `gorm:""`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Event) TableName() string { return "webhook_events" }

// Outcome reports what the ingest did with a notification.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)
