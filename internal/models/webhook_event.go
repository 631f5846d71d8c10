package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent is the audit record of one accepted provider delivery.
// (provider, event_id) is unique so a redelivery is recorded once.
type WebhookEvent struct {
	ID              string         `gorm:"primaryKey;size:64"`
	Provider        string         `gorm:"not null;size:32;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventID         string         `gorm:"not null;size:255;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType       string         `gorm:"size:128"`
	Payload         datatypes.JSON `gorm:"not null"`
	SignatureValid  bool           `gorm:"default:false"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time
	ProcessingError *string
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// All lists the models owned by the service, in migration order.
func All() []interface{} {
	return []interface{}{
		&TokenizationSession{},
		&PaymentCard{},
		&Payment{},
		&WebhookEvent{},
	}
}
