package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentStatusProcessing = "processing"
	PaymentStatusPending    = "pending"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusRefunded   = "refunded"
)

// Payment is one charge attempt and its optional refund.
type Payment struct {
	PaymentID        string            `gorm:"primaryKey;size:128" json:"payment_id"`
	UserID           string            `gorm:"not null;size:128;index" json:"user_id"`
	ProfessionalID   string            `gorm:"not null;size:128;index" json:"professional_id"`
	ServiceRequestID string            `gorm:"not null;size:128" json:"service_request_id"`
	Amount           float64           `gorm:"not null" json:"amount"`
	Currency         string            `gorm:"not null;size:8" json:"currency"`
	Provider         string            `gorm:"not null;size:32" json:"provider"`
	Description      string            `gorm:"size:500" json:"description"`
	CardID           *string           `gorm:"size:64" json:"card_id,omitempty"`
	Status           string            `gorm:"not null;size:16;index" json:"status"`
	TransactionID    *string           `gorm:"size:255;index" json:"transaction_id,omitempty"`
	ErrorMessage     *string           `json:"error_message,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	RefundMetadata   datatypes.JSONMap `json:"refund_metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	RefundedAt       *time.Time        `json:"refunded_at,omitempty"`
}

func (Payment) TableName() string { return "payments" }

// IsTerminal reports whether the attempt has left processing.
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentStatusProcessing && p.Status != PaymentStatusPending
}
