package payment

import "time"

const (
	DefaultStatusCacheTTL = 30 * time.Second

	paymentIDPrefix = "payment_"
)

type Config struct {
	// StatusCacheTTL is how long a provider status lookup is reused.
	StatusCacheTTL time.Duration
}

// ChargeRequest charges a saved card. Exactly one of TokenID and SessionID
// names the card.
type ChargeRequest struct {
	PaymentID        string                 `json:"payment_id"`
	UserID           string                 `json:"user_id" validate:"required"`
	ProfessionalID   string                 `json:"professional_id" validate:"required"`
	ServiceRequestID string                 `json:"service_request_id" validate:"required"`
	Amount           float64                `json:"amount" validate:"required,gt=0"`
	Currency         string                 `json:"currency" validate:"required"`
	Provider         string                 `json:"provider" validate:"required"`
	Description      string                 `json:"description" validate:"required,max=500"`
	TokenID          string                 `json:"token_id"`
	SessionID        string                 `json:"session_id"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// RefundRequest refunds a completed payment. A nil Amount is a full refund.
type RefundRequest struct {
	PaymentID string   `json:"payment_id" validate:"required"`
	Amount    *float64 `json:"amount" validate:"omitempty,gt=0"`
	Reason    string   `json:"reason" validate:"max=500"`
}

type RefundResponse struct {
	Message   string  `json:"message"`
	PaymentID string  `json:"payment_id"`
	RefundID  string  `json:"refund_id,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

type StatusResponse struct {
	PaymentID         string  `json:"payment_id"`
	Provider          string  `json:"provider"`
	Status            string  `json:"status"`
	ProviderStatus    string  `json:"provider_status,omitempty"`
	ProviderPaymentID string  `json:"provider_payment_id,omitempty"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
}
