package payment

import (
	"context"
	"time"

	"paybroker/internal/models"
	"paybroker/internal/providers"
)

// Service defines the payment service interface
type Service interface {
	// Charges
	ProcessPayment(ctx context.Context, identity models.Identity, req ChargeRequest) (*providers.ChargeResult, error)
	RefundPayment(ctx context.Context, identity models.Identity, req RefundRequest) (*RefundResponse, error)

	// Status
	GetPaymentStatus(ctx context.Context, identity models.Identity, paymentID string) (*StatusResponse, error)
	// ApplyProviderStatus is the only path by which asynchronous provider
	// events change a payment. It reports whether the stored status changed.
	ApplyProviderStatus(ctx context.Context, provider, providerPaymentID, status string) (bool, error)
}

// Dependencies required by the payment service

// CardReader is the read side of the card token store.
type CardReader interface {
	GetCard(ctx context.Context, cardID string) (*models.PaymentCard, error)
	FindCardByToken(ctx context.Context, userID, paymentToken string) (*models.PaymentCard, error)
	GetCompletedSession(ctx context.Context, sessionID, userID string) (*models.TokenizationSession, error)
}

type ProviderResolver interface {
	Resolve(name string) (providers.Capability, error)
}

// StatusCache holds recent provider status lookups.
type StatusCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
