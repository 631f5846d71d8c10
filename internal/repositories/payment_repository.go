package repositories

import (
	"context"
	"errors"
	"time"

	"paybroker/internal/models"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentStateConflict = errors.New("payment is not in the expected state")
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, paymentID string) (*models.Payment, error)
	GetByTransactionID(ctx context.Context, provider, transactionID string) (*models.Payment, error)

	// Finalize moves a processing payment to its terminal status. It returns
	// ErrPaymentStateConflict when the payment already left processing.
	Finalize(ctx context.Context, paymentID, status string, transactionID, errorMessage *string) error
	MarkFailed(ctx context.Context, paymentID, errorMessage string) error
	MarkRefunded(ctx context.Context, paymentID string, refundMetadata map[string]interface{}, now time.Time) error
	// TransitionStatus updates status only when the current one is in from.
	TransitionStatus(ctx context.Context, paymentID string, from []string, to string) (bool, error)
}
