package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paybroker/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrPaymentStateConflict
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) GetByTransactionID(ctx context.Context, provider, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND transaction_id = ?", provider, transactionID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by transaction: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) Finalize(ctx context.Context, paymentID, status string, transactionID, errorMessage *string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_id = ? AND status = ?", paymentID, models.PaymentStatusProcessing).
		Updates(map[string]interface{}{
			"status":         status,
			"transaction_id": transactionID,
			"error_message":  errorMessage,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finalize payment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStateConflict
	}
	return nil
}

func (r *paymentRepository) MarkFailed(ctx context.Context, paymentID, errorMessage string) error {
	return r.Finalize(ctx, paymentID, models.PaymentStatusFailed, nil, &errorMessage)
}

func (r *paymentRepository) MarkRefunded(ctx context.Context, paymentID string, refundMetadata map[string]interface{}, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_id = ? AND status = ?", paymentID, models.PaymentStatusCompleted).
		Updates(map[string]interface{}{
			"status":          models.PaymentStatusRefunded,
			"refunded_at":     now,
			"refund_metadata": datatypes.JSONMap(refundMetadata),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark payment refunded: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStateConflict
	}
	return nil
}

func (r *paymentRepository) TransitionStatus(ctx context.Context, paymentID string, from []string, to string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_id = ? AND status IN ?", paymentID, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update payment status: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
