package repositories

import (
	"context"
	"fmt"
	"time"

	"paybroker/internal/models"

	"gorm.io/gorm"
)

type WebhookEventRepository interface {
	// Record stores the delivery. It returns false when the same
	// (provider, event_id) was already recorded.
	Record(ctx context.Context, event *models.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, id string, processingErr error, now time.Time) error
}

type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return true, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id string, processingErr error, now time.Time) error {
	updates := map[string]interface{}{"processed_at": now}
	if processingErr != nil {
		updates["processing_error"] = processingErr.Error()
	}
	err := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}
