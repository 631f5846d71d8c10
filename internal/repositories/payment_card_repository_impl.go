package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paybroker/internal/models"

	"gorm.io/gorm"
)

func (r *tokenizationRepository) CreateCard(ctx context.Context, card *models.PaymentCard) error {
	card.CardBrand = strings.ToLower(card.CardBrand)
	if err := r.db.WithContext(ctx).Create(card).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateCard
		}
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

func (r *tokenizationRepository) GetCard(ctx context.Context, cardID string) (*models.PaymentCard, error) {
	var card models.PaymentCard
	if err := r.db.WithContext(ctx).Where("card_id = ?", cardID).First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &card, nil
}

func (r *tokenizationRepository) FindCardByToken(ctx context.Context, userID, paymentToken string) (*models.PaymentCard, error) {
	var card models.PaymentCard
	err := r.db.WithContext(ctx).
		Where("payment_token = ? AND user_id = ?", paymentToken, userID).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card by token: %w", err)
	}
	return &card, nil
}

func (r *tokenizationRepository) FindCardByIdentity(ctx context.Context, userID, provider, paymentToken, lastFour, brand string) (*models.PaymentCard, error) {
	var card models.PaymentCard
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND payment_token = ? AND card_last_four = ? AND card_brand = ?",
			userID, provider, paymentToken, lastFour, strings.ToLower(brand)).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card by identity: %w", err)
	}
	return &card, nil
}

func (r *tokenizationRepository) ListCards(ctx context.Context, userID string) ([]*models.PaymentCard, error) {
	var cards []*models.PaymentCard
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&cards).Error; err != nil {
		return nil, fmt.Errorf("failed to get user cards: %w", err)
	}
	return cards, nil
}

// ClearOtherDefaults is a single statement so concurrent default changes
// cannot leave two defaults behind.
func (r *tokenizationRepository) ClearOtherDefaults(ctx context.Context, userID, keepCardID string) error {
	err := r.db.WithContext(ctx).
		Model(&models.PaymentCard{}).
		Where("user_id = ? AND card_id <> ? AND is_default = ?", userID, keepCardID, true).
		Update("is_default", false).Error
	if err != nil {
		return fmt.Errorf("failed to clear default cards: %w", err)
	}
	return nil
}

func (r *tokenizationRepository) SetDefaultCard(ctx context.Context, userID, cardID string) error {
	return r.ExecuteInTransaction(ctx, func(tx TokenizationRepository) error {
		txRepo := tx.(*tokenizationRepository)

		result := txRepo.db.Model(&models.PaymentCard{}).
			Where("card_id = ? AND user_id = ?", cardID, userID).
			Update("is_default", true)
		if result.Error != nil {
			return fmt.Errorf("failed to set default card: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrCardNotFound
		}

		return tx.ClearOtherDefaults(ctx, userID, cardID)
	})
}
