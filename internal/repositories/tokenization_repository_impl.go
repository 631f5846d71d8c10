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

type tokenizationRepository struct {
	db *gorm.DB
}

func NewTokenizationRepository(db *gorm.DB) TokenizationRepository {
	return &tokenizationRepository{
		db: db,
	}
}

func (r *tokenizationRepository) ExecuteInTransaction(ctx context.Context, fn func(TokenizationRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &tokenizationRepository{db: tx}
		return fn(txRepo)
	})
}

func (r *tokenizationRepository) CreateSession(ctx context.Context, session *models.TokenizationSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *tokenizationRepository) GetSession(ctx context.Context, sessionID string) (*models.TokenizationSession, error) {
	var session models.TokenizationSession
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (r *tokenizationRepository) GetCompletedSession(ctx context.Context, sessionID, userID string) (*models.TokenizationSession, error) {
	var session models.TokenizationSession
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ? AND status = ?", sessionID, userID, models.SessionStatusCompleted).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get completed session: %w", err)
	}
	return &session, nil
}

func (r *tokenizationRepository) ClaimSession(ctx context.Context, sessionID, attemptID string, now, leaseCutoff time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.TokenizationSession{}).
		Where("session_id = ?", sessionID).
		Where("status IN ?", []string{models.SessionStatusPending, models.SessionStatusFailed}).
		Where("(claimed_at IS NULL OR claimed_at < ?)", leaseCutoff).
		Updates(map[string]interface{}{
			"attempt_id":      attemptID,
			"claimed_at":      now,
			"last_attempt_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim session: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *tokenizationRepository) CompleteSession(ctx context.Context, sessionID, attemptID, tokenID string, cardDetail map[string]interface{}, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.TokenizationSession{}).
		Where("session_id = ? AND attempt_id = ? AND status <> ?", sessionID, attemptID, models.SessionStatusCompleted).
		Updates(map[string]interface{}{
			"status":        models.SessionStatusCompleted,
			"token_id":      tokenID,
			"completed_at":  now,
			"card_detail":   datatypes.JSONMap(cardDetail),
			"error_code":    nil,
			"error_message": nil,
			"error_details": nil,
			"attempt_id":    nil,
			"claimed_at":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

func (r *tokenizationRepository) FailSession(ctx context.Context, sessionID, attemptID string, failure SessionFailure, now time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.TokenizationSession{}).
		Where("session_id = ? AND attempt_id = ? AND status <> ?", sessionID, attemptID, models.SessionStatusCompleted).
		Updates(failureUpdates(failure, now)).Error
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}
	return nil
}

func (r *tokenizationRepository) ExpireSession(ctx context.Context, sessionID string, failure SessionFailure, now, leaseCutoff time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.TokenizationSession{}).
		Where("session_id = ? AND status <> ?", sessionID, models.SessionStatusCompleted).
		Where("(claimed_at IS NULL OR claimed_at < ?)", leaseCutoff).
		Updates(failureUpdates(failure, now))
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark session expired: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func failureUpdates(failure SessionFailure, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":          models.SessionStatusFailed,
		"error_code":      failure.Code,
		"error_message":   failure.Message,
		"error_details":   datatypes.JSONMap(failure.Details),
		"last_attempt_at": now,
		"attempt_id":      nil,
		"claimed_at":      nil,
	}
}
