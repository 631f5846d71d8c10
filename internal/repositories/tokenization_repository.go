package repositories

import (
	"context"
	"errors"
	"time"

	"paybroker/internal/models"
)

var (
	ErrSessionNotFound = errors.New("tokenization session not found")
	ErrClaimLost       = errors.New("session completion claim lost")
	ErrCardNotFound    = errors.New("payment card not found")
	ErrDuplicateCard   = errors.New("payment card already exists")
)

// SessionFailure is written on the failure path of a completion attempt.
type SessionFailure struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// TokenizationRepository is the card token store: tokenization sessions and
// the saved cards they produce. Both live behind one repository so a session
// transition and its card write share a transaction.
type TokenizationRepository interface {
	// Session operations
	CreateSession(ctx context.Context, session *models.TokenizationSession) error
	GetSession(ctx context.Context, sessionID string) (*models.TokenizationSession, error)
	GetCompletedSession(ctx context.Context, sessionID, userID string) (*models.TokenizationSession, error)

	// ClaimSession marks an attempt as the only one allowed to complete the
	// session. It succeeds only for pending or failed sessions whose previous
	// claim is older than leaseCutoff.
	ClaimSession(ctx context.Context, sessionID, attemptID string, now, leaseCutoff time.Time) (bool, error)
	// CompleteSession moves a claimed session to completed. It returns
	// ErrClaimLost when attemptID no longer holds the claim.
	CompleteSession(ctx context.Context, sessionID, attemptID, tokenID string, cardDetail map[string]interface{}, now time.Time) error
	// FailSession records a failed attempt and releases its claim. It only
	// applies while attemptID holds the claim; a completed session is never
	// moved back to failed.
	FailSession(ctx context.Context, sessionID, attemptID string, failure SessionFailure, now time.Time) error
	// ExpireSession records an expiry outside of any attempt. It leaves the
	// session untouched and reports false while another attempt holds a claim
	// newer than leaseCutoff.
	ExpireSession(ctx context.Context, sessionID string, failure SessionFailure, now, leaseCutoff time.Time) (bool, error)

	// Card operations
	CreateCard(ctx context.Context, card *models.PaymentCard) error
	GetCard(ctx context.Context, cardID string) (*models.PaymentCard, error)
	FindCardByToken(ctx context.Context, userID, paymentToken string) (*models.PaymentCard, error)
	FindCardByIdentity(ctx context.Context, userID, provider, paymentToken, lastFour, brand string) (*models.PaymentCard, error)
	ListCards(ctx context.Context, userID string) ([]*models.PaymentCard, error)
	ClearOtherDefaults(ctx context.Context, userID, keepCardID string) error
	SetDefaultCard(ctx context.Context, userID, cardID string) error

	// Batch operations
	ExecuteInTransaction(ctx context.Context, fn func(TokenizationRepository) error) error
}
