package tokenization

import (
	"context"

	"paybroker/internal/models"
	"paybroker/internal/providers"
)

// Service drives card registration and owns the tokenization session state
// machine: pending -> completed | failed, failed -> completed.
type Service interface {
	// Single call registration for direct and vault providers
	TokenizeDirect(ctx context.Context, identity models.Identity, req DirectRequest) (*models.CardView, error)

	// Redirect registration
	CreateSession(ctx context.Context, identity models.Identity, req SessionRequest) (*SessionResponse, error)
	CompleteSession(ctx context.Context, provider, sessionID string, callback map[string]string) (*CompletionResult, error)
	CallbackSessionID(provider string, params map[string]string) (string, error)
	GetSession(ctx context.Context, identity models.Identity, sessionID string) (*models.TokenizationSession, error)

	// Saved cards
	ListCards(ctx context.Context, identity models.Identity) ([]*models.CardView, error)
	SetDefaultCard(ctx context.Context, identity models.Identity, cardID string) (*models.CardView, error)
}

// ProviderResolver is the part of the provider registry the service needs.
type ProviderResolver interface {
	Resolve(name string) (providers.Capability, error)
}
