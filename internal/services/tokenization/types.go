package tokenization

import (
	"time"

	"paybroker/internal/models"
	"paybroker/internal/providers"
)

const (
	DefaultSessionTTL      = 30 * time.Minute
	DefaultCompletionLease = 2 * time.Minute
	DefaultAlias           = "Tarjeta suscrita"

	directSessionPrefix = "sess_"
)

// Config holds the tokenization timing knobs.
type Config struct {
	// SessionTTL bounds how long a redirect session may be completed.
	SessionTTL time.Duration
	// CompletionLease is how long a completion claim blocks other attempts.
	// It must stay above the provider call timeout.
	CompletionLease time.Duration
	DefaultAlias    string
}

// DirectRequest registers a card in one call. Raw card fields are used for
// direct providers, CardToken for vault providers.
type DirectRequest struct {
	UserID         string `json:"user_id"`
	Provider       string `json:"provider" validate:"required"`
	CardNumber     string `json:"card_number"`
	CardExpMonth   int    `json:"card_exp_month"`
	CardExpYear    int    `json:"card_exp_year"`
	CardCVV        string `json:"card_cvv"`
	CardHolderName string `json:"card_holder_name"`
	CardToken      string `json:"card_token"`
	Email          string `json:"email" validate:"omitempty,email"`
	Alias          string `json:"alias"`
	SetAsDefault   bool   `json:"set_as_default"`
}

type SessionRequest struct {
	UserID            string                 `json:"user_id"`
	Provider          string                 `json:"provider" validate:"required"`
	ReturnURL         string                 `json:"return_url" validate:"required,url"`
	FinishRedirectURL string                 `json:"finish_redirect_url" validate:"omitempty,url"`
	Alias             string                 `json:"alias"`
	SetAsDefault      bool                   `json:"set_as_default"`
	Email             string                 `json:"email" validate:"omitempty,email"`
	Metadata          map[string]interface{} `json:"metadata"`
}

type SessionResponse struct {
	SessionID   string                     `json:"session_id"`
	RedirectURL string                     `json:"redirect_url"`
	Token       string                     `json:"token"`
	Template    providers.CallbackTemplate `json:"template"`
	ExpiresAt   time.Time                  `json:"expires_at"`
}

// CompletionResult is what a finished redirect session produced.
// Existing is true when the instrument was already saved for the user.
type CompletionResult struct {
	SessionID         string           `json:"session_id"`
	Card              *models.CardView `json:"card"`
	Existing          bool             `json:"existing"`
	FinishRedirectURL *string          `json:"finish_redirect_url,omitempty"`
}

// cardRequest is the part of a request that shapes the stored card.
type cardRequest struct {
	userID       string
	provider     string
	alias        string
	setAsDefault bool
}
