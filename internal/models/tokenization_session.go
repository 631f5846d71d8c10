package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SessionStatusPending   = "pending"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"

	SessionTypeDirect   = "direct"
	SessionTypeRedirect = "redirect"
)

// TokenizationSession tracks one card registration attempt. TokenID is the
// card_id of the resulting PaymentCard and is set only once completed.
type TokenizationSession struct {
	SessionID     string  `gorm:"primaryKey;size:128" json:"session_id"`
	UserID        string  `gorm:"not null;index;size:128" json:"user_id"`
	Provider      string  `gorm:"not null;size:32" json:"provider"`
	Status        string  `gorm:"not null;size:16;index" json:"status"`
	Type          string  `gorm:"not null;size:16" json:"type"`
	TokenID       *string `gorm:"size:64" json:"token_id"`
	ProviderToken string  `gorm:"size:255" json:"-"`
	Username      string  `gorm:"size:64" json:"-"`
	Email         string  `gorm:"size:255" json:"-"`
	Alias         string  `gorm:"size:128" json:"alias,omitempty"`
	SetAsDefault  bool    `gorm:"default:false" json:"set_as_default"`

	RedirectURL       string  `gorm:"size:1024" json:"redirect_url,omitempty"`
	ReturnURL         string  `gorm:"size:1024" json:"return_url,omitempty"`
	FinishRedirectURL *string `gorm:"size:1024" json:"finish_redirect_url"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ExpiresAt     time.Time  `gorm:"not null" json:"expires_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// Completion claim: set by a conditional update before the provider is
	// called so only one attempt at a time can complete the session.
	AttemptID *string    `gorm:"size:64" json:"-"`
	ClaimedAt *time.Time `json:"-"`

	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CardDetail   datatypes.JSONMap `json:"-"`
	ErrorCode    *string           `gorm:"size:64" json:"error_code,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	ErrorDetails datatypes.JSONMap `json:"error_details,omitempty"`
}

func (TokenizationSession) TableName() string { return "tokenization_sessions" }

func (s *TokenizationSession) IsCompleted() bool { return s.Status == SessionStatusCompleted }

// Expired reports whether the completion window closed before now.
func (s *TokenizationSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
