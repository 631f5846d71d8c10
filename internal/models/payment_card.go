package models

import "time"

const (
	CardTypeCredit  = "credit"
	CardTypeDebit   = "debit"
	CardTypePrepaid = "prepaid"
	CardTypeOther   = "other"
)

// PaymentCard is a saved instrument. PaymentToken is the only value ever sent
// back to the provider; raw card numbers are never stored.
type PaymentCard struct {
	CardID            string  `gorm:"primaryKey;size:64" json:"card_id"`
	UserID            string  `gorm:"not null;size:128;index;uniqueIndex:ux_payment_cards_identity,priority:1" json:"user_id"`
	Provider          string  `gorm:"not null;size:32;uniqueIndex:ux_payment_cards_identity,priority:2" json:"provider"`
	PaymentToken      string  `gorm:"not null;size:255;index;uniqueIndex:ux_payment_cards_identity,priority:3" json:"-"`
	CardLastFour      string  `gorm:"not null;size:4;uniqueIndex:ux_payment_cards_identity,priority:4" json:"card_last_four"`
	CardBrand         string  `gorm:"not null;size:32;uniqueIndex:ux_payment_cards_identity,priority:5" json:"card_brand"`
	CardType          string  `gorm:"size:16;default:other" json:"card_type"`
	Alias             string  `gorm:"size:128" json:"alias,omitempty"`
	CardHolderName    string  `gorm:"size:255" json:"card_holder_name,omitempty"`
	ProviderUsername  string  `gorm:"size:64" json:"-"`
	ExpirationMonth   *int    `json:"expiration_month"`
	ExpirationYear    *int    `json:"expiration_year"`
	IsDefault         bool    `gorm:"default:false" json:"is_default"`
	AuthorizationCode *string `gorm:"size:64" json:"-"`

	TokenExpiresAt         *time.Time `json:"token_expires_at,omitempty"`
	RequiresCVVForPayments bool       `gorm:"default:false" json:"requires_cvv_for_payments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PaymentCard) TableName() string { return "payment_cards" }

// CardView is the public shape of a tokenized card. TokenID is the card_id.
type CardView struct {
	TokenID      string `json:"token_id"`
	CardLastFour string `json:"card_last_four"`
	CardBrand    string `json:"card_brand"`
	Provider     string `json:"provider"`
	CardExpMonth *int   `json:"card_exp_month"`
	CardExpYear  *int   `json:"card_exp_year"`
	IsDefault    bool   `json:"is_default"`
}

func (c *PaymentCard) View() *CardView {
	return &CardView{
		TokenID:      c.CardID,
		CardLastFour: c.CardLastFour,
		CardBrand:    c.CardBrand,
		Provider:     c.Provider,
		CardExpMonth: c.ExpirationMonth,
		CardExpYear:  c.ExpirationYear,
		IsDefault:    c.IsDefault,
	}
}
