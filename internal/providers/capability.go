// Package providers adapts the three supported payment networks to one
// capability contract and resolves them by name through a Registry.
package providers

import (
	"context"
	"fmt"
	"time"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
)

// Shape is the behavioural variant of a provider.
type Shape string

const (
	ShapeDirect   Shape = "direct"
	ShapeRedirect Shape = "redirect"
	ShapeVault    Shape = "vault"
)

// ShapeOf maps a configured method onto a Shape.
func ShapeOf(method string) Shape {
	switch method {
	case config.MethodRedirect:
		return ShapeRedirect
	case config.MethodVault:
		return ShapeVault
	default:
		return ShapeDirect
	}
}

// Capability is the fixed operation set every provider exposes. Operations a
// shape does not support return METHOD_NOT_SUPPORTED.
type Capability interface {
	Name() string
	Shape() Shape

	TokenizeDirect(ctx context.Context, in DirectTokenizeInput) (*CardResult, error)
	CreateSession(ctx context.Context, in SessionInput) (*SessionHandle, error)
	CompleteSession(ctx context.Context, in SessionCompletion) (*CardResult, error)
	// CallbackSessionID maps the parameters of a completion callback to the
	// id of the session they belong to.
	CallbackSessionID(params map[string]string) (string, error)

	Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error)
	Refund(ctx context.Context, in RefundInput) (*RefundResult, error)
	GetStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error)

	// RequiresSignature reports whether webhook payloads must carry a signature.
	RequiresSignature() bool
	VerifyWebhook(ctx context.Context, req WebhookRequest) error
	HandleWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error)
}

// DirectTokenizeInput carries raw card data or an SDK issued token. Raw
// values are forwarded once and never kept.
type DirectTokenizeInput struct {
	CardNumber string
	ExpMonth   int
	ExpYear    int
	CVV        string
	HolderName string
	// CardToken is set for vault providers and for pre-tokenized direct input.
	CardToken string
	Email     string
}

// CardResult is what a provider returns for a newly tokenized instrument.
type CardResult struct {
	PaymentToken      string
	LastFour          string
	Brand             string
	CardType          string
	ExpMonth          *int
	ExpYear           *int
	HolderName        string
	AuthorizationCode string
	TokenExpiresAt    *time.Time
	RequiresCVV       bool
	// Username is the provider side customer reference used for charges.
	Username string
	// Detail is a sanitized copy of the provider response kept for audit.
	Detail map[string]interface{}
}

type SessionInput struct {
	UserID    string
	ReturnURL string
	Email     string
}

// CallbackTemplate tells the client how the provider will call back.
type CallbackTemplate struct {
	Method        string `json:"method"`
	IncludeIn     string `json:"include_in"`
	ParameterName string `json:"parameter_name"`
}

type SessionHandle struct {
	SessionID   string
	Token       string
	RedirectURL string
	Username    string
	Email       string
	Template    CallbackTemplate
}

type SessionCompletion struct {
	ProviderToken string
	Username      string
	Email         string
	Callback      map[string]string
}

type ChargeInput struct {
	PaymentID    string
	UserID       string
	Username     string
	PaymentToken string
	CardBrand    string
	Amount       float64
	Currency     string
	Description  string
	Email        string
}

type ChargeResult struct {
	PaymentID         string  `json:"payment_id"`
	Status            string  `json:"status"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	ProviderPaymentID string  `json:"provider_payment_id"`
	AuthorizationCode string  `json:"authorization_code,omitempty"`
	FailureMessage    string  `json:"failure_message,omitempty"`
}

type RefundInput struct {
	PaymentID         string
	ProviderPaymentID string
	// Amount is nil for a full refund.
	Amount   *float64
	Currency string
}

type RefundResult struct {
	RefundID string
	Status   string
	Amount   float64
}

type StatusResult struct {
	ProviderPaymentID string  `json:"provider_payment_id"`
	Status            string  `json:"status"`
	ProviderStatus    string  `json:"provider_status"`
	Amount            float64 `json:"amount"`
}

// WebhookRequest is an inbound provider notification.
type WebhookRequest struct {
	Payload   []byte
	Signature string
	Headers   map[string]string
	Query     map[string]string
	RemoteIP  string
}

// WebhookEvent is the normalized result of handling a notification.
// ProviderPaymentID and Status are empty when the event carries no payment
// status change.
type WebhookEvent struct {
	EventID           string
	Type              string
	ProviderPaymentID string
	Status            string
}

// unsupported supplies METHOD_NOT_SUPPORTED for every operation; adapters
// embed it and override what their shape implements.
type unsupported struct {
	name  string
	shape Shape
}

func (u unsupported) notSupported(op string) error {
	return appErrors.MethodNotSupported(
		fmt.Sprintf("%s does not support %s (shape: %s)", u.name, op, u.shape))
}

func (u unsupported) Name() string { return u.name }
func (u unsupported) Shape() Shape { return u.shape }

func (u unsupported) TokenizeDirect(context.Context, DirectTokenizeInput) (*CardResult, error) {
	return nil, u.notSupported("direct tokenization")
}

func (u unsupported) CreateSession(context.Context, SessionInput) (*SessionHandle, error) {
	return nil, u.notSupported("tokenization sessions")
}

func (u unsupported) CompleteSession(context.Context, SessionCompletion) (*CardResult, error) {
	return nil, u.notSupported("tokenization sessions")
}

func (u unsupported) CallbackSessionID(params map[string]string) (string, error) {
	if id := params["session_id"]; id != "" {
		return id, nil
	}
	return "", appErrors.MissingFields("session_id")
}

func (u unsupported) RequiresSignature() bool { return false }
