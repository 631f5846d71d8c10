package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
	"paybroker/internal/models"
	"paybroker/internal/utils/card"
)

const mercadoPagoBaseURL = "https://api.mercadopago.com"

// MercadoPagoProvider is the vault shape: the client SDK already produced a
// card token, the server looks it up, stores it and charges it.
type MercadoPagoProvider struct {
	unsupported
	client        *restClient
	webhookSecret string
}

func NewMercadoPagoProvider(cfg config.ProviderConfig) (Capability, error) {
	if cfg.AccessToken == "" {
		return nil, appErrors.ProviderNotConfigured(config.ProviderMercadoPago)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = mercadoPagoBaseURL
	}
	return &MercadoPagoProvider{
		unsupported: unsupported{name: config.ProviderMercadoPago, shape: ShapeVault},
		client: newRESTClient(baseURL, map[string]string{
			fiber.HeaderAuthorization: "Bearer " + cfg.AccessToken,
		}),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

type mpCardToken struct {
	ID              string `json:"id"`
	FirstSixDigits  string `json:"first_six_digits"`
	LastFourDigits  string `json:"last_four_digits"`
	ExpirationMonth int    `json:"expiration_month"`
	ExpirationYear  int    `json:"expiration_year"`
	Status          string `json:"status"`
	Cardholder      struct {
		Name string `json:"name"`
	} `json:"cardholder"`
}

func (p *MercadoPagoProvider) TokenizeDirect(ctx context.Context, in DirectTokenizeInput) (*CardResult, error) {
	if in.CardToken == "" {
		return nil, appErrors.MissingFields("card_token")
	}

	var tok mpCardToken
	if err := p.client.do(ctx, fiber.MethodGet, "/v1/card_tokens/"+url.PathEscape(in.CardToken), nil, &tok, nil); err != nil {
		return nil, mercadoPagoError(err, appErrors.CodeTokenizationCompletionFailed, "MercadoPago card token lookup failed")
	}
	if tok.LastFourDigits == "" {
		return nil, appErrors.Validation("MercadoPago card token has no card data")
	}

	holder := tok.Cardholder.Name
	if holder == "" {
		holder = in.HolderName
	}
	result := &CardResult{
		PaymentToken: in.CardToken,
		LastFour:     tok.LastFourDigits,
		Brand:        card.Brand(tok.FirstSixDigits),
		CardType:     models.CardTypeOther,
		HolderName:   holder,
		RequiresCVV:  true,
		Detail: map[string]interface{}{
			"first_six_digits": tok.FirstSixDigits,
			"status":           tok.Status,
		},
	}
	if tok.ExpirationMonth > 0 {
		month, year := tok.ExpirationMonth, tok.ExpirationYear
		result.ExpMonth, result.ExpYear = &month, &year
	}
	return result, nil
}

type mpPayer struct {
	Email string `json:"email,omitempty"`
}

type mpPaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Token             string  `json:"token"`
	Description       string  `json:"description"`
	Installments      int     `json:"installments"`
	PaymentMethodID   string  `json:"payment_method_id,omitempty"`
	ExternalReference string  `json:"external_reference"`
	Payer             mpPayer `json:"payer"`
}

type mpPayment struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	StatusDetail      string  `json:"status_detail"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	AuthorizationCode string  `json:"authorization_code"`
}

// mpPaymentMethod maps a card brand to a MercadoPago payment_method_id.
func mpPaymentMethod(brand string) string {
	switch brand {
	case card.BrandMastercard:
		return "master"
	case card.BrandVisa, card.BrandAmex, card.BrandDiners:
		return brand
	default:
		return ""
	}
}

func (p *MercadoPagoProvider) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	req := mpPaymentRequest{
		TransactionAmount: in.Amount,
		Token:             in.PaymentToken,
		Description:       in.Description,
		Installments:      1,
		PaymentMethodID:   mpPaymentMethod(in.CardBrand),
		ExternalReference: in.PaymentID,
		Payer:             mpPayer{Email: in.Email},
	}

	var resp mpPayment
	err := p.client.do(ctx, fiber.MethodPost, "/v1/payments", req, &resp,
		map[string]string{"X-Idempotency-Key": in.PaymentID})
	if err != nil {
		return nil, mercadoPagoError(err, appErrors.CodePaymentFailed, "MercadoPago payment failed")
	}

	result := &ChargeResult{
		PaymentID:         in.PaymentID,
		Status:            MapMercadoPagoStatus(resp.Status),
		Amount:            in.Amount,
		Currency:          in.Currency,
		ProviderPaymentID: strconv.FormatInt(resp.ID, 10),
		AuthorizationCode: resp.AuthorizationCode,
	}
	if result.Status == models.PaymentStatusFailed {
		result.FailureMessage = fmt.Sprintf("MercadoPago rejected the payment: %s", resp.StatusDetail)
	}
	return result, nil
}

type mpRefundRequest struct {
	Amount *float64 `json:"amount,omitempty"`
}

type mpRefund struct {
	ID     int64   `json:"id"`
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

func (p *MercadoPagoProvider) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	if in.ProviderPaymentID == "" {
		return nil, appErrors.InvalidState("No transaction ID found for refund", http.StatusConflict)
	}
	var resp mpRefund
	path := "/v1/payments/" + url.PathEscape(in.ProviderPaymentID) + "/refunds"
	err := p.client.do(ctx, fiber.MethodPost, path, mpRefundRequest{Amount: in.Amount}, &resp,
		map[string]string{"X-Idempotency-Key": "refund_" + in.PaymentID})
	if err != nil {
		return nil, mercadoPagoError(err, appErrors.CodeRefundFailed, "MercadoPago refund failed")
	}
	return &RefundResult{
		RefundID: strconv.FormatInt(resp.ID, 10),
		Status:   resp.Status,
		Amount:   resp.Amount,
	}, nil
}

func (p *MercadoPagoProvider) GetStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	var resp mpPayment
	if err := p.client.do(ctx, fiber.MethodGet, "/v1/payments/"+url.PathEscape(providerPaymentID), nil, &resp, nil); err != nil {
		return nil, mercadoPagoError(err, appErrors.CodeStatusCheckFailed, "MercadoPago status check failed")
	}
	return &StatusResult{
		ProviderPaymentID: strconv.FormatInt(resp.ID, 10),
		Status:            MapMercadoPagoStatus(resp.Status),
		ProviderStatus:    resp.Status,
		Amount:            resp.TransactionAmount,
	}, nil
}

// RequiresSignature is true only when a webhook secret is configured.
func (p *MercadoPagoProvider) RequiresSignature() bool { return p.webhookSecret != "" }

// flexID accepts ids sent either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	*f = flexID(strings.Trim(string(b), `"`))
	if *f == "null" {
		*f = ""
	}
	return nil
}

func (f flexID) String() string { return string(f) }

type mpNotification struct {
	ID     flexID `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

func parseMPNotification(payload []byte) (*mpNotification, error) {
	var n mpNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, appErrors.Validation("Invalid webhook payload")
	}
	return &n, nil
}

// dataID prefers the data.id query parameter, which is what the signature
// manifest is built from.
func (n *mpNotification) dataID(query map[string]string) string {
	if id := query["data.id"]; id != "" {
		return id
	}
	return n.Data.ID.String()
}

// VerifyWebhook checks x-signature "ts=<ts>,v1=<hex>" where v1 is the
// HMAC-SHA256 of "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func (p *MercadoPagoProvider) VerifyWebhook(_ context.Context, req WebhookRequest) error {
	if !p.RequiresSignature() {
		if len(req.Payload) == 0 {
			return appErrors.Validation("Empty webhook payload")
		}
		return nil
	}
	if req.Signature == "" {
		return appErrors.Validation("Missing x-signature header")
	}

	var ts, v1 string
	for _, part := range strings.Split(req.Signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return appErrors.Unauthenticated("Invalid webhook signature")
	}

	n, err := parseMPNotification(req.Payload)
	if err != nil {
		return err
	}
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;",
		strings.ToLower(n.dataID(req.Query)), req.Headers["x-request-id"], ts)

	got, err := hex.DecodeString(v1)
	if err != nil || !hmac.Equal(got, signMercadoPago(p.webhookSecret, manifest)) {
		return appErrors.Unauthenticated("Invalid webhook signature")
	}
	return nil
}

func signMercadoPago(secret, manifest string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return mac.Sum(nil)
}

// HandleWebhook resolves payment notifications to the current payment status.
func (p *MercadoPagoProvider) HandleWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	n, err := parseMPNotification(req.Payload)
	if err != nil {
		return nil, err
	}
	dataID := n.dataID(req.Query)
	eventID := n.ID.String()
	if eventID == "" {
		eventID = fmt.Sprintf("%s:%s:%s", n.Type, n.Action, dataID)
	}

	out := &WebhookEvent{EventID: eventID, Type: n.Type}
	if n.Action != "" {
		out.Type = n.Action
	}
	if n.Type != "payment" || dataID == "" {
		return out, nil
	}

	status, err := p.GetStatus(ctx, dataID)
	if err != nil {
		return nil, err
	}
	out.ProviderPaymentID = status.ProviderPaymentID
	out.Status = status.Status
	return out, nil
}

type mpErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func mercadoPagoError(err error, code, message string) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		var body mpErrorBody
		_ = json.Unmarshal(httpErr.Body, &body)
		if body.Message != "" {
			message = fmt.Sprintf("%s: %s", message, body.Message)
		}
		switch httpErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return appErrors.Validation(message)
		case http.StatusNotFound:
			return appErrors.NotFound(message)
		}
		return appErrors.ProviderFailure(code, message, err)
	}
	return appErrors.WrapAs(err, code, message)
}
