package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
	"paybroker/internal/models"
	"paybroker/internal/utils/card"
)

const (
	transbankIntegrationURL = "https://webpay3gint.transbank.cl"
	transbankProductionURL  = "https://webpay3g.transbank.cl"
	oneclickBasePath        = "/rswebpaytransaction/api/oneclick/v1.2"

	// Oneclick answers -96 when the cardholder abandons the inscription.
	transbankCancelledCode = -96
	transbankTokenLifetime = 365 * 24 * time.Hour
	transbankEmailDomain   = "client.ademi.tech"
	transbankBuyOrderLen   = 26
)

// TransbankProvider is the redirect shape: Oneclick Mall inscriptions on a
// hosted page, completed through a TBK_TOKEN callback.
type TransbankProvider struct {
	unsupported
	client            *restClient
	childCommerceCode string
	allowedIPs        map[string]bool
	now               func() time.Time
}

func NewTransbankProvider(cfg config.ProviderConfig) (Capability, error) {
	if cfg.APIKey == "" || cfg.CommerceCode == "" {
		return nil, appErrors.ProviderNotConfigured(config.ProviderTransbank)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = transbankIntegrationURL
		if cfg.Environment == config.EnvProduction {
			baseURL = transbankProductionURL
		}
	}

	allowed := make(map[string]bool, len(cfg.AllowedWebhookIPs))
	for _, ip := range cfg.AllowedWebhookIPs {
		allowed[strings.TrimSpace(ip)] = true
	}

	child := cfg.ChildCommerceCode
	if child == "" {
		child = cfg.CommerceCode
	}

	return &TransbankProvider{
		unsupported: unsupported{name: config.ProviderTransbank, shape: ShapeRedirect},
		client: newRESTClient(baseURL+oneclickBasePath, map[string]string{
			"Tbk-Api-Key-Id":     cfg.CommerceCode,
			"Tbk-Api-Key-Secret": cfg.APIKey,
		}),
		childCommerceCode: child,
		allowedIPs:        allowed,
		now:               time.Now,
	}, nil
}

func (p *TransbankProvider) TokenizeDirect(context.Context, DirectTokenizeInput) (*CardResult, error) {
	return nil, appErrors.MethodNotSupported("Transbank Oneclick requires redirect tokenization")
}

type inscriptionStartRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	ResponseURL string `json:"response_url"`
}

type inscriptionStartResponse struct {
	Token     string `json:"token"`
	URLWebpay string `json:"url_webpay"`
}

func (p *TransbankProvider) CreateSession(ctx context.Context, in SessionInput) (*SessionHandle, error) {
	// Oneclick usernames are capped at 40 characters.
	username := strings.ReplaceAll(uuid.NewString(), "-", "")
	email := in.Email
	if email == "" {
		email = username + "@" + transbankEmailDomain
	}

	var resp inscriptionStartResponse
	err := p.client.do(ctx, fiber.MethodPost, "/inscriptions", inscriptionStartRequest{
		Username:    username,
		Email:       email,
		ResponseURL: in.ReturnURL,
	}, &resp, nil)
	if err != nil {
		return nil, transbankError(err, appErrors.CodeSessionCreationFailed, "Transbank session creation failed")
	}
	if resp.Token == "" {
		return nil, appErrors.ProviderFailure(appErrors.CodeSessionCreationFailed,
			"Transbank inscription initiation returned no token", nil)
	}

	return &SessionHandle{
		SessionID:   "tbk_" + resp.Token,
		Token:       resp.Token,
		RedirectURL: resp.URLWebpay,
		Username:    username,
		Email:       email,
		Template: CallbackTemplate{
			Method:        fiber.MethodPost,
			IncludeIn:     "body",
			ParameterName: "TBK_TOKEN",
		},
	}, nil
}

// CallbackSessionID maps the Oneclick return parameters. A return carrying
// only TBK_ORDEN_COMPRA and TBK_ID_SESION means the inscription was aborted
// or timed out on the hosted page.
func (p *TransbankProvider) CallbackSessionID(params map[string]string) (string, error) {
	if token := params["TBK_TOKEN"]; token != "" {
		return "tbk_" + token, nil
	}
	if params["TBK_ORDEN_COMPRA"] != "" && params["TBK_ID_SESION"] != "" {
		return "", appErrors.InscriptionCancelled("Transbank inscription was cancelled by the user").
			WithDetails(map[string]interface{}{
				"buy_order":  params["TBK_ORDEN_COMPRA"],
				"session_id": params["TBK_ID_SESION"],
			})
	}
	if id := params["session_id"]; id != "" {
		return id, nil
	}
	return "", appErrors.MissingFields("TBK_TOKEN")
}

type inscriptionFinishResponse struct {
	ResponseCode      int    `json:"response_code"`
	TbkUser           string `json:"tbk_user"`
	AuthorizationCode string `json:"authorization_code"`
	CardType          string `json:"card_type"`
	CardNumber        string `json:"card_number"`
}

func (p *TransbankProvider) CompleteSession(ctx context.Context, in SessionCompletion) (*CardResult, error) {
	token := in.Callback["TBK_TOKEN"]
	if token == "" {
		token = in.ProviderToken
	}
	if token == "" {
		return nil, appErrors.MissingFields("TBK_TOKEN")
	}

	var resp inscriptionFinishResponse
	err := p.client.do(ctx, fiber.MethodPut, "/inscriptions/"+url.PathEscape(token), nil, &resp, nil)
	if err != nil {
		return nil, transbankError(err, appErrors.CodeTokenizationCompletionFailed, "Transbank inscription completion failed")
	}

	switch {
	case resp.ResponseCode == transbankCancelledCode:
		return nil, appErrors.InscriptionCancelled(
			fmt.Sprintf("Transbank inscription cancelled: %d", resp.ResponseCode)).
			WithDetails(map[string]interface{}{"response_code": resp.ResponseCode})
	case resp.ResponseCode != 0:
		return nil, appErrors.ProviderFailure(appErrors.CodeTokenizationCompletionFailed,
			fmt.Sprintf("Transbank inscription failed: %d", resp.ResponseCode), nil).
			WithDetails(map[string]interface{}{"response_code": resp.ResponseCode})
	case resp.TbkUser == "":
		return nil, appErrors.ProviderFailure(appErrors.CodeTokenizationCompletionFailed,
			"Transbank inscription returned no tbk_user", nil)
	}

	expires := p.now().UTC().Add(transbankTokenLifetime)
	auth := resp.AuthorizationCode
	return &CardResult{
		PaymentToken:      resp.TbkUser,
		LastFour:          card.LastFour(resp.CardNumber),
		Brand:             strings.ToLower(resp.CardType),
		CardType:          models.CardTypeOther,
		AuthorizationCode: auth,
		TokenExpiresAt:    &expires,
		RequiresCVV:       false,
		Username:          in.Username,
		Detail: map[string]interface{}{
			"response_code":      resp.ResponseCode,
			"authorization_code": auth,
			"card_type":          resp.CardType,
			"card_number":        resp.CardNumber,
		},
	}, nil
}

type authorizeDetail struct {
	CommerceCode       string `json:"commerce_code"`
	BuyOrder           string `json:"buy_order"`
	Amount             int64  `json:"amount"`
	InstallmentsNumber int    `json:"installments_number"`
}

type authorizeRequest struct {
	Username string            `json:"username"`
	TbkUser  string            `json:"tbk_user"`
	BuyOrder string            `json:"buy_order"`
	Details  []authorizeDetail `json:"details"`
}

type transactionDetail struct {
	Amount            int64  `json:"amount"`
	Status            string `json:"status"`
	AuthorizationCode string `json:"authorization_code"`
	ResponseCode      int    `json:"response_code"`
	BuyOrder          string `json:"buy_order"`
}

type transactionResponse struct {
	BuyOrder string              `json:"buy_order"`
	Details  []transactionDetail `json:"details"`
}

// buyOrder derives the 26 character Oneclick buy order from a payment id.
func buyOrder(paymentID string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(paymentID, "payment_") {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > transbankBuyOrderLen {
		s = s[:transbankBuyOrderLen]
	}
	return s
}

// childBuyOrder is the store level buy order paired with a parent order.
func childBuyOrder(parent string) string {
	if len(parent) >= transbankBuyOrderLen {
		parent = parent[:transbankBuyOrderLen-1]
	}
	return "c" + parent
}

func (p *TransbankProvider) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	if in.Username == "" {
		return nil, appErrors.InvalidState("Card has no Transbank username", http.StatusConflict)
	}
	parent := buyOrder(in.PaymentID)
	req := authorizeRequest{
		Username: in.Username,
		TbkUser:  in.PaymentToken,
		BuyOrder: parent,
		Details: []authorizeDetail{{
			Amount:             int64(math.Round(in.Amount)),
			CommerceCode:       p.childCommerceCode,
			BuyOrder:           childBuyOrder(parent),
			InstallmentsNumber: 1,
		}},
	}

	var resp transactionResponse
	if err := p.client.do(ctx, fiber.MethodPost, "/transactions", req, &resp, nil); err != nil {
		return nil, transbankError(err, appErrors.CodePaymentFailed, "Transbank payment processing failed")
	}
	if len(resp.Details) == 0 {
		return nil, appErrors.ProviderFailure(appErrors.CodePaymentFailed, "No payment details in response", nil)
	}

	detail := resp.Details[0]
	result := &ChargeResult{
		PaymentID:         in.PaymentID,
		Status:            models.PaymentStatusCompleted,
		Amount:            in.Amount,
		Currency:          in.Currency,
		ProviderPaymentID: parent,
		AuthorizationCode: detail.AuthorizationCode,
	}
	if detail.ResponseCode != 0 {
		result.Status = models.PaymentStatusFailed
		result.FailureMessage = fmt.Sprintf("Transbank authorization rejected: %d", detail.ResponseCode)
	}
	return result, nil
}

type refundRequest struct {
	CommerceCode   string `json:"commerce_code"`
	DetailBuyOrder string `json:"detail_buy_order"`
	Amount         int64  `json:"amount"`
}

type refundResponse struct {
	Type              string  `json:"type"`
	AuthorizationCode string  `json:"authorization_code"`
	NullifiedAmount   float64 `json:"nullified_amount"`
	ResponseCode      int     `json:"response_code"`
}

func (p *TransbankProvider) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	if in.ProviderPaymentID == "" {
		return nil, appErrors.InvalidState("No transaction ID found for refund", http.StatusConflict)
	}
	if in.Amount == nil {
		return nil, appErrors.Validation("Transbank refunds require an amount")
	}

	req := refundRequest{
		CommerceCode:   p.childCommerceCode,
		DetailBuyOrder: childBuyOrder(in.ProviderPaymentID),
		Amount:         int64(math.Round(*in.Amount)),
	}
	var resp refundResponse
	path := "/transactions/" + url.PathEscape(in.ProviderPaymentID) + "/refunds"
	if err := p.client.do(ctx, fiber.MethodPost, path, req, &resp, nil); err != nil {
		return nil, transbankError(err, appErrors.CodeRefundFailed, "Transbank refund failed")
	}
	if resp.ResponseCode != 0 {
		return nil, appErrors.ProviderFailure(appErrors.CodeRefundFailed,
			fmt.Sprintf("Refund failed with code: %d", resp.ResponseCode), nil)
	}
	return &RefundResult{
		RefundID: resp.AuthorizationCode,
		Status:   resp.Type,
		Amount:   resp.NullifiedAmount,
	}, nil
}

func (p *TransbankProvider) GetStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	var resp transactionResponse
	if err := p.client.do(ctx, fiber.MethodGet, "/transactions/"+url.PathEscape(providerPaymentID), nil, &resp, nil); err != nil {
		return nil, transbankError(err, appErrors.CodeStatusCheckFailed, "Failed to get Transbank payment status")
	}
	out := &StatusResult{ProviderPaymentID: providerPaymentID, Status: models.PaymentStatusPending}
	if len(resp.Details) > 0 {
		out.ProviderStatus = resp.Details[0].Status
		out.Status = MapTransbankStatus(resp.Details[0].Status)
		out.Amount = float64(resp.Details[0].Amount)
	}
	return out, nil
}

// VerifyWebhook applies the IP allowlist. Transbank does not sign payloads.
func (p *TransbankProvider) VerifyWebhook(_ context.Context, req WebhookRequest) error {
	if len(req.Payload) == 0 {
		return appErrors.Validation("Empty webhook payload")
	}
	if len(p.allowedIPs) > 0 && !p.allowedIPs[req.RemoteIP] {
		return appErrors.Unauthenticated("Webhook source is not allowed")
	}
	return nil
}

type transbankNotification struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	BuyOrder string `json:"buy_order"`
	Status   string `json:"status"`
}

func (p *TransbankProvider) HandleWebhook(_ context.Context, req WebhookRequest) (*WebhookEvent, error) {
	var n transbankNotification
	if err := json.Unmarshal(req.Payload, &n); err != nil {
		return nil, appErrors.Validation("Invalid webhook payload")
	}
	eventID := n.ID
	if eventID == "" {
		sum := sha256.Sum256(req.Payload)
		eventID = hex.EncodeToString(sum[:])
	}
	out := &WebhookEvent{EventID: eventID, Type: n.Type}
	if out.Type == "" {
		out.Type = "transaction.status"
	}
	if n.BuyOrder != "" && n.Status != "" {
		out.ProviderPaymentID = n.BuyOrder
		out.Status = MapTransbankStatus(n.Status)
	}
	return out, nil
}

type transbankErrorBody struct {
	ErrorMessage string `json:"error_message"`
}

func transbankError(err error, code, message string) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		var body transbankErrorBody
		_ = json.Unmarshal(httpErr.Body, &body)
		if body.ErrorMessage != "" {
			message = fmt.Sprintf("%s: %s", message, body.ErrorMessage)
		}
		if httpErr.StatusCode == http.StatusUnprocessableEntity {
			return appErrors.Validation(message)
		}
		return appErrors.ProviderFailure(code, message, err)
	}
	return appErrors.WrapAs(err, code, message)
}
