package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
	"paybroker/internal/models"
	"paybroker/internal/utils/card"
)

const stripeSignatureTolerance = 5 * time.Minute

// stripeBackend is the slice of the Stripe SDK this adapter uses.
type stripeBackend interface {
	NewToken(params *stripe.TokenParams) (*stripe.Token, error)
	GetToken(id string, params *stripe.TokenParams) (*stripe.Token, error)
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	NewCharge(params *stripe.ChargeParams) (*stripe.Charge, error)
	GetCharge(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type sdkBackend struct {
	api *client.API
}

func (b sdkBackend) NewToken(p *stripe.TokenParams) (*stripe.Token, error) { return b.api.Tokens.New(p) }
func (b sdkBackend) GetToken(id string, p *stripe.TokenParams) (*stripe.Token, error) {
	return b.api.Tokens.Get(id, p)
}
func (b sdkBackend) NewCustomer(p *stripe.CustomerParams) (*stripe.Customer, error) {
	return b.api.Customers.New(p)
}
func (b sdkBackend) NewCharge(p *stripe.ChargeParams) (*stripe.Charge, error) { return b.api.Charges.New(p) }
func (b sdkBackend) GetCharge(id string, p *stripe.ChargeParams) (*stripe.Charge, error) {
	return b.api.Charges.Get(id, p)
}
func (b sdkBackend) NewRefund(p *stripe.RefundParams) (*stripe.Refund, error) { return b.api.Refunds.New(p) }

// Stripe test card numbers and their test tokens. Raw card numbers are only
// accepted by Stripe for accounts with raw card data access, so test mode
// maps them to the published tokens instead.
var stripeTestCards = map[string]string{
	"4242424242424242": "tok_visa",
	"4000056655665556": "tok_visa_debit",
	"5555555555554444": "tok_mastercard",
	"5200828282828210": "tok_mastercard_debit",
	"378282246310005":  "tok_amex",
	"6011111111111117": "tok_discover",
	"3056930009020004": "tok_diners",
	"3566002020360505": "tok_jcb",
	"4000000000000002": "tok_chargeDeclined",
}

// StripeProvider is the direct shape: raw card data or a tok_ token becomes a
// reusable customer in one call.
type StripeProvider struct {
	unsupported
	backend       stripeBackend
	webhookSecret string
	testMode      bool
}

func NewStripeProvider(cfg config.ProviderConfig) (Capability, error) {
	if cfg.SecretKey == "" {
		return nil, appErrors.ProviderNotConfigured(config.ProviderStripe)
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return newStripeProvider(cfg, sdkBackend{api: api}), nil
}

func newStripeProvider(cfg config.ProviderConfig, backend stripeBackend) *StripeProvider {
	return &StripeProvider{
		unsupported:   unsupported{name: config.ProviderStripe, shape: ShapeDirect},
		backend:       backend,
		webhookSecret: cfg.WebhookSecret,
		testMode:      cfg.TestMode,
	}
}

func (p *StripeProvider) TokenizeDirect(ctx context.Context, in DirectTokenizeInput) (*CardResult, error) {
	tokenID, err := p.sourceToken(ctx, in)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.CodeTokenizationCompletionFailed, "stripe tokenization failed")
	}

	tokenParams := &stripe.TokenParams{}
	tokenParams.Context = ctx
	tok, err := p.backend.GetToken(tokenID, tokenParams)
	if err != nil {
		return nil, stripeError(err, appErrors.CodeTokenizationCompletionFailed, "stripe token lookup failed")
	}
	if tok.Card == nil {
		return nil, appErrors.Validation("stripe token does not reference a card")
	}

	custParams := &stripe.CustomerParams{}
	custParams.Context = ctx
	if in.Email != "" {
		custParams.Email = stripe.String(in.Email)
	}
	if in.HolderName != "" {
		custParams.Name = stripe.String(in.HolderName)
	}
	if err := custParams.SetSource(tok.ID); err != nil {
		return nil, appErrors.Internal(err)
	}
	cust, err := p.backend.NewCustomer(custParams)
	if err != nil {
		return nil, stripeError(err, appErrors.CodeTokenizationCompletionFailed, "stripe customer creation failed")
	}

	c := tok.Card
	month, year := int(c.ExpMonth), int(c.ExpYear)
	holder := c.Name
	if holder == "" {
		holder = in.HolderName
	}
	return &CardResult{
		PaymentToken: cust.ID,
		LastFour:     c.Last4,
		Brand:        normalizeStripeBrand(string(c.Brand)),
		CardType:     stripeFunding(string(c.Funding)),
		ExpMonth:     &month,
		ExpYear:      &year,
		HolderName:   holder,
		RequiresCVV:  false,
		Detail: map[string]interface{}{
			"token_id":    tok.ID,
			"customer_id": cust.ID,
			"card_id":     c.ID,
			"livemode":    tok.Livemode,
		},
	}, nil
}

// sourceToken returns a tok_ id for the input, creating one from raw card
// data when needed.
func (p *StripeProvider) sourceToken(ctx context.Context, in DirectTokenizeInput) (string, error) {
	if in.CardToken != "" {
		return in.CardToken, nil
	}
	number := card.Normalize(in.CardNumber)
	if strings.HasPrefix(number, "tok_") {
		return number, nil
	}
	if p.testMode {
		if tok, ok := stripeTestCards[number]; ok {
			return tok, nil
		}
	}
	if number == "" {
		return "", appErrors.MissingFields("card_number")
	}

	params := &stripe.TokenParams{
		Card: &stripe.CardParams{
			Number:   stripe.String(number),
			ExpMonth: stripe.String(strconv.Itoa(in.ExpMonth)),
			ExpYear:  stripe.String(strconv.Itoa(card.ExpiryYear(in.ExpYear))),
			CVC:      stripe.String(in.CVV),
		},
	}
	if in.HolderName != "" {
		params.Card.Name = stripe.String(in.HolderName)
	}
	params.Context = ctx
	tok, err := p.backend.NewToken(params)
	if err != nil {
		return "", stripeError(err, appErrors.CodeTokenizationCompletionFailed, "stripe card tokenization failed")
	}
	return tok.ID, nil
}

func (p *StripeProvider) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(toMinorUnits(in.Amount, in.Currency)),
		Currency:    stripe.String(strings.ToLower(in.Currency)),
		Customer:    stripe.String(in.PaymentToken),
		Description: stripe.String(in.Description),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(in.PaymentID)
	params.AddMetadata("payment_id", in.PaymentID)
	params.AddMetadata("user_id", in.UserID)

	ch, err := p.backend.NewCharge(params)
	if err != nil {
		if se, ok := err.(*stripe.Error); ok && se.Type == stripe.ErrorTypeCard {
			// A decline is a result, not an outage.
			return &ChargeResult{
				PaymentID:         in.PaymentID,
				Status:            models.PaymentStatusFailed,
				Amount:            in.Amount,
				Currency:          in.Currency,
				ProviderPaymentID: se.ChargeID,
				FailureMessage:    se.Msg,
			}, nil
		}
		return nil, stripeError(err, appErrors.CodePaymentFailed, "stripe charge failed")
	}

	return &ChargeResult{
		PaymentID:         in.PaymentID,
		Status:            MapStripeStatus(string(ch.Status), ch.Refunded),
		Amount:            in.Amount,
		Currency:          in.Currency,
		ProviderPaymentID: ch.ID,
		AuthorizationCode: ch.AuthorizationCode,
		FailureMessage:    ch.FailureMessage,
	}, nil
}

func (p *StripeProvider) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	params := &stripe.RefundParams{Charge: stripe.String(in.ProviderPaymentID)}
	if in.Amount != nil {
		params.Amount = stripe.Int64(toMinorUnits(*in.Amount, in.Currency))
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("refund_" + in.PaymentID)

	r, err := p.backend.NewRefund(params)
	if err != nil {
		return nil, stripeError(err, appErrors.CodeRefundFailed, "stripe refund failed")
	}
	return &RefundResult{
		RefundID: r.ID,
		Status:   string(r.Status),
		Amount:   fromMinorUnits(r.Amount, in.Currency),
	}, nil
}

func (p *StripeProvider) GetStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx
	ch, err := p.backend.GetCharge(providerPaymentID, params)
	if err != nil {
		return nil, stripeError(err, appErrors.CodeStatusCheckFailed, "stripe status check failed")
	}
	return &StatusResult{
		ProviderPaymentID: ch.ID,
		Status:            MapStripeStatus(string(ch.Status), ch.Refunded),
		ProviderStatus:    string(ch.Status),
		Amount:            fromMinorUnits(ch.Amount, string(ch.Currency)),
	}, nil
}

func (p *StripeProvider) RequiresSignature() bool { return true }

// VerifyWebhook checks the Stripe-Signature header against the endpoint
// secret, rejecting timestamps older than the replay tolerance.
func (p *StripeProvider) VerifyWebhook(_ context.Context, req WebhookRequest) error {
	if err := p.checkSignatureInputs(req); err != nil {
		return err
	}
	err := webhook.ValidatePayloadWithTolerance(req.Payload, req.Signature, p.webhookSecret, stripeSignatureTolerance)
	return stripeSignatureError(err)
}

func (p *StripeProvider) checkSignatureInputs(req WebhookRequest) error {
	if req.Signature == "" {
		return appErrors.Validation("Missing stripe-signature header")
	}
	if p.webhookSecret == "" {
		return appErrors.Unauthenticated("Webhook secret is not configured")
	}
	return nil
}

func stripeSignatureError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrTooOld):
		return appErrors.Unauthenticated("Webhook signature timestamp outside tolerance")
	default:
		return appErrors.Unauthenticated("Invalid webhook signature")
	}
}

func (p *StripeProvider) HandleWebhook(_ context.Context, req WebhookRequest) (*WebhookEvent, error) {
	if err := p.checkSignatureInputs(req); err != nil {
		return nil, err
	}
	ev, err := webhook.ConstructEventWithTolerance(req.Payload, req.Signature, p.webhookSecret, stripeSignatureTolerance)
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, stripeSignatureError(err)
		}
		return nil, appErrors.Validation("Invalid webhook payload")
	}
	if ev.ID == "" {
		return nil, appErrors.Validation("Webhook event has no id")
	}

	out := &WebhookEvent{EventID: ev.ID, Type: ev.Type}
	if !strings.HasPrefix(ev.Type, "charge.") || ev.Data == nil {
		return out, nil
	}

	var ch stripe.Charge
	if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
		return nil, appErrors.Validation("Invalid charge object in webhook")
	}
	out.ProviderPaymentID = ch.ID
	switch ev.Type {
	case "charge.succeeded", "charge.captured":
		out.Status = models.PaymentStatusCompleted
	case "charge.failed":
		out.Status = models.PaymentStatusFailed
	case "charge.refunded":
		out.Status = models.PaymentStatusRefunded
	}
	return out, nil
}

// stripeError keeps card and request errors as client errors and everything
// else as a retryable provider failure.
func stripeError(err error, code, message string) error {
	if se, ok := err.(*stripe.Error); ok {
		switch se.Type {
		case stripe.ErrorTypeCard:
			return appErrors.Validation(se.Msg).WithDetails(map[string]interface{}{
				"decline_code": string(se.DeclineCode),
				"provider":     config.ProviderStripe,
			})
		case stripe.ErrorTypeInvalidRequest:
			if se.HTTPStatusCode < 500 {
				return appErrors.Validation(se.Msg)
			}
		}
		return appErrors.ProviderFailure(code, fmt.Sprintf("%s: %s", message, se.Msg), err)
	}
	return appErrors.WrapAs(err, code, message)
}

func normalizeStripeBrand(brand string) string {
	switch strings.ToLower(brand) {
	case "american express":
		return card.BrandAmex
	case "diners club":
		return card.BrandDiners
	case "mastercard":
		return card.BrandMastercard
	case "":
		return card.BrandUnknown
	default:
		return strings.ToLower(brand)
	}
}

func stripeFunding(funding string) string {
	switch funding {
	case models.CardTypeCredit, models.CardTypeDebit, models.CardTypePrepaid:
		return funding
	default:
		return models.CardTypeOther
	}
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func toMinorUnits(amount float64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

func fromMinorUnits(amount int64, currency string) float64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}
