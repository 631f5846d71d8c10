package providers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
	"paybroker/internal/models"
	"paybroker/internal/utils/card"
)

func newTestMercadoPago(t *testing.T, secret string, handler http.HandlerFunc) *MercadoPagoProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewMercadoPagoProvider(config.ProviderConfig{
		Provider:      config.ProviderMercadoPago,
		Enabled:       true,
		AccessToken:   "TEST-token",
		WebhookSecret: secret,
		BaseURL:       srv.URL,
	})
	require.NoError(t, err)
	return c.(*MercadoPagoProvider)
}

func TestMercadoPagoTokenize(t *testing.T) {
	p := newTestMercadoPago(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/card_tokens/ct_1", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":               "ct_1",
			"first_six_digits": "450995",
			"last_four_digits": "3704",
			"expiration_month": 11,
			"expiration_year":  2030,
			"cardholder":       map[string]string{"name": "APRO"},
		})
	})

	res, err := p.TokenizeDirect(context.Background(), DirectTokenizeInput{CardToken: "ct_1"})
	require.NoError(t, err)
	assert.Equal(t, "ct_1", res.PaymentToken)
	assert.Equal(t, "3704", res.LastFour)
	assert.Equal(t, card.BrandVisa, res.Brand)
	assert.True(t, res.RequiresCVV)
	assert.Equal(t, 11, *res.ExpMonth)
	assert.Equal(t, "APRO", res.HolderName)

	_, err = p.TokenizeDirect(context.Background(), DirectTokenizeInput{CardNumber: "4242424242424242"})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeValidation))
}

func TestMercadoPagoCharge(t *testing.T) {
	var got mpPaymentRequest
	p := newTestMercadoPago(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "payment_1", r.Header.Get("X-Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id": 123456, "status": "rejected", "status_detail": "cc_rejected_insufficient_amount",
		})
	})

	res, err := p.Charge(context.Background(), ChargeInput{
		PaymentID: "payment_1", PaymentToken: "ct_1", CardBrand: card.BrandMastercard,
		Amount: 100, Currency: "CLP", Email: "a@b.cl",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, res.Status)
	assert.Equal(t, "123456", res.ProviderPaymentID)
	assert.Contains(t, res.FailureMessage, "insufficient")
	assert.Equal(t, "master", got.PaymentMethodID)
	assert.Equal(t, "payment_1", got.ExternalReference)
}

func TestMercadoPagoVerifyWebhook(t *testing.T) {
	p := newTestMercadoPago(t, "mp_secret", func(http.ResponseWriter, *http.Request) {})
	payload := []byte(`{"id":99,"type":"payment","action":"payment.updated","data":{"id":"123456"}}`)
	manifest := "id:123456;request-id:req-1;ts:1700000000;"
	valid := "ts=1700000000,v1=" + hex.EncodeToString(signMercadoPago("mp_secret", manifest))

	require.True(t, p.RequiresSignature())
	assert.NoError(t, p.VerifyWebhook(context.Background(), WebhookRequest{
		Payload: payload, Signature: valid, Headers: map[string]string{"x-request-id": "req-1"},
	}))

	err := p.VerifyWebhook(context.Background(), WebhookRequest{
		Payload: payload, Signature: valid, Headers: map[string]string{"x-request-id": "req-2"},
	})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeUnauthorized))

	err = p.VerifyWebhook(context.Background(), WebhookRequest{Payload: payload})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeValidation))
}

func TestMercadoPagoHandleWebhook(t *testing.T) {
	p := newTestMercadoPago(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": 123456, "status": "approved"})
	})
	assert.False(t, p.RequiresSignature())

	ev, err := p.HandleWebhook(context.Background(), WebhookRequest{
		Payload: []byte(`{"id":99,"type":"payment","action":"payment.updated","data":{"id":"123456"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "99", ev.EventID)
	assert.Equal(t, "payment.updated", ev.Type)
	assert.Equal(t, "123456", ev.ProviderPaymentID)
	assert.Equal(t, models.PaymentStatusCompleted, ev.Status)
}

func TestMercadoPagoNotFound(t *testing.T) {
	p := newTestMercadoPago(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "payment not found"})
	})

	_, err := p.GetStatus(context.Background(), "1")
	assert.True(t, appErrors.HasCode(err, appErrors.CodeNotFound))
}
