package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
	"paybroker/internal/models"
)

func newTestTransbank(t *testing.T, handler http.HandlerFunc) *TransbankProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewTransbankProvider(config.ProviderConfig{
		Provider:          config.ProviderTransbank,
		Enabled:           true,
		APIKey:            config.TransbankIntegrationAPIKey,
		CommerceCode:      config.TransbankIntegrationCommerceCode,
		ChildCommerceCode: config.TransbankIntegrationChildCommerceCode,
		BaseURL:           srv.URL,
		AllowedWebhookIPs: []string{"10.0.0.1"},
	})
	require.NoError(t, err)
	return c.(*TransbankProvider)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestTransbankCreateSession(t *testing.T) {
	var got inscriptionStartRequest
	p := newTestTransbank(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, oneclickBasePath+"/inscriptions", r.URL.Path)
		assert.Equal(t, config.TransbankIntegrationCommerceCode, r.Header.Get("Tbk-Api-Key-Id"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]string{"token": "01ab", "url_webpay": "https://webpay/inscription"})
	})

	h, err := p.CreateSession(context.Background(), SessionInput{UserID: "u1", ReturnURL: "https://app/return"})
	require.NoError(t, err)

	assert.Equal(t, "tbk_01ab", h.SessionID)
	assert.Equal(t, "https://webpay/inscription", h.RedirectURL)
	assert.Equal(t, CallbackTemplate{Method: "POST", IncludeIn: "body", ParameterName: "TBK_TOKEN"}, h.Template)
	assert.Len(t, got.Username, 32)
	assert.Equal(t, got.Username+"@"+transbankEmailDomain, got.Email)
	assert.Equal(t, "https://app/return", got.ResponseURL)
}

func TestTransbankCompleteSession(t *testing.T) {
	p := newTestTransbank(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, oneclickBasePath+"/inscriptions/tok-1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"response_code":      0,
			"tbk_user":           "tbk-user-1",
			"authorization_code": "1213",
			"card_type":          "Visa",
			"card_number":        "XXXXXXXXXXXX6623",
		})
	})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	res, err := p.CompleteSession(context.Background(), SessionCompletion{
		ProviderToken: "tok-1",
		Username:      "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "tbk-user-1", res.PaymentToken)
	assert.Equal(t, "6623", res.LastFour)
	assert.Equal(t, "visa", res.Brand)
	assert.Equal(t, models.CardTypeOther, res.CardType)
	assert.Equal(t, "abc", res.Username)
	assert.False(t, res.RequiresCVV)
	assert.Equal(t, now.Add(365*24*time.Hour), *res.TokenExpiresAt)
	assert.Nil(t, res.ExpMonth)
}

func TestTransbankCompleteSessionCancelled(t *testing.T) {
	p := newTestTransbank(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"response_code": -96})
	})

	_, err := p.CompleteSession(context.Background(), SessionCompletion{ProviderToken: "tok-1"})
	gw, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeInscriptionCancelled, gw.Code)
	assert.Equal(t, http.StatusConflict, gw.Status())
}

func TestTransbankCompleteSessionRejected(t *testing.T) {
	p := newTestTransbank(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"response_code": -1})
	})

	_, err := p.CompleteSession(context.Background(), SessionCompletion{ProviderToken: "tok-1"})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeTokenizationCompletionFailed))
}

func TestTransbankCallbackSessionID(t *testing.T) {
	p := newTestTransbank(t, func(http.ResponseWriter, *http.Request) {})

	id, err := p.CallbackSessionID(map[string]string{"TBK_TOKEN": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "tbk_abc", id)

	_, err = p.CallbackSessionID(map[string]string{"TBK_ORDEN_COMPRA": "o1", "TBK_ID_SESION": "s1"})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeInscriptionCancelled))

	_, err = p.CallbackSessionID(map[string]string{})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeValidation))
}

func TestTransbankCharge(t *testing.T) {
	var got authorizeRequest
	p := newTestTransbank(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, oneclickBasePath+"/transactions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"buy_order": got.BuyOrder,
			"details": []map[string]interface{}{{
				"amount": 1500, "status": "AUTHORIZED", "authorization_code": "1213", "response_code": 0,
			}},
		})
	})

	res, err := p.Charge(context.Background(), ChargeInput{
		PaymentID:    "payment_0f8fad5b-d9cb-469f-a165-70867728950e",
		Username:     "abc",
		PaymentToken: "tbk-user-1",
		Amount:       1500,
		Currency:     "CLP",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Status)
	assert.Equal(t, "1213", res.AuthorizationCode)

	assert.Len(t, got.BuyOrder, 26)
	assert.Equal(t, got.BuyOrder, res.ProviderPaymentID)
	require.Len(t, got.Details, 1)
	assert.Equal(t, config.TransbankIntegrationChildCommerceCode, got.Details[0].CommerceCode)
	assert.Equal(t, childBuyOrder(got.BuyOrder), got.Details[0].BuyOrder)
	assert.Equal(t, int64(1500), got.Details[0].Amount)
}

func TestTransbankChargeRejected(t *testing.T) {
	p := newTestTransbank(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"details": []map[string]interface{}{{"status": "FAILED", "response_code": -1}},
		})
	})

	res, err := p.Charge(context.Background(), ChargeInput{PaymentID: "payment_1", Username: "abc", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, res.Status)
	assert.NotEmpty(t, res.FailureMessage)
}

func TestTransbankServerErrorIsRetryable(t *testing.T) {
	p := newTestTransbank(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error_message": "boom"})
	})

	_, err := p.GetStatus(context.Background(), "order1")
	gw, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeStatusCheckFailed, gw.Code)
	assert.True(t, gw.Retryable)
	assert.Contains(t, gw.Message, "boom")
}

func TestTransbankGetStatus(t *testing.T) {
	p := newTestTransbank(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, oneclickBasePath+"/transactions/order1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"buy_order": "order1",
			"details":   []map[string]interface{}{{"amount": 990, "status": "REVERSED"}},
		})
	})

	status, err := p.GetStatus(context.Background(), "order1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, status.Status)
	assert.Equal(t, "REVERSED", status.ProviderStatus)
	assert.Equal(t, 990.0, status.Amount)
}

func TestTransbankWebhook(t *testing.T) {
	p := newTestTransbank(t, func(http.ResponseWriter, *http.Request) {})
	payload := []byte(`{"buy_order":"order1","status":"NULLIFIED"}`)

	err := p.VerifyWebhook(context.Background(), WebhookRequest{Payload: payload, RemoteIP: "192.168.1.1"})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeUnauthorized))

	require.NoError(t, p.VerifyWebhook(context.Background(), WebhookRequest{Payload: payload, RemoteIP: "10.0.0.1"}))

	ev, err := p.HandleWebhook(context.Background(), WebhookRequest{Payload: payload})
	require.NoError(t, err)
	assert.Len(t, ev.EventID, 64)
	assert.Equal(t, "order1", ev.ProviderPaymentID)
	assert.Equal(t, models.PaymentStatusCancelled, ev.Status)
}

func TestBuyOrder(t *testing.T) {
	assert.Equal(t, "0f8fad5bd9cb469fa16570867", buyOrder("payment_0f8fad5b-d9cb-469f-a165-70867728950e")[:25])
	assert.Equal(t, "abc", buyOrder("abc"))
	assert.Equal(t, "cabc", childBuyOrder("abc"))
	assert.LessOrEqual(t, len(childBuyOrder(buyOrder("payment_0f8fad5b-d9cb-469f-a165-70867728950e"))), 26)
}
