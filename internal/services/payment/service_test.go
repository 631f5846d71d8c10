package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	appErrors "paybroker/internal/errors"
	"paybroker/internal/models"
	"paybroker/internal/providers"
	"paybroker/internal/repositories"
	rediscache "paybroker/internal/repositories/cache"
	"paybroker/internal/testutil"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	chargeCalls int
	statusCalls int
	lastCharge  providers.ChargeInput
	lastRefund  providers.RefundInput

	charge func(in providers.ChargeInput) (*providers.ChargeResult, error)
	status func(id string) (*providers.StatusResult, error)
}

func (f *fakeProvider) Name() string           { return "stripe" }
func (f *fakeProvider) Shape() providers.Shape { return providers.ShapeDirect }

func (f *fakeProvider) TokenizeDirect(context.Context, providers.DirectTokenizeInput) (*providers.CardResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) CreateSession(context.Context, providers.SessionInput) (*providers.SessionHandle, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) CompleteSession(context.Context, providers.SessionCompletion) (*providers.CardResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) CallbackSessionID(map[string]string) (string, error) { return "", nil }

func (f *fakeProvider) Charge(_ context.Context, in providers.ChargeInput) (*providers.ChargeResult, error) {
	f.chargeCalls++
	f.lastCharge = in
	return f.charge(in)
}

func (f *fakeProvider) Refund(_ context.Context, in providers.RefundInput) (*providers.RefundResult, error) {
	f.lastRefund = in
	return &providers.RefundResult{RefundID: "re_1", Status: "succeeded"}, nil
}

func (f *fakeProvider) GetStatus(_ context.Context, id string) (*providers.StatusResult, error) {
	f.statusCalls++
	return f.status(id)
}

func (f *fakeProvider) RequiresSignature() bool { return false }

func (f *fakeProvider) VerifyWebhook(context.Context, providers.WebhookRequest) error { return nil }

func (f *fakeProvider) HandleWebhook(context.Context, providers.WebhookRequest) (*providers.WebhookEvent, error) {
	return nil, errors.New("not used")
}

type fakeResolver map[string]providers.Capability

func (r fakeResolver) Resolve(name string) (providers.Capability, error) {
	c, ok := r[name]
	if !ok {
		return nil, appErrors.ProviderNotConfigured(name)
	}
	return c, nil
}

type fixture struct {
	db       *gorm.DB
	tokens   repositories.TokenizationRepository
	payments repositories.PaymentRepository
	provider *fakeProvider
	svc      *service
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		db:       db,
		tokens:   repositories.NewTokenizationRepository(db),
		payments: repositories.NewPaymentRepository(db),
		redis:    mr,
		provider: &fakeProvider{
			charge: func(in providers.ChargeInput) (*providers.ChargeResult, error) {
				return &providers.ChargeResult{
					Status:            models.PaymentStatusCompleted,
					ProviderPaymentID: "ch_1",
					AuthorizationCode: "1213",
				}, nil
			},
			status: func(id string) (*providers.StatusResult, error) {
				return &providers.StatusResult{ProviderPaymentID: id, Status: models.PaymentStatusCompleted, ProviderStatus: "succeeded"}, nil
			},
		},
	}
	statusCache := rediscache.NewCacheService(client, time.Minute)
	svc := NewService(f.payments, f.tokens, fakeResolver{"stripe": f.provider}, statusCache, Config{}, nil, nil).(*service)
	svc.now = func() time.Time { return base }
	f.svc = svc

	require.NoError(t, f.tokens.CreateCard(context.Background(), &models.PaymentCard{
		CardID:           "card-1",
		UserID:           "alice",
		Provider:         "stripe",
		PaymentToken:     "cus_1",
		CardLastFour:     "4242",
		CardBrand:        "visa",
		ProviderUsername: "alice-ref",
	}))
	return f
}

var alice = models.Identity{UserID: "alice", Email: "alice@example.com"}

func chargeRequest() ChargeRequest {
	return ChargeRequest{
		UserID:           "alice",
		ProfessionalID:   "bob",
		ServiceRequestID: "sr-1",
		Amount:           15000,
		Currency:         "clp",
		Provider:         "stripe",
		Description:      "Plumbing visit",
		TokenID:          "card-1",
	}
}

func (f *fixture) countPayments(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Payment{}).Count(&n).Error)
	return n
}

func TestProcessPaymentTokenSource(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ChargeRequest)
	}{
		{"neither", func(r *ChargeRequest) { r.TokenID = "" }},
		{"both", func(r *ChargeRequest) { r.SessionID = "tbk_1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := chargeRequest()
			tt.mutate(&req)

			_, err := f.svc.ProcessPayment(context.Background(), alice, req)
			assert.True(t, appErrors.HasCode(err, appErrors.CodeValidation))
			assert.Equal(t, 0, f.provider.chargeCalls)
			assert.Equal(t, int64(0), f.countPayments(t))
		})
	}
}

func TestProcessPaymentMissingFields(t *testing.T) {
	f := newFixture(t)
	req := chargeRequest()
	req.ProfessionalID = ""
	req.Amount = 0

	_, err := f.svc.ProcessPayment(context.Background(), alice, req)
	gw, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeValidation, gw.Code)
	assert.ElementsMatch(t, []string{"professional_id", "amount"},
		gw.Details.(map[string]interface{})["missing_fields"])
	assert.Equal(t, 0, f.provider.chargeCalls)
}

func TestProcessPayment(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.ProcessPayment(context.Background(), alice, chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, result.Status)
	assert.Equal(t, "ch_1", result.ProviderPaymentID)
	assert.Equal(t, 15000.0, result.Amount)
	assert.Equal(t, "CLP", result.Currency)
	assert.Contains(t, result.PaymentID, paymentIDPrefix)

	assert.Equal(t, "cus_1", f.provider.lastCharge.PaymentToken)
	assert.Equal(t, "alice-ref", f.provider.lastCharge.Username)

	payment, err := f.payments.GetByID(context.Background(), result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "ch_1", *payment.TransactionID)
	assert.Equal(t, "card-1", *payment.CardID)
	assert.Nil(t, payment.ErrorMessage)
}

func TestProcessPaymentByProviderToken(t *testing.T) {
	f := newFixture(t)
	req := chargeRequest()
	req.TokenID = "cus_1"

	_, err := f.svc.ProcessPayment(context.Background(), alice, req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.chargeCalls)
}

func TestProcessPaymentCardResolution(t *testing.T) {
	tests := []struct {
		name     string
		identity models.Identity
		mutate   func(r *ChargeRequest)
		code     string
		status   int
	}{
		{"unknown token", alice, func(r *ChargeRequest) { r.TokenID = "nope" }, appErrors.CodeNotFound, http.StatusNotFound},
		{
			"card of another user", models.Identity{UserID: "mallory"},
			func(r *ChargeRequest) { r.UserID = "mallory" }, appErrors.CodeUnauthorized, http.StatusForbidden,
		},
		{"body names another user", models.Identity{UserID: "mallory"}, func(*ChargeRequest) {}, appErrors.CodeUnauthorized, http.StatusForbidden},
		{"pending session", alice, func(r *ChargeRequest) { r.TokenID, r.SessionID = "", "tbk_pending" }, appErrors.CodeNotFound, http.StatusNotFound},
		{"provider mismatch", alice, func(r *ChargeRequest) { r.Provider = "transbank" }, appErrors.CodeValidation, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.providers = fakeResolver{"stripe": f.provider, "transbank": f.provider}
			require.NoError(t, f.tokens.CreateSession(context.Background(), &models.TokenizationSession{
				SessionID: "tbk_pending",
				UserID:    "alice",
				Provider:  "stripe",
				Status:    models.SessionStatusPending,
				Type:      models.SessionTypeRedirect,
				ExpiresAt: base.Add(30 * time.Minute),
			}))

			req := chargeRequest()
			tt.mutate(&req)
			_, err := f.svc.ProcessPayment(context.Background(), tt.identity, req)
			gw, ok := appErrors.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.code, gw.Code)
			assert.Equal(t, tt.status, gw.Status())
			assert.Equal(t, 0, f.provider.chargeCalls)
			assert.Equal(t, int64(0), f.countPayments(t))
		})
	}
}

func TestProcessPaymentBySession(t *testing.T) {
	f := newFixture(t)
	tokenID := "card-1"
	now := base
	require.NoError(t, f.tokens.CreateSession(context.Background(), &models.TokenizationSession{
		SessionID:   "tbk_done",
		UserID:      "alice",
		Provider:    "stripe",
		Status:      models.SessionStatusCompleted,
		Type:        models.SessionTypeRedirect,
		TokenID:     &tokenID,
		ExpiresAt:   base.Add(30 * time.Minute),
		CompletedAt: &now,
	}))

	req := chargeRequest()
	req.TokenID, req.SessionID = "", "tbk_done"
	result, err := f.svc.ProcessPayment(context.Background(), alice, req)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, result.Status)
	assert.Equal(t, "cus_1", f.provider.lastCharge.PaymentToken)
}

func TestProcessPaymentDeclined(t *testing.T) {
	f := newFixture(t)
	f.provider.charge = func(providers.ChargeInput) (*providers.ChargeResult, error) {
		return &providers.ChargeResult{Status: models.PaymentStatusFailed, ProviderPaymentID: "ch_2", FailureMessage: "insufficient funds"}, nil
	}

	result, err := f.svc.ProcessPayment(context.Background(), alice, chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, result.Status)

	payment, err := f.payments.GetByID(context.Background(), result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "insufficient funds", *payment.ErrorMessage)
}

func TestProcessPaymentProviderError(t *testing.T) {
	f := newFixture(t)
	f.provider.charge = func(providers.ChargeInput) (*providers.ChargeResult, error) {
		return nil, appErrors.ProviderTimeout("stripe", "charge", context.DeadlineExceeded)
	}
	req := chargeRequest()
	req.PaymentID = "payment_fixed"

	_, err := f.svc.ProcessPayment(context.Background(), alice, req)
	gw, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeProviderTimeout, gw.Code)
	assert.True(t, gw.Retryable)

	payment, err := f.payments.GetByID(context.Background(), "payment_fixed")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.ErrorMessage)
	assert.NotEmpty(t, *payment.ErrorMessage)

	// a plain error is wrapped as a retryable payment failure
	f.provider.charge = func(providers.ChargeInput) (*providers.ChargeResult, error) {
		return nil, errors.New("socket closed")
	}
	_, err = f.svc.ProcessPayment(context.Background(), alice, chargeRequest())
	gw, ok = appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodePaymentFailed, gw.Code)
	assert.Equal(t, http.StatusInternalServerError, gw.Status())

	// reusing a payment id is refused before charging
	calls := f.provider.chargeCalls
	_, err = f.svc.ProcessPayment(context.Background(), alice, req)
	assert.True(t, appErrors.HasCode(err, appErrors.CodeInvalidState))
	assert.Equal(t, calls, f.provider.chargeCalls)
}

func completedPayment(t *testing.T, f *fixture) string {
	t.Helper()
	result, err := f.svc.ProcessPayment(context.Background(), alice, chargeRequest())
	require.NoError(t, err)
	return result.PaymentID
}

func TestRefundPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paymentID := completedPayment(t, f)

	_, err := f.svc.RefundPayment(ctx, models.Identity{UserID: "mallory"}, RefundRequest{PaymentID: paymentID})
	gw, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, gw.Status())

	tooMuch := 20000.0
	_, err = f.svc.RefundPayment(ctx, alice, RefundRequest{PaymentID: paymentID, Amount: &tooMuch})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeValidation))

	// the counterparty may refund
	partial := 5000.0
	resp, err := f.svc.RefundPayment(ctx, models.Identity{UserID: "bob"}, RefundRequest{PaymentID: paymentID, Amount: &partial})
	require.NoError(t, err)
	assert.Equal(t, paymentID, resp.PaymentID)
	assert.Equal(t, "Refund processed successfully", resp.Message)
	assert.Equal(t, "ch_1", f.provider.lastRefund.ProviderPaymentID)
	assert.Equal(t, 5000.0, *f.provider.lastRefund.Amount)

	payment, err := f.payments.GetByID(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, payment.Status)
	require.NotNil(t, payment.RefundedAt)
	assert.Equal(t, "re_1", payment.RefundMetadata["refund_id"])
	assert.Equal(t, true, payment.RefundMetadata["partial"])

	_, err = f.svc.RefundPayment(ctx, alice, RefundRequest{PaymentID: paymentID})
	gw, ok = appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeInvalidState, gw.Code)
	assert.Equal(t, http.StatusConflict, gw.Status())

	_, err = f.svc.RefundPayment(ctx, alice, RefundRequest{PaymentID: "missing"})
	assert.True(t, appErrors.HasCode(err, appErrors.CodeNotFound))
}

func TestGetPaymentStatusCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paymentID := completedPayment(t, f)

	first, err := f.svc.GetPaymentStatus(ctx, alice, paymentID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", first.ProviderStatus)
	assert.Equal(t, "ch_1", first.ProviderPaymentID)

	second, err := f.svc.GetPaymentStatus(ctx, alice, paymentID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.provider.statusCalls)

	f.redis.FastForward(time.Minute)
	_, err = f.svc.GetPaymentStatus(ctx, alice, paymentID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.provider.statusCalls)
}

func TestGetPaymentStatusReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paymentID := completedPayment(t, f)
	f.provider.status = func(id string) (*providers.StatusResult, error) {
		return &providers.StatusResult{ProviderPaymentID: id, Status: models.PaymentStatusRefunded, ProviderStatus: "refunded"}, nil
	}

	resp, err := f.svc.GetPaymentStatus(ctx, alice, paymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, resp.Status)

	payment, err := f.payments.GetByID(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, payment.Status)

	f.provider.status = func(string) (*providers.StatusResult, error) {
		return nil, errors.New("boom")
	}
	f.redis.FlushAll()
	_, err = f.svc.GetPaymentStatus(ctx, alice, paymentID)
	assert.True(t, appErrors.HasCode(err, appErrors.CodeStatusCheckFailed))
}

func TestApplyProviderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.charge = func(providers.ChargeInput) (*providers.ChargeResult, error) {
		return &providers.ChargeResult{Status: models.PaymentStatusPending, ProviderPaymentID: "mp_1"}, nil
	}
	paymentID := completedPayment(t, f)

	changed, err := f.svc.ApplyProviderStatus(ctx, "stripe", "mp_1", models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.ApplyProviderStatus(ctx, "stripe", "mp_1", models.PaymentStatusRefunded)
	require.NoError(t, err)
	assert.True(t, changed)

	// refunded payments never move backwards
	changed, err = f.svc.ApplyProviderStatus(ctx, "stripe", "mp_1", models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.False(t, changed)

	payment, err := f.payments.GetByID(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, payment.Status)
	assert.Equal(t, "provider", payment.RefundMetadata["source"])

	changed, err = f.svc.ApplyProviderStatus(ctx, "stripe", "unknown", models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.False(t, changed)
}
