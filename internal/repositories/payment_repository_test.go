package repositories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"paybroker/internal/models"
	"paybroker/internal/repositories"
	"paybroker/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayment(id string) *models.Payment {
	return &models.Payment{
		PaymentID:        id,
		UserID:           "user-1",
		ProfessionalID:   "pro-1",
		ServiceRequestID: "sr-1",
		Amount:           1500,
		Currency:         "CLP",
		Provider:         "transbank",
		Status:           models.PaymentStatusProcessing,
	}
}

func TestPaymentFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewPaymentRepository(testutil.NewDB(t))
	require.NoError(t, repo.Create(ctx, newPayment("pay_1")))

	txID := "buy-1"
	require.NoError(t, repo.Finalize(ctx, "pay_1", models.PaymentStatusCompleted, &txID, nil))

	err := repo.MarkFailed(ctx, "pay_1", "late failure")
	assert.ErrorIs(t, err, repositories.ErrPaymentStateConflict)

	payment, err := repo.GetByID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Nil(t, payment.ErrorMessage)

	byTx, err := repo.GetByTransactionID(ctx, "transbank", "buy-1")
	require.NoError(t, err)
	assert.Equal(t, "pay_1", byTx.PaymentID)
}

func TestPaymentMarkFailed(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewPaymentRepository(testutil.NewDB(t))
	require.NoError(t, repo.Create(ctx, newPayment("pay_1")))

	require.NoError(t, repo.MarkFailed(ctx, "pay_1", "card declined"))

	payment, err := repo.GetByID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.ErrorMessage)
	assert.Equal(t, "card declined", *payment.ErrorMessage)
}

func TestPaymentMarkRefunded(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewPaymentRepository(testutil.NewDB(t))
	require.NoError(t, repo.Create(ctx, newPayment("pay_1")))

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := repo.MarkRefunded(ctx, "pay_1", nil, now)
	assert.ErrorIs(t, err, repositories.ErrPaymentStateConflict)

	require.NoError(t, repo.Finalize(ctx, "pay_1", models.PaymentStatusCompleted, nil, nil))
	require.NoError(t, repo.MarkRefunded(ctx, "pay_1", map[string]interface{}{"refunded_by": "user-1"}, now))

	payment, err := repo.GetByID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, payment.Status)
	require.NotNil(t, payment.RefundedAt)
	assert.Equal(t, "user-1", payment.RefundMetadata["refunded_by"])
}

func TestPaymentTransitionStatus(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewPaymentRepository(testutil.NewDB(t))
	require.NoError(t, repo.Create(ctx, newPayment("pay_1")))

	ok, err := repo.TransitionStatus(ctx, "pay_1", []string{models.PaymentStatusCompleted}, models.PaymentStatusRefunded)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.TransitionStatus(ctx, "pay_1", []string{models.PaymentStatusProcessing}, models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, repositories.ErrPaymentNotFound))
}

func TestWebhookEventRecordedOnce(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewWebhookEventRepository(testutil.NewDB(t))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	event := &models.WebhookEvent{ID: "e1", Provider: "stripe", EventID: "evt_1", Payload: []byte(`{}`), ReceivedAt: now}
	created, err := repo.Record(ctx, event)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &models.WebhookEvent{ID: "e2", Provider: "stripe", EventID: "evt_1", Payload: []byte(`{}`), ReceivedAt: now}
	created, err = repo.Record(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	other := &models.WebhookEvent{ID: "e3", Provider: "mercadopago", EventID: "evt_1", Payload: []byte(`{}`), ReceivedAt: now}
	created, err = repo.Record(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)

	assert.NoError(t, repo.MarkProcessed(ctx, "e1", errors.New("handler failed"), now))
}
