package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "paybroker/internal/errors"
	"paybroker/internal/metrics"
	"paybroker/internal/models"
	"paybroker/internal/providers"
	"paybroker/internal/repositories"
	"paybroker/internal/utils/cache"
	"paybroker/internal/validation"
)

const failureWriteTimeout = 5 * time.Second

type service struct {
	payments  repositories.PaymentRepository
	cards     CardReader
	providers ProviderResolver
	cache     StatusCache
	config    Config
	logger    *zap.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService creates a new payment service. statusCache may be nil, in which
// case every status request goes to the provider.
func NewService(
	payments repositories.PaymentRepository,
	cards CardReader,
	resolver ProviderResolver,
	statusCache StatusCache,
	config Config,
	log *zap.Logger,
	m metrics.MetricsCollector,
) Service {
	if payments == nil {
		panic("payment repo is required")
	}
	if cards == nil {
		panic("card reader is required")
	}
	if resolver == nil {
		panic("provider resolver is required")
	}

	if config.StatusCacheTTL <= 0 {
		config.StatusCacheTTL = DefaultStatusCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NoopMetricsCollector{}
	}

	return &service{
		payments:  payments,
		cards:     cards,
		providers: resolver,
		cache:     statusCache,
		config:    config,
		logger:    log.Named("payment"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) ProcessPayment(ctx context.Context, identity models.Identity, req ChargeRequest) (*providers.ChargeResult, error) {
	if err := s.validateCharge(req); err != nil {
		return nil, err
	}
	if !identity.Owns(req.UserID) {
		return nil, appErrors.Forbidden("Cannot charge on behalf of another user")
	}

	capability, err := s.providers.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	card, err := s.resolveCard(ctx, req)
	if err != nil {
		return nil, err
	}
	if card.Provider != req.Provider {
		return nil, appErrors.Validation(
			fmt.Sprintf("Card was tokenized with provider '%s', not '%s'", card.Provider, req.Provider))
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = paymentIDPrefix + uuid.NewString()
	}
	currency := strings.ToUpper(req.Currency)
	cardID := card.CardID
	payment := &models.Payment{
		PaymentID:        paymentID,
		UserID:           req.UserID,
		ProfessionalID:   req.ProfessionalID,
		ServiceRequestID: req.ServiceRequestID,
		Amount:           req.Amount,
		Currency:         currency,
		Provider:         req.Provider,
		Description:      req.Description,
		CardID:           &cardID,
		Status:           models.PaymentStatusProcessing,
		Metadata:         paymentMetadata(req.Metadata, identity.TrustMetadata),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, repositories.ErrPaymentStateConflict) {
			return nil, appErrors.InvalidState(fmt.Sprintf("Payment '%s' already exists", paymentID), http.StatusConflict)
		}
		return nil, appErrors.Internal(err)
	}

	result, err := capability.Charge(ctx, providers.ChargeInput{
		PaymentID:    paymentID,
		UserID:       req.UserID,
		Username:     card.ProviderUsername,
		PaymentToken: card.PaymentToken,
		CardBrand:    card.CardBrand,
		Amount:       req.Amount,
		Currency:     currency,
		Description:  req.Description,
		Email:        identity.Email,
	})
	if err != nil {
		s.markFailed(ctx, paymentID, err)
		s.metrics.RecordPayment(req.Provider, models.PaymentStatusFailed)
		s.logger.Warn("charge failed",
			zap.String("payment_id", paymentID), zap.String("provider", req.Provider), zap.Error(err))
		return nil, appErrors.WrapAs(err, appErrors.CodePaymentFailed, "payment failed")
	}

	result.PaymentID = paymentID
	if result.Amount == 0 {
		result.Amount = req.Amount
	}
	if result.Currency == "" {
		result.Currency = currency
	}
	s.finalize(ctx, payment, result)
	s.metrics.RecordPayment(req.Provider, result.Status)

	s.logger.Info("payment processed",
		zap.String("payment_id", paymentID),
		zap.String("provider", req.Provider),
		zap.String("status", result.Status),
		zap.String("provider_payment_id", result.ProviderPaymentID),
		zap.Float64("amount", req.Amount),
		zap.String("currency", currency),
	)
	return result, nil
}

func (s *service) validateCharge(req ChargeRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	hasToken, hasSession := req.TokenID != "", req.SessionID != ""
	if hasToken == hasSession {
		return appErrors.Validation("Exactly one of token_id or session_id is required").
			WithDetails(map[string]interface{}{"fields": []string{"token_id", "session_id"}})
	}

	v := validation.New()
	v.Amount("amount", req.Amount)
	v.Currency(req.Currency)
	return v.Err()
}

// resolveCard finds the card a charge refers to, scoped to the payer.
func (s *service) resolveCard(ctx context.Context, req ChargeRequest) (*models.PaymentCard, error) {
	if req.SessionID != "" {
		session, err := s.cards.GetCompletedSession(ctx, req.SessionID, req.UserID)
		if err != nil {
			if errors.Is(err, repositories.ErrSessionNotFound) {
				return nil, appErrors.NotFound("Session not found or not completed")
			}
			return nil, appErrors.Internal(err)
		}
		if session.TokenID == nil {
			return nil, appErrors.InvalidState("Session has no token", http.StatusConflict)
		}
		card, err := s.cards.GetCard(ctx, *session.TokenID)
		if err != nil {
			if errors.Is(err, repositories.ErrCardNotFound) {
				return nil, appErrors.NotFound("Payment token not found")
			}
			return nil, appErrors.Internal(err)
		}
		return card, nil
	}

	card, err := s.cards.GetCard(ctx, req.TokenID)
	if errors.Is(err, repositories.ErrCardNotFound) {
		card, err = s.cards.FindCardByToken(ctx, req.UserID, req.TokenID)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrCardNotFound) {
			return nil, appErrors.NotFound("Payment token not found")
		}
		return nil, appErrors.Internal(err)
	}
	if card.UserID != req.UserID {
		return nil, appErrors.Forbidden("Payment token belongs to another user")
	}
	return card, nil
}

// finalize stores the result derived status. The provider outcome is
// returned to the caller even when this write fails.
func (s *service) finalize(ctx context.Context, payment *models.Payment, result *providers.ChargeResult) {
	status := result.Status
	if status == "" {
		status = models.PaymentStatusPending
	}
	var transactionID, errorMessage *string
	if result.ProviderPaymentID != "" {
		id := result.ProviderPaymentID
		transactionID = &id
	}
	if status == models.PaymentStatusFailed {
		msg := result.FailureMessage
		if msg == "" {
			msg = "charge declined by provider"
		}
		errorMessage = &msg
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	err := s.payments.Finalize(writeCtx, payment.PaymentID, status, transactionID, errorMessage)
	switch {
	case errors.Is(err, repositories.ErrPaymentStateConflict):
		s.logger.Info("payment already finalized", zap.String("payment_id", payment.PaymentID))
	case err != nil:
		s.logger.Error("failed to finalize payment",
			zap.String("payment_id", payment.PaymentID), zap.String("status", status), zap.Error(err))
	}
}

// markFailed records a charge error. It is best effort and never replaces
// cause.
func (s *service) markFailed(ctx context.Context, paymentID string, cause error) {
	msg := cause.Error()
	if gw, ok := appErrors.As(cause); ok {
		msg = gw.Message
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := s.payments.MarkFailed(writeCtx, paymentID, msg); err != nil {
		s.logger.Error("failed to mark payment failed", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func (s *service) RefundPayment(ctx context.Context, identity models.Identity, req RefundRequest) (*RefundResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	payment, err := s.loadOwned(ctx, identity, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusCompleted {
		return nil, appErrors.InvalidState(
			fmt.Sprintf("Only completed payments can be refunded (status: %s)", payment.Status), http.StatusConflict)
	}
	if payment.TransactionID == nil {
		return nil, appErrors.InvalidState("Payment has no provider transaction", http.StatusConflict)
	}
	if req.Amount != nil && *req.Amount > payment.Amount {
		return nil, appErrors.Validation("Refund amount exceeds the payment amount")
	}

	capability, err := s.providers.Resolve(payment.Provider)
	if err != nil {
		return nil, err
	}
	refund, err := capability.Refund(ctx, providers.RefundInput{
		PaymentID:         payment.PaymentID,
		ProviderPaymentID: *payment.TransactionID,
		Amount:            req.Amount,
		Currency:          payment.Currency,
	})
	if err != nil {
		s.logger.Warn("refund failed",
			zap.String("payment_id", payment.PaymentID), zap.String("provider", payment.Provider), zap.Error(err))
		return nil, appErrors.WrapAs(err, appErrors.CodeRefundFailed, "refund failed")
	}

	amount := payment.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if refund.Amount > 0 {
		amount = refund.Amount
	}
	metadata := map[string]interface{}{
		"refund_id":     refund.RefundID,
		"refund_status": refund.Status,
		"amount":        amount,
		"partial":       amount < payment.Amount,
		"requested_by":  identity.UserID,
	}
	if req.Reason != "" {
		metadata["reason"] = req.Reason
	}
	if err := s.payments.MarkRefunded(ctx, payment.PaymentID, metadata, s.now()); err != nil {
		if errors.Is(err, repositories.ErrPaymentStateConflict) {
			return nil, appErrors.InvalidState("Payment changed state during the refund", http.StatusConflict)
		}
		return nil, appErrors.Internal(err)
	}
	s.invalidateStatus(ctx, payment.PaymentID)
	s.metrics.RecordPayment(payment.Provider, models.PaymentStatusRefunded)

	s.logger.Info("payment refunded",
		zap.String("payment_id", payment.PaymentID),
		zap.String("refund_id", refund.RefundID),
		zap.Float64("amount", amount),
	)
	return &RefundResponse{
		Message:   "Refund processed successfully",
		PaymentID: payment.PaymentID,
		RefundID:  refund.RefundID,
		Amount:    amount,
	}, nil
}

// loadOwned returns the payment when the caller is its payer or counterparty.
func (s *service) loadOwned(ctx context.Context, identity models.Identity, paymentID string) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repositories.ErrPaymentNotFound) {
			return nil, appErrors.NotFound("Payment not found")
		}
		return nil, appErrors.Internal(err)
	}
	if identity.UserID != payment.UserID && identity.UserID != payment.ProfessionalID {
		return nil, appErrors.Forbidden("Not authorized to access this payment")
	}
	return payment, nil
}

func (s *service) invalidateStatus(ctx context.Context, paymentID string) {
	if s.cache == nil {
		return
	}
	key := cache.GenerateKey(cache.EntityPayment, cache.KeyStatus, paymentID)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to invalidate payment status", zap.String("key", key), zap.Error(err))
	}
}
