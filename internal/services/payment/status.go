package payment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	appErrors "paybroker/internal/errors"
	"paybroker/internal/models"
	"paybroker/internal/repositories"
	"paybroker/internal/utils/cache"
)

// allowedFrom lists, per target status, the statuses an asynchronous update
// may move a payment out of. Refunded payments never move.
var allowedFrom = map[string][]string{
	models.PaymentStatusPending:   {models.PaymentStatusProcessing},
	models.PaymentStatusCompleted: {models.PaymentStatusProcessing, models.PaymentStatusPending},
	models.PaymentStatusFailed:    {models.PaymentStatusProcessing, models.PaymentStatusPending},
	models.PaymentStatusCancelled: {models.PaymentStatusProcessing, models.PaymentStatusPending, models.PaymentStatusCompleted},
}

func (s *service) GetPaymentStatus(ctx context.Context, identity models.Identity, paymentID string) (*StatusResponse, error) {
	payment, err := s.loadOwned(ctx, identity, paymentID)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{
		PaymentID: payment.PaymentID,
		Provider:  payment.Provider,
		Status:    payment.Status,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	}
	// Nothing to ask the provider about before the charge returned an id.
	if payment.TransactionID == nil {
		return resp, nil
	}
	resp.ProviderPaymentID = *payment.TransactionID

	key := cache.GenerateKey(cache.EntityPayment, cache.KeyStatus, payment.PaymentID)
	if s.cache != nil {
		var cached StatusResponse
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("payment status cache read failed", zap.String("key", key), zap.Error(err))
		}
		if found {
			s.metrics.RecordCacheHit(key)
			return &cached, nil
		}
		s.metrics.RecordCacheMiss(key)
	}

	capability, err := s.providers.Resolve(payment.Provider)
	if err != nil {
		return nil, err
	}
	status, err := capability.GetStatus(ctx, *payment.TransactionID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.CodeStatusCheckFailed, "failed to check payment status")
	}

	resp.ProviderStatus = status.ProviderStatus
	if status.Status != "" && status.Status != payment.Status {
		changed, err := s.apply(ctx, payment, status.Status)
		if err != nil {
			return nil, err
		}
		if changed {
			resp.Status = status.Status
		}
	}

	if s.cache != nil {
		if err := s.cache.SetWithTTL(ctx, key, resp, s.config.StatusCacheTTL); err != nil {
			s.logger.Warn("payment status cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return resp, nil
}

func (s *service) ApplyProviderStatus(ctx context.Context, provider, providerPaymentID, status string) (bool, error) {
	payment, err := s.payments.GetByTransactionID(ctx, provider, providerPaymentID)
	if err != nil {
		if errors.Is(err, repositories.ErrPaymentNotFound) {
			s.logger.Info("provider status for unknown payment",
				zap.String("provider", provider), zap.String("provider_payment_id", providerPaymentID))
			return false, nil
		}
		return false, appErrors.Internal(err)
	}
	return s.apply(ctx, payment, status)
}

// apply moves payment to status when the transition is allowed.
func (s *service) apply(ctx context.Context, payment *models.Payment, status string) (bool, error) {
	if status == payment.Status {
		return false, nil
	}

	var (
		changed bool
		err     error
	)
	if status == models.PaymentStatusRefunded {
		err = s.payments.MarkRefunded(ctx, payment.PaymentID, map[string]interface{}{"source": "provider"}, s.now())
		changed = err == nil
		if errors.Is(err, repositories.ErrPaymentStateConflict) {
			err = nil
		}
	} else if from, ok := allowedFrom[status]; ok {
		changed, err = s.payments.TransitionStatus(ctx, payment.PaymentID, from, status)
	}
	if err != nil {
		return false, appErrors.Internal(err)
	}

	if !changed {
		s.logger.Info("provider status ignored",
			zap.String("payment_id", payment.PaymentID),
			zap.String("current", payment.Status),
			zap.String("reported", status),
		)
		return false, nil
	}

	s.invalidateStatus(ctx, payment.PaymentID)
	s.metrics.RecordPayment(payment.Provider, status)
	s.logger.Info("payment status updated from provider",
		zap.String("payment_id", payment.PaymentID),
		zap.String("from", payment.Status),
		zap.String("to", status),
	)
	return true, nil
}

func paymentMetadata(request, trust map[string]interface{}) map[string]interface{} {
	if len(request) == 0 && len(trust) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(request)+1)
	for k, v := range request {
		out[k] = v
	}
	if len(trust) > 0 {
		out["trust_metadata"] = trust
	}
	return out
}
