package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
	"paybroker/internal/metrics"
	"paybroker/internal/models"
	"paybroker/internal/providers"
	"paybroker/internal/repositories"
	rediscache "paybroker/internal/repositories/cache"
	"paybroker/internal/utils/cache"
)

const bookkeepingTimeout = 5 * time.Second

// Registry is the part of providers.Registry the processor needs.
type Registry interface {
	IsAvailable(name string) bool
	Resolve(name string) (providers.Capability, error)
}

// StatusApplier forwards payment status changes carried by an event.
type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, provider, providerPaymentID, status string) (bool, error)
}

type ProcessorConfig struct {
	Registry Registry
	Events   repositories.WebhookEventRepository
	Payments StatusApplier
	// Dedupe short-circuits redeliveries before the database is touched.
	// Optional; the unique event row is authoritative.
	Dedupe  rediscache.IdempotencyStore
	Logger  *zap.Logger
	Metrics metrics.MetricsCollector
}

// Ack is returned to the provider for every accepted delivery.
type Ack struct {
	Received  bool      `json:"received"`
	Provider  string    `json:"provider"`
	EventID   string    `json:"event_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

type Processor struct {
	registry Registry
	events   repositories.WebhookEventRepository
	payments StatusApplier
	dedupe   rediscache.IdempotencyStore
	logger   *zap.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Registry == nil {
		panic("provider registry is required")
	}
	if cfg.Events == nil {
		panic("webhook event repo is required")
	}
	if cfg.Payments == nil {
		panic("status applier is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopMetricsCollector{}
	}

	return &Processor{
		registry: cfg.Registry,
		events:   cfg.Events,
		payments: cfg.Payments,
		dedupe:   cfg.Dedupe,
		logger:   cfg.Logger.Named("webhook"),
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessWebhook verifies, deduplicates and dispatches one delivery. Nothing
// is written before the signature check passes.
func (p *Processor) ProcessWebhook(ctx context.Context, provider string, req providers.WebhookRequest) (*Ack, error) {
	if !config.IsKnownProvider(provider) {
		return nil, appErrors.Validation(fmt.Sprintf("Unsupported provider '%s'", provider))
	}
	if !p.registry.IsAvailable(provider) {
		return nil, appErrors.ProviderNotAvailable(provider)
	}
	capability, err := p.registry.Resolve(provider)
	if err != nil {
		return nil, err
	}

	if err := p.verify(ctx, capability, req); err != nil {
		p.metrics.RecordWebhook(provider, "rejected")
		p.logger.Warn("webhook rejected",
			zap.String("provider", provider), zap.String("remote_ip", req.RemoteIP), zap.Error(err))
		return nil, err
	}

	event, err := capability.HandleWebhook(ctx, req)
	if err != nil {
		p.metrics.RecordWebhook(provider, "invalid")
		if gw, ok := appErrors.As(err); ok {
			return nil, gw
		}
		return nil, appErrors.Validation("Invalid webhook payload")
	}

	ack := &Ack{Received: true, Provider: provider, EventID: event.EventID, Timestamp: p.now()}
	key := cache.EventKey(provider, event.EventID)

	owned, duplicate := p.begin(ctx, key)
	if duplicate {
		p.metrics.RecordWebhook(provider, "duplicate")
		p.logger.Info("duplicate webhook", zap.String("provider", provider), zap.String("event_id", event.EventID))
		ack.Duplicate = true
		return ack, nil
	}

	record := &models.WebhookEvent{
		ID:             uuid.NewString(),
		Provider:       provider,
		EventID:        event.EventID,
		EventType:      event.Type,
		Payload:        datatypes.JSON(req.Payload),
		SignatureValid: capability.RequiresSignature(),
		ReceivedAt:     ack.Timestamp,
	}
	recorded, err := p.events.Record(ctx, record)
	if err != nil {
		if owned {
			p.release(ctx, key)
		}
		return nil, appErrors.Internal(err)
	}
	if !recorded {
		p.complete(ctx, key, owned)
		p.metrics.RecordWebhook(provider, "duplicate")
		p.logger.Info("duplicate webhook", zap.String("provider", provider), zap.String("event_id", event.EventID))
		ack.Duplicate = true
		return ack, nil
	}

	processingErr := p.dispatch(ctx, provider, event)
	p.markProcessed(ctx, record.ID, processingErr)
	p.complete(ctx, key, owned)

	outcome := "processed"
	if processingErr != nil {
		outcome = "failed"
	}
	p.metrics.RecordWebhook(provider, outcome)
	p.logger.Info("webhook processed",
		zap.String("provider", provider),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.Type),
	)
	return ack, nil
}

func (p *Processor) verify(ctx context.Context, capability providers.Capability, req providers.WebhookRequest) error {
	if capability.RequiresSignature() && req.Signature == "" {
		return appErrors.Validation("Missing webhook signature")
	}
	if err := capability.VerifyWebhook(ctx, req); err != nil {
		if _, ok := appErrors.As(err); ok {
			return err
		}
		return appErrors.Unauthenticated("Invalid webhook signature")
	}
	return nil
}

// dispatch applies the payment status change an event carries, if any.
// Failures are kept on the event row; the delivery is still acknowledged and
// the payment is reconciled by the next status check.
func (p *Processor) dispatch(ctx context.Context, provider string, event *providers.WebhookEvent) error {
	if event.ProviderPaymentID == "" || event.Status == "" {
		return nil
	}
	changed, err := p.payments.ApplyProviderStatus(ctx, provider, event.ProviderPaymentID, event.Status)
	if err != nil {
		p.logger.Error("failed to apply webhook status",
			zap.String("provider", provider),
			zap.String("event_id", event.EventID),
			zap.String("provider_payment_id", event.ProviderPaymentID),
			zap.Error(err),
		)
		return err
	}
	if changed {
		p.logger.Info("payment updated by webhook",
			zap.String("provider_payment_id", event.ProviderPaymentID), zap.String("status", event.Status))
	}
	return nil
}

// begin takes the in-flight marker. A Redis failure degrades to the database
// check rather than rejecting the delivery.
func (p *Processor) begin(ctx context.Context, key string) (owned, duplicate bool) {
	if p.dedupe == nil {
		return false, false
	}
	done, err := p.dedupe.Begin(ctx, key)
	switch {
	case errors.Is(err, rediscache.ErrInProgress):
		return false, true
	case err != nil:
		p.logger.Warn("webhook dedupe unavailable", zap.String("key", key), zap.Error(err))
		return false, false
	case done:
		return false, true
	}
	return true, false
}

func (p *Processor) complete(ctx context.Context, key string, owned bool) {
	if p.dedupe == nil || !owned {
		return
	}
	if err := p.dedupe.Complete(ctx, key); err != nil {
		p.logger.Warn("failed to mark webhook completed", zap.String("key", key), zap.Error(err))
	}
}

func (p *Processor) release(ctx context.Context, key string) {
	if err := p.dedupe.Release(ctx, key); err != nil {
		p.logger.Warn("failed to release webhook key", zap.String("key", key), zap.Error(err))
	}
}

func (p *Processor) markProcessed(ctx context.Context, id string, processingErr error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := p.events.MarkProcessed(writeCtx, id, processingErr, p.now()); err != nil {
		p.logger.Error("failed to mark webhook processed", zap.String("id", id), zap.Error(err))
	}
}
