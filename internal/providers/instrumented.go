package providers

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErrors "paybroker/internal/errors"
	"paybroker/internal/metrics"
)

// instrumented bounds every remote call with a timeout, runs it through the
// provider's circuit breaker and records call metrics.
type instrumented struct {
	Capability
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	metrics metrics.MetricsCollector
	logger  *zap.Logger
}

func newInstrumented(c Capability, timeout time.Duration, m metrics.MetricsCollector, logger *zap.Logger) *instrumented {
	name := c.Name()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Business rejections are answers, not outages.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if gw, ok := appErrors.As(err); ok && gw.Status() < 500 {
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			m.RecordBreakerState(name, to.String())
		},
	}

	return &instrumented{
		Capability: c,
		timeout:    timeout,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		metrics:    m,
		logger:     logger,
	}
}

func call[T any](ctx context.Context, p *instrumented, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	res, err := p.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	duration := time.Since(start)

	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			result = "unavailable"
			err = appErrors.ProviderUnavailable(p.Name(), err)
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			result = "timeout"
			err = appErrors.ProviderTimeout(p.Name(), op, err)
		}
		p.metrics.RecordProviderCall(p.Name(), op, duration, result)
		p.logger.Debug("provider call failed",
			zap.String("provider", p.Name()),
			zap.String("operation", op),
			zap.Duration("duration", duration),
			zap.Error(err))
		return zero, err
	}

	p.metrics.RecordProviderCall(p.Name(), op, duration, "ok")
	v, _ := res.(T)
	return v, nil
}

func (p *instrumented) TokenizeDirect(ctx context.Context, in DirectTokenizeInput) (*CardResult, error) {
	return call(ctx, p, "tokenize_direct", func(ctx context.Context) (*CardResult, error) {
		return p.Capability.TokenizeDirect(ctx, in)
	})
}

func (p *instrumented) CreateSession(ctx context.Context, in SessionInput) (*SessionHandle, error) {
	return call(ctx, p, "create_session", func(ctx context.Context) (*SessionHandle, error) {
		return p.Capability.CreateSession(ctx, in)
	})
}

func (p *instrumented) CompleteSession(ctx context.Context, in SessionCompletion) (*CardResult, error) {
	return call(ctx, p, "complete_session", func(ctx context.Context) (*CardResult, error) {
		return p.Capability.CompleteSession(ctx, in)
	})
}

func (p *instrumented) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	return call(ctx, p, "charge", func(ctx context.Context) (*ChargeResult, error) {
		return p.Capability.Charge(ctx, in)
	})
}

func (p *instrumented) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	return call(ctx, p, "refund", func(ctx context.Context) (*RefundResult, error) {
		return p.Capability.Refund(ctx, in)
	})
}

func (p *instrumented) GetStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	return call(ctx, p, "get_status", func(ctx context.Context) (*StatusResult, error) {
		return p.Capability.GetStatus(ctx, providerPaymentID)
	})
}

func (p *instrumented) HandleWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	return call(ctx, p, "handle_webhook", func(ctx context.Context) (*WebhookEvent, error) {
		return p.Capability.HandleWebhook(ctx, req)
	})
}
