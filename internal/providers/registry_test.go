package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
)

type fakeCapability struct {
	unsupported
	chargeCalls int
	charge      func(ctx context.Context, in ChargeInput) (*ChargeResult, error)
}

func (f *fakeCapability) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	f.chargeCalls++
	return f.charge(ctx, in)
}

func (f *fakeCapability) Refund(_ context.Context, in RefundInput) (*RefundResult, error) {
	return &RefundResult{}, nil
}

func (f *fakeCapability) GetStatus(_ context.Context, providerPaymentID string) (*StatusResult, error) {
	return &StatusResult{ProviderPaymentID: providerPaymentID}, nil
}

func (f *fakeCapability) VerifyWebhook(context.Context, WebhookRequest) error { return nil }

func (f *fakeCapability) HandleWebhook(context.Context, WebhookRequest) (*WebhookEvent, error) {
	return &WebhookEvent{}, nil
}

func stripeCfg() config.ProviderConfig {
	return config.ProviderConfig{Provider: config.ProviderStripe, Method: config.MethodDirect, Enabled: true}
}

func TestRegistryResolvesLazily(t *testing.T) {
	builds := 0
	fake := &fakeCapability{unsupported: unsupported{name: config.ProviderStripe, shape: ShapeDirect}}
	r := NewRegistry(RegistryOptions{Factories: map[string]Factory{
		config.ProviderStripe: func(config.ProviderConfig) (Capability, error) {
			builds++
			return fake, nil
		},
	}})

	require.NoError(t, r.Register(stripeCfg()))
	assert.Equal(t, 0, builds)
	assert.True(t, r.IsAvailable(config.ProviderStripe))

	first, err := r.Resolve(config.ProviderStripe)
	require.NoError(t, err)
	second, err := r.Resolve(config.ProviderStripe)
	require.NoError(t, err)

	assert.Equal(t, 1, builds)
	assert.Same(t, first, second)
	assert.Equal(t, ShapeDirect, first.Shape())
}

func TestRegistryDoesNotCacheFailures(t *testing.T) {
	attempts := 0
	r := NewRegistry(RegistryOptions{Factories: map[string]Factory{
		config.ProviderStripe: func(config.ProviderConfig) (Capability, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("sdk unavailable")
			}
			return &fakeCapability{unsupported: unsupported{name: config.ProviderStripe, shape: ShapeDirect}}, nil
		},
	}})
	require.NoError(t, r.Register(stripeCfg()))

	_, err := r.Resolve(config.ProviderStripe)
	assert.True(t, appErrors.HasCode(err, appErrors.CodeSDKNotAvailable))

	c, err := r.Resolve(config.ProviderStripe)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 2, attempts)
}

func TestRegistryUnknownAndDisabled(t *testing.T) {
	r := NewRegistry(RegistryOptions{})

	_, err := r.Resolve("paypal")
	assert.True(t, appErrors.HasCode(err, appErrors.CodeProviderNotConfigured))
	assert.Error(t, r.Register(config.ProviderConfig{Provider: "paypal", Enabled: true}))

	cfg := stripeCfg()
	cfg.Enabled = false
	require.NoError(t, r.Register(cfg))
	_, err = r.Resolve(config.ProviderStripe)
	assert.True(t, appErrors.HasCode(err, appErrors.CodeProviderNotConfigured))
	assert.False(t, r.IsAvailable(config.ProviderStripe))
}

func TestRegistryListAvailableSorted(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	require.NoError(t, r.Register(config.ProviderConfig{Provider: config.ProviderTransbank, Method: config.MethodRedirect, Enabled: true}))
	require.NoError(t, r.Register(stripeCfg()))
	require.NoError(t, r.Register(config.ProviderConfig{Provider: config.ProviderMercadoPago, Enabled: false}))

	list := r.ListAvailable()
	require.Len(t, list, 2)
	assert.Equal(t, config.ProviderStripe, list[0].Provider)
	assert.Equal(t, config.ProviderTransbank, list[1].Provider)
}

func registryWith(t *testing.T, fake *fakeCapability, timeout time.Duration) Capability {
	t.Helper()
	r := NewRegistry(RegistryOptions{
		Timeout: timeout,
		Factories: map[string]Factory{
			config.ProviderStripe: func(config.ProviderConfig) (Capability, error) { return fake, nil },
		},
	})
	require.NoError(t, r.Register(stripeCfg()))
	c, err := r.Resolve(config.ProviderStripe)
	require.NoError(t, err)
	return c
}

func TestInstrumentedMapsTimeout(t *testing.T) {
	fake := &fakeCapability{
		unsupported: unsupported{name: config.ProviderStripe, shape: ShapeDirect},
		charge: func(ctx context.Context, _ ChargeInput) (*ChargeResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := registryWith(t, fake, 20*time.Millisecond)

	_, err := c.Charge(context.Background(), ChargeInput{PaymentID: "p1"})
	gw, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeProviderTimeout, gw.Code)
	assert.Equal(t, 504, gw.Status())
	assert.True(t, gw.Retryable)
}

func TestInstrumentedBreakerOpens(t *testing.T) {
	fake := &fakeCapability{
		unsupported: unsupported{name: config.ProviderStripe, shape: ShapeDirect},
		charge: func(context.Context, ChargeInput) (*ChargeResult, error) {
			return nil, appErrors.ProviderFailure(appErrors.CodePaymentFailed, "upstream 500", nil)
		},
	}
	c := registryWith(t, fake, time.Second)

	for i := 0; i < 5; i++ {
		_, err := c.Charge(context.Background(), ChargeInput{})
		assert.True(t, appErrors.HasCode(err, appErrors.CodePaymentFailed))
	}

	_, err := c.Charge(context.Background(), ChargeInput{})
	gw, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeProviderUnavailable, gw.Code)
	assert.Equal(t, 503, gw.Status())
	assert.Equal(t, 5, fake.chargeCalls)
}

func TestInstrumentedClientErrorsDoNotTrip(t *testing.T) {
	fake := &fakeCapability{
		unsupported: unsupported{name: config.ProviderStripe, shape: ShapeDirect},
		charge: func(context.Context, ChargeInput) (*ChargeResult, error) {
			return nil, appErrors.Validation("card declined")
		},
	}
	c := registryWith(t, fake, time.Second)

	for i := 0; i < 10; i++ {
		_, err := c.Charge(context.Background(), ChargeInput{})
		assert.True(t, appErrors.HasCode(err, appErrors.CodeValidation))
	}
	assert.Equal(t, 10, fake.chargeCalls)
}

func TestUnsupportedOperations(t *testing.T) {
	fake := &fakeCapability{unsupported: unsupported{name: config.ProviderStripe, shape: ShapeDirect}}
	c := registryWith(t, fake, time.Second)

	_, err := c.CreateSession(context.Background(), SessionInput{})
	gw, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeMethodNotSupported, gw.Code)
	assert.Equal(t, 400, gw.Status())

	id, err := c.CallbackSessionID(map[string]string{"session_id": "sess_1"})
	require.NoError(t, err)
	assert.Equal(t, "sess_1", id)
}
