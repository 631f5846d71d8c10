package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	for _, key := range []string{
		"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "STRIPE_ENABLED",
		"TRANSBANK_API_KEY", "TRANSBANK_COMMERCE_CODE", "TRANSBANK_CHILD_COMMERCE_CODE",
		"TRANSBANK_ENVIRONMENT", "TRANSBANK_USE_TEST_CREDENTIALS", "TRANSBANK_WEBHOOK_IPS",
		"MERCADOPAGO_ACCESS_TOKEN", "MERCADOPAGO_ENVIRONMENT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadProviderConfigs(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		clearProviderEnv(t)
		assert.Empty(t, LoadProviderConfigs())
	})

	t.Run("stripe test key is sandbox", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
		t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_abc")

		configs := LoadProviderConfigs()
		require.Len(t, configs, 1)
		assert.Equal(t, ProviderStripe, configs[0].Provider)
		assert.Equal(t, MethodDirect, configs[0].Method)
		assert.True(t, configs[0].TestMode)
		assert.True(t, configs[0].Enabled)
		assert.Equal(t, "whsec_abc", configs[0].WebhookSecret)
	})

	t.Run("transbank falls back to integration credentials", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("TRANSBANK_USE_TEST_CREDENTIALS", "true")
		t.Setenv("TRANSBANK_WEBHOOK_IPS", "10.0.0.1, 10.0.0.2,")

		configs := LoadProviderConfigs()
		require.Len(t, configs, 1)
		cfg := configs[0]
		assert.Equal(t, MethodRedirect, cfg.Method)
		assert.Equal(t, TransbankIntegrationAPIKey, cfg.APIKey)
		assert.Equal(t, TransbankIntegrationCommerceCode, cfg.CommerceCode)
		assert.Equal(t, TransbankIntegrationChildCommerceCode, cfg.ChildCommerceCode)
		assert.True(t, cfg.TestMode)
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.AllowedWebhookIPs)
	})

	t.Run("mercadopago production", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("MERCADOPAGO_ACCESS_TOKEN", "APP_USR-1")
		t.Setenv("MERCADOPAGO_ENVIRONMENT", "production")

		configs := LoadProviderConfigs()
		require.Len(t, configs, 1)
		assert.Equal(t, MethodVault, configs[0].Method)
		assert.False(t, configs[0].TestMode)
	})
}

func TestLoadKeepsLeaseAboveTimeout(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("PROVIDER_TIMEOUT", "30s")
	t.Setenv("SESSION_COMPLETION_LEASE", "10s")

	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, time.Minute, cfg.CompletionLease)
}

func TestIsKnownProvider(t *testing.T) {
	assert.True(t, IsKnownProvider("stripe"))
	assert.True(t, IsKnownProvider("mercadopago"))
	assert.False(t, IsKnownProvider("paypal"))
	assert.False(t, IsKnownProvider(""))
}
