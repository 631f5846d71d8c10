package config

import (
	"log"
	"strings"
)

const (
	ProviderStripe      = "stripe"
	ProviderTransbank   = "transbank"
	ProviderMercadoPago = "mercadopago"

	MethodDirect   = "direct"
	MethodRedirect = "redirect"
	MethodVault    = "vault"

	EnvSandbox     = "sandbox"
	EnvIntegration = "integration"
	EnvProduction  = "production"
)

// Public Oneclick Mall integration credentials published by Transbank.
const (
	TransbankIntegrationCommerceCode      = "597055555541"
	TransbankIntegrationChildCommerceCode = "597055555542"
	TransbankIntegrationAPIKey            = "579B532A7440BB0C9079DED94D31EA1615BACEB56610332264630D42D0A36B1C"
)

// KnownProviders is the closed set of provider identities.
var KnownProviders = []string{ProviderStripe, ProviderTransbank, ProviderMercadoPago}

// IsKnownProvider reports whether name belongs to the closed provider set.
func IsKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

// ProviderConfig is the static, immutable configuration of one provider.
type ProviderConfig struct {
	Provider    string `json:"provider"`
	Method      string `json:"method"`
	Environment string `json:"environment"`
	Enabled     bool   `json:"enabled"`
	TestMode    bool   `json:"is_test_mode"`

	SecretKey         string   `json:"-"`
	PublicKey         string   `json:"-"`
	WebhookSecret     string   `json:"-"`
	CommerceCode      string   `json:"-"`
	ChildCommerceCode string   `json:"-"`
	APIKey            string   `json:"-"`
	AccessToken       string   `json:"-"`
	BaseURL           string   `json:"-"`
	AllowedWebhookIPs []string `json:"-"`
}

// LoadProviderConfigs reads every provider configuration present in the
// environment. Providers without their primary credential are skipped.
func LoadProviderConfigs() []ProviderConfig {
	var configs []ProviderConfig

	if cfg, ok := loadStripeConfig(); ok {
		configs = append(configs, cfg)
		log.Printf("stripe configuration loaded (test mode: %t)", cfg.TestMode)
	}
	if cfg, ok := loadTransbankConfig(); ok {
		configs = append(configs, cfg)
		log.Printf("transbank configuration loaded (environment: %s)", cfg.Environment)
	}
	if cfg, ok := loadMercadoPagoConfig(); ok {
		configs = append(configs, cfg)
		log.Printf("mercadopago configuration loaded (environment: %s)", cfg.Environment)
	}

	log.Printf("%d provider config(s) loaded", len(configs))
	return configs
}

func loadStripeConfig() (ProviderConfig, bool) {
	secret := GetEnv("STRIPE_SECRET_KEY", "")
	if secret == "" {
		return ProviderConfig{}, false
	}
	env := EnvProduction
	if strings.HasPrefix(secret, "sk_test_") {
		env = EnvSandbox
	}
	return ProviderConfig{
		Provider:      ProviderStripe,
		Method:        MethodDirect,
		Environment:   env,
		Enabled:       GetBoolEnv("STRIPE_ENABLED", true),
		TestMode:      env != EnvProduction,
		SecretKey:     secret,
		PublicKey:     GetEnv("STRIPE_PUBLIC_KEY", ""),
		WebhookSecret: GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	}, true
}

func loadTransbankConfig() (ProviderConfig, bool) {
	apiKey := GetEnv("TRANSBANK_API_KEY", "")
	useTest := GetBoolEnv("TRANSBANK_USE_TEST_CREDENTIALS", false)
	if apiKey == "" && !useTest {
		return ProviderConfig{}, false
	}

	cfg := ProviderConfig{
		Provider:          ProviderTransbank,
		Method:            MethodRedirect,
		Environment:       GetEnv("TRANSBANK_ENVIRONMENT", EnvIntegration),
		Enabled:           GetBoolEnv("TRANSBANK_ENABLED", true),
		APIKey:            apiKey,
		CommerceCode:      GetEnv("TRANSBANK_COMMERCE_CODE", ""),
		ChildCommerceCode: GetEnv("TRANSBANK_CHILD_COMMERCE_CODE", ""),
		BaseURL:           GetEnv("TRANSBANK_BASE_URL", ""),
		AllowedWebhookIPs: GetListEnv("TRANSBANK_WEBHOOK_IPS"),
	}
	if cfg.APIKey == "" || cfg.CommerceCode == "" {
		log.Println("no transbank credentials provided, using integration test credentials")
		cfg.APIKey = TransbankIntegrationAPIKey
		cfg.CommerceCode = TransbankIntegrationCommerceCode
		cfg.ChildCommerceCode = TransbankIntegrationChildCommerceCode
		cfg.Environment = EnvIntegration
	}
	if cfg.ChildCommerceCode == "" {
		cfg.ChildCommerceCode = cfg.CommerceCode
	}
	cfg.TestMode = cfg.Environment != EnvProduction
	return cfg, true
}

func loadMercadoPagoConfig() (ProviderConfig, bool) {
	token := GetEnv("MERCADOPAGO_ACCESS_TOKEN", "")
	if token == "" {
		return ProviderConfig{}, false
	}
	env := GetEnv("MERCADOPAGO_ENVIRONMENT", EnvSandbox)
	return ProviderConfig{
		Provider:      ProviderMercadoPago,
		Method:        MethodVault,
		Environment:   env,
		Enabled:       GetBoolEnv("MERCADOPAGO_ENABLED", true),
		TestMode:      env != EnvProduction || strings.HasPrefix(token, "TEST-"),
		AccessToken:   token,
		PublicKey:     GetEnv("MERCADOPAGO_PUBLIC_KEY", ""),
		WebhookSecret: GetEnv("MERCADOPAGO_WEBHOOK_SECRET", ""),
		BaseURL:       GetEnv("MERCADOPAGO_BASE_URL", ""),
	}, true
}
