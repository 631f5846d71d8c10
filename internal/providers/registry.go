package providers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"paybroker/internal/config"
	appErrors "paybroker/internal/errors"
	"paybroker/internal/metrics"
)

// Factory builds a capability from its configuration. It is called lazily on
// the first Resolve for a provider.
type Factory func(cfg config.ProviderConfig) (Capability, error)

// DefaultFactories returns the factories for the three supported providers.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		config.ProviderStripe:      NewStripeProvider,
		config.ProviderTransbank:   NewTransbankProvider,
		config.ProviderMercadoPago: NewMercadoPagoProvider,
	}
}

type RegistryOptions struct {
	Timeout   time.Duration
	Metrics   metrics.MetricsCollector
	Logger    *zap.Logger
	Factories map[string]Factory
}

// Registry resolves provider names to live capabilities. It is built once at
// startup and injected into the services.
type Registry struct {
	mu        sync.Mutex
	configs   map[string]config.ProviderConfig
	live      map[string]Capability
	factories map[string]Factory
	timeout   time.Duration
	metrics   metrics.MetricsCollector
	logger    *zap.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopMetricsCollector{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Factories == nil {
		opts.Factories = DefaultFactories()
	}
	return &Registry{
		configs:   make(map[string]config.ProviderConfig),
		live:      make(map[string]Capability),
		factories: opts.Factories,
		timeout:   opts.Timeout,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Register stores cfg. Registering a provider again replaces its config and
// drops any capability built from the old one.
func (r *Registry) Register(cfg config.ProviderConfig) error {
	if !config.IsKnownProvider(cfg.Provider) {
		return appErrors.Validation(fmt.Sprintf("unknown provider '%s'", cfg.Provider))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Provider] = cfg
	delete(r.live, cfg.Provider)
	return nil
}

// Resolve returns the live capability for name, constructing it on first use.
// Construction failures are returned to the caller and not remembered.
func (r *Registry) Resolve(name string) (Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[name]
	if !ok || !cfg.Enabled {
		return nil, appErrors.ProviderNotConfigured(name)
	}
	if c, ok := r.live[name]; ok {
		return c, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, appErrors.ProviderNotConfigured(name)
	}
	c, err := factory(cfg)
	if err != nil {
		r.logger.Error("provider initialization failed", zap.String("provider", name), zap.Error(err))
		return nil, appErrors.WrapAs(err, appErrors.CodeSDKNotAvailable,
			fmt.Sprintf("%s client could not be initialized", name))
	}

	wrapped := newInstrumented(c, r.timeout, r.metrics, r.logger)
	r.live[name] = wrapped
	r.logger.Info("provider initialized", zap.String("provider", name), zap.String("shape", string(c.Shape())))
	return wrapped, nil
}

// IsAvailable reports whether name is registered and enabled.
func (r *Registry) IsAvailable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	return ok && cfg.Enabled
}

// Config returns the registered configuration for name.
func (r *Registry) Config(name string) (config.ProviderConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// ListAvailable returns the enabled providers ordered by name.
func (r *Registry) ListAvailable() []config.ProviderConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]config.ProviderConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
