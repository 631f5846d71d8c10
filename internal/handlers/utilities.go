package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"paybroker/internal/config"
	"paybroker/internal/utils/cache"
	"paybroker/internal/utils/response"
)

const providerListTTL = 5 * time.Minute

type ProviderLister interface {
	ListAvailable() []config.ProviderConfig
}

// ListCache is satisfied by *cache.CacheService from the repositories layer.
type ListCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type ProviderSummary struct {
	Provider   string `json:"provider"`
	Method     string `json:"method"`
	Enabled    bool   `json:"enabled"`
	IsTestMode bool   `json:"is_test_mode"`
}

type ProvidersResponse struct {
	Providers []ProviderSummary `json:"providers"`
	Total     int               `json:"total"`
	Timestamp time.Time         `json:"timestamp"`
}

type UtilitiesHandler struct {
	providers ProviderLister
	cache     ListCache
	logger    *zap.Logger
}

// NewUtilitiesHandler builds the handler; listCache may be nil.
func NewUtilitiesHandler(providers ProviderLister, listCache ListCache, log *zap.Logger) *UtilitiesHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &UtilitiesHandler{
		providers: providers,
		cache:     listCache,
		logger:    log.Named("utilities_handler"),
	}
}

// ListProviders handles GET /api/utilities/providers
func (h *UtilitiesHandler) ListProviders(c *fiber.Ctx) error {
	ctx := c.UserContext()
	key := cache.GenerateKey(cache.EntityProviders, cache.KeyList, "available")

	var summaries []ProviderSummary
	found := false
	if h.cache != nil {
		var err error
		if found, err = h.cache.Get(ctx, key, &summaries); err != nil {
			h.logger.Warn("provider list cache read failed", zap.Error(err))
		}
	}
	if !found {
		summaries = summarize(h.providers.ListAvailable())
		if h.cache != nil {
			if err := h.cache.SetWithTTL(ctx, key, summaries, providerListTTL); err != nil {
				h.logger.Warn("provider list cache write failed", zap.Error(err))
			}
		}
	}

	return response.Success(c, ProvidersResponse{
		Providers: summaries,
		Total:     len(summaries),
		Timestamp: time.Now().UTC(),
	})
}

func summarize(configs []config.ProviderConfig) []ProviderSummary {
	out := make([]ProviderSummary, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, ProviderSummary{
			Provider:   cfg.Provider,
			Method:     cfg.Method,
			Enabled:    cfg.Enabled,
			IsTestMode: cfg.TestMode,
		})
	}
	return out
}
