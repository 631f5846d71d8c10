package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker is satisfied by *cache.CacheService.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	db      *gorm.DB
	cache   HealthChecker
	version string
}

// NewHealthHandler builds the handler; cache may be nil.
func NewHealthHandler(db *gorm.DB, cache HealthChecker, version string) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, version: version}
}

// HealthCheck handles GET /health. It reports 503 when a backing store is
// unreachable.
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	services := fiber.Map{}
	healthy := true

	services["database"] = "connected"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		services["database"] = "unavailable"
		healthy = false
	}

	if h.cache != nil {
		services["redis"] = "connected"
		if err := h.cache.HealthCheck(ctx); err != nil {
			services["redis"] = "unavailable"
			healthy = false
		}
	}

	status := "ok"
	code := fiber.StatusOK
	if !healthy {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"version":  h.version,
		"services": services,
	})
}
