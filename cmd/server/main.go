// Package main is the entry point for the payment broker.
// It loads configuration, wires the stores, providers and services,
// and serves the HTTP API until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"paybroker/internal/config"
	"paybroker/internal/handlers"
	"paybroker/internal/logger"
	"paybroker/internal/metrics"
	"paybroker/internal/middleware"
	"paybroker/internal/providers"
	"paybroker/internal/repositories"
	"paybroker/internal/repositories/cache"
	"paybroker/internal/routes"
	"paybroker/internal/services/payment"
	"paybroker/internal/services/tokenization"
	"paybroker/internal/services/webhook"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	log := logger.New(cfg.ServiceName, config.IsProduction())
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize databases (PostgreSQL + Redis)
	db, err := repositories.NewPostgres(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			log.Warn("failed to close database connection", zap.Error(err))
		}
	}()
	if err := repositories.Migrate(db); err != nil {
		return err
	}
	log.Info("connected to database", zap.String("host", cfg.DB.Host), zap.String("name", cfg.DB.Name))

	redisClient := cache.NewRedisClient(cfg.Redis)
	cacheService := cache.NewCacheService(redisClient, payment.DefaultStatusCacheTTL)
	defer func() {
		if err := cacheService.Close(); err != nil {
			log.Warn("failed to close redis connection", zap.Error(err))
		}
	}()
	if err := cacheService.HealthCheck(ctx); err != nil {
		return err
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheusCollector(registry)

	// Providers
	providerRegistry := providers.NewRegistry(providers.RegistryOptions{
		Timeout: cfg.ProviderTimeout,
		Metrics: collector,
		Logger:  log,
	})
	for _, pc := range cfg.Providers {
		if err := providerRegistry.Register(pc); err != nil {
			return err
		}
	}

	// Services
	tokenRepo := repositories.NewTokenizationRepository(db)
	tokenService := tokenization.NewService(tokenRepo, providerRegistry, tokenization.Config{
		CompletionLease: cfg.CompletionLease,
	}, log, collector)
	paymentService := payment.NewService(
		repositories.NewPaymentRepository(db),
		tokenRepo,
		providerRegistry,
		cacheService,
		payment.Config{},
		log,
		collector,
	)
	webhookProcessor := webhook.NewProcessor(webhook.ProcessorConfig{
		Registry: providerRegistry,
		Events:   repositories.NewWebhookEventRepository(db),
		Payments: paymentService,
		Dedupe:   cache.NewRedisStore(redisClient, "webhook", cfg.WebhookDedupeTTL),
		Logger:   log,
		Metrics:  collector,
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.ServiceName,
		ErrorHandler: handlers.ErrorHandler(log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,HEAD,OPTIONS",
		AllowCredentials: !strings.Contains(cfg.CORSOrigins, "*"),
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use("/api/tokenize", limiter.New(limiter.Config{
		Max:        30,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error": fiber.Map{
					"code":    "RATE_LIMITED",
					"message": "Too many requests. Please try again later.",
				},
			})
		},
	}))

	routes.SetupRoutes(app, routes.Handlers{
		Auth:         middleware.NewAuthMiddleware(cfg.JWTSecret, log),
		Tokenization: handlers.NewTokenizationHandler(tokenService, log),
		Payment:      handlers.NewPaymentHandler(paymentService, log),
		Webhook:      handlers.NewWebhookHandler(webhookProcessor, log),
		Utilities:    handlers.NewUtilitiesHandler(providerRegistry, cacheService, log),
		Health:       handlers.NewHealthHandler(db, cacheService, version),
		Metrics:      adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("port", cfg.Port), zap.Int("providers", len(cfg.Providers)))
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	return app.ShutdownWithTimeout(shutdownTimeout)
}
