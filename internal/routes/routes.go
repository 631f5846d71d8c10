// Package routes defines the API routing configuration.
// It sets up all HTTP routes and their corresponding handlers,
// including middleware and authentication requirements.
package routes

import (
	"github.com/gofiber/fiber/v2"

	"paybroker/internal/handlers"
	"paybroker/internal/middleware"
	"paybroker/internal/models"
	"paybroker/internal/utils/response"
)

type Handlers struct {
	Auth         *middleware.AuthMiddleware
	Tokenization *handlers.TokenizationHandler
	Payment      *handlers.PaymentHandler
	Webhook      *handlers.WebhookHandler
	Utilities    *handlers.UtilitiesHandler
	Health       *handlers.HealthHandler
	// Metrics serves the Prometheus registry; optional.
	Metrics fiber.Handler
}

// SetupRoutes configures all application routes. Authentication is attached
// per route so that an unsupported method is answered with 405 before any
// credential check.
func SetupRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health.HealthCheck)
	if h.Metrics != nil {
		app.Get("/metrics", h.Metrics)
	}

	api := app.Group("/api")
	auth := h.Auth.Handler

	// Card registration
	api.Post("/tokenize/direct", auth, middleware.HasPermission(models.PermissionCardWrite), h.Tokenization.TokenizeDirect)
	methodNotAllowed(api, "/tokenize/direct")
	api.Post("/tokenize/session", auth, middleware.HasPermission(models.PermissionCardWrite), h.Tokenization.CreateSession)
	methodNotAllowed(api, "/tokenize/session")
	api.Get("/tokenize/session/:id", auth, h.Tokenization.GetSession)
	methodNotAllowed(api, "/tokenize/session/:id")

	// Provider return, called by the cardholder's browser
	api.Post("/tokenize/complete/:provider", h.Tokenization.CompleteSession)
	api.Get("/tokenize/complete/:provider", h.Tokenization.CompleteSession)
	methodNotAllowed(api, "/tokenize/complete/:provider")

	// Saved cards
	api.Get("/cards", auth, h.Tokenization.ListCards)
	methodNotAllowed(api, "/cards")
	api.Post("/cards/:id/default", auth, middleware.HasPermission(models.PermissionCardWrite), h.Tokenization.SetDefaultCard)
	methodNotAllowed(api, "/cards/:id/default")

	// Payments
	payments := api.Group("/payment")
	payments.Post("/charge", auth, middleware.HasPermission(models.PermissionPaymentWrite), h.Payment.Charge)
	methodNotAllowed(payments, "/charge")
	payments.Post("/refund", auth, middleware.HasPermission(models.PermissionPaymentWrite), h.Payment.Refund)
	methodNotAllowed(payments, "/refund")
	payments.Get("/:id/status", auth, middleware.HasPermission(models.PermissionPaymentRead), h.Payment.Status)
	methodNotAllowed(payments, "/:id/status")

	// Public utilities and provider notifications
	api.Get("/utilities/providers", h.Utilities.ListProviders)
	methodNotAllowed(api, "/utilities/providers")
	api.Post("/webhook/:provider", h.Webhook.Receive)
	methodNotAllowed(api, "/webhook/:provider")
}

// methodNotAllowed answers every method not registered above it on path.
func methodNotAllowed(router fiber.Router, path string) {
	router.All(path, response.MethodNotAllowed)
}
