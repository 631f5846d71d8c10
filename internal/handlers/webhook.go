package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"paybroker/internal/providers"
	"paybroker/internal/services/webhook"
	"paybroker/internal/utils/response"
)

// Signature headers, in lookup order.
var signatureHeaders = []string{"Stripe-Signature", "X-Signature"}

type WebhookHandler struct {
	processor *webhook.Processor
	logger    *zap.Logger
}

func NewWebhookHandler(processor *webhook.Processor, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{
		processor: processor,
		logger:    log.Named("webhook_handler"),
	}
}

// Receive handles POST /api/webhook/:provider
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	req := providers.WebhookRequest{
		// fiber reuses the request buffer after the handler returns
		Payload:  append([]byte(nil), c.Body()...),
		Headers:  make(map[string]string),
		Query:    c.Queries(),
		RemoteIP: c.IP(),
	}
	for _, name := range signatureHeaders {
		if sig := c.Get(name); sig != "" {
			req.Signature = sig
			break
		}
	}
	c.Request().Header.VisitAll(func(k, v []byte) {
		req.Headers[strings.ToLower(string(k))] = string(v)
	})

	ack, err := h.processor.ProcessWebhook(c.UserContext(), c.Params("provider"), req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Success(c, ack)
}
