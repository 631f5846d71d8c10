package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"paybroker/internal/services/payment"
	"paybroker/internal/utils/response"
)

type PaymentHandler struct {
	service payment.Service
	logger  *zap.Logger
}

func NewPaymentHandler(service payment.Service, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{
		service: service,
		logger:  log.Named("payment_handler"),
	}
}

// Charge handles POST /api/payment/charge
func (h *PaymentHandler) Charge(c *fiber.Ctx) error {
	caller, err := identity(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	var req payment.ChargeRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, h.logger, err)
	}
	// The payer defaults to the caller.
	if req.UserID == "" {
		req.UserID = caller.UserID
	}

	result, err := h.service.ProcessPayment(c.UserContext(), caller, req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Success(c, result)
}

// Refund handles POST /api/payment/refund
func (h *PaymentHandler) Refund(c *fiber.Ctx) error {
	caller, err := identity(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	var req payment.RefundRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, h.logger, err)
	}

	result, err := h.service.RefundPayment(c.UserContext(), caller, req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Success(c, result)
}

// Status handles GET /api/payment/:id/status
func (h *PaymentHandler) Status(c *fiber.Ctx) error {
	caller, err := identity(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	status, err := h.service.GetPaymentStatus(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Success(c, status)
}
