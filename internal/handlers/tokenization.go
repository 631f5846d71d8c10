package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	appErrors "paybroker/internal/errors"
	"paybroker/internal/logger"
	"paybroker/internal/services/tokenization"
	"paybroker/internal/utils/response"
)

type TokenizationHandler struct {
	service tokenization.Service
	logger  *zap.Logger
}

func NewTokenizationHandler(service tokenization.Service, log *zap.Logger) *TokenizationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenizationHandler{
		service: service,
		logger:  log.Named("tokenization_handler"),
	}
}

// TokenizeDirect handles POST /api/tokenize/direct
func (h *TokenizationHandler) TokenizeDirect(c *fiber.Ctx) error {
	caller, err := identity(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	var req tokenization.DirectRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, h.logger, err)
	}

	card, err := h.service.TokenizeDirect(c.UserContext(), caller, req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, card)
}

// CreateSession handles POST /api/tokenize/session
func (h *TokenizationHandler) CreateSession(c *fiber.Ctx) error {
	caller, err := identity(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	var req tokenization.SessionRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, h.logger, err)
	}

	session, err := h.service.CreateSession(c.UserContext(), caller, req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, session)
}

// GetSession handles GET /api/tokenize/session/:id
func (h *TokenizationHandler) GetSession(c *fiber.Ctx) error {
	caller, err := identity(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	session, err := h.service.GetSession(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Success(c, session)
}

// CompleteSession handles the provider return at /api/tokenize/complete/:provider.
// It is unauthenticated: the provider's own token identifies the session.
func (h *TokenizationHandler) CompleteSession(c *fiber.Ctx) error {
	provider := c.Params("provider")
	params, err := callbackParams(c)
	if err != nil {
		return h.completionError(c, err)
	}
	h.logger.Debug("tokenization callback received",
		zap.String("provider", provider),
		logger.SanitizedMap("params", toFields(params)),
	)

	sessionID, err := h.service.CallbackSessionID(provider, params)
	if err != nil {
		return h.completionError(c, err)
	}
	result, err := h.service.CompleteSession(c.UserContext(), provider, sessionID, params)
	if err != nil {
		return h.completionError(c, err)
	}

	h.logger.Info("tokenization session completed",
		zap.String("provider", provider),
		zap.String("session_id", result.SessionID),
		zap.Bool("existing", result.Existing),
	)
	if wantsHTML(c) {
		return renderCompletion(c, fiber.StatusOK, completionPage{
			Title:       "Tarjeta registrada",
			Message:     "Your card was registered successfully.",
			RedirectURL: derefString(result.FinishRedirectURL),
		})
	}
	return response.Success(c, result)
}

func (h *TokenizationHandler) completionError(c *fiber.Ctx, err error) error {
	if !wantsHTML(c) {
		return writeError(c, h.logger, err)
	}
	gw := appErrors.From(err)
	if gw.Code == appErrors.CodeInternal {
		h.logger.Error("tokenization completion failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return renderCompletion(c, gw.Status(), completionPage{
		Title:   "No se pudo registrar la tarjeta",
		Message: gw.Message,
	})
}

// ListCards handles GET /api/cards
func (h *TokenizationHandler) ListCards(c *fiber.Ctx) error {
	caller, err := identity(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	cards, err := h.service.ListCards(c.UserContext(), caller)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Success(c, fiber.Map{
		"cards": cards,
		"total": len(cards),
	})
}

// SetDefaultCard handles POST /api/cards/:id/default
func (h *TokenizationHandler) SetDefaultCard(c *fiber.Ctx) error {
	caller, err := identity(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	card, err := h.service.SetDefaultCard(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Success(c, card)
}

// callbackParams merges query parameters with form or JSON body fields.
// Body fields win over query parameters of the same name.
func callbackParams(c *fiber.Ctx) (map[string]string, error) {
	params := c.Queries()
	if len(c.Body()) == 0 {
		return params, nil
	}

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		var body map[string]interface{}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return nil, appErrors.Validation("Invalid request format")
		}
		for k, v := range body {
			if v != nil {
				params[k] = fmt.Sprint(v)
			}
		}
		return params, nil
	}

	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		params[string(k)] = string(v)
	})
	return params, nil
}

func toFields(params map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
