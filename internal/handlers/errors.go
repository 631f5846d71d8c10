package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	appErrors "paybroker/internal/errors"
	"paybroker/internal/middleware"
	"paybroker/internal/models"
	"paybroker/internal/utils/response"
)

// writeError renders err in the response envelope. Anything that is not a
// gateway error is logged with its cause and reported as INTERNAL_ERROR.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	gw := appErrors.From(err)
	if gw.Status() >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("code", gw.Code),
			zap.Error(err),
		)
	}
	return response.Error(c, gw)
}

// ErrorHandler is the fiber fallback for errors returned by handlers and by
// the framework itself.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			switch fe.Code {
			case fiber.StatusMethodNotAllowed:
				return response.MethodNotAllowed(c)
			case fiber.StatusNotFound:
				return response.Error(c, appErrors.NotFound("Route not found"))
			}
			return response.Error(c, appErrors.New(codeForStatus(fe.Code), fe.Message, fe.Code))
		}
		return writeError(c, log, err)
	}
}

func codeForStatus(status int) string {
	switch {
	case status == fiber.StatusUnauthorized, status == fiber.StatusForbidden:
		return appErrors.CodeUnauthorized
	case status < fiber.StatusInternalServerError:
		return appErrors.CodeValidation
	default:
		return appErrors.CodeInternal
	}
}

func identity(c *fiber.Ctx) (models.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return models.Identity{}, appErrors.Unauthenticated("Unauthorized")
	}
	return id, nil
}

// parseBody decodes a JSON body into dest.
func parseBody(c *fiber.Ctx, dest interface{}) error {
	if len(c.Body()) == 0 {
		return appErrors.Validation("Request body is required")
	}
	if err := c.BodyParser(dest); err != nil {
		return appErrors.Validation("Invalid request format")
	}
	return nil
}

func wantsHTML(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMETextHTML)
}
