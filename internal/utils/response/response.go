// Package response writes the JSON envelope shared by every endpoint:
// {success: true, data} or {success: false, error: {code, message, details}}.
package response

import (
	"github.com/gofiber/fiber/v2"

	appErrors "paybroker/internal/errors"
)

type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(Envelope{Success: true, Data: data})
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Envelope{Success: true, Data: data})
}

// Error writes err with its own status. The wrapped cause is never serialized.
func Error(c *fiber.Ctx, err *appErrors.GatewayError) error {
	return c.Status(err.Status()).JSON(Envelope{
		Error: &ErrorBody{
			Code:    err.Code,
			Message: err.Message,
			Details: err.Details,
		},
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, appErrors.Validation(message))
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, appErrors.Unauthenticated(message))
}

func MethodNotAllowed(c *fiber.Ctx) error {
	return Error(c, appErrors.MethodNotAllowed("Method "+c.Method()+" is not allowed on "+c.Path()))
}
