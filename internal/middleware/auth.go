// Package middleware provides HTTP middleware components for the application.
// It includes authentication and permission checks for the fiber routes.
package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	appErrors "paybroker/internal/errors"
	"paybroker/internal/models"
	"paybroker/internal/utils/response"
)

const (
	claimsKey   = "claims"
	identityKey = "identity"
)

// AuthMiddleware validates HS256 bearer tokens and stores the caller's
// identity in the request locals.
type AuthMiddleware struct {
	secret []byte
	logger *zap.Logger
}

func NewAuthMiddleware(secret string, log *zap.Logger) *AuthMiddleware {
	if secret == "" {
		panic("jwt secret is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthMiddleware{
		secret: []byte(secret),
		logger: log.Named("auth"),
	}
}

// Handler checks for:
// - Presence of Authorization header with Bearer token
// - Valid JWT signature and expiry
// - A user id in the claims
func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return response.Unauthorized(c, "Missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return response.Unauthorized(c, "Invalid authorization format")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims := &models.UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return response.Unauthorized(c, "Token expired")
		}
		m.logger.Debug("token rejected", zap.String("path", c.Path()), zap.Error(err))
		return response.Unauthorized(c, "Invalid token")
	}
	if claims.UserID == "" {
		return response.Unauthorized(c, "Invalid claims")
	}

	c.Locals(claimsKey, claims)
	c.Locals(identityKey, claims.Identity())
	return c.Next()
}

// IdentityFrom returns the identity stored by Handler.
func IdentityFrom(c *fiber.Ctx) (models.Identity, bool) {
	identity, ok := c.Locals(identityKey).(models.Identity)
	return identity, ok
}

// HasPermission returns a middleware that checks for a specific permission.
func HasPermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(claimsKey).(*models.UserClaims)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		// Admins hold every permission
		if claims.Role == "admin" || claims.HasPermission(permission) {
			return c.Next()
		}
		return response.Error(c, appErrors.Forbidden("Insufficient permissions"))
	}
}
