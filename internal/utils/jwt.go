package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"paybroker/internal/models"
)

const tokenIssuer = "paybroker"

// GenerateToken signs an access token for claims, valid for ttl.
func GenerateToken(secret string, claims models.UserClaims, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWT_SECRET not configured")
	}
	if claims.UserID == "" {
		return "", errors.New("user id is required")
	}

	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    tokenIssuer,
		Subject:   claims.UserID,
	}
	if claims.Permissions == nil {
		claims.Permissions = models.GetDefaultPermissions(claims.Role)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
