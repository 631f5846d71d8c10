package models

import "github.com/golang-jwt/jwt/v5"

// Application permissions
const (
	PermissionCardWrite    = "card:write"
	PermissionPaymentWrite = "payment:write"
	PermissionPaymentRead  = "payment:read"
)

type UserClaims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	// TrustMetadata is forwarded verbatim onto sessions and payments.
	TrustMetadata map[string]interface{} `json:"trust_metadata,omitempty"`
}

// Identity returns the caller described by the claims.
func (c *UserClaims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, TrustMetadata: c.TrustMetadata}
}

// HasPermission checks if the claims include a specific permission
func (c *UserClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case "admin", "user":
		return []string{PermissionCardWrite, PermissionPaymentWrite, PermissionPaymentRead}
	case "readonly":
		return []string{PermissionPaymentRead}
	default:
		return []string{}
	}
}

// Identity is the authenticated caller as seen by the orchestrators.
type Identity struct {
	UserID        string                 `json:"user_id"`
	Email         string                 `json:"email,omitempty"`
	TrustMetadata map[string]interface{} `json:"trust_metadata,omitempty"`
}

// Owns reports whether userID refers to the caller. An empty userID means
// the caller did not name one.
func (i Identity) Owns(userID string) bool {
	return userID == "" || userID == i.UserID
}
