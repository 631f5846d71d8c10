package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybroker/internal/models"
	"paybroker/internal/utils"
)

const secret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New()
	auth := NewAuthMiddleware(secret, nil)
	app.Get("/me", auth.Handler, func(c *fiber.Ctx) error {
		id, ok := IdentityFrom(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(id)
	})
	app.Post("/cards", auth.Handler, HasPermission(models.PermissionCardWrite), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func request(t *testing.T, app *fiber.App, method, path, bearer string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHandlerStoresIdentity(t *testing.T) {
	app := newApp()
	tok, err := utils.GenerateToken(secret, models.UserClaims{
		UserID:        "alice",
		Email:         "alice@example.com",
		Role:          "user",
		TrustMetadata: map[string]interface{}{"kyc": "verified"},
	}, time.Hour)
	require.NoError(t, err)

	resp := request(t, app, http.MethodGet, "/me", "Bearer "+tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var id models.Identity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, "verified", id.TrustMetadata["kyc"])
}

func TestHandlerRejects(t *testing.T) {
	app := newApp()
	otherSecret, err := utils.GenerateToken("other", models.UserClaims{UserID: "alice"}, time.Hour)
	require.NoError(t, err)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, models.UserClaims{UserID: "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"wrong secret", "Bearer " + otherSecret},
		{"alg none", "Bearer " + unsigned},
		{"garbage", "Bearer abc.def.ghi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := request(t, app, http.MethodGet, "/me", tt.header)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestHasPermission(t *testing.T) {
	app := newApp()

	for role, want := range map[string]int{
		"user":     http.StatusNoContent,
		"admin":    http.StatusNoContent,
		"readonly": http.StatusForbidden,
	} {
		tok, err := utils.GenerateToken(secret, models.UserClaims{UserID: "alice", Role: role}, time.Hour)
		require.NoError(t, err)
		resp := request(t, app, http.MethodPost, "/cards", "Bearer "+tok)
		assert.Equal(t, want, resp.StatusCode, role)
	}
}
