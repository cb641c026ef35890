package auth

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes session endpoints.
type Handler struct {
	issuer *Issuer
}

// NewHandler builds an auth HTTP handler.
func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// Logout revokes the bearer token of the request.
func (h *Handler) Logout(c *fiber.Ctx) error {
	token, ok := BearerToken(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
	}
	if err := h.issuer.Revoke(c.UserContext(), token); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, bool) {
	authz := c.Get(fiber.HeaderAuthorization)
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[7:])
	return token, token != ""
}
