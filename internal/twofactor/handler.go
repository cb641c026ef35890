package twofactor

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/validation"
)

// Handler exposes the login and two-factor endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler builds a two-factor HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type verifyRequest struct {
	TempToken string `json:"tempToken" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

type setupRequest struct {
	Method identity.Method `json:"method" validate:"required,oneof=2FA_EMAIL 2FA_AUTHENTICATOR"`
}

type verifySetupRequest struct {
	Method identity.Method `json:"method" validate:"required,oneof=2FA_EMAIL 2FA_AUTHENTICATOR"`
	Code   string          `json:"code" validate:"required,len=6,numeric"`
}

// Login answers 200 with a session, or 202 with a challenge when a second
// factor is required.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	outcome, err := h.manager.Initiate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	if outcome.Challenge != nil {
		return c.Status(http.StatusAccepted).JSON(fiber.Map{
			"requires2FA": true,
			"tempToken":   outcome.Challenge.TempToken,
			"method":      outcome.Challenge.Method,
			"expires_at":  outcome.Challenge.ExpiresAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"token":      outcome.Session.Token,
		"expires_at": outcome.Session.ExpiresAt,
		"user":       identity.Present(*outcome.Account),
	})
}

// Verify exchanges a temporary token and code for a session.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	session, err := h.manager.Verify(c.UserContext(), req.TempToken, req.Code)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"token": session.Token, "expires_at": session.ExpiresAt})
}

// Setup starts an enrollment for the session's account.
func (h *Handler) Setup(c *fiber.Ctx) error {
	account, ok := c.Locals("account").(identity.Account)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing session")
	}
	var req setupRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	prov, err := h.manager.Enroll(c.UserContext(), account, req.Method)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(prov)
}

// VerifySetup confirms an enrollment.
func (h *Handler) VerifySetup(c *fiber.Ctx) error {
	account, ok := c.Locals("account").(identity.Account)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing session")
	}
	var req verifySetupRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.manager.ConfirmEnrollment(c.UserContext(), account, req.Method, req.Code); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "enabled", "method": req.Method})
}

func parse(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	return validation.Struct(dst)
}
