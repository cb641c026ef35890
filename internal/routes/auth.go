package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/auth"
	"github.com/payease/payease/internal/twofactor"
)

// RegisterAuthRoutes wires login, two-factor and logout endpoints.
func RegisterAuthRoutes(r fiber.Router, svc *Services, session, rateLimiter fiber.Handler) {
	logins := twofactor.NewHandler(svc.Logins)
	sessions := auth.NewHandler(svc.Issuer)

	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, logins.Login)
	} else {
		group.Post("/login", logins.Login)
	}
	group.Post("/2fa/verify", logins.Verify)
	group.Post("/2fa/setup", session, logins.Setup)
	group.Post("/2fa/verify-setup", session, logins.VerifySetup)
	group.Post("/logout", sessions.Logout)
}
