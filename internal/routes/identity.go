package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/identity"
)

// RegisterIdentityRoutes wires registration and profile endpoints.
func RegisterIdentityRoutes(r fiber.Router, svc *Services, session fiber.Handler) {
	h := identity.NewHandler(svc.Accounts, svc.Wallets, svc.Logger)
	r.Post("/identity/register", h.Register)
	r.Get("/user", session, h.Me)
}
