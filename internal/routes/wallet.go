package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints. Top-ups are only mounted in
// development.
func RegisterWalletRoutes(r fiber.Router, svc *Services, session fiber.Handler, dev bool) {
	h := wallet.NewHandler(svc.Wallets)
	r.Get("/wallet", session, h.Balance)
	if dev {
		r.Post("/wallet/fund", session, h.Fund)
	}
}
