package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints. idempotency may be nil.
func RegisterPaymentRoutes(r fiber.Router, svc *Services, session, idempotency fiber.Handler) {
	h := payments.NewHandler(svc.Payments)
	group := r.Group("/payments", session)
	if idempotency != nil {
		group.Post("/process", idempotency, h.Process)
	} else {
		group.Post("/process", h.Process)
	}
	group.Post("/verify", h.Verify)
	group.Get("/:reference", h.Get)
}
