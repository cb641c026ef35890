package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/validation"
)

// Handler exposes payment endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler builds a payment HTTP handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

type verifyRequest struct {
	Reference string `json:"reference" validate:"required"`
}

// Process submits a payment for the session's account.
func (h *Handler) Process(c *fiber.Ctx) error {
	accountID, _ := c.Locals("account_id").(string)
	var req Details
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	reference, err := h.coordinator.Submit(c.UserContext(), accountID, req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"reference": reference, "status": StatusSubmitted})
}

// Verify reconciles a reference and returns its outcome.
func (h *Handler) Verify(c *fiber.Ctx) error {
	accountID, _ := c.Locals("account_id").(string)
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	if err := validation.Struct(req); err != nil {
		return err
	}
	outcome, err := h.coordinator.Verify(c.UserContext(), accountID, req.Reference)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(outcome)
}

// Get returns the stored state of a payment.
func (h *Handler) Get(c *fiber.Ctx) error {
	accountID, _ := c.Locals("account_id").(string)
	p, err := h.coordinator.Get(c.UserContext(), accountID, c.Params("reference"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(p)
}
