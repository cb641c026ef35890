package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/payease/payease/internal/validation"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type fundRequest struct {
	Amount     int64  `json:"amount" validate:"gt=0"`
	ClientTxID string `json:"client_tx_id" validate:"omitempty,max=64"`
}

// Balance returns the session account's wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	ownerID, _ := c.Locals("account_id").(string)
	balance, err := h.service.Balance(c.UserContext(), ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": balance.WalletID,
		"balance":   balance.Amount,
		"currency":  balance.Currency,
		"timestamp": balance.AsOf,
	})
}

// Fund credits the authenticated account's wallet. Only mounted in development.
func (h *Handler) Fund(c *fiber.Ctx) error {
	ownerID, _ := c.Locals("account_id").(string)
	var req fundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	if err := validation.Struct(req); err != nil {
		return err
	}
	if req.ClientTxID == "" {
		req.ClientTxID = uuid.NewString()
	}
	balance, err := h.service.Fund(c.UserContext(), ownerID, req.ClientTxID, req.Amount)
	if errors.Is(err, ErrNotFound) {
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"balance": balance, "client_tx_id": req.ClientTxID})
}
