package identity

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/logging"
)

// WalletOpener provisions the wallet of a freshly registered account.
type WalletOpener interface {
	Provision(ctx context.Context, ownerID string) (string, error)
}

// Handler exposes registration and profile endpoints.
type Handler struct {
	svc     *Service
	wallets WalletOpener
	logger  *slog.Logger
}

// NewHandler builds an identity HTTP handler. wallets may be nil.
func NewHandler(svc *Service, wallets WalletOpener, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, wallets: wallets, logger: logging.Component(logger, "identity")}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Register creates an account and provisions its wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	account, err := h.svc.Register(c.UserContext(), Registration(req))
	if err != nil {
		return err
	}

	var walletID string
	if h.wallets != nil {
		walletID, err = h.wallets.Provision(c.UserContext(), account.ID)
		if err != nil {
			// the wallet is opened on first use instead
			h.logger.Warn("wallet provisioning failed", slog.String("account_id", account.ID), slog.Any("error", err))
		}
	}

	h.logger.Info("account registered",
		slog.String("account_id", account.ID),
		slog.String("wallet_id", walletID),
	)
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"user":      Present(account),
		"wallet_id": walletID,
	})
}

// Me returns the profile of the account bound to the session.
func (h *Handler) Me(c *fiber.Ctx) error {
	account, ok := c.Locals("account").(Account)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing session")
	}
	fresh, err := h.svc.FindByID(c.UserContext(), account.ID)
	if err == nil {
		account = fresh
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"user": Present(account)})
}

// Profile is the public view of an account.
type Profile struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Role             Role   `json:"role"`
	Balance          int64  `json:"balance"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
	TwoFactorMethod  Method `json:"twoFactorMethod,omitempty"`
}

// Present strips secrets from an account.
func Present(a Account) Profile {
	return Profile{
		ID:               a.ID,
		Email:            a.Email,
		FirstName:        a.FirstName,
		LastName:         a.LastName,
		Role:             a.Role,
		Balance:          a.Balance,
		TwoFactorEnabled: a.TwoFactor.Enabled,
		TwoFactorMethod:  a.TwoFactor.Method,
	}
}
