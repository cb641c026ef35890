package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/auth"
)

// SessionAuth rejects requests without a live session token and stores the
// resolved account under the "account" and "account_id" locals.
func SessionAuth(issuer *auth.Issuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := auth.BearerToken(c)
		if !ok {
			return apperror.ErrInvalidSession
		}
		account, err := issuer.Authenticate(c.UserContext(), token)
		if err != nil {
			return err
		}
		c.Locals("account", account)
		c.Locals("account_id", account.ID)
		return c.Next()
	}
}
