package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/validation"
)

// ErrorHandler renders every error as {"code", "message"}. Domain errors are
// mapped through apperror so internals never reach the caller.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"code": statusCode(fe.Code), "message": fe.Message})
		}

		status := apperror.Status(err)
		body := fiber.Map{"code": apperror.Code(err), "message": apperror.Message(err)}

		var ve *validation.Error
		if errors.As(err, &ve) {
			body["fields"] = ve.Fields
		}
		if apperror.Retryable(err) {
			c.Set(fiber.HeaderRetryAfter, "1")
		}
		if status >= http.StatusInternalServerError && logger != nil {
			requestID, _ := c.Locals(requestIDHeader).(string)
			logger.Error("request failed",
				slog.String("path", c.Path()),
				slog.String("request_id", requestID),
				slog.Any("error", err),
			)
		}
		return c.Status(status).JSON(body)
	}
}

func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
