package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/auth"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/logging"
	"github.com/payease/payease/internal/validation"
)

func decodeError(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestErrorHandlerRendersKinds(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Get("/code", func(*fiber.Ctx) error { return apperror.ErrInvalidCode })
	app.Get("/unavailable", func(*fiber.Ctx) error { return apperror.ErrVerificationUnavailable })
	app.Get("/fields", func(*fiber.Ctx) error {
		return &validation.Error{Fields: map[string]string{"email": "must be a valid email"}}
	})
	app.Get("/fiber", func(*fiber.Ctx) error { return fiber.NewError(http.StatusTooManyRequests, "slow down") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/code", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "invalid_code", body["code"])
	assert.Equal(t, apperror.Message(apperror.ErrInvalidCode), body["message"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/unavailable", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(fiber.HeaderRetryAfter))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/fields", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body = decodeError(t, resp)
	assert.Equal(t, map[string]any{"email": "must be a valid email"}, body["fields"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/fiber", nil))
	require.NoError(t, err)
	body = decodeError(t, resp)
	assert.Equal(t, "too_many_requests", body["code"])
	assert.Equal(t, "slow down", body["message"])
}

func TestSessionAuth(t *testing.T) {
	ids := identity.NewService(identity.NewMemoryRepository(), identity.WithHashCost(bcrypt.MinCost))
	account, err := ids.Register(context.Background(), identity.Registration{
		Email: "ada@example.com", Password: "analytical", FirstName: "Ada", LastName: "Lovelace",
	})
	require.NoError(t, err)
	issuer := auth.NewIssuer(auth.IssuerConfig{Secret: "0123456789abcdef0123456789abcdef", TTL: time.Hour},
		auth.NewMemorySessionStore(), ids, logging.Discard())
	session, err := issuer.IssueSession(context.Background(), account.ID)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Get("/me", SessionAuth(issuer), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("account_id").(string))
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+session.Token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, header := range []string{"", "Bearer ", "Bearer garbage", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, header)
		require.Equal(t, "invalid_session", decodeError(t, resp)["code"])
	}
}

func loginApp(cache *redis.Client) *fiber.App {
	app := fiber.New()
	app.Post("/login", LoginRateLimit(cache, 2), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})
	return app
}

func attemptLogin(t *testing.T, app *fiber.App, email string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"`+email+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	for name, app := range map[string]*fiber.App{"redis": loginApp(client), "local": loginApp(nil)} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, http.StatusOK, attemptLogin(t, app, "ada@example.com"))
			require.Equal(t, http.StatusOK, attemptLogin(t, app, "ADA@example.com"))
			require.Equal(t, http.StatusTooManyRequests, attemptLogin(t, app, "ada@example.com"))
			require.Equal(t, http.StatusOK, attemptLogin(t, app, "grace@example.com"))
		})
	}
}

func TestRequestIDEchoesHeader(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID(), Audit(logging.Discard()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "req-42", resp.Header.Get(requestIDHeader))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))
}
