package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/payments"
	"github.com/payease/payease/internal/twofactor"
	"github.com/payease/payease/internal/validation"
)

const apiPrefix = "/api/v1"

// APIError is a non-2xx answer of the API. It unwraps to the matching
// apperror sentinel so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string

	kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.kind == apperror.ErrValidation && len(e.Fields) > 0 {
		return &validation.Error{Fields: e.Fields}
	}
	return e.kind
}

// HTTP talks to a running API with fiber's client.
type HTTP struct {
	base    string
	timeout time.Duration
}

var _ Backend = (*HTTP)(nil)

// NewHTTP builds a backend for the API rooted at baseURL.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{base: strings.TrimRight(baseURL, "/") + apiPrefix, timeout: timeout}
}

type sessionBody struct {
	Token       string            `json:"token"`
	ExpiresAt   time.Time         `json:"expires_at"`
	User        *identity.Profile `json:"user"`
	Requires2FA bool              `json:"requires2FA"`
	TempToken   string            `json:"tempToken"`
	Method      identity.Method   `json:"method"`
}

func (b sessionBody) result() LoginResult {
	if b.Requires2FA {
		return LoginResult{Challenge: &twofactor.Challenge{TempToken: b.TempToken, Method: b.Method, ExpiresAt: b.ExpiresAt}}
	}
	return LoginResult{Token: b.Token, ExpiresAt: b.ExpiresAt, User: b.User}
}

type userBody struct {
	User identity.Profile `json:"user"`
}

func (h *HTTP) Register(ctx context.Context, reg identity.Registration) (identity.Profile, error) {
	var out userBody
	err := h.do(ctx, request{method: fiber.MethodPost, path: "/identity/register", in: reg, out: &out})
	return out.User, err
}

func (h *HTTP) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out sessionBody
	if err := h.do(ctx, request{method: fiber.MethodPost, path: "/auth/login", in: fiber.Map{"email": email, "password": password}, out: &out}); err != nil {
		return LoginResult{}, err
	}
	return out.result(), nil
}

func (h *HTTP) VerifyTwoFactor(ctx context.Context, tempToken, code string) (LoginResult, error) {
	var out sessionBody
	if err := h.do(ctx, request{method: fiber.MethodPost, path: "/auth/2fa/verify", in: fiber.Map{"tempToken": tempToken, "code": code}, out: &out}); err != nil {
		return LoginResult{}, err
	}
	return out.result(), nil
}

func (h *HTTP) Enroll(ctx context.Context, token string, method identity.Method) (twofactor.Provisioning, error) {
	var out twofactor.Provisioning
	err := h.do(ctx, request{method: fiber.MethodPost, path: "/auth/2fa/setup", token: token, in: fiber.Map{"method": method}, out: &out})
	return out, err
}

func (h *HTTP) ConfirmEnrollment(ctx context.Context, token string, method identity.Method, code string) error {
	return h.do(ctx, request{method: fiber.MethodPost, path: "/auth/2fa/verify-setup", token: token, in: fiber.Map{"method": method, "code": code}})
}

func (h *HTTP) Profile(ctx context.Context, token string) (identity.Profile, error) {
	var out userBody
	err := h.do(ctx, request{method: fiber.MethodGet, path: "/user", token: token, out: &out})
	return out.User, err
}

// SubmitPayment assigns a reference when d has none and sends it as the
// Idempotency-Key, so a resubmission after a lost response is not charged
// twice.
func (h *HTTP) SubmitPayment(ctx context.Context, token string, d payments.Details) (string, error) {
	if d.Reference == "" {
		d.Reference = "PAY-" + uuid.NewString()
	}
	var out struct {
		Reference string `json:"reference"`
	}
	err := h.do(ctx, request{method: fiber.MethodPost, path: "/payments/process", token: token, idempotencyKey: d.Reference, in: d, out: &out})
	return out.Reference, err
}

func (h *HTTP) VerifyPayment(ctx context.Context, token, reference string) (payments.Outcome, error) {
	var out payments.Outcome
	err := h.do(ctx, request{method: fiber.MethodPost, path: "/payments/verify", token: token, in: fiber.Map{"reference": reference}, out: &out})
	return out, err
}

func (h *HTTP) Logout(ctx context.Context, token string) error {
	return h.do(ctx, request{method: fiber.MethodPost, path: "/auth/logout", token: token})
}

type request struct {
	method         string
	path           string
	token          string
	idempotencyKey string
	in             any
	out            any
}

func (h *HTTP) do(ctx context.Context, r request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	var a *fiber.Agent
	if r.method == fiber.MethodGet {
		a = fiber.Get(h.base + r.path)
	} else {
		a = fiber.Post(h.base + r.path)
	}
	a.Timeout(timeout)
	if r.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+r.token)
	}
	if r.idempotencyKey != "" {
		a.Set("Idempotency-Key", r.idempotencyKey)
	}
	if r.in != nil {
		a.JSON(r.in)
	}

	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", apperror.ErrVerificationUnavailable, errors.Join(errs...))
	}
	if status >= http.StatusBadRequest {
		return decodeError(status, body)
	}
	if r.out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, r.out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.path, err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var payload struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	}
	_ = json.Unmarshal(body, &payload)

	e := &APIError{Status: status, Code: payload.Code, Message: payload.Message, Fields: payload.Fields}
	e.kind = apperror.FromCode(payload.Code)
	if e.kind == nil {
		switch {
		case status == http.StatusUnauthorized:
			e.kind = apperror.ErrInvalidSession
		case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
			e.kind = apperror.ErrVerificationUnavailable
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
