// Package client is the caller-side facade of the authentication and payment
// flows. It drives a Backend, passes the session token explicitly on every
// protected call and keeps the token in a TokenStore between calls.
package client

import (
	"context"
	"time"

	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/payments"
	"github.com/payease/payease/internal/twofactor"
)

// LoginResult is either a session (Token set) or a pending challenge.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *identity.Profile
	Challenge *twofactor.Challenge
}

// Backend performs the upward operations. Protected operations take the
// session token as an argument.
type Backend interface {
	Register(ctx context.Context, reg identity.Registration) (identity.Profile, error)
	Login(ctx context.Context, email, password string) (LoginResult, error)
	VerifyTwoFactor(ctx context.Context, tempToken, code string) (LoginResult, error)
	Enroll(ctx context.Context, token string, method identity.Method) (twofactor.Provisioning, error)
	ConfirmEnrollment(ctx context.Context, token string, method identity.Method, code string) error
	Profile(ctx context.Context, token string) (identity.Profile, error)
	SubmitPayment(ctx context.Context, token string, d payments.Details) (string, error)
	VerifyPayment(ctx context.Context, token, reference string) (payments.Outcome, error)
	Logout(ctx context.Context, token string) error
}
