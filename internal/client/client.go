package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/logging"
	"github.com/payease/payease/internal/payments"
	"github.com/payease/payease/internal/twofactor"
)

// ErrStillVerifying is returned by AwaitPayment when the payment is not
// terminal after the last poll.
var ErrStillVerifying = errors.New("payment still verifying")

const defaultMaxPolls = 8

// Client drives a Backend on behalf of one user.
type Client struct {
	backend  Backend
	tokens   TokenStore
	logger   *slog.Logger
	backoff  func() backoff.BackOff
	maxPolls uint
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.Component(logger, "client") }
}

// WithPollBackoff replaces the backoff policy used by AwaitPayment.
func WithPollBackoff(newBackoff func() backoff.BackOff) Option {
	return func(c *Client) { c.backoff = newBackoff }
}

// WithMaxPolls bounds the number of Verify calls AwaitPayment makes.
func WithMaxPolls(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPolls = n
		}
	}
}

// New builds a client. tokens defaults to an in-memory store.
func New(backend Backend, tokens TokenStore, opts ...Option) *Client {
	if tokens == nil {
		tokens = NewMemoryTokens()
	}
	c := &Client{
		backend:  backend,
		tokens:   tokens,
		logger:   logging.Component(nil, "client"),
		backoff:  newPollBackoff,
		maxPolls: defaultMaxPolls,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newPollBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.Multiplier = 2
	return bo
}

// SignedIn reports whether a session token is stored.
func (c *Client) SignedIn() bool {
	_, err := c.tokens.Load()
	return err == nil
}

// Restore resumes a stored session by fetching its profile. A rejected token
// is forgotten.
func (c *Client) Restore(ctx context.Context) (identity.Profile, error) {
	return c.Profile(ctx)
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, reg identity.Registration) (identity.Profile, error) {
	return c.backend.Register(ctx, reg)
}

// Login runs the first factor. When the result carries a Challenge the caller
// must finish with VerifyTwoFactor; otherwise the session is stored.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	res, err := c.backend.Login(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	if res.Challenge != nil {
		return res, nil
	}
	if err := c.tokens.Save(res.Token); err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

// VerifyTwoFactor completes a challenged login and stores the session.
func (c *Client) VerifyTwoFactor(ctx context.Context, tempToken, code string) (LoginResult, error) {
	res, err := c.backend.VerifyTwoFactor(ctx, tempToken, code)
	if err != nil {
		return LoginResult{}, err
	}
	if err := c.tokens.Save(res.Token); err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

// Enroll starts two-factor enrollment for the signed-in account.
func (c *Client) Enroll(ctx context.Context, method identity.Method) (twofactor.Provisioning, error) {
	token, err := c.token()
	if err != nil {
		return twofactor.Provisioning{}, err
	}
	prov, err := c.backend.Enroll(ctx, token, method)
	return prov, c.observe(err)
}

// ConfirmEnrollment closes an enrollment with the code the user received.
func (c *Client) ConfirmEnrollment(ctx context.Context, method identity.Method, code string) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	return c.observe(c.backend.ConfirmEnrollment(ctx, token, method, code))
}

// Profile returns the signed-in account.
func (c *Client) Profile(ctx context.Context) (identity.Profile, error) {
	token, err := c.token()
	if err != nil {
		return identity.Profile{}, err
	}
	p, err := c.backend.Profile(ctx, token)
	return p, c.observe(err)
}

// SubmitPayment submits a payment and returns its reference.
func (c *Client) SubmitPayment(ctx context.Context, d payments.Details) (string, error) {
	token, err := c.token()
	if err != nil {
		return "", err
	}
	ref, err := c.backend.SubmitPayment(ctx, token, d)
	return ref, c.observe(err)
}

// VerifyPayment asks once for the outcome of reference.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (payments.Outcome, error) {
	token, err := c.token()
	if err != nil {
		return payments.Outcome{}, err
	}
	out, err := c.backend.VerifyPayment(ctx, token, reference)
	return out, c.observe(err)
}

// AwaitPayment polls VerifyPayment until the payment is terminal. Only
// unavailable collaborators and non-terminal outcomes are retried; any other
// error ends the wait immediately.
func (c *Client) AwaitPayment(ctx context.Context, reference string) (payments.Outcome, error) {
	op := func() (payments.Outcome, error) {
		out, err := c.VerifyPayment(ctx, reference)
		switch {
		case err == nil && out.Status.Terminal():
			return out, nil
		case err == nil:
			return out, ErrStillVerifying
		case apperror.Retryable(err):
			c.logger.Debug("payment verification unavailable, retrying", slog.String("reference", reference), slog.Any("error", err))
			return out, err
		default:
			return out, backoff.Permanent(err)
		}
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(c.backoff()), backoff.WithMaxTries(c.maxPolls))
}

// Logout ends the session. The stored token is dropped even when the backend
// cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	token, err := c.tokens.Load()
	if errors.Is(err, ErrNoToken) {
		return nil
	}
	if err != nil {
		return err
	}
	berr := c.backend.Logout(ctx, token)
	if err := c.tokens.Clear(); err != nil {
		return err
	}
	if berr != nil && !errors.Is(berr, apperror.ErrInvalidSession) {
		return berr
	}
	return nil
}

func (c *Client) token() (string, error) {
	token, err := c.tokens.Load()
	if errors.Is(err, ErrNoToken) {
		return "", apperror.ErrInvalidSession
	}
	return token, err
}

func (c *Client) observe(err error) error {
	if errors.Is(err, apperror.ErrInvalidSession) {
		if cerr := c.tokens.Clear(); cerr != nil {
			c.logger.Warn("clearing rejected session", slog.Any("error", cerr))
		}
	}
	return err
}
