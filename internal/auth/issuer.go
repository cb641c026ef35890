// Package auth issues and validates session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/logging"
)

const tokenTypeSession = "session"

// AccountLookup loads the account a session is bound to.
type AccountLookup interface {
	FindByID(ctx context.Context, id string) (identity.Account, error)
}

// Session is an issued bearer token. Callers treat Token as opaque.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// Issuer mints and validates session tokens.
type Issuer struct {
	secret   []byte
	ttl      time.Duration
	store    SessionStore
	accounts AccountLookup
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// IssuerConfig holds the Issuer settings.
type IssuerConfig struct {
	Secret  string
	TTL     time.Duration
	Timeout time.Duration
}

// NewIssuer builds a session issuer.
func NewIssuer(cfg IssuerConfig, store SessionStore, accounts AccountLookup, logger *slog.Logger) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Issuer{
		secret:   []byte(cfg.Secret),
		ttl:      cfg.TTL,
		store:    store,
		accounts: accounts,
		timeout:  cfg.Timeout,
		logger:   logging.Component(logger, "auth"),
		now:      time.Now,
	}
}

// IssueSession mints a session token for accountID and registers it.
func (i *Issuer) IssueSession(ctx context.Context, accountID string) (Session, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	id := uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type: tokenTypeSession,
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	if err := i.store.Put(ctx, id, accountID, i.ttl); err != nil {
		return Session{}, fmt.Errorf("%w: session store: %v", apperror.ErrVerificationUnavailable, err)
	}

	i.logger.Info("session issued", slog.String("account_id", accountID), slog.String("session_id", id))
	return Session{Token: signed, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a session token to its account. Unknown, revoked,
// expired and malformed tokens all yield apperror.ErrInvalidSession.
func (i *Issuer) Authenticate(ctx context.Context, token string) (identity.Account, error) {
	c, err := i.parse(token)
	if err != nil {
		return identity.Account{}, apperror.ErrInvalidSession
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	accountID, err := i.store.Get(ctx, c.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return identity.Account{}, apperror.ErrInvalidSession
		}
		return identity.Account{}, fmt.Errorf("%w: session store: %v", apperror.ErrVerificationUnavailable, err)
	}
	if accountID != c.Subject {
		return identity.Account{}, apperror.ErrInvalidSession
	}

	account, err := i.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Account{}, apperror.ErrInvalidSession
		}
		return identity.Account{}, fmt.Errorf("%w: credential store: %v", apperror.ErrVerificationUnavailable, err)
	}
	return account, nil
}

// Revoke ends the session carried by token. Tokens that are already invalid
// are ignored.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	c, err := i.parse(token)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	if err := i.store.Delete(ctx, c.ID); err != nil {
		return fmt.Errorf("%w: session store: %v", apperror.ErrVerificationUnavailable, err)
	}
	i.logger.Info("session revoked", slog.String("account_id", c.Subject), slog.String("session_id", c.ID))
	return nil
}

func (i *Issuer) parse(token string) (*claims, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || c.Type != tokenTypeSession || c.ID == "" || c.Subject == "" {
		return nil, errors.New("not a session token")
	}
	return c, nil
}
