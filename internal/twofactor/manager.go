// Package twofactor runs the login state machine between an accepted first
// factor and an issued session, and the enrollment flow that turns two-factor
// authentication on.
package twofactor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/auth"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/logging"
	"github.com/payease/payease/internal/notification"
	"github.com/payease/payease/internal/validation"
)

// Credentials validates the first factor.
type Credentials interface {
	Validate(ctx context.Context, email, password string) (identity.Account, error)
}

// Accounts reads and updates enrollment state.
type Accounts interface {
	FindByID(ctx context.Context, id string) (identity.Account, error)
	UpdateTwoFactor(ctx context.Context, id string, tf identity.TwoFactor) error
}

// Sessions mints and revokes session tokens.
type Sessions interface {
	IssueSession(ctx context.Context, accountID string) (auth.Session, error)
	Revoke(ctx context.Context, token string) error
}

// Challenge routes the second step of a login. It carries no account data.
type Challenge struct {
	TempToken string          `json:"tempToken"`
	Method    identity.Method `json:"method"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// LoginOutcome holds either a session or a pending challenge, never both.
type LoginOutcome struct {
	Session   *auth.Session
	Account   *identity.Account
	Challenge *Challenge
}

// Provisioning is returned by Enroll. Secret, URL and QRCode are only set for
// the authenticator method.
type Provisioning struct {
	Method    identity.Method `json:"method"`
	Secret    string          `json:"secret,omitempty"`
	URL       string          `json:"otpauth_url,omitempty"`
	QRCode    string          `json:"qrCodeUrl,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Config tunes the manager.
type Config struct {
	ChallengeTTL  time.Duration
	EnrollmentTTL time.Duration
	MaxAttempts   int
	Issuer        string
	Timeout       time.Duration
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Credentials Credentials
	Accounts    Accounts
	Sessions    Sessions
	Challenges  ChallengeStore
	Enrollments EnrollmentStore
	Verifier    Verifier
	Notices     *notification.Dispatcher
	Logger      *slog.Logger
}

// Manager owns pending challenges and enrollments.
type Manager struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// NewManager builds a two-factor manager, filling unset config with defaults.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.EnrollmentTTL <= 0 {
		cfg.EnrollmentTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "PayEase"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if deps.Verifier == nil {
		deps.Verifier = NewCodeVerifier()
	}
	deps.Logger = logging.Component(deps.Logger, "twofactor")
	return &Manager{cfg: cfg, deps: deps, now: time.Now}
}

// Initiate checks the first factor. Accounts without two-factor get a session
// right away; the others get a challenge.
func (m *Manager) Initiate(ctx context.Context, email, password string) (LoginOutcome, error) {
	account, err := m.deps.Credentials.Validate(ctx, email, password)
	if err != nil {
		return LoginOutcome{}, err
	}

	if !account.TwoFactor.Enabled {
		session, err := m.deps.Sessions.IssueSession(ctx, account.ID)
		if err != nil {
			return LoginOutcome{}, err
		}
		return LoginOutcome{Session: &session, Account: &account}, nil
	}

	token, err := newTempToken()
	if err != nil {
		return LoginOutcome{}, err
	}
	rec := ChallengeRecord{
		AccountID: account.ID,
		Method:    account.TwoFactor.Method,
		ExpiresAt: m.now().Add(m.cfg.ChallengeTTL),
	}
	var code string
	if rec.Method == identity.MethodEmail {
		if code, err = newCode(); err != nil {
			return LoginOutcome{}, err
		}
		rec.CodeDigest = digest(code)
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err = m.deps.Challenges.Issue(storeCtx, token, rec)
	cancel()
	if err != nil {
		return LoginOutcome{}, unavailable("challenge store", err)
	}

	if code != "" {
		m.deps.Notices.Go(ctx, notification.Message{
			AccountID: account.ID,
			Kind:      notification.KindTwoFactorCode,
			Payload:   map[string]string{"email": account.Email, "code": code, "purpose": "login"},
		})
	}

	m.deps.Logger.Info("two-factor challenge issued",
		slog.String("account_id", account.ID),
		slog.String("method", string(rec.Method)),
	)
	return LoginOutcome{Challenge: &Challenge{TempToken: token, Method: rec.Method, ExpiresAt: rec.ExpiresAt}}, nil
}

// Verify completes a challenge. A temporary token is consumed by the first
// correct code; after that it only ever yields apperror.ErrChallengeExpired.
// Each call claims one attempt before the code is checked, so at most
// MaxAttempts codes are ever checked against one challenge.
func (m *Manager) Verify(ctx context.Context, tempToken, code string) (auth.Session, error) {
	storeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	rec, err := m.deps.Challenges.Get(storeCtx, tempToken)
	if err != nil {
		return auth.Session{}, challengeError(err)
	}

	secret := rec.CodeDigest
	if rec.Method == identity.MethodAuthenticator {
		account, err := m.deps.Accounts.FindByID(storeCtx, rec.AccountID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return auth.Session{}, apperror.ErrChallengeExpired
			}
			return auth.Session{}, unavailable("credential store", err)
		}
		secret = account.TwoFactor.Secret
	}

	attempts, err := m.deps.Challenges.ReserveAttempt(storeCtx, tempToken, m.cfg.MaxAttempts)
	if errors.Is(err, ErrAttemptsExhausted) {
		return auth.Session{}, apperror.ErrInvalidCode
	}
	if err != nil {
		return auth.Session{}, challengeError(err)
	}

	if !m.deps.Verifier.Check(rec.Method, secret, code) {
		m.deps.Logger.Info("two-factor code rejected",
			slog.String("account_id", rec.AccountID),
			slog.Int("attempts", attempts),
		)
		return auth.Session{}, apperror.ErrInvalidCode
	}

	// issued before Consume: a session store failure leaves the challenge live
	session, err := m.deps.Sessions.IssueSession(ctx, rec.AccountID)
	if err != nil {
		return auth.Session{}, err
	}

	won, err := m.deps.Challenges.Consume(storeCtx, tempToken)
	if err == nil && won {
		return session, nil
	}
	if rerr := m.deps.Sessions.Revoke(context.WithoutCancel(ctx), session.Token); rerr != nil {
		m.deps.Logger.Warn("revoking session of a lost challenge", slog.String("account_id", rec.AccountID), slog.Any("error", rerr))
	}
	if err != nil {
		return auth.Session{}, unavailable("challenge store", err)
	}
	return auth.Session{}, apperror.ErrChallengeExpired
}

func challengeError(err error) error {
	if errors.Is(err, ErrChallengeNotFound) {
		return apperror.ErrChallengeExpired
	}
	return unavailable("challenge store", err)
}

// Enroll starts turning on two-factor authentication for account. The
// account's enrollment state is not touched until ConfirmEnrollment.
func (m *Manager) Enroll(ctx context.Context, account identity.Account, method identity.Method) (Provisioning, error) {
	if !method.Valid() {
		return Provisioning{}, &validation.Error{Fields: map[string]string{"method": "must be one of 2FA_EMAIL 2FA_AUTHENTICATOR"}}
	}

	rec := EnrollmentRecord{
		Nonce:     uuid.NewString(),
		AccountID: account.ID,
		Method:    method,
		ExpiresAt: m.now().Add(m.cfg.EnrollmentTTL),
	}
	prov := Provisioning{Method: method, ExpiresAt: rec.ExpiresAt}

	var code string
	switch method {
	case identity.MethodAuthenticator:
		key, err := totp.Generate(totp.GenerateOpts{Issuer: m.cfg.Issuer, AccountName: account.Email})
		if err != nil {
			return Provisioning{}, fmt.Errorf("generate totp key: %w", err)
		}
		qr, err := qrDataURL(key)
		if err != nil {
			return Provisioning{}, err
		}
		rec.Secret = key.Secret()
		prov.Secret, prov.URL, prov.QRCode = key.Secret(), key.URL(), qr
	case identity.MethodEmail:
		var err error
		if code, err = newCode(); err != nil {
			return Provisioning{}, err
		}
		rec.CodeDigest = digest(code)
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.deps.Enrollments.Put(storeCtx, rec)
	cancel()
	if err != nil {
		return Provisioning{}, unavailable("enrollment store", err)
	}

	if code != "" {
		m.deps.Notices.Go(ctx, notification.Message{
			AccountID: account.ID,
			Kind:      notification.KindTwoFactorCode,
			Payload:   map[string]string{"email": account.Email, "code": code, "purpose": "enrollment"},
		})
	}
	m.deps.Logger.Info("two-factor enrollment started", slog.String("account_id", account.ID), slog.String("method", string(method)))
	return prov, nil
}

// ConfirmEnrollment checks code against the pending enrollment and, on
// success, enables the method on the account.
func (m *Manager) ConfirmEnrollment(ctx context.Context, account identity.Account, method identity.Method, code string) error {
	storeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	rec, err := m.deps.Enrollments.Get(storeCtx, account.ID)
	if err != nil {
		if errors.Is(err, ErrEnrollmentNotFound) {
			return apperror.ErrEnrollmentConflict
		}
		return unavailable("enrollment store", err)
	}
	if rec.Method != method {
		return apperror.ErrEnrollmentConflict
	}

	secret := rec.CodeDigest
	if method == identity.MethodAuthenticator {
		secret = rec.Secret
	}
	if !m.deps.Verifier.Check(method, secret, code) {
		return apperror.ErrInvalidCode
	}

	won, err := m.deps.Enrollments.Consume(storeCtx, account.ID, rec.Nonce)
	if err != nil {
		return unavailable("enrollment store", err)
	}
	if !won {
		return apperror.ErrEnrollmentConflict
	}

	tf, err := identity.TwoFactorEnabled(method, rec.Secret)
	if err != nil {
		return err
	}
	if err := m.deps.Accounts.UpdateTwoFactor(storeCtx, account.ID, tf); err != nil {
		return unavailable("credential store", err)
	}
	m.deps.Logger.Info("two-factor enabled", slog.String("account_id", account.ID), slog.String("method", string(method)))
	return nil
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(200, 200)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", apperror.ErrVerificationUnavailable, what, err)
}
