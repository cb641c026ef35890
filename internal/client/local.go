package client

import (
	"context"

	"github.com/payease/payease/internal/auth"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/payments"
	"github.com/payease/payease/internal/twofactor"
)

// Local runs the operations against in-process services.
type Local struct {
	Accounts *identity.Service
	Wallets  identity.WalletOpener
	Logins   *twofactor.Manager
	Sessions *auth.Issuer
	Payments *payments.Coordinator
}

var _ Backend = (*Local)(nil)

func (l *Local) Register(ctx context.Context, reg identity.Registration) (identity.Profile, error) {
	account, err := l.Accounts.Register(ctx, reg)
	if err != nil {
		return identity.Profile{}, err
	}
	if l.Wallets != nil {
		if _, err := l.Wallets.Provision(ctx, account.ID); err != nil {
			return identity.Profile{}, err
		}
	}
	return identity.Present(account), nil
}

func (l *Local) Login(ctx context.Context, email, password string) (LoginResult, error) {
	outcome, err := l.Logins.Initiate(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	if outcome.Challenge != nil {
		return LoginResult{Challenge: outcome.Challenge}, nil
	}
	profile := identity.Present(*outcome.Account)
	return LoginResult{Token: outcome.Session.Token, ExpiresAt: outcome.Session.ExpiresAt, User: &profile}, nil
}

func (l *Local) VerifyTwoFactor(ctx context.Context, tempToken, code string) (LoginResult, error) {
	session, err := l.Logins.Verify(ctx, tempToken, code)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: session.Token, ExpiresAt: session.ExpiresAt}, nil
}

func (l *Local) Enroll(ctx context.Context, token string, method identity.Method) (twofactor.Provisioning, error) {
	account, err := l.Sessions.Authenticate(ctx, token)
	if err != nil {
		return twofactor.Provisioning{}, err
	}
	return l.Logins.Enroll(ctx, account, method)
}

func (l *Local) ConfirmEnrollment(ctx context.Context, token string, method identity.Method, code string) error {
	account, err := l.Sessions.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	return l.Logins.ConfirmEnrollment(ctx, account, method, code)
}

func (l *Local) Profile(ctx context.Context, token string) (identity.Profile, error) {
	account, err := l.Sessions.Authenticate(ctx, token)
	if err != nil {
		return identity.Profile{}, err
	}
	if fresh, err := l.Accounts.FindByID(ctx, account.ID); err == nil {
		account = fresh
	}
	return identity.Present(account), nil
}

func (l *Local) SubmitPayment(ctx context.Context, token string, d payments.Details) (string, error) {
	account, err := l.Sessions.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	return l.Payments.Submit(ctx, account.ID, d)
}

func (l *Local) VerifyPayment(ctx context.Context, token, reference string) (payments.Outcome, error) {
	account, err := l.Sessions.Authenticate(ctx, token)
	if err != nil {
		return payments.Outcome{}, err
	}
	return l.Payments.Verify(ctx, account.ID, reference)
}

func (l *Local) Logout(ctx context.Context, token string) error {
	return l.Sessions.Revoke(ctx, token)
}
