package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/validation"
)

// BalanceSource reports the current balance of an account.
type BalanceSource interface {
	Available(ctx context.Context, ownerID string) (int64, error)
}

// Service manages the account lifecycle and acts as the credential store.
type Service struct {
	repo     Repository
	balances BalanceSource
	cost     int
	timeout  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithBalances fills Account.Balance from source on lookups.
func WithBalances(source BalanceSource) Option {
	return func(s *Service) { s.balances = source }
}

// WithHashCost overrides the bcrypt cost, mainly so tests run fast.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithTimeout bounds every repository call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates a new identity service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, cost: bcrypt.DefaultCost, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a USER account with two-factor authentication disabled.
func (s *Service) Register(ctx context.Context, reg Registration) (Account, error) {
	reg.Email = normalizeEmail(reg.Email)
	reg.FirstName = strings.TrimSpace(reg.FirstName)
	reg.LastName = strings.TrimSpace(reg.LastName)
	if err := validation.Struct(reg); err != nil {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return Account{}, err
	}

	account := Account{
		ID:           uuid.NewString(),
		Email:        reg.Email,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		Role:         RoleUser,
		TwoFactor:    TwoFactorDisabled(),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Create(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// Validate checks an email and password pair. Unknown emails and wrong
// passwords both yield apperror.ErrInvalidCredentials.
func (s *Service) Validate(ctx context.Context, email, password string) (Account, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	account, err := s.repo.FindByEmail(lookupCtx, normalizeEmail(email))
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// spend the same bcrypt time as a real comparison
			_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
			return Account{}, apperror.ErrInvalidCredentials
		}
		return Account{}, fmt.Errorf("%w: credential store: %v", apperror.ErrVerificationUnavailable, err)
	}

	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return Account{}, apperror.ErrInvalidCredentials
	}

	return s.withBalance(ctx, account), nil
}

// FindByID loads an account including its balance.
func (s *Service) FindByID(ctx context.Context, id string) (Account, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	account, err := s.repo.FindByID(lookupCtx, id)
	if err != nil {
		return Account{}, err
	}
	return s.withBalance(ctx, account), nil
}

// UpdateTwoFactor stores a new enrollment state after checking its consistency.
func (s *Service) UpdateTwoFactor(ctx context.Context, id string, tf TwoFactor) error {
	if err := tf.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.UpdateTwoFactor(ctx, id, tf)
}

func (s *Service) withBalance(ctx context.Context, account Account) Account {
	if s.balances == nil {
		return account
	}
	if amount, err := s.balances.Available(ctx, account.ID); err == nil {
		account.Balance = amount
	}
	return account
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func (s *Service) dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), s.cost)
	})
	return dummy
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
