package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/payease/payease/internal/ledger"
)

const (
	statusActive    = "active"
	defaultCurrency = "XAF"

	kindTopUp      = "topup"
	kindSettlement = "settlement"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// Open provisions the wallet and ledger account of an owner. Calling it again
// returns the existing wallet.
func (s *Service) Open(ctx context.Context, ownerID, currency string) (Wallet, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return Wallet{}, fmt.Errorf("invalid owner id: %w", err)
	}
	if existing, err := s.repo.GetByOwner(ctx, ownerID); err == nil {
		return existing, nil
	}

	walletID := uuid.NewString()
	accountCode := fmt.Sprintf("wallet:%s", walletID)
	if err := s.ledger.EnsureAccount(ctx, accountCode); err != nil {
		return Wallet{}, err
	}

	if currency == "" {
		currency = defaultCurrency
	}

	return s.repo.Create(ctx, Wallet{
		ID:          walletID,
		OwnerID:     ownerID,
		AccountCode: accountCode,
		Currency:    currency,
		Status:      statusActive,
		CreatedAt:   time.Now().UTC(),
	})
}

// GetByOwner retrieves wallet metadata.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the ledger balance of the owner's wallet.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, wallet.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Amount: amount, Currency: wallet.Currency, AsOf: time.Now().UTC()}, nil
}

// Fund tops up the owner's wallet from the funding account. Replays of the same
// clientTxID are ignored.
func (s *Service) Fund(ctx context.Context, ownerID, clientTxID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	res, err := s.ledger.Transfer(ctx, ledger.FundingAccountCode, wallet.AccountCode, kindTopUp, clientTxID, amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return 0, err
	}
	return res.ToBalance, nil
}

// Settle debits a settled payment from the owner's wallet and returns the
// balance afterwards. The payment reference keys the posting, so settling the
// same reference twice debits once. A missing wallet is opened first.
func (s *Service) Settle(ctx context.Context, ownerID, reference string, amount int64) (int64, error) {
	wallet, err := s.Open(ctx, ownerID, "")
	if err != nil {
		return 0, err
	}
	res, err := s.ledger.Transfer(ctx, wallet.AccountCode, ledger.SettlementAccountCode, kindSettlement, reference, amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return 0, err
	}
	return res.FromBalance, nil
}

// Available returns the owner's spendable balance in minor units. An owner
// whose wallet was never provisioned gets an empty one.
func (s *Service) Available(ctx context.Context, ownerID string) (int64, error) {
	wallet, err := s.Open(ctx, ownerID, "")
	if err != nil {
		return 0, err
	}
	return s.ledger.Balance(ctx, wallet.AccountCode)
}

// Provision opens a wallet in the default currency and returns its id.
func (s *Service) Provision(ctx context.Context, ownerID string) (string, error) {
	w, err := s.Open(ctx, ownerID, "")
	if err != nil {
		return "", err
	}
	return w.ID, nil
}
