package wallet

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an owner has no wallet.
var ErrNotFound = errors.New("wallet not found")

// Wallet is the ledger-backed balance holder of one account.
type Wallet struct {
	ID          string
	OwnerID     string
	AccountCode string
	Currency    string
	Status      string
	CreatedAt   time.Time
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   int64
	Currency string
	AsOf     time.Time
}
