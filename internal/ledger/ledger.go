package ledger

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountNotFound is returned when posting against an unknown account code.
	ErrAccountNotFound = errors.New("ledger account not found")
)

const (
	// FundingAccountCode is the system account top-ups are drawn from.
	FundingAccountCode = "system:funding"
	// SettlementAccountCode receives settled outgoing payments.
	SettlementAccountCode = "system:settlement"

	systemPrefix = "system:"
)

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error)
}

// EnsureSystemAccounts creates the funding and settlement accounts.
func EnsureSystemAccounts(ctx context.Context, l Ledger) error {
	for _, code := range []string{FundingAccountCode, SettlementAccountCode} {
		if err := l.EnsureAccount(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

// system accounts may run negative; customer accounts may not.
func canOverdraw(code string) bool {
	return strings.HasPrefix(code, systemPrefix)
}
