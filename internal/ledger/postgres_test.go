package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestPostgresLedger_Transfer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	fromID, toID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM ledger_accounts WHERE code = \$1 FOR UPDATE`).
		WithArgs("account:a").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(fromID))
	mock.ExpectQuery(`SELECT id FROM ledger_accounts WHERE code = \$1 FOR UPDATE`).
		WithArgs(SettlementAccountCode).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(toID))
	mock.ExpectQuery(`SELECT id FROM ledger_transactions`).
		WithArgs("PAY-1", "settlement").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM ledger_entries`).
		WithArgs(fromID).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(5_000)))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM ledger_entries`).
		WithArgs(toID).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(0)))
	mock.ExpectExec(`INSERT INTO ledger_transactions`).
		WithArgs(pgxmock.AnyArg(), "PAY-1", "settlement").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), fromID, int64(-1_200)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), toID, int64(1_200)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	l := NewPostgresLedger(mock)
	res, err := l.Transfer(context.Background(), "account:a", SettlementAccountCode, "settlement", "PAY-1", 1_200)
	require.NoError(t, err)
	require.Equal(t, int64(3_800), res.FromBalance)
	require.Equal(t, int64(1_200), res.ToBalance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_TransferRejectsOverdraft(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	fromID, toID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM ledger_accounts`).
		WithArgs("account:a").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(fromID))
	mock.ExpectQuery(`SELECT id FROM ledger_accounts`).
		WithArgs(SettlementAccountCode).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(toID))
	mock.ExpectQuery(`SELECT id FROM ledger_transactions`).
		WithArgs("PAY-2", "settlement").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM ledger_entries`).
		WithArgs(fromID).
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(100)))
	mock.ExpectRollback()

	l := NewPostgresLedger(mock)
	_, err = l.Transfer(context.Background(), "account:a", SettlementAccountCode, "settlement", "PAY-2", 1_200)
	require.True(t, errors.Is(err, ErrInsufficientFunds))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_BalanceUnknownAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM ledger_accounts a`).
		WithArgs("account:missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "balance"}))

	_, err = NewPostgresLedger(mock).Balance(context.Background(), "account:missing")
	require.ErrorIs(t, err, ErrAccountNotFound)
}
