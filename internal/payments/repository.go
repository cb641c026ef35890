package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/infra"
)

// Repository persists payment verification requests.
type Repository interface {
	// Create stores a submitted payment. A taken reference yields
	// apperror.ErrDuplicateReference.
	Create(ctx context.Context, p Payment) error
	Get(ctx context.Context, reference string) (Payment, error)
	// Discard removes a payment that never left the submitted state.
	Discard(ctx context.Context, reference string) error
	MarkVerifying(ctx context.Context, reference string) error
	// Resolve moves a non-terminal payment to its terminal state. The boolean
	// is false when another caller resolved it first; the stored payment is
	// returned either way.
	Resolve(ctx context.Context, reference string, r Resolution) (Payment, bool, error)
}

// PostgresRepository stores payments in PostgreSQL.
type PostgresRepository struct {
	db infra.DB
}

// NewPostgresRepository builds a Postgres-backed payment repository.
func NewPostgresRepository(db infra.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `reference, account_id, amount, currency, method, description, status,
        settled_amount, failure_reason, balance_after, created_at, updated_at, resolved_at`

func (r *PostgresRepository) Create(ctx context.Context, p Payment) error {
	accountID, err := uuid.Parse(p.AccountID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO payments (reference, account_id, amount, currency, method, description, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		p.Reference, accountID, p.Amount, p.Currency, p.Method, p.Description, string(p.Status), p.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperror.ErrDuplicateReference
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, reference string) (Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference))
}

func (r *PostgresRepository) Discard(ctx context.Context, reference string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM payments WHERE reference = $1 AND status = 'submitted'`, reference)
	return err
}

func (r *PostgresRepository) MarkVerifying(ctx context.Context, reference string) error {
	_, err := r.db.Exec(ctx, `UPDATE payments SET status = 'verifying', updated_at = now()
        WHERE reference = $1 AND status = 'submitted'`, reference)
	return err
}

func (r *PostgresRepository) Resolve(ctx context.Context, reference string, res Resolution) (Payment, bool, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `UPDATE payments
        SET status = $2, settled_amount = $3, failure_reason = $4, balance_after = $5, resolved_at = $6, updated_at = $6
        WHERE reference = $1 AND status IN ('submitted', 'verifying')
        RETURNING `+paymentColumns,
		reference, string(res.Status), res.SettledAmount, res.FailureReason, res.BalanceAfter, res.ResolvedAt.UTC()))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Payment{}, false, err
	}
	p, err = r.Get(ctx, reference)
	return p, false, err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p          Payment
		accountID  uuid.UUID
		status     string
		resolvedAt *time.Time
	)
	err := row.Scan(&p.Reference, &accountID, &p.Amount, &p.Currency, &p.Method, &p.Description, &status,
		&p.SettledAmount, &p.FailureReason, &p.BalanceAfter, &p.CreatedAt, &p.UpdatedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	p.AccountID = accountID.String()
	p.Status = Status(status)
	if resolvedAt != nil {
		t := resolvedAt.UTC()
		p.ResolvedAt = &t
	}
	return p, nil
}
