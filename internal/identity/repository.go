package identity

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

// ErrNotFound is returned by repositories for unknown accounts.
var ErrNotFound = errors.New("account not found")

const uniqueViolation = "23505"

// Repository persists accounts.
type Repository interface {
	Create(ctx context.Context, account Account) error
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	// UpdateTwoFactor writes method, enabled flag and secret in one statement.
	UpdateTwoFactor(ctx context.Context, id string, tf TwoFactor) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db infra.DB
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db infra.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectAccount = `SELECT id, email, first_name, last_name, role, password_hash,
        two_factor_enabled, two_factor_method, two_factor_secret, created_at FROM accounts`

// Create inserts a new account.
func (r *PostgresRepository) Create(ctx context.Context, account Account) error {
	accountID, err := uuid.Parse(account.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, email, first_name, last_name, role, password_hash, two_factor_enabled, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		accountID, account.Email, account.FirstName, account.LastName, string(account.Role), account.PasswordHash, account.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperror.ErrAccountExists
	}
	return err
}

// FindByEmail fetches an account by its normalised email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE email = $1`, email))
}

// FindByID fetches an account by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	return scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE id = $1`, accountID))
}

// UpdateTwoFactor stores the enrollment state of an account.
func (r *PostgresRepository) UpdateTwoFactor(ctx context.Context, id string, tf TwoFactor) error {
	if err := tf.Validate(); err != nil {
		return err
	}
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET two_factor_enabled = $1, two_factor_method = $2, two_factor_secret = $3 WHERE id = $4`,
		tf.Enabled, nullable(string(tf.Method)), nullable(tf.Secret), accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		id        uuid.UUID
		role      string
		method    *string
		secret    *string
		createdAt time.Time
		account   Account
	)
	err := row.Scan(&id, &account.Email, &account.FirstName, &account.LastName, &role, &account.PasswordHash,
		&account.TwoFactor.Enabled, &method, &secret, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	account.ID = id.String()
	account.Role = Role(role)
	if method != nil {
		account.TwoFactor.Method = Method(*method)
	}
	if secret != nil {
		account.TwoFactor.Secret = *secret
	}
	account.CreatedAt = createdAt.UTC()
	return account, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
