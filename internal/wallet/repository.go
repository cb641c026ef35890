package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/payease/payease/internal/infra"
)

// Repository persists wallet metadata.
type Repository interface {
	// Create stores wallet unless the owner already has one, in which case the
	// existing wallet is returned.
	Create(ctx context.Context, wallet Wallet) (Wallet, error)
	GetByOwner(ctx context.Context, ownerID string) (Wallet, error)
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db infra.DB
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db infra.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record, keeping one wallet per owner.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) (Wallet, error) {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return Wallet{}, err
	}
	ownerID, err := uuid.Parse(wallet.OwnerID)
	if err != nil {
		return Wallet{}, err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, account_code, currency, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (owner_id) DO NOTHING`,
		walletID, ownerID, wallet.AccountCode, wallet.Currency, wallet.Status, wallet.CreatedAt.UTC())
	if err != nil {
		return Wallet{}, err
	}
	return r.GetByOwner(ctx, wallet.OwnerID)
}

// GetByOwner fetches the wallet belonging to an account.
func (r *PostgresRepository) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	ownerUUID, err := uuid.Parse(ownerID)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, account_code, currency, status, created_at
        FROM wallets WHERE owner_id = $1`, ownerUUID)
	var (
		w         Wallet
		createdAt time.Time
		idVal     uuid.UUID
		owner     uuid.UUID
	)
	if err := row.Scan(&idVal, &owner, &w.AccountCode, &w.Currency, &w.Status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	w.ID = idVal.String()
	w.OwnerID = owner.String()
	w.CreatedAt = createdAt.UTC()
	return w, nil
}
