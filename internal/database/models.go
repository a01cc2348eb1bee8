package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
)

const userColumns = `id, email, password_hash, ethereum_address, ethereum_priv_key, ethereum_balance, created_at, updated_at`

// UserStore is the PostgreSQL UserRepository.
type UserStore struct {
	db *sql.DB
}

var (
	_ interfaces.UserRepository = (*UserStore)(nil)
	_ interfaces.BalanceSink    = (*UserStore)(nil)
)

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.UserAccount, error) {
	var (
		u       models.UserAccount
		address sql.NullString
		privKey sql.NullString
		balance sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &address, &privKey, &balance, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.EthereumAddress = nullable(address)
	u.EthereumPrivKey = nullable(privKey)
	u.EthereumBalance = nullable(balance)
	return &u, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// CreateUser inserts a user without a wallet.
func (s *UserStore) CreateUser(ctx context.Context, email, passwordHash string) (*models.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING `+userColumns, email, passwordHash)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by ID
func (s *UserStore) GetUserByID(ctx context.Context, id string) (*models.UserAccount, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrUserNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return u, nil
}

// SetWalletKeys stores the key pair with one conditional UPDATE so that two
// concurrent writers cannot both succeed. When no row changes, the user is
// re-read to tell a missing user from an existing wallet.
func (s *UserStore) SetWalletKeys(ctx context.Context, id, address, privKey string) (*models.UserAccount, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrUserNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET ethereum_address = $2, ethereum_priv_key = $3, updated_at = NOW()
		WHERE id = $1 AND ethereum_address IS NULL AND ethereum_priv_key IS NULL
		RETURNING `+userColumns, id, address, privKey)

	u, err := scanUser(row)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to store wallet keys: %w", err)
	}

	if _, err := s.GetUserByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, models.ErrWalletAlreadySet
}

// SetBalance caches the last known ether balance on the user record.
func (s *UserStore) SetBalance(ctx context.Context, address, ether string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET ethereum_balance = $2, updated_at = NOW()
		WHERE ethereum_address = $1
	`, address, ether)
	if err != nil {
		return fmt.Errorf("failed to store balance: %w", err)
	}
	return nil
}

// StoreSnapshot implements interfaces.BalanceSink.
func (s *UserStore) StoreSnapshot(ctx context.Context, snap models.BalanceSnapshot) error {
	return s.SetBalance(ctx, snap.Address, snap.Ether)
}
