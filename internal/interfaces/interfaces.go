package interfaces

import (
	"context"

	"wallet-engine/internal/models"
)

// UserRepository is the persistence contract for user records.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*models.UserAccount, error)

	// SetWalletKeys writes both key fields in a single update, only when
	// neither is set yet. It returns models.ErrWalletAlreadySet otherwise.
	SetWalletKeys(ctx context.Context, id, address, privKey string) (*models.UserAccount, error)
}

// TransferIndexer lists asset transfers matching a query.
type TransferIndexer interface {
	GetAssetTransfers(ctx context.Context, query models.AssetTransferQuery) ([]models.TransferRecord, error)
}

// BalanceSink receives every balance snapshot the sync monitor produces.
type BalanceSink interface {
	StoreSnapshot(ctx context.Context, snapshot models.BalanceSnapshot) error
}
