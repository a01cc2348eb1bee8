package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the blockchain RPC capability used by the wallet engine.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)

	// BalanceAt and NonceAt read the latest state of account.
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SubscribeNewBlocks delivers the number of every new block on ch until
	// the subscription is cancelled.
	SubscribeNewBlocks(ctx context.Context, ch chan<- uint64) (ethereum.Subscription, error)

	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// WaitMined blocks until tx is included in a block or ctx is done.
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	// ResolveName turns a recipient string into an address.
	ResolveName(ctx context.Context, name string) (common.Address, error)
}
