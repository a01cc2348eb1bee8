// Package history builds the transfer history of an address from two
// directional indexer queries.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
)

// ErrIndexerUnavailable fails a whole history fetch. Partial results are
// never returned.
var ErrIndexerUnavailable = errors.New("transfer indexer unavailable")

const genesisBlock = "0x0"

var (
	outgoingCategories = []models.TransferCategory{
		models.CategoryExternal,
		models.CategoryERC20,
		models.CategoryERC721,
		models.CategoryERC1155,
	}
	incomingCategories = []models.TransferCategory{
		models.CategoryExternal,
		models.CategoryInternal,
		models.CategoryERC20,
		models.CategoryERC721,
		models.CategoryERC1155,
	}
)

// Source produces the history of an address.
type Source interface {
	FetchHistory(ctx context.Context, address string) (models.Transfers, error)
}

// Aggregator merges the incoming and outgoing transfer queries.
type Aggregator struct {
	indexer interfaces.TransferIndexer
	logger  *zerolog.Logger
}

var _ Source = (*Aggregator)(nil)

func NewAggregator(indexer interfaces.TransferIndexer, logger *zerolog.Logger) *Aggregator {
	return &Aggregator{indexer: indexer, logger: logger}
}

// FetchHistory scans the whole chain from genesis for transfers sent from
// and received by address. Either both directions succeed or the call fails
// with ErrIndexerUnavailable.
func (a *Aggregator) FetchHistory(ctx context.Context, address string) (models.Transfers, error) {
	if address == "" {
		return models.Transfers{}, errors.New("address cannot be empty")
	}

	excludeZero := true
	var incoming, outgoing []models.TransferRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := a.indexer.GetAssetTransfers(gctx, models.AssetTransferQuery{
			FromBlock:   genesisBlock,
			FromAddress: address,
			Category:    outgoingCategories,
		})
		if err != nil {
			return fmt.Errorf("outgoing transfers: %w", err)
		}
		outgoing = res
		return nil
	})
	g.Go(func() error {
		res, err := a.indexer.GetAssetTransfers(gctx, models.AssetTransferQuery{
			FromBlock:        genesisBlock,
			ToAddress:        address,
			Category:         incomingCategories,
			ExcludeZeroValue: &excludeZero,
		})
		if err != nil {
			return fmt.Errorf("incoming transfers: %w", err)
		}
		incoming = res
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error().Err(err).Str("address", address).Msg("Transfer history fetch failed")
		return models.Transfers{}, fmt.Errorf("%w: %w", ErrIndexerUnavailable, err)
	}

	if incoming == nil {
		incoming = []models.TransferRecord{}
	}
	if outgoing == nil {
		outgoing = []models.TransferRecord{}
	}

	a.logger.Debug().
		Str("address", address).
		Int("incoming", len(incoming)).
		Int("outgoing", len(outgoing)).
		Msg("Transfer history fetched")

	return models.Transfers{Incoming: incoming, Outgoing: outgoing}, nil
}
