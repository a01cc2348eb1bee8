// Package indexer queries the Alchemy transfers API for an address history.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
	"wallet-engine/internal/rpc"
)

const getAssetTransfersMethod = "alchemy_getAssetTransfers"

var _ interfaces.TransferIndexer = (*Client)(nil)

type caller interface {
	Call(ctx context.Context, method string, params []interface{}) (*models.RPCResponse, error)
}

type Client struct {
	rpc    caller
	logger *zerolog.Logger
}

type assetTransfersResult struct {
	Transfers []models.TransferRecord `json:"transfers"`
	PageKey   string                  `json:"pageKey,omitempty"`
}

func NewClient(rpcClient *rpc.Client, logger *zerolog.Logger) *Client {
	return &Client{rpc: rpcClient, logger: logger}
}

// GetAssetTransfers runs one alchemy_getAssetTransfers query. Only the first
// page is read: history is always a full re-scan from query.FromBlock.
func (c *Client) GetAssetTransfers(ctx context.Context, query models.AssetTransferQuery) ([]models.TransferRecord, error) {
	resp, err := c.rpc.Call(ctx, getAssetTransfersMethod, []interface{}{query})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", getAssetTransfersMethod, err)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, fmt.Errorf("%s: empty result", getAssetTransfersMethod)
	}

	var result assetTransfersResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", getAssetTransfersMethod, err)
	}

	if result.PageKey != "" {
		c.logger.Warn().
			Str("fromAddress", query.FromAddress).
			Str("toAddress", query.ToAddress).
			Int("transfers", len(result.Transfers)).
			Msg("Transfer history truncated to the first page")
	}

	if result.Transfers == nil {
		result.Transfers = []models.TransferRecord{}
	}
	return result.Transfers, nil
}
