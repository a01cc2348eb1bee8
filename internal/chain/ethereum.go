// Package chain implements the blockchain capability on top of go-ethereum's
// ethclient.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"wallet-engine/internal/config"
	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/validation"
)

// ErrNameNotResolved is returned for recipients that are neither a hex
// address nor a name the network can resolve.
var ErrNameNotResolved = errors.New("network does not support ENS name resolution")

const receiptPollInterval = 2 * time.Second

var _ interfaces.ChainClient = (*Client)(nil)

// Client wraps ethclient. Websocket endpoints get pushed new-head
// notifications; HTTP endpoints fall back to polling the block head.
type Client struct {
	*ethclient.Client
	rpcClient    *rpc.Client
	logger       *zerolog.Logger
	pollInterval time.Duration
	canSubscribe bool
}

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, cfg config.ChainConfig, timeout time.Duration, logger *zerolog.Logger) (*Client, error) {
	var (
		rpcClient *rpc.Client
		err       error
	)

	canSubscribe := strings.HasPrefix(cfg.RpcEndpoint, "ws://") || strings.HasPrefix(cfg.RpcEndpoint, "wss://")
	if canSubscribe {
		var opts []rpc.ClientOption
		if cfg.ApiKey != "" {
			opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+cfg.ApiKey))
		}
		rpcClient, err = rpc.DialOptions(ctx, cfg.RpcEndpoint, opts...)
	} else {
		httpClient := &http.Client{
			Timeout: timeout,
			Transport: &customTransport{
				base:   http.DefaultTransport,
				apiKey: cfg.ApiKey,
			},
		}
		rpcClient, err = rpc.DialHTTPWithClient(cfg.RpcEndpoint, httpClient)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	pollInterval := cfg.BlockPollInterval
	if pollInterval <= 0 {
		pollInterval = 12 * time.Second
	}

	c := &Client{
		Client:       ethclient.NewClient(rpcClient),
		rpcClient:    rpcClient,
		logger:       logger,
		pollInterval: pollInterval,
		canSubscribe: canSubscribe,
	}

	logger.Info().
		Str("endpoint", cfg.RpcEndpoint).
		Bool("subscriptions", canSubscribe).
		Msg("Ethereum client initialized")

	return c, nil
}

// BalanceAt returns the latest balance of account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.Client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// NonceAt returns the number of transactions sent from account.
func (c *Client) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.Client.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

// SubscribeNewBlocks streams new block numbers into ch.
func (c *Client) SubscribeNewBlocks(ctx context.Context, ch chan<- uint64) (ethereum.Subscription, error) {
	if !c.canSubscribe {
		return c.pollNewBlocks(ch), nil
	}

	heads := make(chan *types.Header, 16)
	sub, err := c.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case head := <-heads:
				select {
				case ch <- head.Number.Uint64():
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// pollNewBlocks emits one notification each time the head advances.
func (c *Client) pollNewBlocks(ch chan<- uint64) ethereum.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		var latest uint64
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.pollInterval)
				head, err := c.BlockNumber(ctx)
				cancel()
				if err != nil {
					c.logger.Error().Err(err).Msg("Failed to get current Ethereum block")
					continue
				}
				if head <= latest {
					continue
				}
				latest = head
				select {
				case ch <- head:
				case <-quit:
					return nil
				}
			}
		}
	})
}

// WaitMined polls for the receipt of tx until it is mined or ctx is done.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug().Err(err).Str("txHash", tx.Hash().Hex()).Msg("Receipt retrieval failed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResolveName accepts hex addresses only; the configured networks have no
// name service. Mixed-case input must carry a valid checksum.
func (c *Client) ResolveName(_ context.Context, name string) (common.Address, error) {
	return resolveName(name)
}

func resolveName(name string) (common.Address, error) {
	name = strings.TrimSpace(name)
	err := validation.ValidateAddress(name)
	switch {
	case err == nil:
		return common.HexToAddress(name), nil
	case validation.IsHexAddress(name):
		return common.Address{}, fmt.Errorf("%w: %q: %v", ErrNameNotResolved, name, err)
	}
	return common.Address{}, fmt.Errorf("%w: %q", ErrNameNotResolved, name)
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.rpcClient.Close()
}

// customTransport adds headers to every HTTP RPC call
type customTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	return t.base.RoundTrip(req)
}
