// Package apiclient talks to the wallet API on behalf of one user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wallet-engine/internal/history"
	"wallet-engine/internal/models"
	"wallet-engine/internal/rpc"
)

// APIError is a non-200 answer of the wallet API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet api: %d - %s", e.StatusCode, e.Message)
}

type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	User      json.RawMessage `json:"user"`
	Transfers json.RawMessage `json:"transfers"`
}

// Client is bound to the user whose id it sends as bearer credential.
type Client struct {
	baseURL    string
	userID     string
	maxRetries int
	retryDelay time.Duration
	http       *http.Client
	logger     *zerolog.Logger
}

var _ history.Source = (*Client)(nil)

func New(baseURL, userID string, maxRetries int, retryDelay, timeout time.Duration, logger *zerolog.Logger) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		http: &http.Client{
			Timeout: timeout,
			Transport: &rpc.CustomTransport{
				Base:   http.DefaultTransport,
				ApiKey: userID,
			},
		},
		logger: logger,
	}
}

// Account loads the caller's full user record.
func (c *Client) Account(ctx context.Context) (*models.UserAccount, error) {
	env, err := c.do(ctx, http.MethodGet, "/wallet", nil, true)
	if err != nil {
		return nil, err
	}
	var user models.UserAccount
	if err := json.Unmarshal(env.User, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// ProvisionWallet stores the key pair on the server. It is sent once and
// never retried; the server rejects a second pair anyway.
func (c *Client) ProvisionWallet(ctx context.Context, userID, address, privateKey string) error {
	if userID != c.userID {
		return fmt.Errorf("client is bound to user %s, not %s", c.userID, userID)
	}
	body := map[string]string{
		"ethereumAddress": address,
		"ethereumPrivKey": privateKey,
	}
	_, err := c.do(ctx, http.MethodPost, "/wallet", body, false)
	return err
}

// FetchHistory asks the server for the caller's transfer history. The
// server resolves the address from the credential, address is only logged.
func (c *Client) FetchHistory(ctx context.Context, address string) (models.Transfers, error) {
	env, err := c.do(ctx, http.MethodPost, "/wallet/transactions", struct{}{}, true)
	if err != nil {
		return models.Transfers{}, fmt.Errorf("%w: %w", history.ErrIndexerUnavailable, err)
	}
	var transfers models.Transfers
	if err := json.Unmarshal(env.Transfers, &transfers); err != nil {
		return models.Transfers{}, fmt.Errorf("%w: decode transfers: %w", history.ErrIndexerUnavailable, err)
	}

	c.logger.Debug().
		Str("address", address).
		Int("incoming", len(transfers.Incoming)).
		Int("outgoing", len(transfers.Outgoing)).
		Msg("Transfer history received")
	return transfers, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, retry bool) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	attempts := 1
	if retry {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		env, err := c.once(ctx, method, path, payload)
		if err == nil {
			return env, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return nil, err
		}
		c.logger.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempt+1).
			Msg("Wallet API call failed")
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) (*envelope, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return &env, nil
}
