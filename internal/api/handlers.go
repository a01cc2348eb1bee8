package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/hlog"

	"wallet-engine/internal/cache"
	"wallet-engine/internal/history"
	"wallet-engine/internal/models"
	"wallet-engine/internal/provisioning"
)

// WalletService is the provisioning surface used by the handlers.
type WalletService interface {
	ProvisionWallet(ctx context.Context, userID, address, privKey string) (*models.AccountView, error)
	WalletAddress(ctx context.Context, userID string) (string, error)
	Account(ctx context.Context, userID string) (*models.UserAccount, error)
}

// BalanceReader reads the on-chain balance of an address.
type BalanceReader interface {
	Lookup(ctx context.Context, addr common.Address) (models.BalanceSnapshot, error)
}

// SnapshotCache serves recently read balances.
type SnapshotCache interface {
	Snapshot(ctx context.Context, address string) (models.BalanceSnapshot, error)
}

type Handler struct {
	wallets  WalletService
	history  history.Source
	balances BalanceReader
	cache    SnapshotCache
}

// NewHandler wires the handlers. balances and snapshots may be nil, in
// which case /wallet/balance reports 503.
func NewHandler(wallets WalletService, source history.Source, balances BalanceReader, snapshots SnapshotCache) *Handler {
	return &Handler{
		wallets:  wallets,
		history:  source,
		balances: balances,
		cache:    snapshots,
	}
}

type provisionRequest struct {
	EthereumAddress string `json:"ethereumAddress"`
	EthereumPrivKey string `json:"ethereumPrivKey"`
}

func (h *Handler) handleProvisionWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.wallets.ProvisionWallet(r.Context(), userID, req.EthereumAddress, req.EthereumPrivKey)
	if err != nil {
		code, msg := provisioningStatus(err)
		if code == http.StatusInternalServerError {
			hlog.FromRequest(r).Error().Err(err).Str("user", userID).Msg("Wallet provisioning failed")
		}
		respondWithError(w, code, msg)
		return
	}

	respondWithJSON(w, http.StatusOK, envelope{Status: statusSuccess, User: user})
}

// handleGetWallet returns the caller's own record, private key included, so
// a new session can restore the wallet.
func (h *Handler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.wallets.Account(r.Context(), userID)
	if err != nil {
		code, msg := provisioningStatus(err)
		respondWithError(w, code, msg)
		return
	}

	respondWithJSON(w, http.StatusOK, envelope{Status: statusSuccess, User: user})
}

func (h *Handler) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	address, err := h.wallets.WalletAddress(r.Context(), userID)
	if err != nil {
		code, msg := provisioningStatus(err)
		respondWithError(w, code, msg)
		return
	}

	transfers, err := h.history.FetchHistory(r.Context(), address)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("address", address).Msg("Transfer history unavailable")
		respondWithError(w, http.StatusInternalServerError, "transfer history unavailable, please retry")
		return
	}

	respondWithJSON(w, http.StatusOK, envelope{Status: statusSuccess, Transfers: transfers})
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	address, err := h.wallets.WalletAddress(r.Context(), userID)
	if err != nil {
		code, msg := provisioningStatus(err)
		respondWithError(w, code, msg)
		return
	}

	if h.cache != nil && r.URL.Query().Get("fresh") == "" {
		snap, err := h.cache.Snapshot(r.Context(), address)
		if err == nil {
			respondWithJSON(w, http.StatusOK, envelope{Status: statusSuccess, Balance: snap})
			return
		}
		if !errors.Is(err, cache.ErrMiss) {
			hlog.FromRequest(r).Warn().Err(err).Msg("Balance cache read failed")
		}
	}

	if h.balances == nil {
		respondWithError(w, http.StatusServiceUnavailable, "balance lookup not available")
		return
	}

	snap, err := h.balances.Lookup(r.Context(), common.HexToAddress(address))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("address", address).Msg("Balance lookup failed")
		respondWithError(w, http.StatusInternalServerError, "balance unavailable, please retry")
		return
	}

	respondWithJSON(w, http.StatusOK, envelope{Status: statusSuccess, Balance: snap})
}

func provisioningStatus(err error) (int, string) {
	var inputErr *provisioning.InputError
	switch {
	case errors.Is(err, provisioning.ErrNotFound):
		return http.StatusBadRequest, "user not found"
	case errors.Is(err, provisioning.ErrAlreadyProvisioned):
		return http.StatusBadRequest, "wallet already exists for this user"
	case errors.Is(err, provisioning.ErrNotProvisioned):
		return http.StatusBadRequest, "user has no wallet"
	case errors.Is(err, provisioning.ErrKeyMismatch):
		return http.StatusBadRequest, "private key does not match address"
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, inputErr.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}
