package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"wallet-engine/internal/cache"
	"wallet-engine/internal/config"
	"wallet-engine/internal/history"
	"wallet-engine/internal/models"
	"wallet-engine/internal/provisioning"
)

const testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"

type fakeWallets struct {
	provisionErr error
	addressErr   error
	calls        []string
}

func (f *fakeWallets) ProvisionWallet(_ context.Context, userID, address, privKey string) (*models.AccountView, error) {
	f.calls = append(f.calls, userID)
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	return &models.AccountView{ID: userID, EthereumAddress: address, EthereumBalance: "0"}, nil
}

func (f *fakeWallets) WalletAddress(_ context.Context, userID string) (string, error) {
	f.calls = append(f.calls, userID)
	if f.addressErr != nil {
		return "", f.addressErr
	}
	return testAddress, nil
}

func (f *fakeWallets) Account(_ context.Context, userID string) (*models.UserAccount, error) {
	if f.addressErr != nil {
		return nil, f.addressErr
	}
	addr, key := testAddress, "0xkey"
	return &models.UserAccount{ID: userID, EthereumAddress: &addr, EthereumPrivKey: &key}, nil
}

type fakeSource struct {
	err     error
	address string
}

func (f *fakeSource) FetchHistory(_ context.Context, address string) (models.Transfers, error) {
	f.address = address
	if f.err != nil {
		return models.Transfers{}, f.err
	}
	return models.Transfers{
		Incoming: []models.TransferRecord{{UniqueID: "in", Hash: "0x01"}},
		Outgoing: []models.TransferRecord{},
	}, nil
}

type fakeBalances struct {
	calls int
}

func (f *fakeBalances) Lookup(_ context.Context, addr common.Address) (models.BalanceSnapshot, error) {
	f.calls++
	return models.BalanceSnapshot{Address: addr.Hex(), Ether: "1.5"}, nil
}

type fakeCache struct {
	snap *models.BalanceSnapshot
}

func (f *fakeCache) Snapshot(context.Context, string) (models.BalanceSnapshot, error) {
	if f.snap == nil {
		return models.BalanceSnapshot{}, cache.ErrMiss
	}
	return *f.snap, nil
}

func setupRouter(wallets WalletService, source history.Source, balances BalanceReader, snapshots SnapshotCache) http.Handler {
	logger := zerolog.Nop()
	h := NewHandler(wallets, source, balances, snapshots)
	return NewRouter(h, config.ServerConfig{AllowedOrigins: []string{"*"}}, &logger)
}

func doRequest(t *testing.T, router http.Handler, method, path, auth string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out map[string]json.RawMessage
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("Response is not JSON: %s", rec.Body.String())
		}
	}
	return rec, out
}

func TestProvisionWalletHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"success", nil, http.StatusOK},
		{"not found", provisioning.ErrNotFound, http.StatusBadRequest},
		{"already provisioned", provisioning.ErrAlreadyProvisioned, http.StatusBadRequest},
		{"key mismatch", provisioning.ErrKeyMismatch, http.StatusBadRequest},
		{"bad input", &provisioning.InputError{Field: "ethereumAddress", Reason: "empty"}, http.StatusBadRequest},
		{"store failure", fmt.Errorf("%w: boom", provisioning.ErrPersistence), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wallets := &fakeWallets{provisionErr: tt.err}
			router := setupRouter(wallets, &fakeSource{}, nil, nil)

			rec, out := doRequest(t, router, http.MethodPost, "/wallet", "Bearer u1",
				provisionRequest{EthereumAddress: testAddress, EthereumPrivKey: "0xkey"})

			if rec.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			var status string
			_ = json.Unmarshal(out["status"], &status)
			if tt.err == nil {
				if status != "success" {
					t.Errorf("Expected success status, got %s", status)
				}
				if _, ok := out["user"]; !ok {
					t.Error("Expected user in response")
				}
			} else if status != "error" || len(out["message"]) == 0 {
				t.Errorf("Expected error envelope, got %s", rec.Body.String())
			}
		})
	}
}

func TestProvisionWalletRequiresCredential(t *testing.T) {
	wallets := &fakeWallets{}
	router := setupRouter(wallets, &fakeSource{}, nil, nil)

	rec, _ := doRequest(t, router, http.MethodPost, "/wallet", "", provisionRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
	if len(wallets.calls) != 0 {
		t.Error("Expected no service call without credential")
	}
}

func TestBareUserIDAccepted(t *testing.T) {
	wallets := &fakeWallets{}
	router := setupRouter(wallets, &fakeSource{}, nil, nil)

	rec, _ := doRequest(t, router, http.MethodGet, "/wallet/transactions", "u42", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(wallets.calls) != 1 || wallets.calls[0] != "u42" {
		t.Errorf("Expected user u42, got %v", wallets.calls)
	}
}

func TestTransactionsHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			source := &fakeSource{}
			router := setupRouter(&fakeWallets{}, source, nil, nil)

			rec, out := doRequest(t, router, method, "/wallet/transactions", "Bearer u1", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", rec.Code)
			}
			if source.address != testAddress {
				t.Errorf("Expected history for %s, got %s", testAddress, source.address)
			}

			var transfers models.Transfers
			if err := json.Unmarshal(out["transfers"], &transfers); err != nil {
				t.Fatalf("Invalid transfers: %v", err)
			}
			if len(transfers.Incoming) != 1 || transfers.Outgoing == nil {
				t.Errorf("Unexpected transfers %+v", transfers)
			}
		})
	}
}

func TestTransactionsHandlerErrors(t *testing.T) {
	router := setupRouter(&fakeWallets{addressErr: provisioning.ErrNotProvisioned}, &fakeSource{}, nil, nil)
	if rec, _ := doRequest(t, router, http.MethodGet, "/wallet/transactions", "Bearer u1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without wallet, got %d", rec.Code)
	}

	source := &fakeSource{err: fmt.Errorf("%w: 503", history.ErrIndexerUnavailable)}
	router = setupRouter(&fakeWallets{}, source, nil, nil)
	rec, out := doRequest(t, router, http.MethodGet, "/wallet/transactions", "Bearer u1", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on indexer failure, got %d", rec.Code)
	}
	if _, ok := out["transfers"]; ok {
		t.Error("Expected no transfers on failure")
	}
}

func TestGetWalletReturnsOwnRecord(t *testing.T) {
	router := setupRouter(&fakeWallets{}, &fakeSource{}, nil, nil)

	rec, out := doRequest(t, router, http.MethodGet, "/wallet", "Bearer u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var user models.UserAccount
	if err := json.Unmarshal(out["user"], &user); err != nil {
		t.Fatalf("Invalid user: %v", err)
	}
	if user.EthereumPrivKey == nil {
		t.Error("Expected the owner's key in the record")
	}
}

func TestBalanceHandler(t *testing.T) {
	balances := &fakeBalances{}
	cached := &fakeCache{}
	router := setupRouter(&fakeWallets{}, &fakeSource{}, balances, cached)

	rec, _ := doRequest(t, router, http.MethodGet, "/wallet/balance", "Bearer u1", nil)
	if rec.Code != http.StatusOK || balances.calls != 1 {
		t.Fatalf("Expected chain lookup on cache miss, got %d (%d calls)", rec.Code, balances.calls)
	}

	cached.snap = &models.BalanceSnapshot{Address: testAddress, Ether: "2"}
	rec, out := doRequest(t, router, http.MethodGet, "/wallet/balance", "Bearer u1", nil)
	if rec.Code != http.StatusOK || balances.calls != 1 {
		t.Fatalf("Expected cache hit, got %d (%d calls)", rec.Code, balances.calls)
	}
	var snap models.BalanceSnapshot
	if err := json.Unmarshal(out["balance"], &snap); err != nil || snap.Ether != "2" {
		t.Errorf("Expected cached balance, got %s (%v)", out["balance"], err)
	}

	if rec, _ := doRequest(t, router, http.MethodGet, "/wallet/balance?fresh=1", "Bearer u1", nil); rec.Code != http.StatusOK || balances.calls != 2 {
		t.Errorf("Expected fresh lookup, got %d (%d calls)", rec.Code, balances.calls)
	}

	router = setupRouter(&fakeWallets{}, &fakeSource{}, nil, nil)
	if rec, _ := doRequest(t, router, http.MethodGet, "/wallet/balance", "Bearer u1", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without balance reader, got %d", rec.Code)
	}
}

func TestUserIDFromHeader(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"abc":          "abc",
		"":             "",
		"Bearer ":      "",
	}
	for in, want := range tests {
		if got := userIDFromHeader(in); got != want {
			t.Errorf("userIDFromHeader(%q) = %q, want %q", in, got, want)
		}
	}
}
