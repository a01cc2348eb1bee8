package provisioning

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wallet-engine/internal/models"
	"wallet-engine/internal/wallet"
)

const (
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

// memoryUsers mirrors the conditional update of the SQL store.
type memoryUsers struct {
	mu     sync.Mutex
	users  map[string]*models.UserAccount
	writes int
	err    error
}

func newMemoryUsers(ids ...string) *memoryUsers {
	m := &memoryUsers{users: make(map[string]*models.UserAccount)}
	for _, id := range ids {
		m.users[id] = &models.UserAccount{ID: id, Email: id + "@example.com", PasswordHash: "secret", CreatedAt: time.Now()}
	}
	return m
}

func (m *memoryUsers) GetUserByID(_ context.Context, id string) (*models.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) SetWalletKeys(_ context.Context, id, address, privKey string) (*models.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	if u.EthereumAddress != nil || u.EthereumPrivKey != nil {
		return nil, models.ErrWalletAlreadySet
	}
	u.EthereumAddress = &address
	u.EthereumPrivKey = &privKey
	m.writes++
	cp := *u
	return &cp, nil
}

func setupService(users *memoryUsers) *Service {
	logger := zerolog.Nop()
	return NewService(users, &logger)
}

func TestProvisionWallet(t *testing.T) {
	users := newMemoryUsers("u1")
	svc := setupService(users)

	view, err := svc.ProvisionWallet(context.Background(), "u1", testAddress, testKey)
	if err != nil {
		t.Fatalf("ProvisionWallet failed: %v", err)
	}
	if view.EthereumAddress != testAddress {
		t.Errorf("Expected address %s, got %s", testAddress, view.EthereumAddress)
	}
	if view.EthereumBalance != "0" {
		t.Errorf("Expected balance placeholder 0, got %s", view.EthereumBalance)
	}
}

func TestProvisionWalletStoresChecksummedAddress(t *testing.T) {
	users := newMemoryUsers("u1")
	svc := setupService(users)

	if _, err := svc.ProvisionWallet(context.Background(), "u1", strings.ToLower(testAddress), testKey); err != nil {
		t.Fatalf("ProvisionWallet failed: %v", err)
	}
	stored, err := users.GetUserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if *stored.EthereumAddress != testAddress {
		t.Errorf("Expected stored address %s, got %s", testAddress, *stored.EthereumAddress)
	}
}

func TestProvisionWalletIdempotent(t *testing.T) {
	users := newMemoryUsers("u1")
	svc := setupService(users)
	ctx := context.Background()

	if _, err := svc.ProvisionWallet(ctx, "u1", testAddress, testKey); err != nil {
		t.Fatalf("First provisioning failed: %v", err)
	}

	other, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	_, err = svc.ProvisionWallet(ctx, "u1", other.Address().Hex(), other.PrivateKeyHex())
	if !errors.Is(err, ErrAlreadyProvisioned) {
		t.Fatalf("Expected ErrAlreadyProvisioned, got %v", err)
	}

	if users.writes != 1 {
		t.Errorf("Expected exactly 1 write, got %d", users.writes)
	}
	addr, err := svc.WalletAddress(ctx, "u1")
	if err != nil || addr != testAddress {
		t.Errorf("Expected original address to be kept, got %s (%v)", addr, err)
	}
}

func TestProvisionWalletConcurrent(t *testing.T) {
	users := newMemoryUsers("u1")
	svc := setupService(users)

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := wallet.Generate()
			if err != nil {
				t.Errorf("Generate failed: %v", err)
				return
			}
			_, err = svc.ProvisionWallet(context.Background(), "u1", h.Address().Hex(), h.PrivateKeyHex())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyProvisioned):
				rejected++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || rejected != callers-1 {
		t.Errorf("Expected 1 winner, got %d winners and %d rejections", wins, rejected)
	}
	if users.writes != 1 {
		t.Errorf("Expected exactly 1 write, got %d", users.writes)
	}
}

func TestProvisionWalletErrors(t *testing.T) {
	other, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	tests := []struct {
		name     string
		userID   string
		address  string
		key      string
		storeErr error
		check    func(error) bool
	}{
		{"unknown user", "nobody", testAddress, testKey, nil, func(err error) bool { return errors.Is(err, ErrNotFound) }},
		{"empty address", "u1", "", testKey, nil, isInputError},
		{"bad key", "u1", testAddress, "0x1234", nil, isInputError},
		{"mismatched pair", "u1", testAddress, other.PrivateKeyHex(), nil, func(err error) bool { return errors.Is(err, ErrKeyMismatch) }},
		{"store failure", "u1", testAddress, testKey, errors.New("connection refused"), func(err error) bool { return errors.Is(err, ErrPersistence) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newMemoryUsers("u1")
			users.err = tt.storeErr
			svc := setupService(users)

			_, err := svc.ProvisionWallet(context.Background(), tt.userID, tt.address, tt.key)
			if !tt.check(err) {
				t.Errorf("Unexpected error: %v", err)
			}
			if users.writes != 0 {
				t.Error("Expected no write")
			}
		})
	}
}

func isInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

func TestWalletAddressNotProvisioned(t *testing.T) {
	svc := setupService(newMemoryUsers("u1"))

	if _, err := svc.WalletAddress(context.Background(), "u1"); !errors.Is(err, ErrNotProvisioned) {
		t.Errorf("Expected ErrNotProvisioned, got %v", err)
	}
	if _, err := svc.WalletAddress(context.Background(), "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
