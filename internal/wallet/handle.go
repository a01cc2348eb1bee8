// Package wallet holds the in-memory signing wallet of a session and decides
// whether to restore or create it.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrKeyPairMismatch = errors.New("private key does not match address")

// Handle is a volatile signing wallet: an address, its private key and the
// last known nonce. It is never persisted by the client.
type Handle struct {
	address    common.Address
	privateKey *ecdsa.PrivateKey

	mu        sync.RWMutex
	nonce     *uint64
	connected bool
}

// Generate creates a wallet from a fresh random secp256k1 key.
func Generate() (*Handle, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return newHandle(privateKey)
}

// FromPrivateKeyHex restores a wallet from a hex private key, with or
// without the 0x prefix.
func FromPrivateKeyHex(privateKeyHex string) (*Handle, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newHandle(privateKey)
}

func newHandle(privateKey *ecdsa.PrivateKey) (*Handle, error) {
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key")
	}
	return &Handle{
		address:    crypto.PubkeyToAddress(*publicKey),
		privateKey: privateKey,
	}, nil
}

// CheckAddress verifies that the key derives the given address.
func (h *Handle) CheckAddress(address string) error {
	if !common.IsHexAddress(address) || common.HexToAddress(address) != h.address {
		return fmt.Errorf("%w: %s", ErrKeyPairMismatch, address)
	}
	return nil
}

func (h *Handle) Address() common.Address {
	return h.address
}

// PrivateKeyHex returns the 0x-prefixed private key. It is only used for
// the one-time provisioning call.
func (h *Handle) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(h.privateKey))
}

// SameKey reports whether privateKeyHex is the key held by h.
func (h *Handle) SameKey(privateKeyHex string) bool {
	other, err := FromPrivateKeyHex(privateKeyHex)
	if err != nil {
		return false
	}
	return other.address == h.address
}

// SignTx signs tx for chainID with the wallet key.
func (h *Handle) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), h.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Nonce returns the last observed transaction count, if any.
func (h *Handle) Nonce() (uint64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.nonce == nil {
		return 0, false
	}
	return *h.nonce, true
}

func (h *Handle) SetNonce(n uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nonce = &n
}

// Bind marks the handle as attached to a chain client. It reports false
// when the handle was already bound.
func (h *Handle) Bind() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connected {
		return false
	}
	h.connected = true
	return true
}

func (h *Handle) IsChainConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected
}
