package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wallet-engine/internal/models"
)

// Provisioner persists a freshly generated key pair for a user.
type Provisioner interface {
	ProvisionWallet(ctx context.Context, userID, address, privateKey string) error
}

// Loader restores the persisted wallet of a user or creates and provisions a
// new one. One Loader belongs to one session mount.
type Loader struct {
	provisioner Provisioner
	logger      *zerolog.Logger
	timeout     time.Duration

	// OnWarning receives non-fatal provisioning failures. The generated
	// wallet stays usable for the session when it fires.
	OnWarning func(error)

	mu       sync.Mutex
	handle   *Handle
	inflight sync.WaitGroup
}

func NewLoader(provisioner Provisioner, timeout time.Duration, logger *zerolog.Logger) *Loader {
	return &Loader{
		provisioner: provisioner,
		logger:      logger,
		timeout:     timeout,
	}
}

// LoadOrCreate returns the wallet for user. A persisted key is always
// restored without any network call. Without one, a key is generated once
// per Loader and provisioned in the background.
func (l *Loader) LoadOrCreate(ctx context.Context, user models.UserAccount) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if user.EthereumPrivKey != nil && *user.EthereumPrivKey != "" {
		if l.handle != nil && l.handle.SameKey(*user.EthereumPrivKey) {
			return l.handle, nil
		}
		h, err := l.restore(user)
		if err != nil {
			return nil, err
		}
		if l.handle != nil {
			l.logger.Warn().
				Str("userId", user.ID).
				Str("held", l.handle.Address().Hex()).
				Str("persisted", h.Address().Hex()).
				Msg("Replacing in-memory wallet with the persisted one")
		}
		l.handle = h
		return h, nil
	}

	if l.handle != nil {
		return l.handle, nil
	}

	h, err := Generate()
	if err != nil {
		return nil, err
	}
	l.handle = h

	l.logger.Info().
		Str("userId", user.ID).
		Str("address", h.Address().Hex()).
		Msg("Generated new wallet, provisioning")

	l.inflight.Add(1)
	go l.provision(context.WithoutCancel(ctx), user.ID, h)

	return h, nil
}

func (l *Loader) restore(user models.UserAccount) (*Handle, error) {
	h, err := FromPrivateKeyHex(*user.EthereumPrivKey)
	if err != nil {
		return nil, fmt.Errorf("restore wallet for user %s: %w", user.ID, err)
	}
	if user.EthereumAddress != nil && *user.EthereumAddress != "" {
		if err := h.CheckAddress(*user.EthereumAddress); err != nil {
			return nil, fmt.Errorf("restore wallet for user %s: %w", user.ID, err)
		}
	}
	l.logger.Debug().
		Str("userId", user.ID).
		Str("address", h.Address().Hex()).
		Msg("Restored wallet from persisted key")
	return h, nil
}

func (l *Loader) provision(ctx context.Context, userID string, h *Handle) {
	defer l.inflight.Done()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	err := l.provisioner.ProvisionWallet(ctx, userID, h.Address().Hex(), h.PrivateKeyHex())
	if err == nil {
		l.logger.Info().
			Str("userId", userID).
			Str("address", h.Address().Hex()).
			Msg("Wallet provisioned")
		return
	}

	l.logger.Warn().
		Err(err).
		Str("userId", userID).
		Str("address", h.Address().Hex()).
		Msg("Wallet provisioning failed, the generated key only lives for this session")
	if l.OnWarning != nil {
		l.OnWarning(fmt.Errorf("wallet not saved: %w", err))
	}
}

// Wait blocks until a pending provisioning call has finished.
func (l *Loader) Wait() {
	l.inflight.Wait()
}

// Handle returns the wallet currently held, if any.
func (l *Loader) Handle() *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle
}
