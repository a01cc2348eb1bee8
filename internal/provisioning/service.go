// Package provisioning assigns the one Ethereum key pair a user account
// may ever hold.
package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
	"wallet-engine/internal/validation"
	"wallet-engine/internal/wallet"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrAlreadyProvisioned = errors.New("wallet already provisioned")
	ErrNotProvisioned     = errors.New("wallet not provisioned")
	ErrPersistence        = errors.New("failed to persist wallet")
	ErrKeyMismatch        = errors.New("private key does not derive the ethereum address")
)

// InputError reports a malformed provisioning request.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Service struct {
	users  interfaces.UserRepository
	logger *zerolog.Logger
}

func NewService(users interfaces.UserRepository, logger *zerolog.Logger) *Service {
	return &Service{users: users, logger: logger}
}

// ProvisionWallet stores the key pair for userID. It fails with
// ErrAlreadyProvisioned, without writing, when the user already has one.
func (s *Service) ProvisionWallet(ctx context.Context, userID, address, privKey string) (*models.AccountView, error) {
	address, err := checkKeyPair(address, privKey)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.storeError(userID, err)
	}
	if user.HasWallet() {
		s.logger.Warn().Str("user", userID).Msg("Rejected second wallet provisioning")
		return nil, ErrAlreadyProvisioned
	}

	updated, err := s.users.SetWalletKeys(ctx, userID, address, privKey)
	if err != nil {
		return nil, s.storeError(userID, err)
	}

	s.logger.Info().
		Str("user", userID).
		Str("address", address).
		Msg("Wallet provisioned")
	return updated.View(), nil
}

// WalletAddress returns the provisioned address of userID.
func (s *Service) WalletAddress(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", s.storeError(userID, err)
	}
	if user.EthereumAddress == nil || *user.EthereumAddress == "" {
		return "", ErrNotProvisioned
	}
	return *user.EthereumAddress, nil
}

// Account returns the full record of userID, key included. Only the owner
// may receive it.
func (s *Service) Account(ctx context.Context, userID string) (*models.UserAccount, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.storeError(userID, err)
	}
	return user, nil
}

func (s *Service) storeError(userID string, err error) error {
	switch {
	case errors.Is(err, models.ErrUserNotFound):
		return ErrNotFound
	case errors.Is(err, models.ErrWalletAlreadySet):
		s.logger.Warn().Str("user", userID).Msg("Lost concurrent wallet provisioning")
		return ErrAlreadyProvisioned
	}
	s.logger.Error().Err(err).Str("user", userID).Msg("User store failure")
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// checkKeyPair verifies that privKey derives address and returns the
// address in checksummed form, the form balance updates are keyed by.
func checkKeyPair(address, privKey string) (string, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return "", &InputError{Field: "ethereumAddress", Reason: err.Error()}
	}
	if err := validation.ValidatePrivateKey(privKey); err != nil {
		return "", &InputError{Field: "ethereumPrivKey", Reason: err.Error()}
	}

	h, err := wallet.FromPrivateKeyHex(privKey)
	if err != nil {
		return "", &InputError{Field: "ethereumPrivKey", Reason: err.Error()}
	}
	if err := h.CheckAddress(address); err != nil {
		return "", ErrKeyMismatch
	}
	return h.Address().Hex(), nil
}
