package models

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrWalletAlreadySet = errors.New("user already has an ethereum key pair")
)

// UserAccount is the persisted user record. EthereumAddress and
// EthereumPrivKey are either both set or both nil.
type UserAccount struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	EthereumAddress *string   `json:"ethereumAddress,omitempty"`
	EthereumPrivKey *string   `json:"ethereumPrivKey,omitempty"`
	EthereumBalance *string   `json:"ethereumBalance,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HasWallet reports whether both halves of the key pair are present.
func (u *UserAccount) HasWallet() bool {
	return u.EthereumAddress != nil && *u.EthereumAddress != "" &&
		u.EthereumPrivKey != nil && *u.EthereumPrivKey != ""
}

// AccountView is the public projection of a UserAccount. It never carries
// the password hash or the private key.
type AccountView struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	EthereumAddress string    `json:"ethereumAddress"`
	EthereumBalance string    `json:"ethereumBalance"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// View projects the account. The balance falls back to "0" when nothing is cached.
func (u *UserAccount) View() *AccountView {
	v := &AccountView{
		ID:              u.ID,
		Email:           u.Email,
		EthereumBalance: "0",
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
	if u.EthereumAddress != nil {
		v.EthereumAddress = *u.EthereumAddress
	}
	if u.EthereumBalance != nil && *u.EthereumBalance != "" {
		v.EthereumBalance = *u.EthereumBalance
	}
	return v
}
