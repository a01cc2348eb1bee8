package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var (
	ethereumAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	privateKeyRegex      = regexp.MustCompile(`^(0x)?[a-fA-F0-9]{64}$`)
	txHashRegex          = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	urlRegex             = regexp.MustCompile(`^(https?|wss?)://[^\s/$.?#].[^\s]*$`)
)

// ValidateAddress validates an Ethereum address. Mixed-case addresses must
// carry a valid EIP-55 checksum.
func ValidateAddress(address string) error {
	if address == "" {
		return errors.New("address cannot be empty")
	}
	if !ethereumAddressRegex.MatchString(address) {
		return errors.New("invalid Ethereum address format")
	}

	hexPart := address[2:]
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		if common.HexToAddress(address).Hex() != address {
			return errors.New("invalid Ethereum address checksum")
		}
	}
	return nil
}

// IsHexAddress reports whether s has the shape of an Ethereum address,
// regardless of its checksum.
func IsHexAddress(s string) bool {
	return ethereumAddressRegex.MatchString(s)
}

// ValidatePrivateKey checks that key is a usable secp256k1 private key in hex.
func ValidatePrivateKey(key string) error {
	if key == "" {
		return errors.New("private key cannot be empty")
	}
	if !privateKeyRegex.MatchString(key) {
		return errors.New("invalid private key format")
	}
	if _, err := crypto.HexToECDSA(strings.TrimPrefix(key, "0x")); err != nil {
		return errors.New("invalid private key")
	}
	return nil
}

// ValidateAmount validates amount is positive and within reasonable bounds
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}

	// An ether amount above the total supply is a typo.
	if amount.GreaterThan(decimal.New(1, 9)) {
		return errors.New("amount exceeds maximum allowed value")
	}

	return nil
}

// ValidateTxHash validates transaction hash format
func ValidateTxHash(txHash string) error {
	if txHash == "" {
		return errors.New("transaction hash cannot be empty")
	}
	if !txHashRegex.MatchString(txHash) {
		return errors.New("invalid Ethereum transaction hash")
	}
	return nil
}

// ValidateURL validates URL format. Websocket URLs are accepted for
// endpoints that stream new heads.
func ValidateURL(url string) error {
	if url == "" {
		return errors.New("URL cannot be empty")
	}

	if !urlRegex.MatchString(url) {
		return errors.New("invalid URL format")
	}

	return nil
}
