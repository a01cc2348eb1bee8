package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"wallet-engine/internal/chain"
)

// ErrTransferInProgress rejects a transfer while another one from the same
// wallet has not reached a terminal state.
var ErrTransferInProgress = errors.New("a transfer is already in progress")

// Reason is the closed set of transfer failure causes.
type Reason string

const (
	ReasonEmptyRecipient          Reason = "empty_recipient"
	ReasonEmptyAmount             Reason = "empty_amount"
	ReasonInvalidAmount           Reason = "invalid_amount"
	ReasonUnresolvedRecipientName Reason = "unresolved_recipient_name"
	ReasonInsufficientFunds       Reason = "insufficient_funds"
	ReasonSubmissionRejected      Reason = "submission_rejected"
	ReasonConfirmationTimeout     Reason = "confirmation_timeout"
	ReasonUnknown                 Reason = "unknown"
)

var userMessages = map[Reason]string{
	ReasonEmptyRecipient:          "Please enter a recipient address",
	ReasonEmptyAmount:             "Please enter a transfer amount",
	ReasonInvalidAmount:           "Please enter a valid transfer amount",
	ReasonUnresolvedRecipientName: "Please enter a correct wallet address",
	ReasonInsufficientFunds:       "Your wallet doesn't have sufficient funds",
	ReasonSubmissionRejected:      "The network rejected the transaction",
	ReasonConfirmationTimeout:     "The transaction was not confirmed in time, check the explorer before retrying",
	ReasonUnknown:                 "There was some error, please try again later",
}

// Message returns the user-facing text for r.
func (r Reason) Message() string {
	if msg, ok := userMessages[r]; ok {
		return msg
	}
	return userMessages[ReasonUnknown]
}

// ValidationError is reported before any network call is made.
type ValidationError struct {
	Reason Reason
	Input  string
}

func (e *ValidationError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("invalid transfer: %s", e.Reason)
	}
	return fmt.Sprintf("invalid transfer: %s (%q)", e.Reason, e.Input)
}

// ChainError is a classified failure of submission or confirmation. Err
// keeps the provider error for logs only.
type ChainError struct {
	Reason Reason
	TxHash string
	Err    error
}

func (e *ChainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transfer failed: %s", e.Reason)
	}
	return fmt.Sprintf("transfer failed: %s: %v", e.Reason, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// UserMessage maps any transfer error to a message safe to show to the
// user. Provider text is never included.
func UserMessage(err error) string {
	return ReasonOf(err).Message()
}

// ReasonOf extracts the classified reason from err.
func ReasonOf(err error) Reason {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	var cerr *ChainError
	if errors.As(err, &cerr) {
		return cerr.Reason
	}
	return ReasonUnknown
}

// JSON-RPC codes nodes use for rejected transactions.
const (
	codeTransactionRejected = -32003
	codeInvalidInput        = -32000
)

// rejectionMarkers are node messages for transactions refused by the pool.
var rejectionMarkers = []string{
	"nonce too low",
	"nonce too high",
	"replacement transaction underpriced",
	"transaction underpriced",
	"already known",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"gas limit reached",
	"invalid sender",
}

// classify maps a provider error to a Reason. Typed errors are checked
// first. Pool errors reach the client only as JSON-RPC text, so their
// message is matched before the generic error code.
func classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, chain.ErrNameNotResolved):
		return ReasonUnresolvedRecipientName
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonConfirmationTimeout
	}

	if reason := classifyMessage(err.Error()); reason != ReasonUnknown {
		return reason
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeTransactionRejected, codeInvalidInput:
			return ReasonSubmissionRejected
		}
	}
	return ReasonUnknown
}

func classifyMessage(msg string) Reason {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return ReasonInsufficientFunds
	case strings.Contains(msg, "does not support ens"):
		return ReasonUnresolvedRecipientName
	}
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return ReasonSubmissionRejected
		}
	}
	return ReasonUnknown
}
