// Package transfer sends value transfers from a session wallet and reports
// a classified outcome.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
	"wallet-engine/internal/validation"
	"wallet-engine/internal/wallet"
)

const weiDecimals = 18

// State of the executor.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateConfirming
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateConfirming:
		return "confirming"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// BalanceRefresher re-reads the wallet balance after a transfer.
type BalanceRefresher interface {
	RefreshBalance(ctx context.Context, h *wallet.Handle) (models.BalanceSnapshot, error)
}

type Options struct {
	GasLimit            uint64
	ConfirmationTimeout time.Duration
	CloseDelay          time.Duration
	ExplorerBaseURL     string
}

// Result describes a confirmed transfer.
type Result struct {
	TxHash      common.Hash
	From        common.Address
	To          common.Address
	Amount      decimal.Decimal
	Receipt     *types.Receipt
	ExplorerURL string
}

// Outcome is delivered by TransferAsync.
type Outcome struct {
	Result *Result
	Err    error
}

// Executor runs one transfer at a time for a wallet.
type Executor struct {
	chain     interfaces.ChainClient
	handle    *wallet.Handle
	refresher BalanceRefresher
	emitter   interfaces.EventEmitter
	opts      Options
	logger    *zerolog.Logger

	// OnStateChange observes every transition.
	OnStateChange func(State)
	// OnClose fires CloseDelay after a successful transfer.
	OnClose func()

	mu      sync.Mutex
	state   State
	busy    bool
	request models.TransferRequest

	pending sync.WaitGroup
}

func NewExecutor(
	chain interfaces.ChainClient,
	handle *wallet.Handle,
	refresher BalanceRefresher,
	emitter interfaces.EventEmitter,
	opts Options,
	logger *zerolog.Logger,
) *Executor {
	if opts.GasLimit == 0 {
		opts.GasLimit = 21000
	}
	return &Executor{
		chain:     chain,
		handle:    handle,
		refresher: refresher,
		emitter:   emitter,
		opts:      opts,
		logger:    logger,
	}
}

func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Request returns the request of the last attempt. It is cleared once a
// submission reaches a terminal state; rejected input is kept for editing.
func (e *Executor) Request() models.TransferRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.request
}

func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// TransferAsync runs Transfer in its own goroutine so confirmation never
// blocks the caller. A busy executor is reported on the channel.
func (e *Executor) TransferAsync(ctx context.Context, req models.TransferRequest) <-chan Outcome {
	out := make(chan Outcome, 1)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		res, err := e.Transfer(ctx, req)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// Transfer validates req, submits one signed value transfer and waits for
// it to be mined. Returned errors are *ValidationError, *ChainError or
// ErrTransferInProgress.
func (e *Executor) Transfer(ctx context.Context, req models.TransferRequest) (*Result, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return nil, ErrTransferInProgress
	}
	e.busy = true
	e.request = req
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()

	e.setState(StateValidating)
	amount, wei, err := parseRequest(req)
	if err != nil {
		return nil, e.fail(ctx, req, "", err)
	}

	e.setState(StateSubmitting)
	signed, to, err := e.submit(ctx, strings.TrimSpace(req.Recipient), wei)
	if err != nil {
		return nil, e.fail(ctx, req, "", err)
	}
	txHash := signed.Hash().Hex()

	e.setState(StateConfirming)
	receipt, err := e.confirm(ctx, signed)
	if err != nil {
		return nil, e.fail(ctx, req, txHash, err)
	}

	result := &Result{
		TxHash:      signed.Hash(),
		From:        e.handle.Address(),
		To:          to,
		Amount:      amount,
		Receipt:     receipt,
		ExplorerURL: e.explorerURL(txHash),
	}
	e.succeed(ctx, result)
	return result, nil
}

func parseRequest(req models.TransferRequest) (decimal.Decimal, *big.Int, error) {
	recipient := strings.TrimSpace(req.Recipient)
	raw := strings.TrimSpace(req.Amount)

	if recipient == "" {
		return decimal.Decimal{}, nil, &ValidationError{Reason: ReasonEmptyRecipient}
	}
	if raw == "" {
		return decimal.Decimal{}, nil, &ValidationError{Reason: ReasonEmptyAmount}
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, nil, &ValidationError{Reason: ReasonInvalidAmount, Input: raw}
	}
	if err := validation.ValidateAmount(amount); err != nil {
		return decimal.Decimal{}, nil, &ValidationError{Reason: ReasonInvalidAmount, Input: raw}
	}

	wei := amount.Shift(weiDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return decimal.Decimal{}, nil, &ValidationError{Reason: ReasonInvalidAmount, Input: raw}
	}
	return amount, wei.BigInt(), nil
}

func (e *Executor) submit(ctx context.Context, recipient string, wei *big.Int) (*types.Transaction, common.Address, error) {
	to, err := e.resolveRecipient(ctx, recipient)
	if err != nil {
		return nil, common.Address{}, err
	}

	from := e.handle.Address()

	chainID, err := e.chain.ChainID(ctx)
	if err != nil {
		return nil, to, submitError("failed to get chain id", err)
	}

	nonce, err := e.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, to, submitError("failed to get nonce", err)
	}
	if known, ok := e.handle.Nonce(); ok && known > nonce {
		nonce = known
	}

	gasPrice, err := e.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, to, submitError("failed to suggest gas price", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    wei,
		Gas:      e.opts.GasLimit,
		GasPrice: gasPrice,
	})

	signed, err := e.handle.SignTx(tx, chainID)
	if err != nil {
		return nil, to, &ChainError{Reason: ReasonUnknown, Err: err}
	}

	if err := e.chain.SendTransaction(ctx, signed); err != nil {
		return nil, to, submitError("failed to send transaction", err)
	}
	e.handle.SetNonce(nonce + 1)

	e.logger.Info().
		Str("from", from.Hex()).
		Str("to", to.Hex()).
		Str("txHash", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Msg("Transaction submitted")

	return signed, to, nil
}

// submitError classifies a failure that happened before the transaction
// left the node. Nothing was broadcast, so a deadline is not a
// confirmation timeout.
func submitError(op string, err error) *ChainError {
	reason := classify(err)
	if reason == ReasonConfirmationTimeout {
		reason = ReasonUnknown
	}
	return &ChainError{Reason: reason, Err: fmt.Errorf("%s: %w", op, err)}
}

func (e *Executor) resolveRecipient(ctx context.Context, recipient string) (common.Address, error) {
	err := validation.ValidateAddress(recipient)
	switch {
	case err == nil:
		return common.HexToAddress(recipient), nil
	case validation.IsHexAddress(recipient):
		// A hex address with a broken checksum is a typo, not a name.
		return common.Address{}, &ChainError{Reason: ReasonUnresolvedRecipientName, Err: fmt.Errorf("recipient %q: %w", recipient, err)}
	}
	to, err := e.chain.ResolveName(ctx, recipient)
	if err != nil {
		return common.Address{}, &ChainError{Reason: ReasonUnresolvedRecipientName, Err: err}
	}
	return to, nil
}

func (e *Executor) confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if e.opts.ConfirmationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ConfirmationTimeout)
		defer cancel()
	}

	receipt, err := e.chain.WaitMined(ctx, tx)
	if err != nil {
		reason := classify(err)
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonConfirmationTimeout
		}
		return nil, &ChainError{Reason: reason, TxHash: tx.Hash().Hex(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &ChainError{
			Reason: ReasonSubmissionRejected,
			TxHash: tx.Hash().Hex(),
			Err:    fmt.Errorf("transaction reverted in block %v", receipt.BlockNumber),
		}
	}
	return receipt, nil
}

func (e *Executor) succeed(ctx context.Context, result *Result) {
	e.setState(StateSucceeded)

	e.logger.Info().
		Str("txHash", result.TxHash.Hex()).
		Str("amount", result.Amount.String()).
		Str("explorer", result.ExplorerURL).
		Msg("Transaction confirmed")

	if e.refresher != nil {
		if _, err := e.refresher.RefreshBalance(ctx, e.handle); err != nil {
			e.logger.Warn().Err(err).Msg("Balance refresh after transfer failed")
		}
	}

	e.mu.Lock()
	e.request = models.TransferRequest{}
	e.mu.Unlock()

	e.emit(ctx, models.TransferEvent{
		From:        result.From.Hex(),
		To:          result.To.Hex(),
		Amount:      result.Amount.String(),
		Status:      models.TransferSucceeded,
		TxHash:      result.TxHash.Hex(),
		ExplorerURL: result.ExplorerURL,
	})

	if e.OnClose != nil {
		e.pending.Add(1)
		time.AfterFunc(e.opts.CloseDelay, func() {
			defer e.pending.Done()
			e.OnClose()
		})
	}
}

func (e *Executor) fail(ctx context.Context, req models.TransferRequest, txHash string, err error) error {
	e.setState(StateFailed)
	reason := ReasonOf(err)

	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		e.mu.Lock()
		e.request = models.TransferRequest{}
		e.mu.Unlock()
	}

	e.logger.Warn().
		Err(err).
		Str("reason", string(reason)).
		Str("txHash", txHash).
		Msg("Transfer failed")

	e.emit(ctx, models.TransferEvent{
		From:        e.handle.Address().Hex(),
		To:          req.Recipient,
		Amount:      req.Amount,
		Status:      models.TransferFailed,
		Reason:      string(reason),
		TxHash:      txHash,
		ExplorerURL: e.explorerURL(txHash),
	})
	return err
}

func (e *Executor) emit(ctx context.Context, event models.TransferEvent) {
	if e.emitter == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	if err := e.emitter.EmitEvent(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Error().Err(err).Str("txHash", event.TxHash).Msg("Failed to emit transfer event")
	}
}

func (e *Executor) explorerURL(txHash string) string {
	if e.opts.ExplorerBaseURL == "" || validation.ValidateTxHash(txHash) != nil {
		return ""
	}
	return e.opts.ExplorerBaseURL + txHash
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()

	if e.OnStateChange != nil {
		e.OnStateChange(s)
	}
}

// Wait blocks until async transfers and scheduled close callbacks finish.
func (e *Executor) Wait() {
	e.pending.Wait()
}
