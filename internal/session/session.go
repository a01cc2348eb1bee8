// Package session owns everything a mounted wallet view runs: the loaded
// wallet, its balance subscription, the history poller and the transfer
// executor. Close stops all of it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wallet-engine/internal/config"
	"wallet-engine/internal/history"
	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
	"wallet-engine/internal/monitors"
	"wallet-engine/internal/transfer"
	"wallet-engine/internal/wallet"
)

var (
	ErrClosed = errors.New("session closed")
	ErrNoUser = errors.New("session has no user")
)

// Deps are the collaborators of a session.
type Deps struct {
	Chain       interfaces.ChainClient
	Provisioner wallet.Provisioner
	History     history.Source
	Emitter     interfaces.EventEmitter
	Sinks       []interfaces.BalanceSink

	Session    config.SessionConfig
	ChainCfg   config.ChainConfig
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zerolog.Logger
}

type Session struct {
	deps    Deps
	loader  *wallet.Loader
	monitor *monitors.BalanceMonitor
	logger  *zerolog.Logger

	// Optional observers. They must be set before Open.
	OnBalance       func(models.BalanceSnapshot)
	OnHistory       func(models.Transfers, error)
	OnWarning       func(error)
	OnTransferClose func()

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes Open and Close, mu guards the fields below.
	opMu     sync.Mutex
	mu       sync.Mutex
	closed   bool
	handle   *wallet.Handle
	sub      *monitors.Subscription
	poller   *history.Poller
	executor *transfer.Executor
}

func New(deps Deps) *Session {
	s := &Session{
		deps:   deps,
		logger: deps.Logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.loader = wallet.NewLoader(deps.Provisioner, deps.Session.ProvisionTimeout, deps.Logger)
	s.loader.OnWarning = s.warn

	base := monitors.NewBaseMonitor(deps.MaxRetries, deps.RetryDelay, deps.Logger)
	s.monitor = monitors.NewBalanceMonitor(base, deps.Chain, deps.Sinks...)
	s.monitor.OnUpdate = func(snap models.BalanceSnapshot) {
		if s.OnBalance != nil {
			s.OnBalance(snap)
		}
	}
	s.monitor.OnError = s.warn
	return s
}

func (s *Session) warn(err error) {
	if s.OnWarning != nil {
		s.OnWarning(err)
	}
}

// Open loads the wallet of user and starts tracking it. Calling it again
// with a record holding a different key replaces the wallet and restarts
// every attachment.
func (s *Session) Open(ctx context.Context, user models.UserAccount) error {
	if user.ID == "" {
		return ErrNoUser
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	closed, current := s.closed, s.handle
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	h, err := s.loader.LoadOrCreate(ctx, user)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	if h == current {
		return nil
	}

	s.detach().stop()

	sub, err := s.monitor.Attach(ctx, h)
	if err != nil {
		return fmt.Errorf("attach balance monitor: %w", err)
	}

	poller := history.NewPoller(s.deps.History, h.Address().Hex(), s.deps.Session.HistoryPollInterval, s.logger)
	poller.OnResult = func(t models.Transfers, err error) {
		if s.OnHistory != nil {
			s.OnHistory(t, err)
		}
	}
	poller.Start(s.ctx)

	executor := transfer.NewExecutor(s.deps.Chain, h, s.monitor, s.deps.Emitter, transfer.Options{
		GasLimit:            s.deps.ChainCfg.GasLimit,
		ConfirmationTimeout: s.deps.Session.ConfirmationTimeout,
		CloseDelay:          s.deps.Session.CloseDelay,
		ExplorerBaseURL:     s.deps.ChainCfg.ExplorerBaseURL,
	}, s.logger)
	executor.OnClose = func() {
		if s.OnTransferClose != nil {
			s.OnTransferClose()
		}
	}

	s.mu.Lock()
	s.handle = h
	s.sub = sub
	s.poller = poller
	s.executor = executor
	s.mu.Unlock()

	s.logger.Info().
		Str("userId", user.ID).
		Str("address", h.Address().Hex()).
		Msg("Wallet session opened")
	return nil
}

type attachments struct {
	sub      *monitors.Subscription
	poller   *history.Poller
	executor *transfer.Executor
}

// detach takes the attachments of the current wallet out of the session.
func (s *Session) detach() attachments {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := attachments{sub: s.sub, poller: s.poller, executor: s.executor}
	s.handle, s.sub, s.poller, s.executor = nil, nil, nil, nil
	return a
}

func (a attachments) stop() {
	if a.sub != nil {
		a.sub.Unsubscribe()
	}
	if a.poller != nil {
		a.poller.Stop()
	}
	if a.executor != nil {
		a.executor.Wait()
	}
}

// Wallet returns the loaded wallet, or nil before Open.
func (s *Session) Wallet() *wallet.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Balance returns the latest balance snapshot.
func (s *Session) Balance() (models.BalanceSnapshot, bool) {
	return s.monitor.Latest()
}

// RefreshBalance re-reads the balance of the loaded wallet.
func (s *Session) RefreshBalance(ctx context.Context) (models.BalanceSnapshot, error) {
	h := s.Wallet()
	if h == nil {
		return models.BalanceSnapshot{}, ErrClosed
	}
	return s.monitor.RefreshBalance(ctx, h)
}

func (s *Session) currentPoller() (*history.Poller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller == nil {
		return nil, ErrClosed
	}
	return s.poller, nil
}

// OpenHistory fetches the history unless it was already fetched.
func (s *Session) OpenHistory(ctx context.Context) error {
	p, err := s.currentPoller()
	if err != nil {
		return err
	}
	ctx, release := s.bind(ctx)
	defer release()
	p.FetchIfNeeded(ctx)
	return nil
}

// RefreshHistory forces a fetch. It reports false when one is already
// running.
func (s *Session) RefreshHistory(ctx context.Context) (bool, error) {
	p, err := s.currentPoller()
	if err != nil {
		return false, err
	}
	ctx, release := s.bind(ctx)
	defer release()
	return p.Fetch(ctx), nil
}

// CloseHistory forgets the fetched history. The poller keeps running.
func (s *Session) CloseHistory() {
	if p, err := s.currentPoller(); err == nil {
		p.State().Reset()
	}
}

// History returns the current history state.
func (s *Session) History() (history.Snapshot, error) {
	p, err := s.currentPoller()
	if err != nil {
		return history.Snapshot{}, err
	}
	return p.State().Snapshot(), nil
}

func (s *Session) currentExecutor() (*transfer.Executor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executor == nil {
		return nil, ErrClosed
	}
	return s.executor, nil
}

// Transfer sends req and waits for confirmation.
func (s *Session) Transfer(ctx context.Context, req models.TransferRequest) (*transfer.Result, error) {
	e, err := s.currentExecutor()
	if err != nil {
		return nil, err
	}
	ctx, release := s.bind(ctx)
	defer release()
	return e.Transfer(ctx, req)
}

// TransferAsync sends req in the background.
func (s *Session) TransferAsync(ctx context.Context, req models.TransferRequest) (<-chan transfer.Outcome, error) {
	e, err := s.currentExecutor()
	if err != nil {
		return nil, err
	}
	ctx, release := s.bind(ctx)
	inner := e.TransferAsync(ctx, req)

	out := make(chan transfer.Outcome, 1)
	go func() {
		o := <-inner
		release()
		out <- o
	}()
	return out, nil
}

// TransferState reports the executor state.
func (s *Session) TransferState() transfer.State {
	e, err := s.currentExecutor()
	if err != nil {
		return transfer.StateIdle
	}
	return e.State()
}

// bind returns a context cancelled by either ctx or Close. release must be
// called once the context is no longer used.
func (s *Session) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Close stops the balance subscription, the history poller and pending
// transfers, then waits for a pending provisioning call. Safe to call more
// than once.
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.detach().stop()
	s.loader.Wait()
	s.logger.Info().Msg("Wallet session closed")
}
