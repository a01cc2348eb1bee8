package monitors

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
	"wallet-engine/internal/wallet"
)

const (
	refreshTimeout      = 30 * time.Second
	maxResubscribeDelay = 30 * time.Second
	minResubscribeDelay = 100 * time.Millisecond
)

// BalanceMonitor keeps the balance and nonce of a wallet current by
// re-reading both on every new block.
type BalanceMonitor struct {
	*BaseMonitor
	chain interfaces.ChainClient
	sinks []interfaces.BalanceSink

	// OnUpdate is called with every snapshot that becomes the latest one.
	OnUpdate func(models.BalanceSnapshot)
	// OnError is called when the block stream drops. The monitor keeps
	// resubscribing until the subscription is cancelled.
	OnError func(error)

	latest    models.BalanceSnapshot
	hasLatest bool
}

func NewBalanceMonitor(base *BaseMonitor, chain interfaces.ChainClient, sinks ...interfaces.BalanceSink) *BalanceMonitor {
	return &BalanceMonitor{
		BaseMonitor: base,
		chain:       chain,
		sinks:       sinks,
	}
}

// Subscription ties a wallet to the block notification stream. It must be
// cancelled with Unsubscribe when the owning view goes away.
type Subscription struct {
	cancel   context.CancelFunc
	mu       sync.Mutex
	upstream ethereum.Subscription
	done     chan struct{}
	refresh  sync.WaitGroup
	once     sync.Once
}

func (s *Subscription) current() ethereum.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

func (s *Subscription) replace(upstream ethereum.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upstream = upstream
}

// Unsubscribe stops the notification stream and waits for in-flight
// refreshes. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.current().Unsubscribe()
		s.refresh.Wait()
	})
}

// Done is closed once the notification loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Attach binds h to the chain, reads its balance once and re-reads it on
// every block notification.
func (m *BalanceMonitor) Attach(ctx context.Context, h *wallet.Handle) (*Subscription, error) {
	if h.Bind() {
		m.Logger.Debug().Str("address", h.Address().Hex()).Msg("Wallet bound to chain client")
	}

	if _, err := m.RefreshBalance(ctx, h); err != nil {
		m.Logger.Warn().Err(err).Str("address", h.Address().Hex()).Msg("Initial balance read failed")
	}

	blocks := make(chan uint64, 16)
	upstream, err := m.chain.SubscribeNewBlocks(ctx, blocks)
	if err != nil {
		return nil, fmt.Errorf("subscribe to new blocks: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		cancel:   cancel,
		upstream: upstream,
		done:     make(chan struct{}),
	}

	m.Logger.Info().Str("address", h.Address().Hex()).Msg("Tracking wallet balance")

	go m.monitorBlocks(loopCtx, h, blocks, sub)

	return sub, nil
}

func (m *BalanceMonitor) monitorBlocks(ctx context.Context, h *wallet.Handle, blocks chan uint64, sub *Subscription) {
	defer close(sub.done)

	upstream := sub.current()
	for {
		select {
		case <-ctx.Done():
			m.Logger.Debug().Str("address", h.Address().Hex()).Msg("Balance monitor shutting down")
			return
		case err := <-upstream.Err():
			if err == nil {
				err = errors.New("block subscription closed")
			}
			m.Logger.Error().Err(err).Str("address", h.Address().Hex()).Msg("Block subscription failed")
			if m.OnError != nil {
				m.OnError(fmt.Errorf("balance updates paused: %w", err))
			}
			if !m.resubscribe(ctx, h, blocks, sub) {
				return
			}
			upstream = sub.current()
			// Blocks may have been missed while the stream was down.
			m.spawnRefresh(ctx, h, 0, sub)
		case blockNum := <-blocks:
			m.spawnRefresh(ctx, h, blockNum, sub)
		}
	}
}

// spawnRefresh runs one refresh in the background. Refreshes run
// concurrently; whichever answers last wins.
func (m *BalanceMonitor) spawnRefresh(ctx context.Context, h *wallet.Handle, blockNum uint64, sub *Subscription) {
	sub.refresh.Add(1)
	go func() {
		defer sub.refresh.Done()
		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		if _, err := m.refresh(rctx, h, blockNum); err != nil && ctx.Err() == nil {
			m.Logger.Error().Err(err).Uint64("blockNumber", blockNum).Msg("Balance refresh failed")
		}
	}()
}

// resubscribe reopens the block stream with exponential backoff. It
// returns false once ctx is done.
func (m *BalanceMonitor) resubscribe(ctx context.Context, h *wallet.Handle, blocks chan uint64, sub *Subscription) bool {
	sub.current().Unsubscribe()

	delay := m.RetryDelay
	if delay < minResubscribeDelay {
		delay = minResubscribeDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}

		upstream, err := m.chain.SubscribeNewBlocks(ctx, blocks)
		if err == nil {
			sub.replace(upstream)
			m.Logger.Info().
				Str("address", h.Address().Hex()).
				Int("attempt", attempt).
				Msg("Block subscription restored")
			return true
		}

		delay *= 2
		if delay > maxResubscribeDelay {
			delay = maxResubscribeDelay
		}
		m.Logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retryIn", delay).
			Msg("Resubscribe to new blocks failed")
		timer.Reset(delay)
	}
}

// RefreshBalance reads balance and nonce once and publishes the snapshot.
func (m *BalanceMonitor) RefreshBalance(ctx context.Context, h *wallet.Handle) (models.BalanceSnapshot, error) {
	return m.refresh(ctx, h, 0)
}

func (m *BalanceMonitor) refresh(ctx context.Context, h *wallet.Handle, blockNum uint64) (models.BalanceSnapshot, error) {
	snapshot, err := m.read(ctx, h.Address(), blockNum)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	h.SetNonce(snapshot.Nonce)

	m.Mu.Lock()
	m.latest = snapshot
	m.hasLatest = true
	m.Mu.Unlock()

	m.publish(ctx, snapshot)
	if m.OnUpdate != nil {
		m.OnUpdate(snapshot)
	}

	return snapshot, nil
}

// Lookup reads the balance of any address and forwards it to the sinks
// without touching the tracked wallet state.
func (m *BalanceMonitor) Lookup(ctx context.Context, addr common.Address) (models.BalanceSnapshot, error) {
	snapshot, err := m.read(ctx, addr, 0)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	m.publish(ctx, snapshot)
	return snapshot, nil
}

func (m *BalanceMonitor) read(ctx context.Context, addr common.Address, blockNum uint64) (models.BalanceSnapshot, error) {
	snapshot := models.BalanceSnapshot{
		Address:     addr.Hex(),
		BlockNumber: blockNum,
	}
	err := m.Retry(ctx, func() error {
		balance, err := m.chain.BalanceAt(ctx, addr)
		if err != nil {
			return err
		}
		nonce, err := m.chain.NonceAt(ctx, addr)
		if err != nil {
			return err
		}
		snapshot.Wei = balance
		snapshot.Nonce = nonce
		return nil
	})
	if err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("refresh balance of %s: %w", addr.Hex(), err)
	}

	snapshot.Ether = FormatEther(snapshot.Wei)
	snapshot.AsOf = time.Now()

	m.Logger.Debug().
		Str("address", snapshot.Address).
		Str("ether", snapshot.Ether).
		Uint64("nonce", snapshot.Nonce).
		Uint64("blockNumber", blockNum).
		Msg("Balance refreshed")

	return snapshot, nil
}

func (m *BalanceMonitor) publish(ctx context.Context, snapshot models.BalanceSnapshot) {
	for _, sink := range m.sinks {
		if err := sink.StoreSnapshot(ctx, snapshot); err != nil {
			m.Logger.Warn().Err(err).Str("address", snapshot.Address).Msg("Failed to store balance snapshot")
		}
	}
}

// Latest returns the most recently stored snapshot.
func (m *BalanceMonitor) Latest() (models.BalanceSnapshot, bool) {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	return m.latest, m.hasLatest
}

// FormatEther renders a wei amount as a decimal ether string without
// trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
