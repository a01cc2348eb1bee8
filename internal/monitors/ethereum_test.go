package monitors

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"

	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
	"wallet-engine/internal/wallet"
)

// mockChain is an in-memory chain whose block stream is driven by the test.
type mockChain struct {
	mu           sync.Mutex
	balance      *big.Int
	nonce        uint64
	balanceCalls int
	balanceErr   error
	blocks       chan<- uint64
	drop         chan error
	subscribes   int
}

func newMockChain(balance int64) *mockChain {
	return &mockChain{balance: big.NewInt(balance)}
}

func (c *mockChain) set(balance int64, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = big.NewInt(balance)
	c.nonce = nonce
}

func (c *mockChain) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceCalls
}

func (c *mockChain) ChainID(context.Context) (*big.Int, error)   { return big.NewInt(1), nil }
func (c *mockChain) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func (c *mockChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceCalls++
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	return new(big.Int).Set(c.balance), nil
}

func (c *mockChain) NonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce, nil
}

func (c *mockChain) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	return c.NonceAt(ctx, a)
}

func (c *mockChain) SubscribeNewBlocks(_ context.Context, ch chan<- uint64) (ethereum.Subscription, error) {
	c.mu.Lock()
	c.blocks = ch
	c.subscribes++
	drop := make(chan error, 1)
	c.drop = drop
	c.mu.Unlock()
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			return nil
		case err := <-drop:
			return err
		}
	}), nil
}

// fail ends the current block stream with err.
func (c *mockChain) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop <- err
}

func (c *mockChain) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}

// notify delivers a block without blocking once nobody listens anymore.
func (c *mockChain) notify(n uint64) bool {
	c.mu.Lock()
	ch := c.blocks
	c.mu.Unlock()
	select {
	case ch <- n:
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func (c *mockChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (c *mockChain) SendTransaction(context.Context, *types.Transaction) error {
	return errors.New("not implemented")
}
func (c *mockChain) WaitMined(context.Context, *types.Transaction) (*types.Receipt, error) {
	return nil, errors.New("not implemented")
}
func (c *mockChain) ResolveName(context.Context, string) (common.Address, error) {
	return common.Address{}, errors.New("not implemented")
}

type mockSink struct {
	mu        sync.Mutex
	snapshots []models.BalanceSnapshot
	err       error
}

func (s *mockSink) StoreSnapshot(_ context.Context, snap models.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return s.err
}

func (s *mockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func setupTestMonitor(chain *mockChain, sinks ...*mockSink) *BalanceMonitor {
	logger := zerolog.Nop()
	base := NewBaseMonitor(1, time.Millisecond, &logger)
	var s []interfaces.BalanceSink
	for _, sink := range sinks {
		s = append(s, sink)
	}
	return NewBalanceMonitor(base, chain, s...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBalanceMonitor_AttachReadsImmediately(t *testing.T) {
	chain := newMockChain(1_500_000_000_000_000_000)
	chain.set(1_500_000_000_000_000_000, 3)
	monitor := setupTestMonitor(chain)
	h, _ := wallet.Generate()

	sub, err := monitor.Attach(context.Background(), h)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer sub.Unsubscribe()

	if !h.IsChainConnected() {
		t.Error("handle should be bound after Attach")
	}
	snap, ok := monitor.Latest()
	if !ok {
		t.Fatal("no snapshot after Attach")
	}
	if snap.Ether != "1.5" || snap.Nonce != 3 || snap.Address != h.Address().Hex() {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if n, ok := h.Nonce(); !ok || n != 3 {
		t.Errorf("handle nonce = %d, %v", n, ok)
	}
}

func TestBalanceMonitor_ConvergesAfterNotifications(t *testing.T) {
	chain := newMockChain(0)
	sink := &mockSink{}
	monitor := setupTestMonitor(chain, sink)
	h, _ := wallet.Generate()

	sub, err := monitor.Attach(context.Background(), h)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer sub.Unsubscribe()

	chain.set(42_000_000_000_000_000, 9)
	const notifications = 5
	for i := 1; i <= notifications; i++ {
		if !chain.notify(uint64(100 + i)) {
			t.Fatalf("notification %d not consumed", i)
		}
	}

	waitFor(t, "one refresh per notification", func() bool {
		return chain.calls() == notifications+1 && sink.count() == notifications+1
	})

	snap, _ := monitor.Latest()
	if snap.Wei.Cmp(big.NewInt(42_000_000_000_000_000)) != 0 || snap.Ether != "0.042" || snap.Nonce != 9 {
		t.Errorf("latest snapshot %+v did not converge", snap)
	}
}

func TestBalanceMonitor_UnsubscribeStopsRefreshes(t *testing.T) {
	chain := newMockChain(1)
	monitor := setupTestMonitor(chain)
	h, _ := wallet.Generate()

	sub, err := monitor.Attach(context.Background(), h)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	chain.notify(1)
	waitFor(t, "first refresh", func() bool { return chain.calls() == 2 })

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case <-sub.Done():
	default:
		t.Fatal("Done() not closed after Unsubscribe")
	}

	chain.notify(2)
	time.Sleep(20 * time.Millisecond)
	if got := chain.calls(); got != 2 {
		t.Errorf("balance read %d times after unsubscribe, want 2", got)
	}
}

func TestBalanceMonitor_RefreshErrors(t *testing.T) {
	chain := newMockChain(1)
	chain.balanceErr = errors.New("connection refused")
	sink := &mockSink{}
	monitor := setupTestMonitor(chain, sink)
	h, _ := wallet.Generate()

	if _, err := monitor.RefreshBalance(context.Background(), h); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := monitor.Latest(); ok {
		t.Error("failed refresh must not publish a snapshot")
	}
	if sink.count() != 0 {
		t.Error("failed refresh reached the sink")
	}
}

func TestBalanceMonitor_SinkErrorIsNotFatal(t *testing.T) {
	chain := newMockChain(10)
	sink := &mockSink{err: errors.New("redis down")}
	monitor := setupTestMonitor(chain, sink)
	h, _ := wallet.Generate()

	var updates int
	monitor.OnUpdate = func(models.BalanceSnapshot) { updates++ }

	if _, err := monitor.RefreshBalance(context.Background(), h); err != nil {
		t.Fatalf("RefreshBalance() error = %v", err)
	}
	if updates != 1 || sink.count() != 1 {
		t.Errorf("updates = %d, sink = %d", updates, sink.count())
	}
}

func TestBalanceMonitor_LookupLeavesLatestAlone(t *testing.T) {
	chain := newMockChain(5)
	sink := &mockSink{}
	monitor := setupTestMonitor(chain, sink)

	snap, err := monitor.Lookup(context.Background(), common.HexToAddress("0x95222290DD7278Aa3Ddd389Cc1E1d165CC4BAfe5"))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if snap.Wei.Int64() != 5 {
		t.Errorf("Wei = %s, want 5", snap.Wei)
	}
	if sink.count() != 1 {
		t.Errorf("sink = %d, want 1", sink.count())
	}
	if _, ok := monitor.Latest(); ok {
		t.Error("Lookup must not set the latest snapshot")
	}
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei      *big.Int
		expected string
	}{
		{wei: nil, expected: "0"},
		{wei: big.NewInt(0), expected: "0"},
		{wei: big.NewInt(1), expected: "0.000000000000000001"},
		{wei: big.NewInt(1_000_000_000_000_000_000), expected: "1"},
		{wei: big.NewInt(1_250_000_000_000_000_000), expected: "1.25"},
	}

	for _, tt := range tests {
		if got := FormatEther(tt.wei); got != tt.expected {
			t.Errorf("FormatEther(%v) = %q, want %q", tt.wei, got, tt.expected)
		}
	}
}

func TestBalanceMonitor_ResubscribesAfterStreamError(t *testing.T) {
	chain := newMockChain(1)
	monitor := setupTestMonitor(chain)
	h, _ := wallet.Generate()

	errs := make(chan error, 1)
	monitor.OnError = func(err error) { errs <- err }
	var updates atomic.Int32
	monitor.OnUpdate = func(models.BalanceSnapshot) { updates.Add(1) }

	sub, err := monitor.Attach(context.Background(), h)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer sub.Unsubscribe()

	chain.fail(errors.New("websocket: close 1006"))

	select {
	case err := <-errs:
		if err == nil {
			t.Error("OnError called with nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream error was not reported")
	}
	waitFor(t, "resubscription", func() bool { return chain.subscriptions() == 2 })

	select {
	case <-sub.Done():
		t.Fatal("monitor loop exited after a stream error")
	default:
	}

	// One catch-up read after resubscribing, then one per block again.
	waitFor(t, "catch-up refresh", func() bool { return updates.Load() == 2 })
	chain.set(7, 1)
	if !chain.notify(200) {
		t.Fatal("notification after resubscribe not consumed")
	}
	waitFor(t, "refresh after resubscribe", func() bool {
		snap, _ := monitor.Latest()
		return snap.Wei != nil && snap.Wei.Int64() == 7
	})
}
