package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wallet-engine/internal/models"
)

type blockingSource struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *blockingSource) FetchHistory(ctx context.Context, address string) (models.Transfers, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return models.Transfers{}, ctx.Err()
		}
	}
	if s.err != nil {
		return models.Transfers{}, s.err
	}
	return models.Transfers{
		Incoming: []models.TransferRecord{{UniqueID: "in"}},
		Outgoing: []models.TransferRecord{},
	}, nil
}

func TestPollerCollapsesConcurrentFetches(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	p := NewPoller(src, testAddr, time.Hour, testLogger())

	started := make(chan bool, 1)
	go func() { started <- p.Fetch(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if p.Fetch(context.Background()) {
		t.Error("Expected second fetch to be rejected while loading")
	}
	if !p.State().Snapshot().Loading {
		t.Error("Expected state to be loading")
	}

	close(src.release)
	if !<-started {
		t.Error("Expected first fetch to run")
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("Expected 1 source call, got %d", got)
	}

	snap := p.State().Snapshot()
	if snap.Loading || !snap.Fetched {
		t.Errorf("Unexpected state after fetch: %+v", snap)
	}
	if len(snap.Transfers.Incoming) != 1 {
		t.Errorf("Expected 1 incoming transfer, got %d", len(snap.Transfers.Incoming))
	}
}

func TestPollerFailureKeepsPreviousTransfers(t *testing.T) {
	src := &blockingSource{}
	p := NewPoller(src, testAddr, time.Hour, testLogger())

	p.Fetch(context.Background())
	src.err = errors.New("boom")

	var gotErr error
	p.OnResult = func(_ models.Transfers, err error) { gotErr = err }
	p.Fetch(context.Background())

	if gotErr == nil {
		t.Error("Expected OnResult to receive the error")
	}
	snap := p.State().Snapshot()
	if snap.Err == nil {
		t.Error("Expected error in snapshot")
	}
	if len(snap.Transfers.Incoming) != 1 {
		t.Error("Expected previous transfers to be kept")
	}
}

func TestPollerFetchIfNeeded(t *testing.T) {
	src := &blockingSource{}
	p := NewPoller(src, testAddr, time.Hour, testLogger())

	if !p.FetchIfNeeded(context.Background()) {
		t.Error("Expected first FetchIfNeeded to fetch")
	}
	if p.FetchIfNeeded(context.Background()) {
		t.Error("Expected FetchIfNeeded to skip once fetched")
	}

	p.State().Reset()
	if !p.FetchIfNeeded(context.Background()) {
		t.Error("Expected FetchIfNeeded to fetch after reset")
	}
}

func TestPollerTicksAndStops(t *testing.T) {
	src := &blockingSource{}
	p := NewPoller(src, testAddr, 20*time.Millisecond, testLogger())

	var mu sync.Mutex
	results := 0
	p.OnResult = func(models.Transfers, error) {
		mu.Lock()
		results++
		mu.Unlock()
	}

	p.Start(context.Background())
	p.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := results
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	p.Stop()
	p.Stop()

	after := src.calls.Load()
	if after < 2 {
		t.Fatalf("Expected at least 2 timer fetches, got %d", after)
	}

	time.Sleep(60 * time.Millisecond)
	if got := src.calls.Load(); got != after {
		t.Errorf("Expected no fetches after Stop, got %d more", got-after)
	}
}
