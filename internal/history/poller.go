package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wallet-engine/internal/models"
)

const fetchTimeout = time.Minute

// Poller refreshes the history of one address on a fixed interval and on
// demand. Both paths share the QueryState loading guard.
type Poller struct {
	source   Source
	address  string
	interval time.Duration
	state    *QueryState
	logger   *zerolog.Logger

	// OnResult is called after every completed fetch.
	OnResult func(models.Transfers, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func NewPoller(source Source, address string, interval time.Duration, logger *zerolog.Logger) *Poller {
	return &Poller{
		source:   source,
		address:  address,
		interval: interval,
		state:    &QueryState{},
		logger:   logger,
	}
}

func (p *Poller) State() *QueryState {
	return p.state
}

// Start launches the timer. It is a no-op when already started.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running.Add(1)
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer p.running.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Str("address", p.address).Msg("History poller stopped")
			return
		case <-ticker.C:
			p.Fetch(ctx)
		}
	}
}

// Fetch runs one history fetch unless another is in flight, in which case
// it returns false immediately.
func (p *Poller) Fetch(ctx context.Context) bool {
	if !p.state.TryBegin() {
		p.logger.Debug().Str("address", p.address).Msg("History fetch already in flight")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	transfers, err := p.source.FetchHistory(ctx, p.address)
	if !p.state.Finish(transfers, err) {
		p.logger.Debug().Str("address", p.address).Msg("Dropped history fetch superseded by reset")
		return true
	}

	if p.OnResult != nil {
		p.OnResult(transfers, err)
	}
	return true
}

// FetchIfNeeded fetches only when nothing was fetched yet, the way opening
// the history view does.
func (p *Poller) FetchIfNeeded(ctx context.Context) bool {
	if p.state.Snapshot().Fetched {
		return false
	}
	return p.Fetch(ctx)
}

// Stop cancels the timer and waits for the loop to exit. Safe to call more
// than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.running.Wait()
}
