package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"wallet-engine/internal/logger"
)

const pingTimeout = 2 * time.Second

type ChainStatus struct {
	Name      string    `json:"name"`
	LastBlock uint64    `json:"last_block"`
	CheckedAt time.Time `json:"checked_at"`
}

// HeadReader reports the latest block number of a chain.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// PingFunc checks that a dependency is reachable.
type PingFunc func(ctx context.Context) error

var (
	isReady       int32
	chainStatuses = make(map[string]*ChainStatus)
	dependencies  = make(map[string]PingFunc)
	statusMutex   sync.RWMutex
)

func SetReady(ready bool) {
	if ready {
		atomic.StoreInt32(&isReady, 1)
	} else {
		atomic.StoreInt32(&isReady, 0)
	}
}

// RegisterDependency adds a dependency checked on every readiness probe.
func RegisterDependency(name string, ping PingFunc) {
	statusMutex.Lock()
	defer statusMutex.Unlock()
	dependencies[name] = ping
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	statusMutex.RLock()
	chains := make(map[string]ChainStatus, len(chainStatuses))
	for name, s := range chainStatuses {
		chains[name] = *s
	}
	deps := make(map[string]PingFunc, len(dependencies))
	for name, ping := range dependencies {
		deps[name] = ping
	}
	statusMutex.RUnlock()

	if len(chains) == 0 || atomic.LoadInt32(&isReady) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	code := http.StatusOK
	depStatus := make(map[string]string, len(deps))
	for name, ping := range deps {
		if err := ping(ctx); err != nil {
			logger.GetLogger().Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
			depStatus[name] = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		depStatus[name] = "ok"
	}

	response := make(map[string]interface{})
	response["status"] = "Ready"
	if code != http.StatusOK {
		response["status"] = "Degraded"
	}
	response["chains"] = chains
	response["dependencies"] = depStatus

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// RegisterChain polls the chain head every interval until ctx is done.
func RegisterChain(ctx context.Context, name string, chain HeadReader, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			blockhead, err := chain.BlockNumber(ctx)
			if err != nil {
				logger.GetLogger().Error().
					Err(err).
					Str("chain", name).
					Msg("Error getting latest block")
			} else {
				updateChainStatus(name, blockhead)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func updateChainStatus(name string, lastBlock uint64) {
	statusMutex.Lock()
	defer statusMutex.Unlock()
	chainStatuses[name] = &ChainStatus{
		Name:      name,
		LastBlock: lastBlock,
		CheckedAt: time.Now().UTC(),
	}
}
