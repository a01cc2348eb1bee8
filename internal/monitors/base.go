package monitors

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BaseMonitor contains the fields and helpers shared by chain monitors
type BaseMonitor struct {
	MaxRetries int
	RetryDelay time.Duration
	Mu         sync.RWMutex
	Logger     *zerolog.Logger
}

func NewBaseMonitor(maxRetries int, retryDelay time.Duration, logger *zerolog.Logger) *BaseMonitor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &BaseMonitor{
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Logger:     logger,
	}
}

// Retry runs fn up to MaxRetries times, giving up early when ctx is done.
func (b *BaseMonitor) Retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < b.MaxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == b.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.RetryDelay):
		}
	}
	return err
}
