package interfaces

import (
	"context"

	"wallet-engine/internal/models"
)

// EventEmitter defines the interface for emitting transfer outcome events
type EventEmitter interface {
	EmitEvent(ctx context.Context, event models.TransferEvent) error
}
