package events

import (
	"context"

	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/logger"
	"wallet-engine/internal/models"
)

// PrintEmitter logs every transfer event and forwards it to the wrapped
// emitter, if any.
type PrintEmitter struct {
	WrappedEmitter interfaces.EventEmitter
}

var _ interfaces.EventEmitter = (*PrintEmitter)(nil)

// EmitEvent logs the event and forwards to the wrapped emitter
func (d *PrintEmitter) EmitEvent(ctx context.Context, event models.TransferEvent) error {
	log := logger.Component("events")

	entry := log.Info()
	if event.Status == models.TransferFailed {
		entry = log.Warn().Str("reason", event.Reason)
	}
	entry.
		Str("id", event.ID).
		Str("status", string(event.Status)).
		Str("from", event.From).
		Str("to", event.To).
		Str("amount", event.Amount).
		Str("txHash", event.TxHash).
		Time("timestamp", event.Timestamp).
		Msg("Transfer details")

	if event.ExplorerURL != "" {
		log.Info().
			Str("txHash", event.TxHash).
			Str("explorer", event.ExplorerURL).
			Msg("Chain-specific information")
	}

	if d.WrappedEmitter != nil {
		return d.WrappedEmitter.EmitEvent(ctx, event)
	}
	return nil
}
