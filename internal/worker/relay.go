package worker

import (
	"context"
	"log/slog"
	"time"

	"pagcore/internal/model"
	"pagcore/internal/repository"
)

const (
	relayInterval = time.Second
	relayBatch    = 100
)

// Outbox is the slice of the repository the relay drains.
type Outbox interface {
	PendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id string) error
}

// OutboxRelay moves committed lifecycle events from the outbox onto the bus.
// Events are written in the same database transaction as the state change
// that produced them, so a crash or bus outage between commit and publish
// only delays delivery. Publishing is at-least-once; consumers de-duplicate
// by event id.
type OutboxRelay struct {
	outbox Outbox
	bus    repository.MessageBus
}

func NewOutboxRelay(outbox Outbox, bus repository.MessageBus) *OutboxRelay {
	return &OutboxRelay{outbox: outbox, bus: bus}
}

// Start drains the outbox on a short tick and blocks until ctx is cancelled.
func (r *OutboxRelay) Start(ctx context.Context) error {
	slog.Info("outbox relay is running", "interval", relayInterval.String())

	ticker := time.NewTicker(relayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox relay shutting down")
			return nil
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				slog.Error("outbox sweep failed", "error", err)
			}
		}
	}
}

// Stop implements the infrastructure.Server interface; shutdown is via ctx.
func (r *OutboxRelay) Stop(ctx context.Context) error { return nil }

// RunOnce publishes pending events oldest first. A publish failure stops the
// sweep: the row stays unpublished and the next tick retries it, keeping
// per-topic order intact while the bus is down.
func (r *OutboxRelay) RunOnce(ctx context.Context) error {
	events, err := r.outbox.PendingEvents(ctx, relayBatch)
	if err != nil {
		return err
	}
	for i := range events {
		ev := &events[i]
		if err := r.bus.Publish(ev.Topic, ev.Payload); err != nil {
			return err
		}
		if err := r.outbox.MarkEventPublished(ctx, ev.ID); err != nil {
			return err
		}
	}
	return nil
}
