// Package worker consumes transaction lifecycle events off the bus. It fans
// each event out into webhook delivery rows and hands completed payments to
// the split engine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"pagcore/internal/model"
	"pagcore/internal/webhook"
)

const defaultMaxAttempts = 5

// Deliveries is the slice of the repository the worker enqueues into.
type Deliveries interface {
	ActiveEndpoints(ctx context.Context, clientID string) ([]model.WebhookEndpoint, error)
	EnqueueDelivery(ctx context.Context, d *model.WebhookDelivery) error
}

// Splits is the split engine entry point.
type Splits interface {
	ExecuteSplits(ctx context.Context, ev model.TransactionEvent) error
}

// EventWorker listens on the transactions.* topics and processes each event
// exactly once across the worker group.
type EventWorker struct {
	deliveries  Deliveries
	splits      Splits
	natsConn    *nats.Conn
	maxAttempts int
}

func NewEventWorker(deliveries Deliveries, splits Splits, nc *nats.Conn, maxAttempts int) *EventWorker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &EventWorker{deliveries: deliveries, splits: splits, natsConn: nc, maxAttempts: maxAttempts}
}

// Start subscribes with a queue group (only one worker in the group receives
// each message) and blocks until ctx is cancelled.
func (w *EventWorker) Start(ctx context.Context) error {
	sub, err := w.natsConn.QueueSubscribe("transactions.*", "event_workers", func(m *nats.Msg) {
		var ev model.TransactionEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			slog.Error("worker: failed to unmarshal event", "error", err)
			return
		}
		if err := w.HandleEvent(ctx, ev); err != nil {
			slog.Error("worker: event handling failed",
				"event_id", ev.EventID,
				"transaction_id", ev.TransactionID,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe: %w", err)
	}

	slog.Info("event worker is running")

	<-ctx.Done()

	slog.Info("event worker shutting down, draining subscription...")
	return sub.Drain()
}

// Stop implements the infrastructure.Server interface; shutdown is via ctx.
func (w *EventWorker) Stop(ctx context.Context) error { return nil }

// webhookBody is the wire shape posted to client endpoints. Clients must
// tolerate out-of-order delivery and de-duplicate by event_id.
type webhookBody struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Payload       model.TransactionEvent `json:"payload"`
	CreatedAt     time.Time              `json:"created_at"`
}

// HandleEvent enqueues one delivery per active endpoint of the owning client
// and triggers the split engine for completed payments. Split execution runs
// first so a split failure cannot be hidden by a delivery enqueue error.
func (w *EventWorker) HandleEvent(ctx context.Context, ev model.TransactionEvent) error {
	if ev.Type == model.EventTransactionCompleted {
		if err := w.splits.ExecuteSplits(ctx, ev); err != nil {
			return fmt.Errorf("split execution: %w", err)
		}
	}

	endpoints, err := w.deliveries.ActiveEndpoints(ctx, ev.ClientID)
	if err != nil {
		return fmt.Errorf("endpoint lookup: %w", err)
	}

	body, err := json.Marshal(webhookBody{
		EventID:       ev.EventID,
		EventType:     ev.Type,
		TransactionID: ev.TransactionID,
		Payload:       ev,
		CreatedAt:     ev.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("payload marshal: %w", err)
	}

	for _, ep := range endpoints {
		d := &model.WebhookDelivery{
			ClientID:      ev.ClientID,
			EndpointID:    ep.ID,
			URL:           ep.URL,
			EventType:     ev.Type,
			TransactionID: ev.TransactionID,
			Payload:       body,
			Signature:     webhook.Sign(body, ep.Secret),
			MaxAttempts:   w.maxAttempts,
		}
		if err := w.deliveries.EnqueueDelivery(ctx, d); err != nil {
			return fmt.Errorf("delivery enqueue: %w", err)
		}
	}
	return nil
}
