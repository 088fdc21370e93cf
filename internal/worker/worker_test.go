package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pagcore/internal/model"
	"pagcore/internal/webhook"
)

type fakeDeliveries struct {
	endpoints []model.WebhookEndpoint
	enqueued  []model.WebhookDelivery
}

func (f *fakeDeliveries) ActiveEndpoints(ctx context.Context, clientID string) ([]model.WebhookEndpoint, error) {
	return f.endpoints, nil
}

func (f *fakeDeliveries) EnqueueDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	f.enqueued = append(f.enqueued, *d)
	return nil
}

type fakeSplits struct {
	events []model.TransactionEvent
}

func (f *fakeSplits) ExecuteSplits(ctx context.Context, ev model.TransactionEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func completedEvent() model.TransactionEvent {
	return model.TransactionEvent{
		EventID:        "ev-1",
		Type:           model.EventTransactionCompleted,
		TransactionID:  "txn-1",
		ClientID:       "client-1",
		DebitAccountID: "acc-1",
		Amount:         1000,
		Rail:           model.RailInstant,
		CreatedAt:      time.Now(),
	}
}

func TestHandleEvent_FansOutPerEndpoint(t *testing.T) {
	deliveries := &fakeDeliveries{endpoints: []model.WebhookEndpoint{
		{ID: "ep-1", ClientID: "client-1", URL: "https://a.example/hook", Secret: "sa", Active: true},
		{ID: "ep-2", ClientID: "client-1", URL: "https://b.example/hook", Secret: "sb", Active: true},
	}}
	splits := &fakeSplits{}
	w := NewEventWorker(deliveries, splits, nil, 0)

	ev := completedEvent()
	if err := w.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(deliveries.enqueued) != 2 {
		t.Fatalf("enqueued = %d, want one per endpoint", len(deliveries.enqueued))
	}
	for _, d := range deliveries.enqueued {
		if d.EventType != model.EventTransactionCompleted {
			t.Errorf("event type = %s", d.EventType)
		}
		if d.MaxAttempts != defaultMaxAttempts {
			t.Errorf("max attempts = %d, want %d", d.MaxAttempts, defaultMaxAttempts)
		}
	}

	// Each delivery is signed with its own endpoint's secret over the
	// exact payload bytes.
	first := deliveries.enqueued[0]
	if !webhook.Verify(first.Payload, "sa", first.Signature) {
		t.Error("first delivery signature does not verify")
	}
	second := deliveries.enqueued[1]
	if !webhook.Verify(second.Payload, "sb", second.Signature) {
		t.Error("second delivery signature does not verify")
	}

	var body struct {
		EventID   string                 `json:"event_id"`
		EventType string                 `json:"event_type"`
		Payload   model.TransactionEvent `json:"payload"`
	}
	if err := json.Unmarshal(first.Payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body.EventID != ev.EventID || body.Payload.Amount != 1000 {
		t.Errorf("payload mismatch: %+v", body)
	}
}

func TestHandleEvent_CompletedTriggersSplits(t *testing.T) {
	deliveries := &fakeDeliveries{}
	splits := &fakeSplits{}
	w := NewEventWorker(deliveries, splits, nil, 0)

	if err := w.HandleEvent(context.Background(), completedEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(splits.events) != 1 {
		t.Fatalf("split engine called %d times, want 1", len(splits.events))
	}

	failed := completedEvent()
	failed.Type = model.EventTransactionFailed
	if err := w.HandleEvent(context.Background(), failed); err != nil {
		t.Fatalf("handle failed event: %v", err)
	}
	if len(splits.events) != 1 {
		t.Error("failed event reached the split engine")
	}
}

func TestHandleEvent_NoEndpointsNoDeliveries(t *testing.T) {
	deliveries := &fakeDeliveries{}
	w := NewEventWorker(deliveries, &fakeSplits{}, nil, 3)

	if err := w.HandleEvent(context.Background(), completedEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(deliveries.enqueued) != 0 {
		t.Errorf("deliveries enqueued with no endpoints: %d", len(deliveries.enqueued))
	}
}
