package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"pagcore/internal/model"
)

type fakeOutbox struct {
	rows      []model.OutboxEvent
	published map[string]bool
}

func newFakeOutbox(rows ...model.OutboxEvent) *fakeOutbox {
	return &fakeOutbox{rows: rows, published: make(map[string]bool)}
}

func (f *fakeOutbox) PendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	for _, ev := range f.rows {
		if !f.published[ev.ID] {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkEventPublished(ctx context.Context, id string) error {
	f.published[id] = true
	return nil
}

// flakyBus refuses the next `failures` publishes, then accepts.
type flakyBus struct {
	failures int
	sent     []string // topics in publish order
}

func (b *flakyBus) Publish(topic string, data []byte) error {
	if b.failures > 0 {
		b.failures--
		return errors.New("bus unreachable")
	}
	b.sent = append(b.sent, topic)
	return nil
}

func outboxEvent(id, topic string) model.OutboxEvent {
	return model.OutboxEvent{ID: id, Topic: topic, Payload: []byte(`{}`), CreatedAt: time.Now()}
}

func TestRelayRunOnce_PublishesOldestFirst(t *testing.T) {
	outbox := newFakeOutbox(
		outboxEvent("ev-1", model.TopicTransactionCompleted),
		outboxEvent("ev-2", model.TopicTransactionFailed),
	)
	bus := &flakyBus{}
	relay := NewOutboxRelay(outbox, bus)

	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(bus.sent) != 2 || bus.sent[0] != model.TopicTransactionCompleted || bus.sent[1] != model.TopicTransactionFailed {
		t.Fatalf("published topics = %v", bus.sent)
	}
	if !outbox.published["ev-1"] || !outbox.published["ev-2"] {
		t.Error("published events not marked")
	}
}

func TestRelayRunOnce_BusOutageKeepsEvents(t *testing.T) {
	// A state change committed while the bus is down must survive as an
	// unpublished row and go out once the bus recovers.
	outbox := newFakeOutbox(outboxEvent("ev-1", model.TopicTransactionCompleted))
	bus := &flakyBus{failures: 1}
	relay := NewOutboxRelay(outbox, bus)
	ctx := context.Background()

	if err := relay.RunOnce(ctx); err == nil {
		t.Fatal("expected sweep error while bus is down")
	}
	if outbox.published["ev-1"] {
		t.Fatal("event marked published without reaching the bus")
	}

	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("sweep after recovery: %v", err)
	}
	if len(bus.sent) != 1 {
		t.Fatalf("published %d events, want 1", len(bus.sent))
	}
	if !outbox.published["ev-1"] {
		t.Error("recovered event not marked published")
	}
}

func TestRelayRunOnce_FailureStopsSweep(t *testing.T) {
	// A mid-batch failure must not skip ahead: later events wait so the
	// topic order of earlier ones is preserved.
	outbox := newFakeOutbox(
		outboxEvent("ev-1", model.TopicTransactionCompleted),
		outboxEvent("ev-2", model.TopicTransactionCompleted),
		outboxEvent("ev-3", model.TopicTransactionCompleted),
	)
	bus := &flakyBus{failures: 2} // ev-1 ok after first sweep's failure consumed one
	relay := NewOutboxRelay(outbox, bus)
	ctx := context.Background()

	if err := relay.RunOnce(ctx); err == nil {
		t.Fatal("expected sweep error")
	}
	if len(bus.sent) != 0 {
		t.Fatalf("published %d events during failed sweep, want 0", len(bus.sent))
	}

	// Next sweep: ev-1 fails once more, nothing published yet.
	if err := relay.RunOnce(ctx); err == nil {
		t.Fatal("expected second sweep error")
	}

	// Bus back: everything drains in order.
	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("final sweep: %v", err)
	}
	if len(bus.sent) != 3 {
		t.Fatalf("published %d events, want 3", len(bus.sent))
	}
	for _, id := range []string{"ev-1", "ev-2", "ev-3"} {
		if !outbox.published[id] {
			t.Errorf("event %s not marked published", id)
		}
	}
}
