package rail

import (
	"context"
	"encoding/json"
	"testing"

	"pagcore/internal/model"
)

type captureBus struct {
	topic string
	data  []byte
}

func (b *captureBus) Publish(topic string, data []byte) error {
	b.topic = topic
	b.data = data
	return nil
}

func TestLoopbackSubmit(t *testing.T) {
	bus := &captureBus{}
	gw := NewLoopback(bus)

	corr, err := gw.Submit(context.Background(), "txn-1",
		model.RailTarget{Rail: model.RailInstant, PixKey: "a@b.com", PixKeyType: "EMAIL"}, 1000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if corr != "loop-txn-1" {
		t.Errorf("correlation id = %q", corr)
	}
	if bus.topic != model.TopicRailResults {
		t.Fatalf("published on %q, want %q", bus.topic, model.TopicRailResults)
	}

	var res model.RailResult
	if err := json.Unmarshal(bus.data, &res); err != nil {
		t.Fatalf("result payload: %v", err)
	}
	if res.TransactionID != "txn-1" || !res.Success {
		t.Errorf("result = %+v", res)
	}

	status, err := gw.Status(context.Background(), corr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Success {
		t.Error("loopback status must report settled")
	}
}
