package rail

import (
	"context"
	"encoding/json"
	"time"

	"pagcore/internal/model"
)

type publisher interface {
	Publish(topic string, data []byte) error
}

// Loopback is a gateway for local runs: every submit succeeds and its result
// is published straight back onto the bus, exercising the same asynchronous
// callback path as a real provider.
type Loopback struct {
	bus publisher
}

func NewLoopback(bus publisher) *Loopback {
	return &Loopback{bus: bus}
}

func (l *Loopback) Submit(_ context.Context, transactionID string, _ model.RailTarget, _ int64) (string, error) {
	corr := "loop-" + transactionID
	res := model.RailResult{
		TransactionID:     transactionID,
		CorrelationID:     corr,
		Success:           true,
		ExternalReference: corr,
		ReceivedAt:        time.Now(),
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	if err := l.bus.Publish(model.TopicRailResults, data); err != nil {
		return "", err
	}
	return corr, nil
}

func (l *Loopback) CancelRequest(context.Context, string) error { return nil }

// Status always reports success: loopback transfers settle at submit time.
func (l *Loopback) Status(_ context.Context, correlationID string) (*model.RailResult, error) {
	return &model.RailResult{
		CorrelationID:     correlationID,
		Success:           true,
		ExternalReference: correlationID,
		ReceivedAt:        time.Now(),
	}, nil
}

func (l *Loopback) DictLookup(context.Context, string, string) error { return nil }
