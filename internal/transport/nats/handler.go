package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"pagcore/internal/model"
)

// RailResults is the service entry point for gateway callbacks.
type RailResults interface {
	HandleRailResult(ctx context.Context, res model.RailResult) error
}

// Handler subscribes to the rail result topic and finalizes transactions
// from the asynchronous gateway callbacks.
type Handler struct {
	svc RailResults
	nc  *nats.Conn
	sub *nats.Subscription
}

func NewHandler(svc RailResults, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes with a queue group and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(model.TopicRailResults, "rail_group", func(m *nats.Msg) {
		var res model.RailResult
		if err := json.Unmarshal(m.Data, &res); err != nil {
			slog.Error("nats: failed to unmarshal rail result", "error", err)
			return
		}
		if err := h.svc.HandleRailResult(ctx, res); err != nil {
			slog.Error("nats: rail result handling failed",
				"transaction_id", res.TransactionID, "error", err)
		}
	})
	if err != nil {
		return err
	}
	h.sub = sub

	slog.Info("rail result handler is running")

	<-ctx.Done()
	slog.Info("rail result handler shutting down, draining subscription...")
	return sub.Drain()
}

func (h *Handler) Stop(ctx context.Context) error {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
	return nil
}
