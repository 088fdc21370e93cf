// Package webhook delivers signed event notifications to client endpoints
// with exponential backoff. Delivery rows are leased from the store before
// any attempt, so a fleet of dispatchers never double-sends.
package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"pagcore/internal/model"
)

var deliveryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pagcore_webhook_deliveries_total",
	Help: "Webhook delivery attempts by outcome",
}, []string{"outcome"})

// Store is the slice of the repository the dispatcher needs.
type Store interface {
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit int) ([]model.WebhookDelivery, error)
	MarkDelivered(ctx context.Context, id string, statusCode int) error
	MarkAttemptFailed(ctx context.Context, id string, statusCode int, body string, nextRetryAt time.Time, terminal bool) error
}

type Config struct {
	PollInterval time.Duration
	Workers      int
	BatchSize    int
	BaseBackoff  time.Duration
	Multiplier   float64
	HTTPTimeout  time.Duration
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
}

type Dispatcher struct {
	store  Store
	cfg    Config
	client *http.Client
}

func NewDispatcher(store Store, cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Backoff returns the wait before the next retry after the given number of
// completed attempts: base * multiplier^attempts.
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	return time.Duration(float64(d.cfg.BaseBackoff) * math.Pow(d.cfg.Multiplier, float64(attempts)))
}

// Start polls for due deliveries until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("webhook dispatcher is running", "workers", d.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.RunOnce(ctx, time.Now())
		}
	}
}

// Stop implements the infrastructure.Server interface; shutdown is via ctx.
func (d *Dispatcher) Stop(ctx context.Context) error { return nil }

// RunOnce claims one batch of due deliveries and attempts them in parallel.
func (d *Dispatcher) RunOnce(ctx context.Context, now time.Time) {
	batch, err := d.store.ClaimDueDeliveries(ctx, now, d.cfg.BatchSize)
	if err != nil {
		slog.Error("delivery claim failed", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i := range batch {
		delivery := batch[i]
		g.Go(func() error {
			d.attempt(ctx, delivery)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) attempt(ctx context.Context, delivery model.WebhookDelivery) {
	statusCode, body, err := d.post(ctx, delivery)
	if err == nil && statusCode >= 200 && statusCode < 300 {
		if merr := d.store.MarkDelivered(ctx, delivery.ID, statusCode); merr != nil {
			slog.Error("delivered mark failed", "delivery_id", delivery.ID, "error", merr)
			return
		}
		deliveryOutcomes.WithLabelValues("delivered").Inc()
		return
	}

	attempts := delivery.Attempts + 1
	terminal := attempts >= delivery.MaxAttempts
	nextRetry := time.Now().Add(d.Backoff(attempts))

	if err != nil {
		slog.Warn("webhook delivery transport error",
			"delivery_id", delivery.ID, "url", delivery.URL, "attempt", attempts, "error", err)
	} else {
		slog.Warn("webhook delivery rejected",
			"delivery_id", delivery.ID, "url", delivery.URL, "attempt", attempts, "status", statusCode)
	}

	if merr := d.store.MarkAttemptFailed(ctx, delivery.ID, statusCode, body, nextRetry, terminal); merr != nil {
		slog.Error("attempt mark failed", "delivery_id", delivery.ID, "error", merr)
		return
	}
	if terminal {
		deliveryOutcomes.WithLabelValues("exhausted").Inc()
	} else {
		deliveryOutcomes.WithLabelValues("retrying").Inc()
	}
}

func (d *Dispatcher) post(ctx context.Context, delivery model.WebhookDelivery) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL,
		bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, delivery.Signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, string(body), nil
}
