// Package scheduler drives time-based work: due one-shot transfers, due
// recurring payments, the rail-timeout reaper and the ledger audit. Several
// instances may run concurrently; compare-and-set claims in the store keep
// every occurrence single-fire.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pagcore/internal/model"
)

var (
	sweepFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagcore_scheduler_fires_total",
		Help: "Scheduled and recurring firings by outcome",
	}, []string{"kind", "outcome"})

	auditHalts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagcore_ledger_audit_halts_total",
		Help: "Accounts halted by the ledger audit",
	})
)

// Store is the slice of the repository the scheduler needs.
type Store interface {
	DueScheduledTransfers(ctx context.Context, now time.Time, limit int) ([]model.ScheduledTransfer, error)
	ClaimScheduledTransfer(ctx context.Context, id string) error
	FinishScheduledTransfer(ctx context.Context, id string, status model.ScheduleStatus, transactionID string) error

	DueRecurringPayments(ctx context.Context, now time.Time, limit int) ([]model.RecurringPayment, error)
	ClaimRecurringOccurrence(ctx context.Context, id string, prev, next time.Time) error
	SetRecurringResult(ctx context.Context, id, lastTransactionID string) error
	DeactivateRecurring(ctx context.Context, id string) error

	AuditAccounts(ctx context.Context) ([]string, error)
}

// Payments is the slice of the service the scheduler submits into.
type Payments interface {
	CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Transaction, error)
	TimeOutStale(ctx context.Context, window time.Duration) (int, error)
}

type Config struct {
	OneShotInterval   time.Duration // one-shot sweep + timeout reaper tick
	RecurringInterval time.Duration // recurring sweep + ledger audit tick
	RailTimeout       time.Duration // how long processing may wait on a rail result
	BatchSize         int
}

func (c *Config) defaults() {
	if c.OneShotInterval <= 0 {
		c.OneShotInterval = time.Minute
	}
	if c.RecurringInterval <= 0 {
		c.RecurringInterval = time.Hour
	}
	if c.RailTimeout <= 0 {
		c.RailTimeout = 2 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

type Scheduler struct {
	store    Store
	payments Payments
	cfg      Config
}

func New(store Store, payments Payments, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{store: store, payments: payments, cfg: cfg}
}

// Start runs the sweep loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	fast := time.NewTicker(s.cfg.OneShotInterval)
	slow := time.NewTicker(s.cfg.RecurringInterval)
	defer fast.Stop()
	defer slow.Stop()

	slog.Info("scheduler is running",
		"one_shot_interval", s.cfg.OneShotInterval,
		"recurring_interval", s.cfg.RecurringInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fast.C:
			s.SweepOneShot(ctx, time.Now())
			s.reapStale(ctx)
		case <-slow.C:
			s.SweepRecurring(ctx, time.Now())
			s.auditLedger(ctx)
		}
	}
}

// Stop implements the infrastructure.Server interface; shutdown is via ctx.
func (s *Scheduler) Stop(ctx context.Context) error { return nil }

// SweepOneShot claims and fires every due scheduled transfer. A claim lost
// to a concurrent sweep is silently skipped; the other claimant proceeds.
func (s *Scheduler) SweepOneShot(ctx context.Context, now time.Time) {
	due, err := s.store.DueScheduledTransfers(ctx, now, s.cfg.BatchSize)
	if err != nil {
		slog.Error("one-shot sweep query failed", "error", err)
		return
	}

	for _, st := range due {
		if err := s.store.ClaimScheduledTransfer(ctx, st.ID); err != nil {
			if !errors.Is(err, model.ErrClaimLost) {
				slog.Error("one-shot claim failed", "id", st.ID, "error", err)
			}
			continue
		}

		txn, err := s.payments.CreatePayment(ctx, model.PaymentRequest{
			ClientID:       st.ClientID,
			IdempotencyKey: "scheduled:" + st.ID,
			DebitAccountID: st.AccountID,
			Target:         st.Target,
			Amount:         st.Amount,
			Description:    st.Description,
		})
		status, transactionID := model.ScheduleExecuted, ""
		if err != nil {
			status = model.ScheduleFailed
			slog.Warn("scheduled transfer failed", "id", st.ID, "error", err)
		} else {
			transactionID = txn.ID
			if txn.Status == model.StatusFailed {
				status = model.ScheduleFailed
			}
		}
		if err := s.store.FinishScheduledTransfer(ctx, st.ID, status, transactionID); err != nil {
			slog.Error("one-shot finish failed", "id", st.ID, "error", err)
			continue
		}
		sweepFires.WithLabelValues("scheduled", string(status)).Inc()
	}
}

// SweepRecurring fires every due occurrence of active recurring payments.
// The claim advances next_execution and the counter regardless of the
// payment outcome: a failed firing does not retry within its period, the
// series continues at its next natural occurrence.
func (s *Scheduler) SweepRecurring(ctx context.Context, now time.Time) {
	due, err := s.store.DueRecurringPayments(ctx, now, s.cfg.BatchSize)
	if err != nil {
		slog.Error("recurring sweep query failed", "error", err)
		return
	}

	for _, rp := range due {
		if !rp.Active {
			continue
		}
		if rp.Expired(now) {
			if err := s.store.DeactivateRecurring(ctx, rp.ID); err != nil {
				slog.Error("recurring deactivate failed", "id", rp.ID, "error", err)
			}
			continue
		}

		next := rp.Frequency.Next(rp.NextExecutionAt)
		if err := s.store.ClaimRecurringOccurrence(ctx, rp.ID, rp.NextExecutionAt, next); err != nil {
			if !errors.Is(err, model.ErrClaimLost) {
				slog.Error("recurring claim failed", "id", rp.ID, "error", err)
			}
			continue
		}

		txn, err := s.payments.CreatePayment(ctx, model.PaymentRequest{
			ClientID: rp.ClientID,
			IdempotencyKey: fmt.Sprintf("recurring:%s:%s",
				rp.ID, rp.NextExecutionAt.UTC().Format(time.RFC3339)),
			DebitAccountID: rp.AccountID,
			Target:         rp.Target,
			Amount:         rp.Amount,
			Description:    "recurring payment " + rp.ID,
		})
		if err != nil {
			slog.Warn("recurring firing failed", "id", rp.ID, "error", err)
			sweepFires.WithLabelValues("recurring", "failed").Inc()
			continue
		}
		if err := s.store.SetRecurringResult(ctx, rp.ID, txn.ID); err != nil {
			slog.Error("recurring result update failed", "id", rp.ID, "error", err)
		}
		sweepFires.WithLabelValues("recurring", "executed").Inc()
	}
}

func (s *Scheduler) reapStale(ctx context.Context) {
	n, err := s.payments.TimeOutStale(ctx, s.cfg.RailTimeout)
	if err != nil {
		slog.Error("timeout reaper failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("reaped transactions stuck on rail", "count", n)
	}
}

// auditLedger folds every account's movement log against its cached balance.
// A divergent account is halted and flagged for an operator; processing on
// it stops rather than continuing on corrupt state.
func (s *Scheduler) auditLedger(ctx context.Context) {
	halted, err := s.store.AuditAccounts(ctx)
	if err != nil {
		slog.Error("ledger audit failed", "error", err)
		return
	}
	for _, id := range halted {
		auditHalts.Inc()
		slog.Error("ledger divergence: account halted", "account_id", id)
	}
}
