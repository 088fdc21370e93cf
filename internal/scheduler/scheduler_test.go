package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pagcore/internal/model"
)

type fakeSchedStore struct {
	mu        sync.Mutex
	scheduled map[string]*model.ScheduledTransfer
	recurring map[string]*model.RecurringPayment
	halted    []string
}

func newFakeSchedStore() *fakeSchedStore {
	return &fakeSchedStore{
		scheduled: make(map[string]*model.ScheduledTransfer),
		recurring: make(map[string]*model.RecurringPayment),
	}
}

func (f *fakeSchedStore) DueScheduledTransfers(ctx context.Context, now time.Time, limit int) ([]model.ScheduledTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ScheduledTransfer
	for _, st := range f.scheduled {
		if st.Status == model.ScheduleScheduled && !st.ScheduledAt.After(now) {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (f *fakeSchedStore) ClaimScheduledTransfer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.scheduled[id]
	if !ok || st.Status != model.ScheduleScheduled {
		return model.ErrClaimLost
	}
	st.Status = model.ScheduleExecuting
	return nil
}

func (f *fakeSchedStore) FinishScheduledTransfer(ctx context.Context, id string, status model.ScheduleStatus, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.scheduled[id]
	st.Status = status
	st.TransactionID = transactionID
	return nil
}

func (f *fakeSchedStore) DueRecurringPayments(ctx context.Context, now time.Time, limit int) ([]model.RecurringPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RecurringPayment
	for _, rp := range f.recurring {
		if rp.Active && !rp.NextExecutionAt.After(now) {
			out = append(out, *rp)
		}
	}
	return out, nil
}

func (f *fakeSchedStore) ClaimRecurringOccurrence(ctx context.Context, id string, prev, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rp, ok := f.recurring[id]
	if !ok || !rp.Active || !rp.NextExecutionAt.Equal(prev) {
		return model.ErrClaimLost
	}
	rp.NextExecutionAt = next
	rp.ExecutionCount++
	return nil
}

func (f *fakeSchedStore) SetRecurringResult(ctx context.Context, id, lastTransactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recurring[id].LastTransactionID = lastTransactionID
	return nil
}

func (f *fakeSchedStore) DeactivateRecurring(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recurring[id].Active = false
	return nil
}

func (f *fakeSchedStore) AuditAccounts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted, nil
}

type fakePayments struct {
	mu       sync.Mutex
	err      error
	failNext bool
	requests []model.PaymentRequest
	reaped   int
}

func (f *fakePayments) CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	status := model.StatusCompleted
	if f.failNext {
		status = model.StatusFailed
		f.failNext = false
	}
	return &model.Transaction{
		ID:       uuid.NewString(),
		ClientID: req.ClientID,
		Amount:   req.Amount,
		Status:   status,
	}, nil
}

func (f *fakePayments) TimeOutStale(ctx context.Context, window time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reaped, nil
}

func internalTarget() model.RailTarget {
	return model.RailTarget{Rail: model.RailInternal, InternalAccountID: "acc-dest"}
}

func TestSweepOneShot_FiresOnce(t *testing.T) {
	store := newFakeSchedStore()
	payments := &fakePayments{}
	s := New(store, payments, Config{})

	store.scheduled["st-1"] = &model.ScheduledTransfer{
		ID:          "st-1",
		ClientID:    "client-1",
		AccountID:   "acc-1",
		Target:      internalTarget(),
		Amount:      500,
		ScheduledAt: time.Now().Add(-time.Minute),
		Status:      model.ScheduleScheduled,
	}

	now := time.Now()
	s.SweepOneShot(context.Background(), now)
	s.SweepOneShot(context.Background(), now)

	if len(payments.requests) != 1 {
		t.Fatalf("payments submitted = %d, want 1", len(payments.requests))
	}
	if payments.requests[0].IdempotencyKey != "scheduled:st-1" {
		t.Errorf("idempotency key = %q", payments.requests[0].IdempotencyKey)
	}
	st := store.scheduled["st-1"]
	if st.Status != model.ScheduleExecuted {
		t.Errorf("status = %s, want executed", st.Status)
	}
	if st.TransactionID == "" {
		t.Error("transaction id not recorded")
	}
}

func TestSweepOneShot_ConcurrentSweepsSingleFire(t *testing.T) {
	store := newFakeSchedStore()
	payments := &fakePayments{}
	s := New(store, payments, Config{})

	for i := 0; i < 10; i++ {
		id := uuid.NewString()
		store.scheduled[id] = &model.ScheduledTransfer{
			ID:          id,
			ClientID:    "client-1",
			AccountID:   "acc-1",
			Target:      internalTarget(),
			Amount:      100,
			ScheduledAt: time.Now().Add(-time.Minute),
			Status:      model.ScheduleScheduled,
		}
	}

	var wg sync.WaitGroup
	now := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SweepOneShot(context.Background(), now)
		}()
	}
	wg.Wait()

	if len(payments.requests) != 10 {
		t.Fatalf("payments submitted = %d, want 10 (one per transfer)", len(payments.requests))
	}
}

func TestSweepOneShot_FailedPaymentMarksFailed(t *testing.T) {
	store := newFakeSchedStore()
	payments := &fakePayments{failNext: true}
	s := New(store, payments, Config{})

	store.scheduled["st-2"] = &model.ScheduledTransfer{
		ID:          "st-2",
		ClientID:    "client-1",
		AccountID:   "acc-1",
		Target:      internalTarget(),
		Amount:      500,
		ScheduledAt: time.Now().Add(-time.Minute),
		Status:      model.ScheduleScheduled,
	}

	s.SweepOneShot(context.Background(), time.Now())

	if got := store.scheduled["st-2"].Status; got != model.ScheduleFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestSweepOneShot_FutureTransferUntouched(t *testing.T) {
	store := newFakeSchedStore()
	payments := &fakePayments{}
	s := New(store, payments, Config{})

	store.scheduled["st-3"] = &model.ScheduledTransfer{
		ID:          "st-3",
		ClientID:    "client-1",
		AccountID:   "acc-1",
		Target:      internalTarget(),
		Amount:      500,
		ScheduledAt: time.Now().Add(time.Hour),
		Status:      model.ScheduleScheduled,
	}

	s.SweepOneShot(context.Background(), time.Now())

	if len(payments.requests) != 0 {
		t.Errorf("future transfer fired: %d payments", len(payments.requests))
	}
}

func TestSweepRecurring_MonthlySeries(t *testing.T) {
	store := newFakeSchedStore()
	payments := &fakePayments{}
	s := New(store, payments, Config{})

	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	store.recurring["rp-1"] = &model.RecurringPayment{
		ID:              "rp-1",
		ClientID:        "client-1",
		AccountID:       "acc-1",
		Target:          internalTarget(),
		Amount:          500,
		Frequency:       model.FrequencyMonthly,
		StartAt:         start,
		NextExecutionAt: start,
		Active:          true,
	}

	// Three sweeps, each one period later.
	for month := 0; month < 3; month++ {
		s.SweepRecurring(context.Background(), start.AddDate(0, month, 0).Add(time.Minute))
	}

	if len(payments.requests) != 3 {
		t.Fatalf("payments submitted = %d, want 3", len(payments.requests))
	}
	for _, req := range payments.requests {
		if req.Amount != 500 {
			t.Errorf("payment amount = %d, want 500", req.Amount)
		}
	}
	rp := store.recurring["rp-1"]
	if rp.ExecutionCount != 3 {
		t.Errorf("execution count = %d, want 3", rp.ExecutionCount)
	}
	if want := start.AddDate(0, 3, 0); !rp.NextExecutionAt.Equal(want) {
		t.Errorf("next execution = %s, want %s", rp.NextExecutionAt, want)
	}
	if rp.LastTransactionID == "" {
		t.Error("last transaction id not recorded")
	}
}

func TestSweepRecurring_SweepIsIdempotentWithinPeriod(t *testing.T) {
	store := newFakeSchedStore()
	payments := &fakePayments{}
	s := New(store, payments, Config{})

	start := time.Now().Add(-time.Hour)
	store.recurring["rp-2"] = &model.RecurringPayment{
		ID:              "rp-2",
		ClientID:        "client-1",
		AccountID:       "acc-1",
		Target:          internalTarget(),
		Amount:          200,
		Frequency:       model.FrequencyDaily,
		StartAt:         start,
		NextExecutionAt: start,
		Active:          true,
	}

	now := time.Now()
	s.SweepRecurring(context.Background(), now)
	s.SweepRecurring(context.Background(), now)

	if len(payments.requests) != 1 {
		t.Fatalf("payments submitted = %d, want 1 per period", len(payments.requests))
	}
}

func TestSweepRecurring_EndDateDeactivates(t *testing.T) {
	store := newFakeSchedStore()
	payments := &fakePayments{}
	s := New(store, payments, Config{})

	start := time.Now().Add(-48 * time.Hour)
	end := time.Now().Add(-time.Hour)
	store.recurring["rp-3"] = &model.RecurringPayment{
		ID:              "rp-3",
		ClientID:        "client-1",
		AccountID:       "acc-1",
		Target:          internalTarget(),
		Amount:          200,
		Frequency:       model.FrequencyDaily,
		StartAt:         start,
		EndAt:           &end,
		NextExecutionAt: time.Now().Add(-time.Minute),
		Active:          true,
	}

	s.SweepRecurring(context.Background(), time.Now())

	if len(payments.requests) != 0 {
		t.Errorf("expired series fired: %d payments", len(payments.requests))
	}
	if store.recurring["rp-3"].Active {
		t.Error("expired series still active")
	}
}

func TestSweepRecurring_FailedFiringAdvances(t *testing.T) {
	store := newFakeSchedStore()
	payments := &fakePayments{err: model.ErrInsufficientFunds}
	s := New(store, payments, Config{})

	start := time.Now().Add(-time.Hour)
	store.recurring["rp-4"] = &model.RecurringPayment{
		ID:              "rp-4",
		ClientID:        "client-1",
		AccountID:       "acc-1",
		Target:          internalTarget(),
		Amount:          200,
		Frequency:       model.FrequencyDaily,
		StartAt:         start,
		NextExecutionAt: start,
		Active:          true,
	}

	s.SweepRecurring(context.Background(), time.Now())

	rp := store.recurring["rp-4"]
	if rp.ExecutionCount != 1 {
		t.Errorf("execution count = %d, want 1 (claim advances regardless)", rp.ExecutionCount)
	}
	if want := start.AddDate(0, 0, 1); !rp.NextExecutionAt.Equal(want) {
		t.Errorf("next execution = %s, want %s", rp.NextExecutionAt, want)
	}
	if rp.LastTransactionID != "" {
		t.Error("failed firing recorded a transaction id")
	}
}
