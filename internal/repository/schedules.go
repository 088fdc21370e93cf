package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagcore/internal/model"
)

func (s *Store) CreateScheduledTransfer(ctx context.Context, st *model.ScheduledTransfer) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	target, err := targetJSON(st.Target)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO scheduled_transfers
			(id, client_id, account_id, target, amount, description, scheduled_at, status)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, 'scheduled')
		 RETURNING created_at`,
		st.ID, st.ClientID, st.AccountID, target, st.Amount, st.Description, st.ScheduledAt,
	).Scan(&st.CreatedAt)
	if err != nil {
		return fmt.Errorf("scheduled transfer insert failed: %w", err)
	}
	st.Status = model.ScheduleScheduled
	return nil
}

func scanScheduledTransfer(row rowScanner) (*model.ScheduledTransfer, error) {
	var (
		st     model.ScheduledTransfer
		target []byte
	)
	err := row.Scan(&st.ID, &st.ClientID, &st.AccountID, &target, &st.Amount,
		&st.Description, &st.ScheduledAt, &st.Status, &st.TransactionID, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(target, &st.Target); err != nil {
		return nil, fmt.Errorf("decode rail target: %w", err)
	}
	return &st, nil
}

const scheduledColumns = `id, client_id, account_id, target, amount,
	COALESCE(description, ''), scheduled_at, status, COALESCE(transaction_id, ''), created_at`

func (s *Store) ListScheduledTransfers(ctx context.Context, clientID string) ([]model.ScheduledTransfer, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_transfers
		 WHERE client_id = $1 ORDER BY scheduled_at ASC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("scheduled transfers query failed: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduledTransfer
	for rows.Next() {
		st, err := scanScheduledTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// DueScheduledTransfers returns one-shot transfers ready to fire.
func (s *Store) DueScheduledTransfers(ctx context.Context, now time.Time, limit int) ([]model.ScheduledTransfer, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_transfers
		 WHERE status = 'scheduled' AND scheduled_at <= $1
		 ORDER BY scheduled_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due transfers query failed: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduledTransfer
	for rows.Next() {
		st, err := scanScheduledTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// ClaimScheduledTransfer flips scheduled -> executing. Losing the
// compare-and-set means another sweep instance owns this firing.
func (s *Store) ClaimScheduledTransfer(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_transfers SET status = 'executing' WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrClaimLost
	}
	return nil
}

func (s *Store) FinishScheduledTransfer(ctx context.Context, id string, status model.ScheduleStatus, transactionID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scheduled_transfers SET status = $2, transaction_id = NULLIF($3, '') WHERE id = $1`,
		id, status, transactionID)
	if err != nil {
		return fmt.Errorf("finish update failed: %w", err)
	}
	return nil
}

// CancelScheduledTransfer cancels a not-yet-claimed transfer.
func (s *Store) CancelScheduledTransfer(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_transfers SET status = 'cancelled' WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

func (s *Store) CreateRecurringPayment(ctx context.Context, rp *model.RecurringPayment) error {
	if rp.ID == "" {
		rp.ID = uuid.NewString()
	}
	if rp.NextExecutionAt.IsZero() {
		rp.NextExecutionAt = rp.StartAt
	}
	target, err := targetJSON(rp.Target)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO recurring_payments
			(id, client_id, account_id, target, amount, frequency, start_at, end_at, next_execution_at, execution_count, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, TRUE)
		 RETURNING created_at`,
		rp.ID, rp.ClientID, rp.AccountID, target, rp.Amount, rp.Frequency,
		rp.StartAt, rp.EndAt, rp.NextExecutionAt,
	).Scan(&rp.CreatedAt)
	if err != nil {
		return fmt.Errorf("recurring payment insert failed: %w", err)
	}
	rp.Active = true
	return nil
}

const recurringColumns = `id, client_id, account_id, target, amount, frequency,
	start_at, end_at, next_execution_at, execution_count, COALESCE(last_transaction_id, ''), active, created_at`

func scanRecurringPayment(row rowScanner) (*model.RecurringPayment, error) {
	var (
		rp     model.RecurringPayment
		target []byte
	)
	err := row.Scan(&rp.ID, &rp.ClientID, &rp.AccountID, &target, &rp.Amount, &rp.Frequency,
		&rp.StartAt, &rp.EndAt, &rp.NextExecutionAt, &rp.ExecutionCount, &rp.LastTransactionID,
		&rp.Active, &rp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(target, &rp.Target); err != nil {
		return nil, fmt.Errorf("decode rail target: %w", err)
	}
	return &rp, nil
}

func (s *Store) ListRecurringPayments(ctx context.Context, clientID string) ([]model.RecurringPayment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recurringColumns+` FROM recurring_payments
		 WHERE client_id = $1 ORDER BY created_at DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("recurring payments query failed: %w", err)
	}
	defer rows.Close()

	var out []model.RecurringPayment
	for rows.Next() {
		rp, err := scanRecurringPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rp)
	}
	return out, rows.Err()
}

// DueRecurringPayments returns active series whose next occurrence has come.
func (s *Store) DueRecurringPayments(ctx context.Context, now time.Time, limit int) ([]model.RecurringPayment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recurringColumns+` FROM recurring_payments
		 WHERE active = TRUE AND next_execution_at <= $1
		 ORDER BY next_execution_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due recurring query failed: %w", err)
	}
	defer rows.Close()

	var out []model.RecurringPayment
	for rows.Next() {
		rp, err := scanRecurringPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rp)
	}
	return out, rows.Err()
}

// ClaimRecurringOccurrence advances next_execution_at and the counter in one
// compare-and-set on the previous next_execution_at. Exactly one of any
// number of concurrent sweeps wins an occurrence; the advance happens at
// claim time so a failed firing still moves to the next period.
func (s *Store) ClaimRecurringOccurrence(ctx context.Context, id string, prev, next time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE recurring_payments
		 SET next_execution_at = $3, execution_count = execution_count + 1
		 WHERE id = $1 AND next_execution_at = $2 AND active = TRUE`,
		id, prev, next)
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrClaimLost
	}
	return nil
}

func (s *Store) SetRecurringResult(ctx context.Context, id, lastTransactionID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE recurring_payments SET last_transaction_id = NULLIF($2, '') WHERE id = $1`,
		id, lastTransactionID)
	if err != nil {
		return fmt.Errorf("recurring result update failed: %w", err)
	}
	return nil
}

// DeactivateRecurring pauses or expires a series; it will be skipped and not
// rescheduled.
func (s *Store) DeactivateRecurring(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE recurring_payments SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
