package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pagcore/internal/model"
)

const pgUniqueViolation = "23505"

func getTransactionTx(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	t, err := scanTransaction(tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	return t, nil
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, t *model.Transaction) error {
	target, err := targetJSON(t.Target)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO transactions
			(id, client_id, type, status, debit_account_id, credit_account_id, amount,
			 idempotency_key, rail, rail_id, parent_id, target, description, failure_reason,
			 completed_at, failed_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7,
			 NULLIF($8, ''), $9, NULLIF($10, ''), NULLIF($11, ''), $12, NULLIF($13, ''), NULLIF($14, ''),
			 $15, $16)
		 RETURNING created_at`,
		t.ID, t.ClientID, t.Type, t.Status, t.DebitAccountID, t.CreditAccountID, t.Amount,
		t.IdempotencyKey, t.Rail, t.RailID, t.ParentID, target, t.Description, t.FailureReason,
		t.CompletedAt, t.FailedAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

// boundTransaction resolves an idempotency key to the transaction it is
// bound to, outside any open transaction (used after losing a binding race).
func (s *Store) boundTransaction(ctx context.Context, clientID, key string) (*model.Transaction, error) {
	var transactionID string
	err := s.db.QueryRow(ctx,
		`SELECT transaction_id FROM idempotency_keys WHERE client_id = $1 AND key = $2`,
		clientID, key,
	).Scan(&transactionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	return s.GetTransaction(ctx, transactionID)
}

// CreatePayment creates a pending transaction, binds the idempotency key and
// blocks the debit amount, all in one database transaction. The bool result
// reports a replay: the key was already bound and the existing transaction
// is returned with no new side effects. Two concurrent requests carrying the
// same key race on the unique index; the loser observes the winner.
func (s *Store) CreatePayment(ctx context.Context, req model.PaymentRequest, transactionID string) (*model.Transaction, bool, error) {
	t := &model.Transaction{
		ID:             transactionID,
		ClientID:       req.ClientID,
		Type:           req.Target.TransactionType(),
		Status:         model.StatusPending,
		DebitAccountID: req.DebitAccountID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		Rail:           req.Target.Rail,
		ParentID:       req.ParentID,
		Target:         req.Target,
		Description:    req.Description,
	}
	if req.Target.Rail == model.RailInternal {
		t.CreditAccountID = req.Target.InternalAccountID
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if req.IdempotencyKey != "" {
			_, err := tx.Exec(ctx,
				`INSERT INTO idempotency_keys (client_id, key, transaction_id) VALUES ($1, $2, $3)`,
				req.ClientID, req.IdempotencyKey, transactionID,
			)
			if err != nil {
				return fmt.Errorf("key reservation failed: %w", err)
			}
		}

		if err := s.checkDailyLimit(ctx, tx, req); err != nil {
			return err
		}
		if err := insertTransactionTx(ctx, tx, t); err != nil {
			return err
		}
		// A failed block aborts the whole unit: no dangling transaction,
		// no dangling key binding.
		return blockTx(ctx, tx, transactionID, req.DebitAccountID, req.Amount)
	})
	if err == nil {
		return t, false, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		existing, lerr := s.boundTransaction(ctx, req.ClientID, req.IdempotencyKey)
		if lerr != nil {
			return nil, false, fmt.Errorf("replay lookup failed: %w", lerr)
		}
		return existing, true, nil
	}
	return nil, false, err
}

// checkDailyLimit enforces the per-rail daily transfer limit while the debit
// account's row lock is not yet held; the sum is re-read under the same
// transaction as the block, so a concurrent creator cannot slip past it.
func (s *Store) checkDailyLimit(ctx context.Context, tx pgx.Tx, req model.PaymentRequest) error {
	if req.Target.Rail == model.RailInternal {
		return nil
	}
	var limit int64
	var active bool
	err := tx.QueryRow(ctx,
		`SELECT CASE WHEN $2 = 'ted' THEN daily_limit_wire ELSE daily_limit_instant END, active
		 FROM accounts WHERE id = $1 FOR UPDATE`,
		req.DebitAccountID, string(req.Target.Rail),
	).Scan(&limit, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("limit query failed: %w", err)
	}
	if !active {
		return model.ErrAccountInactive
	}
	if limit <= 0 {
		return nil
	}

	var used int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		 WHERE debit_account_id = $1 AND rail = $2
		   AND status NOT IN ('failed', 'cancelled')
		   AND created_at >= $3`,
		req.DebitAccountID, string(req.Target.Rail), startOfDay(time.Now()),
	).Scan(&used)
	if err != nil {
		return fmt.Errorf("limit usage query failed: %w", err)
	}
	if used+req.Amount > limit {
		return model.ErrDailyLimitExceeded
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	return t, nil
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID string, limit int) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE debit_account_id = $1 OR credit_account_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("transactions query failed: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// MarkProcessing flips pending -> processing before the rail submit. The
// guard on current status makes concurrent submitters race safely.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE transactions SET status = 'processing' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

// SetRailID records the correlation id assigned by the rail gateway.
func (s *Store) SetRailID(ctx context.Context, id, railID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE transactions SET rail_id = $2 WHERE id = $1`, id, railID)
	if err != nil {
		return fmt.Errorf("rail id update failed: %w", err)
	}
	return nil
}

// CompletePayment settles the blocked debit and marks the transaction
// completed. Only legal from processing; any other state returns
// ErrInvalidTransition so duplicate rail callbacks degrade to no-ops.
func (s *Store) CompletePayment(ctx context.Context, id string) (*model.Transaction, error) {
	var result *model.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := getTransactionTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if t.Status != model.StatusProcessing {
			return model.ErrInvalidTransition
		}

		if t.Rail == model.RailInternal {
			if err := settleInternalTx(ctx, tx, t.ID, t.DebitAccountID, t.CreditAccountID, t.Amount); err != nil {
				return err
			}
		} else {
			if err := settleExternalTx(ctx, tx, t.ID, t.DebitAccountID, t.Amount); err != nil {
				return err
			}
		}

		now := time.Now()
		if _, err := tx.Exec(ctx,
			`UPDATE transactions SET status = 'completed', completed_at = $2 WHERE id = $1`,
			t.ID, now); err != nil {
			return fmt.Errorf("status update failed: %w", err)
		}
		if err := insertEventTx(ctx, tx, model.EventTransactionCompleted, t, ""); err != nil {
			return err
		}
		t.Status = model.StatusCompleted
		t.CompletedAt = &now
		result = t
		return nil
	})
	return result, err
}

// FailPayment releases the block and marks the transaction failed with the
// supplied reason. Legal from pending and processing.
func (s *Store) FailPayment(ctx context.Context, id, reason string) (*model.Transaction, error) {
	var result *model.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := getTransactionTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(model.StatusFailed) {
			return model.ErrInvalidTransition
		}

		// Release before the terminal mark: no stuck blocked balance.
		if err := releaseTx(ctx, tx, t.ID, t.DebitAccountID, t.Amount); err != nil {
			return err
		}

		now := time.Now()
		if _, err := tx.Exec(ctx,
			`UPDATE transactions SET status = 'failed', failure_reason = $2, failed_at = $3 WHERE id = $1`,
			t.ID, reason, now); err != nil {
			return fmt.Errorf("status update failed: %w", err)
		}
		if err := insertEventTx(ctx, tx, model.EventTransactionFailed, t, reason); err != nil {
			return err
		}
		t.Status = model.StatusFailed
		t.FailureReason = reason
		t.FailedAt = &now
		result = t
		return nil
	})
	return result, err
}

// CancelPending cancels a transaction that has not yet been submitted to the
// rail, releasing its block. Once processing, cancellation is best-effort at
// the gateway and resolved by the eventual rail result.
func (s *Store) CancelPending(ctx context.Context, id string) (*model.Transaction, error) {
	var result *model.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := getTransactionTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if t.Status != model.StatusPending {
			return model.ErrInvalidTransition
		}
		if err := releaseTx(ctx, tx, t.ID, t.DebitAccountID, t.Amount); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE transactions SET status = 'cancelled' WHERE id = $1`, t.ID); err != nil {
			return fmt.Errorf("status update failed: %w", err)
		}
		t.Status = model.StatusCancelled
		result = t
		return nil
	})
	return result, err
}

// ReversePayment creates a chargeback transaction moving the amount back and
// marks the original reversed. The original's ledger entries are never
// touched; the ledger stays append-only.
func (s *Store) ReversePayment(ctx context.Context, id, reversalID string) (original, chargeback *model.Transaction, err error) {
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := getTransactionTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if t.Status != model.StatusCompleted {
			return model.ErrInvalidTransition
		}

		now := time.Now()
		back := &model.Transaction{
			ID:              reversalID,
			ClientID:        t.ClientID,
			Type:            model.TypeChargeback,
			Status:          model.StatusCompleted,
			DebitAccountID:  t.CreditAccountID,
			CreditAccountID: t.DebitAccountID,
			Amount:          t.Amount,
			Rail:            t.Rail,
			ParentID:        t.ID,
			Target:          t.Target,
			Description:     "reversal of " + t.ID,
			CompletedAt:     &now,
		}
		if err := insertTransactionTx(ctx, tx, back); err != nil {
			return err
		}

		if t.Rail == model.RailInternal {
			// Pull the money back from the credited account.
			if err := settleInternalReverse(ctx, tx, back.ID, t.CreditAccountID, t.DebitAccountID, t.Amount); err != nil {
				return err
			}
		} else {
			// External rail refunded us; credit the original debit account.
			if err := creditTx(ctx, tx, back.ID, t.DebitAccountID, t.Amount); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE transactions SET status = 'reversed' WHERE id = $1`, t.ID); err != nil {
			return fmt.Errorf("status update failed: %w", err)
		}
		if err := insertEventTx(ctx, tx, model.EventTransactionReversed, t, "reversed by "+back.ID); err != nil {
			return err
		}
		t.Status = model.StatusReversed
		original, chargeback = t, back
		return nil
	})
	return original, chargeback, err
}

// settleInternalReverse moves available funds straight from one account to
// another, id-ordered locks first.
func settleInternalReverse(ctx context.Context, tx pgx.Tx, transactionID, fromID, toID string, amount int64) error {
	first, second := fromID, toID
	if first > second {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		if _, _, _, err := lockAccount(ctx, tx, id); err != nil {
			return err
		}
	}
	if err := applyDelta(ctx, tx, transactionID, fromID, -amount, 0); err != nil {
		return err
	}
	return applyDelta(ctx, tx, transactionID, toID, amount, 0)
}

// CreateReceipt registers money arriving from the rail with no prior local
// transaction: a completed transaction plus a direct available credit,
// skipping the block step.
func (s *Store) CreateReceipt(ctx context.Context, req model.ReceiptRequest, transactionID string) (*model.Transaction, error) {
	now := time.Now()
	t := &model.Transaction{
		ID:              transactionID,
		ClientID:        req.ClientID,
		Type:            model.TypeInstantReceipt,
		Status:          model.StatusCompleted,
		CreditAccountID: req.AccountID,
		Amount:          req.Amount,
		Rail:            model.RailInstant,
		RailID:          req.ExternalReference,
		Target:          model.RailTarget{Rail: model.RailInstant},
		Description:     req.Description,
		CompletedAt:     &now,
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertTransactionTx(ctx, tx, t); err != nil {
			return err
		}
		if err := creditTx(ctx, tx, t.ID, req.AccountID, req.Amount); err != nil {
			return err
		}
		return insertEventTx(ctx, tx, model.EventTransactionCompleted, t, "")
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FindStuckTransactions returns non-terminal transactions older than the
// timeout window. Processing rows have waited on a rail result too long;
// pending rows were committed but never submitted (a crash between creation
// and submit, or a lost processing race) and still hold their block. The
// reaper resolves both.
func (s *Store) FindStuckTransactions(ctx context.Context, olderThan time.Time) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE status IN ('pending', 'processing') AND created_at < $1`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("stuck query failed: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
