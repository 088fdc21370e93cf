package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"pagcore/internal/model"
)

// lockAccount acquires the row lock that serializes all balance mutations
// for one account. Callers touching two accounts must lock them in id order
// to avoid deadlocks (see settleInternalTx).
func lockAccount(ctx context.Context, tx pgx.Tx, accountID string) (available, blocked int64, active bool, err error) {
	err = tx.QueryRow(ctx,
		`SELECT available, blocked, active FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&available, &blocked, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, false, model.ErrAccountNotFound
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return available, blocked, active, nil
}

// applyDelta mutates one account's balance pair and writes the matching
// movement row in the same transaction. The caller must already hold (or be
// about to take, in id order) the row locks of every account it touches.
func applyDelta(ctx context.Context, tx pgx.Tx, transactionID, accountID string, availableDelta, blockedDelta int64) error {
	available, blocked, active, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if !active {
		return model.ErrAccountInactive
	}

	newAvailable := available + availableDelta
	newBlocked := blocked + blockedDelta
	if newAvailable < 0 {
		return model.ErrInsufficientFunds
	}
	if newBlocked < 0 {
		return fmt.Errorf("account %s: blocked balance would go negative: %w", accountID, model.ErrInvalidTransition)
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET available = $1, blocked = $2 WHERE id = $3`,
		newAvailable, newBlocked, accountID,
	)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balance_movements
			(id, transaction_id, account_id, available_delta, blocked_delta, resulting_available, resulting_blocked)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), transactionID, accountID, availableDelta, blockedDelta, newAvailable, newBlocked,
	)
	if err != nil {
		return fmt.Errorf("movement insert failed: %w", err)
	}
	return nil
}

func blockTx(ctx context.Context, tx pgx.Tx, transactionID, accountID string, amount int64) error {
	return applyDelta(ctx, tx, transactionID, accountID, -amount, amount)
}

func releaseTx(ctx context.Context, tx pgx.Tx, transactionID, accountID string, amount int64) error {
	return applyDelta(ctx, tx, transactionID, accountID, amount, -amount)
}

func settleExternalTx(ctx context.Context, tx pgx.Tx, transactionID, accountID string, amount int64) error {
	return applyDelta(ctx, tx, transactionID, accountID, 0, -amount)
}

func creditTx(ctx context.Context, tx pgx.Tx, transactionID, accountID string, amount int64) error {
	return applyDelta(ctx, tx, transactionID, accountID, amount, 0)
}

// settleInternalTx finalizes an internal transfer: blocked goes down on the
// debit side, available goes up on the credit side. Locks are taken in id
// order so two opposing transfers cannot deadlock.
func settleInternalTx(ctx context.Context, tx pgx.Tx, transactionID, debitID, creditID string, amount int64) error {
	first, second := debitID, creditID
	if first > second {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		if _, _, _, err := lockAccount(ctx, tx, id); err != nil {
			return err
		}
	}
	if err := applyDelta(ctx, tx, transactionID, debitID, 0, -amount); err != nil {
		return err
	}
	return applyDelta(ctx, tx, transactionID, creditID, amount, 0)
}

// Block moves amount from available to blocked, failing with
// ErrInsufficientFunds when available is short. Standalone variant; payment
// creation blocks inside its own transaction instead.
func (s *Store) Block(ctx context.Context, transactionID, accountID string, amount int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return blockTx(ctx, tx, transactionID, accountID, amount)
	})
}

// Release undoes a block without completing a transfer.
func (s *Store) Release(ctx context.Context, transactionID, accountID string, amount int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return releaseTx(ctx, tx, transactionID, accountID, amount)
	})
}

func (s *Store) CreateAccount(ctx context.Context, acc *model.Account) error {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (id, client_id, owner_type, available, blocked, daily_limit_instant, daily_limit_wire, active)
		 VALUES ($1, $2, $3, 0, 0, $4, $5, TRUE)
		 RETURNING created_at`,
		acc.ID, acc.ClientID, acc.OwnerType, acc.DailyLimitInstant, acc.DailyLimitWire,
	).Scan(&acc.CreatedAt)
	if err != nil {
		return fmt.Errorf("account insert failed: %w", err)
	}
	acc.Available, acc.Blocked, acc.Active = 0, 0, true
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var acc model.Account
	err := s.db.QueryRow(ctx,
		`SELECT id, client_id, owner_type, available, blocked, daily_limit_instant, daily_limit_wire, active, created_at
		 FROM accounts WHERE id = $1`,
		accountID,
	).Scan(&acc.ID, &acc.ClientID, &acc.OwnerType, &acc.Available, &acc.Blocked,
		&acc.DailyLimitInstant, &acc.DailyLimitWire, &acc.Active, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	return &acc, nil
}

// DeactivateAccount soft-closes an account. Accounts are never deleted.
func (s *Store) DeactivateAccount(ctx context.Context, accountID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET active = FALSE WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("account deactivate failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAccountNotFound
	}
	return nil
}

// ListMovements returns the most recent ledger entries for an account.
func (s *Store) ListMovements(ctx context.Context, accountID string, limit int) ([]model.BalanceMovement, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, transaction_id, account_id, available_delta, blocked_delta, resulting_available, resulting_blocked, created_at
		 FROM balance_movements WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("movements query failed: %w", err)
	}
	defer rows.Close()

	var out []model.BalanceMovement
	for rows.Next() {
		var m model.BalanceMovement
		if err := rows.Scan(&m.ID, &m.TransactionID, &m.AccountID, &m.AvailableDelta,
			&m.BlockedDelta, &m.ResultingAvailable, &m.ResultingBlocked, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AuditAccount folds the movement log and compares it to the cached balance
// pair. A mismatch is the fatal ledger invariant violation.
func (s *Store) AuditAccount(ctx context.Context, accountID string) error {
	var foldAvailable, foldBlocked, available, blocked int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(m.available_delta), 0), COALESCE(SUM(m.blocked_delta), 0), a.available, a.blocked
		 FROM accounts a LEFT JOIN balance_movements m ON m.account_id = a.id
		 WHERE a.id = $1
		 GROUP BY a.available, a.blocked`,
		accountID,
	).Scan(&foldAvailable, &foldBlocked, &available, &blocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("audit query failed: %w", err)
	}
	if foldAvailable != available || foldBlocked != blocked {
		return fmt.Errorf("account %s: fold (%d/%d) vs cache (%d/%d): %w",
			accountID, foldAvailable, foldBlocked, available, blocked, model.ErrLedgerDivergence)
	}
	return nil
}

// AuditAccounts checks every active account and deactivates any whose
// movement fold diverged from the cache, halting further processing on it.
// Returns the ids of the accounts it halted.
func (s *Store) AuditAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM accounts WHERE active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("accounts query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var halted []string
	for _, id := range ids {
		err := s.AuditAccount(ctx, id)
		if errors.Is(err, model.ErrLedgerDivergence) {
			if derr := s.DeactivateAccount(ctx, id); derr != nil {
				return halted, derr
			}
			halted = append(halted, id)
			continue
		}
		if err != nil {
			return halted, err
		}
	}
	return halted, nil
}
