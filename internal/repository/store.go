package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pagcore/internal/model"
)

// Store is the persistence layer. Every money-moving method runs as a single
// database transaction so that a crash between steps can never leave a
// movement without its balance update or a blocked amount without its
// transaction row.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

const transactionColumns = `id, client_id, type, status,
	COALESCE(debit_account_id, ''), COALESCE(credit_account_id, ''),
	amount, COALESCE(idempotency_key, ''), rail, COALESCE(rail_id, ''),
	COALESCE(parent_id, ''), target, COALESCE(description, ''),
	COALESCE(failure_reason, ''), created_at, completed_at, failed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		t      model.Transaction
		target []byte
	)
	err := row.Scan(&t.ID, &t.ClientID, &t.Type, &t.Status,
		&t.DebitAccountID, &t.CreditAccountID,
		&t.Amount, &t.IdempotencyKey, &t.Rail, &t.RailID,
		&t.ParentID, &target, &t.Description,
		&t.FailureReason, &t.CreatedAt, &t.CompletedAt, &t.FailedAt)
	if err != nil {
		return nil, err
	}
	if len(target) > 0 {
		if err := json.Unmarshal(target, &t.Target); err != nil {
			return nil, fmt.Errorf("decode rail target: %w", err)
		}
	}
	return &t, nil
}

func targetJSON(t model.RailTarget) ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode rail target: %w", err)
	}
	return b, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
