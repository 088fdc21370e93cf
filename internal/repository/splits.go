package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"pagcore/internal/model"
)

func (s *Store) CreateSplitRule(ctx context.Context, rule *model.SplitRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		// One active rule per account: creating a new one supersedes the old.
		if _, err := tx.Exec(ctx,
			`UPDATE split_rules SET active = FALSE WHERE account_id = $1 AND active = TRUE`,
			rule.AccountID); err != nil {
			return fmt.Errorf("rule supersede failed: %w", err)
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO split_rules (id, client_id, account_id, active) VALUES ($1, $2, $3, TRUE)
			 RETURNING created_at`,
			rule.ID, rule.ClientID, rule.AccountID,
		).Scan(&rule.CreatedAt)
		if err != nil {
			return fmt.Errorf("rule insert failed: %w", err)
		}
		for i := range rule.Recipients {
			rec := &rule.Recipients[i]
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			rec.RuleID = rule.ID
			if _, err := tx.Exec(ctx,
				`INSERT INTO split_recipients (id, rule_id, account_id, kind, value, exec_order)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				rec.ID, rule.ID, rec.AccountID, rec.Kind, rec.Value, rec.Order); err != nil {
				return fmt.Errorf("recipient insert failed: %w", err)
			}
		}
		rule.Active = true
		return nil
	})
}

// ActiveRuleForAccount loads the active split rule of an account with its
// recipients in execution order. Returns (nil, nil) when there is none.
func (s *Store) ActiveRuleForAccount(ctx context.Context, accountID string) (*model.SplitRule, error) {
	var rule model.SplitRule
	err := s.db.QueryRow(ctx,
		`SELECT id, client_id, account_id, active, created_at
		 FROM split_rules WHERE account_id = $1 AND active = TRUE`,
		accountID,
	).Scan(&rule.ID, &rule.ClientID, &rule.AccountID, &rule.Active, &rule.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rule query failed: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, rule_id, account_id, kind, value, exec_order
		 FROM split_recipients WHERE rule_id = $1 ORDER BY exec_order ASC`,
		rule.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("recipients query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.SplitRecipient
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.AccountID, &rec.Kind, &rec.Value, &rec.Order); err != nil {
			return nil, err
		}
		rule.Recipients = append(rule.Recipients, rec)
	}
	return &rule, rows.Err()
}

func (s *Store) ListSplitRules(ctx context.Context, clientID string) ([]model.SplitRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, client_id, account_id, active, created_at
		 FROM split_rules WHERE client_id = $1 ORDER BY created_at DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("rules query failed: %w", err)
	}
	defer rows.Close()

	var out []model.SplitRule
	for rows.Next() {
		var rule model.SplitRule
		if err := rows.Scan(&rule.ID, &rule.ClientID, &rule.AccountID, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// RecordSplit persists the apportionment applied (or refused) for one
// recipient of one parent transaction.
func (s *Store) RecordSplit(ctx context.Context, split *model.SplitTransaction) error {
	if split.ID == "" {
		split.ID = uuid.NewString()
	}
	// Re-delivered completion events record each recipient at most once.
	_, err := s.db.Exec(ctx,
		`INSERT INTO split_transactions
			(id, rule_id, parent_transaction_id, child_transaction_id, recipient_account_id, amount, status, reason)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''))
		 ON CONFLICT (parent_transaction_id, recipient_account_id) DO NOTHING`,
		split.ID, split.RuleID, split.ParentTransaction, split.ChildTransaction,
		split.RecipientAccountID, split.Amount, split.Status, split.Reason,
	)
	if err != nil {
		return fmt.Errorf("split insert failed: %w", err)
	}
	return nil
}

func (s *Store) ListSplitsByParent(ctx context.Context, parentTransactionID string) ([]model.SplitTransaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, rule_id, parent_transaction_id, COALESCE(child_transaction_id, ''),
			recipient_account_id, amount, status, COALESCE(reason, ''), created_at
		 FROM split_transactions WHERE parent_transaction_id = $1 ORDER BY created_at ASC`,
		parentTransactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("splits query failed: %w", err)
	}
	defer rows.Close()

	var out []model.SplitTransaction
	for rows.Next() {
		var st model.SplitTransaction
		if err := rows.Scan(&st.ID, &st.RuleID, &st.ParentTransaction, &st.ChildTransaction,
			&st.RecipientAccountID, &st.Amount, &st.Status, &st.Reason, &st.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
