package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"pagcore/internal/model"
)

// insertEventTx appends a lifecycle event to the outbox inside the caller's
// transaction. The event commits or rolls back together with the state change
// that produced it, so a committed transition always leaves a relayable row.
func insertEventTx(ctx context.Context, tx pgx.Tx, eventType string, t *model.Transaction, reason string) error {
	ev := model.TransactionEvent{
		EventID:        uuid.NewString(),
		Type:           eventType,
		TransactionID:  t.ID,
		ClientID:       t.ClientID,
		DebitAccountID: t.DebitAccountID,
		Amount:         t.Amount,
		Rail:           t.Rail,
		ParentID:       t.ParentID,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event marshal failed: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO event_outbox (id, topic, payload) VALUES ($1, $2, $3)`,
		ev.EventID, model.TopicFor(eventType), payload,
	); err != nil {
		return fmt.Errorf("outbox insert failed: %w", err)
	}
	return nil
}

// PendingEvents returns unpublished outbox rows, oldest first.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, topic, payload, created_at FROM event_outbox
		 WHERE published_at IS NULL
		 ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox query failed: %w", err)
	}
	defer rows.Close()

	var out []model.OutboxEvent
	for rows.Next() {
		var ev model.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox scan failed: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkEventPublished stamps an outbox row as relayed. Rows stay in the table
// for audit; a retention job can prune published ones later.
func (s *Store) MarkEventPublished(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE event_outbox SET published_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("outbox update failed: %w", err)
	}
	return nil
}
