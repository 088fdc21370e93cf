package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagcore/internal/model"
)

// UpsertEndpoint registers or replaces a client's webhook endpoint for the
// given URL. The secret signs every payload delivered to it.
func (s *Store) UpsertEndpoint(ctx context.Context, ep *model.WebhookEndpoint) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO webhook_endpoints (id, client_id, url, secret, active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 ON CONFLICT (client_id, url) DO UPDATE SET secret = EXCLUDED.secret, active = TRUE
		 RETURNING id, created_at`,
		ep.ID, ep.ClientID, ep.URL, ep.Secret,
	).Scan(&ep.ID, &ep.CreatedAt)
	if err != nil {
		return fmt.Errorf("endpoint upsert failed: %w", err)
	}
	ep.Active = true
	return nil
}

func (s *Store) ActiveEndpoints(ctx context.Context, clientID string) ([]model.WebhookEndpoint, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, client_id, url, secret, active, created_at
		 FROM webhook_endpoints WHERE client_id = $1 AND active = TRUE`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("endpoints query failed: %w", err)
	}
	defer rows.Close()

	var out []model.WebhookEndpoint
	for rows.Next() {
		var ep model.WebhookEndpoint
		if err := rows.Scan(&ep.ID, &ep.ClientID, &ep.URL, &ep.Secret, &ep.Active, &ep.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// EnqueueDelivery creates one pending delivery row. The signature is
// computed once at enqueue time and stored with the payload.
func (s *Store) EnqueueDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO webhook_deliveries
			(id, client_id, endpoint_id, url, event_type, transaction_id, payload, signature,
			 status, attempts, max_attempts, next_retry_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, 0, $10, now())
		 RETURNING created_at`,
		d.ID, d.ClientID, d.EndpointID, d.URL, d.EventType, d.TransactionID,
		d.Payload, d.Signature, model.DeliveryPending, d.MaxAttempts,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("delivery insert failed: %w", err)
	}
	d.Status = model.DeliveryPending
	return nil
}

const deliveryColumns = `id, client_id, endpoint_id, url, event_type,
	COALESCE(transaction_id, ''), payload, signature, status, attempts, max_attempts,
	COALESCE(last_status_code, 0), COALESCE(last_response, ''), next_retry_at, delivered_at, created_at`

func scanDelivery(row rowScanner) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	err := row.Scan(&d.ID, &d.ClientID, &d.EndpointID, &d.URL, &d.EventType,
		&d.TransactionID, &d.Payload, &d.Signature, &d.Status, &d.Attempts, &d.MaxAttempts,
		&d.LastStatusCode, &d.LastResponse, &d.NextRetryAt, &d.DeliveredAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// deliveryLease bounds how long a claimed delivery stays invisible to other
// dispatchers. A worker that dies mid-send leaves its rows inflight; once the
// lease expires they become claimable again, which may double-send — the
// signed event id lets receivers de-duplicate.
const deliveryLease = 5 * time.Minute

// ClaimDueDeliveries leases a batch of due deliveries by flipping them to
// inflight under SKIP LOCKED, so two workers never double-send the same row.
// The claim sets next_retry_at to the lease deadline; inflight rows past that
// deadline belong to a dead worker and are reclaimed like any due row.
func (s *Store) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int) ([]model.WebhookDelivery, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE webhook_deliveries SET status = $3, next_retry_at = $4
		 WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status IN ($5, $6, $3) AND next_retry_at <= $1
			ORDER BY next_retry_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+deliveryColumns,
		now, limit, model.DeliveryInFlight, now.Add(deliveryLease),
		model.DeliveryPending, model.DeliveryRetrying,
	)
	if err != nil {
		return nil, fmt.Errorf("delivery claim failed: %w", err)
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) MarkDelivered(ctx context.Context, id string, statusCode int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE webhook_deliveries
		 SET status = $3, attempts = attempts + 1, last_status_code = $2, delivered_at = now()
		 WHERE id = $1`,
		id, statusCode, model.DeliveryDelivered)
	if err != nil {
		return fmt.Errorf("delivered update failed: %w", err)
	}
	return nil
}

// MarkAttemptFailed records a failed attempt: back to retrying with the next
// retry time, or terminally failed once attempts are exhausted.
func (s *Store) MarkAttemptFailed(ctx context.Context, id string, statusCode int, body string, nextRetryAt time.Time, terminal bool) error {
	status := model.DeliveryRetrying
	if terminal {
		status = model.DeliveryFailed
	}
	_, err := s.db.Exec(ctx,
		`UPDATE webhook_deliveries
		 SET status = $2, attempts = attempts + 1, last_status_code = NULLIF($3, 0),
			 last_response = NULLIF($4, ''), next_retry_at = $5
		 WHERE id = $1`,
		id, status, statusCode, body, nextRetryAt)
	if err != nil {
		return fmt.Errorf("attempt update failed: %w", err)
	}
	return nil
}

func (s *Store) ListDeliveries(ctx context.Context, clientID string, limit int) ([]model.WebhookDelivery, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		 WHERE client_id = $1 ORDER BY created_at DESC LIMIT $2`,
		clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("deliveries query failed: %w", err)
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
