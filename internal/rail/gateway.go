// Package rail is the boundary to the external payment networks. The core
// submits a debit with its own transaction id as the correlation key; the
// provider answers out-of-band and results come back on the bus as
// model.RailResult messages.
package rail

import (
	"context"
	"errors"

	"pagcore/internal/model"
)

var (
	// ErrRejected is a permanent refusal: resubmitting the same request
	// will not succeed.
	ErrRejected = errors.New("rail rejected the transfer")
	// ErrUnavailable is transient: the provider could not be reached or
	// answered 5xx after retries.
	ErrUnavailable = errors.New("rail unavailable")
	// ErrUnknownKey means the instant-rail key does not resolve.
	ErrUnknownKey = errors.New("unknown pix key")
	// ErrResultPending means the provider has not settled the transfer yet.
	ErrResultPending = errors.New("rail result still pending")
)

type Gateway interface {
	// Submit hands a transfer to the provider and returns its correlation
	// id. The outcome arrives later as a RailResult.
	Submit(ctx context.Context, transactionID string, target model.RailTarget, amount int64) (string, error)
	// CancelRequest asks the provider to abort an in-flight transfer.
	// Best effort; the authoritative outcome is still the rail result.
	CancelRequest(ctx context.Context, correlationID string) error
	// DictLookup validates an instant-rail key before submission.
	DictLookup(ctx context.Context, key, keyType string) error
	// Status polls the provider for a transfer's current outcome. Returns
	// ErrResultPending while the provider is still working on it. Used by
	// the reaper to resolve transfers whose callback never arrived.
	Status(ctx context.Context, correlationID string) (*model.RailResult, error)
}
