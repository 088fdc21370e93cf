// Package service orchestrates the payment lifecycle over the persistence
// layer and the rail gateway. All transports and workers depend on Core, not
// on the concrete repositories. Lifecycle events are not published here:
// every terminal transition writes an outbox row in the same database
// transaction, and the relay worker moves those onto the bus.
package service

import (
	"context"
	"time"

	"pagcore/internal/model"
	"pagcore/internal/rail"
)

// Store is the persistence surface Core orchestrates over. Every method is
// one atomic unit; Core never composes partial mutations of its own.
type Store interface {
	CreatePayment(ctx context.Context, req model.PaymentRequest, transactionID string) (*model.Transaction, bool, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	MarkProcessing(ctx context.Context, id string) error
	SetRailID(ctx context.Context, id, railID string) error
	CompletePayment(ctx context.Context, id string) (*model.Transaction, error)
	FailPayment(ctx context.Context, id, reason string) (*model.Transaction, error)
	CancelPending(ctx context.Context, id string) (*model.Transaction, error)
	ReversePayment(ctx context.Context, id, reversalID string) (*model.Transaction, *model.Transaction, error)
	CreateReceipt(ctx context.Context, req model.ReceiptRequest, transactionID string) (*model.Transaction, error)
	FindStuckTransactions(ctx context.Context, olderThan time.Time) ([]model.Transaction, error)
	ActiveRuleForAccount(ctx context.Context, accountID string) (*model.SplitRule, error)
	RecordSplit(ctx context.Context, split *model.SplitTransaction) error
}

// KeyCache is the optional idempotency fast path; nil disables it.
type KeyCache interface {
	Lookup(ctx context.Context, clientID, key string) string
	Bind(ctx context.Context, clientID, key, transactionID string)
}

type Core struct {
	store   Store
	cache   KeyCache
	gateway rail.Gateway
}

func NewCore(store Store, cache KeyCache, gateway rail.Gateway) *Core {
	return &Core{store: store, cache: cache, gateway: gateway}
}
