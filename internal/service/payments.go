package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pagcore/internal/model"
	"pagcore/internal/rail"
)

// CreatePayment is the single entry point for outbound money movement.
// Retries carrying the same idempotency key return the transaction bound to
// it with no new side effects, whatever state it has reached since.
func (c *Core) CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Transaction, error) {
	if req.Amount <= 0 || req.ClientID == "" || req.DebitAccountID == "" {
		return nil, model.ErrValidation
	}
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}
	if req.Target.Rail == model.RailInternal && req.Target.InternalAccountID == req.DebitAccountID {
		return nil, model.ErrValidation
	}

	if c.cache != nil && req.IdempotencyKey != "" {
		if id := c.cache.Lookup(ctx, req.ClientID, req.IdempotencyKey); id != "" {
			return c.store.GetTransaction(ctx, id)
		}
	}

	if req.Target.Rail == model.RailInstant {
		if err := c.gateway.DictLookup(ctx, req.Target.PixKey, req.Target.PixKeyType); err != nil {
			if errors.Is(err, rail.ErrUnknownKey) {
				return nil, fmt.Errorf("pix key does not resolve: %w", model.ErrValidation)
			}
			// Lookup unavailable is not a reason to refuse the payment;
			// the submit itself will surface a real rail failure.
			slog.Warn("dict lookup unavailable", "error", err)
		}
	}

	transactionID := uuid.NewString()
	txn, replayed, err := c.store.CreatePayment(ctx, req, transactionID)
	if err != nil {
		return nil, err
	}
	if c.cache != nil && req.IdempotencyKey != "" {
		c.cache.Bind(ctx, req.ClientID, req.IdempotencyKey, txn.ID)
	}
	if replayed {
		slog.Info("idempotent replay", "transaction_id", txn.ID, "key", req.IdempotencyKey)
		return txn, nil
	}

	return c.advance(ctx, txn)
}

// advance pushes a freshly created pending transaction through submission.
// The debit account's row lock was released when creation committed; the
// rail call below runs without it.
func (c *Core) advance(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if err := c.store.MarkProcessing(ctx, txn.ID); err != nil {
		// A concurrent operator cancel can win this race; the transaction
		// is already owned by whoever transitioned it.
		slog.Warn("could not mark processing", "transaction_id", txn.ID, "error", err)
		return c.store.GetTransaction(ctx, txn.ID)
	}
	txn.Status = model.StatusProcessing

	if txn.Rail == model.RailInternal {
		return c.store.CompletePayment(ctx, txn.ID)
	}

	correlationID, err := c.gateway.Submit(ctx, txn.ID, txn.Target, txn.Amount)
	if err != nil {
		failed, ferr := c.store.FailPayment(ctx, txn.ID, err.Error())
		if ferr != nil {
			return nil, fmt.Errorf("fail after rejected submit: %w", ferr)
		}
		return failed, nil
	}
	if err := c.store.SetRailID(ctx, txn.ID, correlationID); err != nil {
		slog.Error("rail id not recorded", "transaction_id", txn.ID, "error", err)
	}
	txn.RailID = correlationID
	return txn, nil
}

// HandleRailResult finalizes a transaction from the gateway's asynchronous
// callback. Callbacks for unknown or already-terminal transactions are
// no-ops, so the rail may deliver duplicates freely.
func (c *Core) HandleRailResult(ctx context.Context, res model.RailResult) error {
	txn, err := c.store.GetTransaction(ctx, res.TransactionID)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("rail result for unknown transaction", "transaction_id", res.TransactionID)
		return nil
	}
	if err != nil {
		return err
	}
	if txn.Status.Terminal() {
		return nil
	}

	if res.Success {
		completed, err := c.store.CompletePayment(ctx, txn.ID)
		if errors.Is(err, model.ErrInvalidTransition) {
			return nil
		}
		if err != nil {
			return err
		}
		if res.ExternalReference != "" && completed.RailID == "" {
			_ = c.store.SetRailID(ctx, completed.ID, res.ExternalReference)
		}
		return nil
	}

	reason := res.Reason
	if reason == "" {
		reason = "rail reported failure"
	}
	_, err = c.store.FailPayment(ctx, txn.ID, reason)
	if errors.Is(err, model.ErrInvalidTransition) {
		return nil
	}
	return err
}

// Cancel aborts a payment. Pending transactions cancel locally and release
// their block; processing ones can only be asked of the rail, which answers
// through the normal result path.
func (c *Core) Cancel(ctx context.Context, transactionID string) (*model.Transaction, error) {
	txn, err := c.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	switch txn.Status {
	case model.StatusPending:
		return c.store.CancelPending(ctx, transactionID)
	case model.StatusProcessing:
		if err := c.gateway.CancelRequest(ctx, txn.RailID); err != nil {
			slog.Warn("rail cancel request failed", "transaction_id", transactionID, "error", err)
		}
		return txn, nil
	}
	return nil, model.ErrInvalidTransition
}

// Reverse creates a chargeback moving the amount back and marks the original
// reversed. Only legal from completed.
func (c *Core) Reverse(ctx context.Context, transactionID string) (*model.Transaction, error) {
	_, chargeback, err := c.store.ReversePayment(ctx, transactionID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return chargeback, nil
}

// RegisterReceipt records money that arrived from the rail with no prior
// local transaction: created directly in completed, credit only.
func (c *Core) RegisterReceipt(ctx context.Context, req model.ReceiptRequest) (*model.Transaction, error) {
	if req.Amount <= 0 || req.ClientID == "" || req.AccountID == "" {
		return nil, model.ErrValidation
	}
	return c.store.CreateReceipt(ctx, req, uuid.NewString())
}

func (c *Core) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return c.store.GetTransaction(ctx, id)
}

// TimeOutStale resolves every transaction that has sat non-terminal longer
// than window. A stale pending row was never submitted, so it fails outright
// and releases its block. A stale processing row with a rail correlation id
// is polled first: the callback may have been lost while the transfer itself
// settled, and failing a settled transfer would double the money back.
// Returns how many it resolved.
func (c *Core) TimeOutStale(ctx context.Context, window time.Duration) (int, error) {
	stuck, err := c.store.FindStuckTransactions(ctx, time.Now().Add(-window))
	if err != nil {
		return 0, err
	}
	reaped := 0
	for i := range stuck {
		resolved, err := c.resolveStale(ctx, &stuck[i])
		if err != nil {
			return reaped, err
		}
		if resolved {
			reaped++
		}
	}
	return reaped, nil
}

func (c *Core) resolveStale(ctx context.Context, txn *model.Transaction) (bool, error) {
	reason := "rail result timeout"

	if txn.Status == model.StatusProcessing && txn.RailID != "" {
		res, err := c.gateway.Status(ctx, txn.RailID)
		switch {
		case err == nil && res.Success:
			_, err := c.store.CompletePayment(ctx, txn.ID)
			if errors.Is(err, model.ErrInvalidTransition) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			slog.Info("stale transfer settled at rail", "transaction_id", txn.ID)
			return true, nil
		case err == nil:
			if res.Reason != "" {
				reason = res.Reason
			}
		default:
			// Pending or unreachable past the window: the block cannot be
			// held indefinitely, fail and release.
			slog.Warn("rail status poll inconclusive", "transaction_id", txn.ID, "error", err)
		}
	}

	_, err := c.store.FailPayment(ctx, txn.ID, reason)
	if errors.Is(err, model.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
