package service

import (
	"context"
	"fmt"
	"log/slog"

	"pagcore/internal/model"
)

// ExecuteSplits fans a completed outbound payment out to the recipients of
// the debit account's active split rule. Each recipient is paid by its own
// internal-transfer child transaction; a recipient that cannot be paid gets
// a failed split row while its siblings still execute, so a partial split is
// recorded and visible, never silently dropped.
func (c *Core) ExecuteSplits(ctx context.Context, ev model.TransactionEvent) error {
	if ev.Type != model.EventTransactionCompleted || ev.DebitAccountID == "" {
		return nil
	}
	// Children carry the parent id; they never re-enter the engine.
	if ev.ParentID != "" {
		return nil
	}

	rule, err := c.store.ActiveRuleForAccount(ctx, ev.DebitAccountID)
	if err != nil {
		return err
	}
	if rule == nil {
		return nil
	}

	remaining := ev.Amount
	for _, rec := range rule.Recipients {
		share := rec.Share(ev.Amount, remaining)
		split := &model.SplitTransaction{
			RuleID:             rule.ID,
			ParentTransaction:  ev.TransactionID,
			RecipientAccountID: rec.AccountID,
			Amount:             share,
		}

		if share <= 0 || share > remaining {
			split.Status = model.SplitFailed
			split.Reason = "insufficient remaining amount"
			if err := c.store.RecordSplit(ctx, split); err != nil {
				return err
			}
			continue
		}

		child, err := c.CreatePayment(ctx, model.PaymentRequest{
			ClientID: rule.ClientID,
			// Deterministic key: re-delivery of the completed event cannot
			// pay a recipient twice.
			IdempotencyKey: fmt.Sprintf("split:%s:%s", ev.TransactionID, rec.ID),
			DebitAccountID: ev.DebitAccountID,
			Target:         model.RailTarget{Rail: model.RailInternal, InternalAccountID: rec.AccountID},
			Amount:         share,
			Description:    "split of " + ev.TransactionID,
			ParentID:       ev.TransactionID,
		})
		if err != nil {
			slog.Warn("split recipient payout failed",
				"parent", ev.TransactionID, "recipient", rec.AccountID, "error", err)
			split.Status = model.SplitFailed
			split.Reason = err.Error()
			if rerr := c.store.RecordSplit(ctx, split); rerr != nil {
				return rerr
			}
			continue
		}

		split.ChildTransaction = child.ID
		split.Status = model.SplitExecuted
		remaining -= share
		if err := c.store.RecordSplit(ctx, split); err != nil {
			return err
		}
	}
	// Whatever remains after all recipients stays with the originating
	// account; no further transaction is created for it.
	return nil
}
