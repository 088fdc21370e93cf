package model

import "time"

// ApportionKind tags how a split recipient's share is computed.
type ApportionKind string

const (
	ApportionPercentage ApportionKind = "percentage"
	ApportionFixed      ApportionKind = "fixed"
)

// SplitRecipient is one destination of a split rule. Value is a whole
// percentage (0..100) for percentage recipients and a minor-unit amount for
// fixed ones. Recipients execute in ascending Order.
type SplitRecipient struct {
	ID        string        `json:"id"`
	RuleID    string        `json:"rule_id"`
	AccountID string        `json:"account_id"`
	Kind      ApportionKind `json:"kind"`
	Value     int64         `json:"value"`
	Order     int           `json:"order"`
}

// Share computes the recipient's cut of amount. Percentage shares floor;
// fixed shares are capped at what remains.
func (r SplitRecipient) Share(amount, remaining int64) int64 {
	if r.Kind == ApportionFixed {
		if r.Value < remaining {
			return r.Value
		}
		return remaining
	}
	return amount * r.Value / 100
}

type SplitRule struct {
	ID         string           `json:"id"`
	ClientID   string           `json:"client_id"`
	AccountID  string           `json:"account_id"`
	Active     bool             `json:"active"`
	Recipients []SplitRecipient `json:"recipients"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Validate rejects empty rules and any single percentage above 100.
// Percentages are allowed to sum below 100 (the remainder stays with the
// originating account).
func (r SplitRule) Validate() error {
	if r.AccountID == "" || len(r.Recipients) == 0 {
		return ErrValidation
	}
	for _, rec := range r.Recipients {
		if rec.AccountID == "" || rec.Value <= 0 {
			return ErrValidation
		}
		switch rec.Kind {
		case ApportionPercentage:
			if rec.Value > 100 {
				return ErrValidation
			}
		case ApportionFixed:
		default:
			return ErrValidation
		}
	}
	return nil
}

type SplitStatus string

const (
	SplitExecuted SplitStatus = "executed"
	SplitFailed   SplitStatus = "failed"
)

// SplitTransaction records the apportionment actually applied to one
// recipient of one completed parent transaction. Failed rows stay visible
// for manual reconciliation.
type SplitTransaction struct {
	ID                 string      `json:"id"`
	RuleID             string      `json:"rule_id"`
	ParentTransaction  string      `json:"parent_transaction_id"`
	ChildTransaction   string      `json:"child_transaction_id,omitempty"`
	RecipientAccountID string      `json:"recipient_account_id"`
	Amount             int64       `json:"amount"`
	Status             SplitStatus `json:"status"`
	Reason             string      `json:"reason,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}
