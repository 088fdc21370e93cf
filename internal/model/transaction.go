package model

import "time"

type TransactionType string

const (
	TypeInstantPayment   TransactionType = "instant-payment"
	TypeInstantReceipt   TransactionType = "instant-receipt"
	TypeWireTransfer     TransactionType = "wire-transfer"
	TypeInternalTransfer TransactionType = "internal-transfer"
	TypeFee              TransactionType = "fee"
	TypeChargeback       TransactionType = "chargeback"
	TypeRefund           TransactionType = "refund"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
	StatusReversed   TransactionStatus = "reversed"
)

// Terminal reports whether no further lifecycle transition is legal.
// reversed is terminal for the original transaction; the money comes back
// through a separate chargeback transaction.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusReversed:
		return true
	}
	return false
}

// CanTransition encodes the lifecycle state machine:
// pending -> processing -> completed|failed, pending|processing -> cancelled,
// completed -> reversed.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing || to == StatusCancelled || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusCompleted:
		return to == StatusReversed
	}
	return false
}

type Rail string

const (
	RailInstant  Rail = "pix"
	RailWire     Rail = "ted"
	RailInternal Rail = "internal"
)

// RailTarget describes where money goes: a PIX key for the instant rail,
// bank routing details for the wire rail, or a local account id for an
// internal transfer. Persisted as jsonb on the transaction.
type RailTarget struct {
	Rail              Rail   `json:"rail"`
	PixKey            string `json:"pix_key,omitempty"`
	PixKeyType        string `json:"pix_key_type,omitempty"`
	BankCode          string `json:"bank_code,omitempty"`
	Agency            string `json:"agency,omitempty"`
	AccountNumber     string `json:"account_number,omitempty"`
	RecipientName     string `json:"recipient_name,omitempty"`
	RecipientDocument string `json:"recipient_document,omitempty"`
	InternalAccountID string `json:"internal_account_id,omitempty"`
}

// Validate checks that the target carries the fields its rail needs.
func (t RailTarget) Validate() error {
	switch t.Rail {
	case RailInstant:
		if t.PixKey == "" || t.PixKeyType == "" {
			return ErrValidation
		}
	case RailWire:
		if t.BankCode == "" || t.Agency == "" || t.AccountNumber == "" {
			return ErrValidation
		}
	case RailInternal:
		if t.InternalAccountID == "" {
			return ErrValidation
		}
	default:
		return ErrValidation
	}
	return nil
}

// TransactionType returns the transaction type a debit against this target
// produces.
func (t RailTarget) TransactionType() TransactionType {
	switch t.Rail {
	case RailWire:
		return TypeWireTransfer
	case RailInternal:
		return TypeInternalTransfer
	default:
		return TypeInstantPayment
	}
}

type Transaction struct {
	ID              string            `json:"id"`
	ClientID        string            `json:"client_id"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	DebitAccountID  string            `json:"debit_account_id,omitempty"`
	CreditAccountID string            `json:"credit_account_id,omitempty"`
	Amount          int64             `json:"amount"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	Rail            Rail              `json:"rail"`
	RailID          string            `json:"rail_id,omitempty"`
	ParentID        string            `json:"parent_id,omitempty"`
	Target          RailTarget        `json:"target"`
	Description     string            `json:"description,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	FailedAt        *time.Time        `json:"failed_at,omitempty"`
}

// PaymentRequest is the single entry point for outbound money movement:
// API payments, scheduler firings and split children all arrive here.
type PaymentRequest struct {
	ClientID       string     `json:"client_id"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	DebitAccountID string     `json:"debit_account_id"`
	Target         RailTarget `json:"target"`
	Amount         int64      `json:"amount"`
	Description    string     `json:"description,omitempty"`
	ParentID       string     `json:"parent_id,omitempty"`
}

// ReceiptRequest registers money that arrived from a rail with no prior
// local transaction.
type ReceiptRequest struct {
	ClientID          string `json:"client_id"`
	AccountID         string `json:"account_id"`
	Amount            int64  `json:"amount"`
	ExternalReference string `json:"external_reference,omitempty"`
	Description       string `json:"description,omitempty"`
}
