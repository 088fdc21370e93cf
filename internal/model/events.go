package model

import "time"

// Bus topics. Workers consume these with queue groups so that a fleet of
// instances processes each event exactly once.
const (
	TopicTransactionCompleted = "transactions.completed"
	TopicTransactionFailed    = "transactions.failed"
	TopicTransactionReversed  = "transactions.reversed"
	TopicRailResults          = "rail.results"
)

const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventTransactionReversed  = "transaction.reversed"
)

// TopicFor maps a lifecycle event type to the bus topic it is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventTransactionFailed:
		return TopicTransactionFailed
	case EventTransactionReversed:
		return TopicTransactionReversed
	default:
		return TopicTransactionCompleted
	}
}

// OutboxEvent is a lifecycle event written in the same database transaction
// as the state change that produced it, waiting to be relayed onto the bus.
type OutboxEvent struct {
	ID        string
	Topic     string
	Payload   []byte
	CreatedAt time.Time
}

// TransactionEvent is published on every terminal lifecycle change. EventID
// lets webhook consumers de-duplicate; delivery order is not guaranteed.
type TransactionEvent struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"event_type"`
	TransactionID  string    `json:"transaction_id"`
	ClientID       string    `json:"client_id"`
	DebitAccountID string    `json:"debit_account_id,omitempty"`
	Amount         int64     `json:"amount"`
	Rail           Rail      `json:"rail"`
	ParentID       string    `json:"parent_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RailResult is the inbound callback from the rail gateway, correlated by
// the transaction id we handed it at submit time.
type RailResult struct {
	TransactionID     string    `json:"transaction_id"`
	CorrelationID     string    `json:"correlation_id"`
	Success           bool      `json:"success"`
	ExternalReference string    `json:"external_reference,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}
