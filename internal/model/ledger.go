package model

import "time"

// Account holds the cached balance pair for one sub-account. Amounts are
// integer minor-currency units (centavos). The cached columns are only ever
// written in the same database transaction as a BalanceMovement row, so the
// fold of movements and the cache cannot diverge without a bug elsewhere.
type Account struct {
	ID                string    `json:"id"`
	ClientID          string    `json:"client_id"`
	OwnerType         string    `json:"owner_type"`
	Available         int64     `json:"available"`
	Blocked           int64     `json:"blocked"`
	DailyLimitInstant int64     `json:"daily_limit_instant"`
	DailyLimitWire    int64     `json:"daily_limit_wire"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

// BalanceMovement is one append-only ledger entry. Every balance mutation
// writes exactly one row, stamped with the balances that resulted from it.
type BalanceMovement struct {
	ID                 string    `json:"id"`
	TransactionID      string    `json:"transaction_id"`
	AccountID          string    `json:"account_id"`
	AvailableDelta     int64     `json:"available_delta"`
	BlockedDelta       int64     `json:"blocked_delta"`
	ResultingAvailable int64     `json:"resulting_available"`
	ResultingBlocked   int64     `json:"resulting_blocked"`
	CreatedAt          time.Time `json:"created_at"`
}
