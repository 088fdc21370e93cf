package model

import "time"

type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "scheduled"
	ScheduleExecuting ScheduleStatus = "executing"
	ScheduleExecuted  ScheduleStatus = "executed"
	ScheduleFailed    ScheduleStatus = "failed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// ScheduledTransfer is a one-shot transfer definition, consumed into exactly
// one transaction attempt by the scheduler sweep.
type ScheduledTransfer struct {
	ID            string         `json:"id"`
	ClientID      string         `json:"client_id"`
	AccountID     string         `json:"account_id"`
	Target        RailTarget     `json:"target"`
	Amount        int64          `json:"amount"`
	Description   string         `json:"description,omitempty"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	Status        ScheduleStatus `json:"status"`
	TransactionID string         `json:"transaction_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Next returns the occurrence following t. Monthly and yearly use calendar
// arithmetic, so Jan 31 + 1 month normalizes per time.AddDate.
func (f Frequency) Next(t time.Time) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// RecurringPayment spawns one transaction per schedule occurrence. The
// scheduler advances NextExecutionAt and ExecutionCount on every firing,
// successful or not: a failed firing is logged and the series continues at
// its next natural occurrence.
type RecurringPayment struct {
	ID                string     `json:"id"`
	ClientID          string     `json:"client_id"`
	AccountID         string     `json:"account_id"`
	Target            RailTarget `json:"target"`
	Amount            int64      `json:"amount"`
	Frequency         Frequency  `json:"frequency"`
	StartAt           time.Time  `json:"start_at"`
	EndAt             *time.Time `json:"end_at,omitempty"`
	NextExecutionAt   time.Time  `json:"next_execution_at"`
	ExecutionCount    int        `json:"execution_count"`
	LastTransactionID string     `json:"last_transaction_id,omitempty"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Expired reports whether the series is past its optional end date.
func (r RecurringPayment) Expired(now time.Time) bool {
	return r.EndAt != nil && now.After(*r.EndAt)
}
