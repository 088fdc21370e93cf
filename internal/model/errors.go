package model

import "errors"

var (
	ErrValidation         = errors.New("invalid request")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDailyLimitExceeded = errors.New("daily transfer limit exceeded")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("illegal status transition")
	ErrClaimLost          = errors.New("claim lost to a concurrent worker")
	ErrLedgerDivergence   = errors.New("movement fold does not match cached balance")
)
