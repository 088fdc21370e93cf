package model

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusReversed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusReversed, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []TransactionStatus{StatusCompleted, StatusFailed, StatusCancelled, StatusReversed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TransactionStatus{StatusPending, StatusProcessing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRailTargetValidate(t *testing.T) {
	valid := []RailTarget{
		{Rail: RailInstant, PixKey: "a@b.com", PixKeyType: "EMAIL"},
		{Rail: RailWire, BankCode: "001", Agency: "1234", AccountNumber: "56789-0"},
		{Rail: RailInternal, InternalAccountID: "acc-1"},
	}
	for i, target := range valid {
		if err := target.Validate(); err != nil {
			t.Errorf("valid target %d rejected: %v", i, err)
		}
	}

	invalid := []RailTarget{
		{},
		{Rail: "carrier-pigeon"},
		{Rail: RailInstant, PixKey: "a@b.com"},
		{Rail: RailWire, BankCode: "001"},
		{Rail: RailInternal},
	}
	for i, target := range invalid {
		if err := target.Validate(); err == nil {
			t.Errorf("invalid target %d accepted", i)
		}
	}
}

func TestRailTargetTransactionType(t *testing.T) {
	if got := (RailTarget{Rail: RailInstant}).TransactionType(); got != TypeInstantPayment {
		t.Errorf("instant type = %s", got)
	}
	if got := (RailTarget{Rail: RailWire}).TransactionType(); got != TypeWireTransfer {
		t.Errorf("wire type = %s", got)
	}
	if got := (RailTarget{Rail: RailInternal}).TransactionType(); got != TypeInternalTransfer {
		t.Errorf("internal type = %s", got)
	}
}
