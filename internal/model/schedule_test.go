package model

import (
	"testing"
	"time"
)

func TestFrequencyNext(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		freq Frequency
		want time.Time
	}{
		{FrequencyDaily, base.AddDate(0, 0, 1)},
		{FrequencyWeekly, base.AddDate(0, 0, 7)},
		{FrequencyMonthly, time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)},
		{FrequencyYearly, time.Date(2027, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := tc.freq.Next(base); !got.Equal(tc.want) {
			t.Errorf("%s.Next = %s, want %s", tc.freq, got, tc.want)
		}
	}
}

func TestFrequencyNext_MonthEndNormalizes(t *testing.T) {
	jan31 := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	got := FrequencyMonthly.Next(jan31)
	// time.AddDate normalizes Feb 31 to Mar 3 in a non-leap year.
	want := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Jan 31 + 1 month = %s, want %s", got, want)
	}
}

func TestRecurringExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if (RecurringPayment{}).Expired(now) {
		t.Error("open-ended series reported expired")
	}
	if (RecurringPayment{EndAt: &future}).Expired(now) {
		t.Error("series before end date reported expired")
	}
	if !(RecurringPayment{EndAt: &past}).Expired(now) {
		t.Error("series past end date reported active")
	}
}
