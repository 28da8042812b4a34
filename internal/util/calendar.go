package util

import (
	"time"
)

// Daily bars are only published for weekdays. Exchange holidays are not
// modelled, so a holiday simply looks like a day whose bar never arrived.

// IsTradingDay reports whether t falls on a weekday (UTC).
func IsTradingDay(t time.Time) bool {
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// LastTradingDay returns the latest trading day at or before t, truncated to
// UTC midnight.
func LastTradingDay(t time.Time) time.Time {
	d := truncateDay(t)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextTradingDays returns the n trading days strictly after t.
func NextTradingDays(t time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	days := make([]time.Time, 0, n)
	d := truncateDay(t)
	for len(days) < n {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
