// Package dates provides UTC calendar-day helpers used for daily
// usage bucketing.
package dates

import "time"

// StartOfUTCDay truncates t to midnight UTC.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the start of the current UTC day.
func Today() time.Time {
	return StartOfUTCDay(time.Now())
}

// AddUTCDays shifts a day boundary by the given number of days.
func AddUTCDays(day time.Time, days int) time.Time {
	return StartOfUTCDay(day.AddDate(0, 0, days))
}

// RecentUTCDays returns the last n day boundaries ending at end,
// oldest first.
func RecentUTCDays(n int, end time.Time) []time.Time {
	end = StartOfUTCDay(end)
	out := make([]time.Time, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, AddUTCDays(end, -i))
	}
	return out
}
