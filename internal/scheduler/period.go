package scheduler

import "time"

// addCalendarMonth advances t by one calendar month, clamping to the
// last day of the target month when the day-of-month does not exist
// there. Jan 31 becomes Feb 28 (or 29), never Mar 2.
func addCalendarMonth(t time.Time) time.Time {
	year, month, day := t.Date()

	firstOfNext := time.Date(year, month+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := daysIn(firstOfNext.Year(), firstOfNext.Month())
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// day 0 of the following month is the last day of this month
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
