package chathub

import "time"

// FormatTimestamp renders ts relative to now the way chat clients display it:
// "today at 3:04 PM", "yesterday at 3:04 PM", or "01/02/2006" for older days.
func FormatTimestamp(ts, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	ts = ts.In(loc)
	now = now.In(loc)

	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch {
	case day.Equal(today):
		return "today at " + ts.Format("3:04 PM")
	case day.Equal(today.AddDate(0, 0, -1)):
		return "yesterday at " + ts.Format("3:04 PM")
	default:
		return ts.Format("01/02/2006")
	}
}
