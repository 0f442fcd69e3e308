package market

import "time"

// Session bounds of the exchange day, in minutes after midnight.
const (
	morningOpen    = 9*60 + 30
	morningClose   = 11*60 + 30
	afternoonOpen  = 13 * 60
	afternoonClose = 15 * 60

	barMinutes = 5
)

// IsTradingDay reports whether d falls on a weekday. Exchange holidays are
// not modelled.
func IsTradingDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// LastTradingDay returns midnight of the latest trading day on or before t,
// in loc. It gives up after 30 days and returns false.
func LastTradingDay(t time.Time, loc *time.Location) (time.Time, bool) {
	t = t.In(loc)
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	for range 30 {
		if IsTradingDay(d) {
			return d, true
		}
		d = d.AddDate(0, 0, -1)
	}
	return time.Time{}, false
}

// sessionBounds returns the first bar open and the session close of day.
func sessionBounds(day time.Time) (time.Time, time.Time) {
	return day.Add(morningOpen * time.Minute), day.Add(afternoonClose * time.Minute)
}

// nextSlot returns the open time of the 5-minute bar after the one opening at
// t, skipping the lunch break. The second result is false once the session
// has no bars left.
func nextSlot(t time.Time) (time.Time, bool) {
	next := t.Add(barMinutes * time.Minute)
	m := next.Hour()*60 + next.Minute()
	switch {
	case m >= morningClose && m < afternoonOpen:
		next = next.Add(time.Duration(afternoonOpen-m) * time.Minute)
	case m >= afternoonClose:
		return time.Time{}, false
	}
	return next, true
}

// tradingDays lists the trading days in [from, to), oldest first.
func tradingDays(from, to time.Time) []time.Time {
	var out []time.Time
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			out = append(out, d)
		}
	}
	return out
}
