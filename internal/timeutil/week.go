// Package timeutil is the single home for week-boundary math. Every component
// that needs "the Monday of a week" or "the current UTC instant" goes through
// here so the edge handling stays consistent.
package timeutil

import "time"

// Now returns the current UTC instant. Tests override it through SetNow.
var Now = func() time.Time {
	return time.Now().UTC()
}

// SetNow swaps the clock and returns a restore function.
func SetNow(fn func() time.Time) func() {
	prev := Now
	Now = fn
	return func() { Now = prev }
}

// ToUTC normalizes t to UTC. Callers parse upstream timestamps that omit a
// zone as UTC before they reach any week comparison.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// MondayOf returns the Monday 00:00:00 UTC of the week containing t.
// Applying it to an already normalized Monday returns the same instant.
func MondayOf(t time.Time) time.Time {
	t = ToUTC(t)
	// time.Weekday puts Sunday at 0; shift so Monday is day 0.
	days := (int(t.Weekday()) + 6) % 7
	t = t.AddDate(0, 0, -days)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LastCompletedWeek returns the Monday of the most recently completed
// Monday-Sunday week relative to now.
func LastCompletedWeek() time.Time {
	now := Now()
	days := (int(now.Weekday()) + 6) % 7
	return MondayOf(now.AddDate(0, 0, -days-7))
}

// WeekWindow returns the half-open interval [monday, monday+7d) for the week
// containing t.
func WeekWindow(t time.Time) (start, end time.Time) {
	start = MondayOf(t)
	return start, start.AddDate(0, 0, 7)
}

// InWeek reports whether instant ts falls inside the half-open window of the
// week starting at weekStart.
func InWeek(ts, weekStart time.Time) bool {
	ts = ToUTC(ts)
	return !ts.Before(weekStart) && ts.Before(weekStart.AddDate(0, 0, 7))
}
