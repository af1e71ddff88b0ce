// Package timeparse converts the display and timestamp formats used by the
// Stockholm transit APIs into minute offsets.
package timeparse

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Layout is the local timestamp layout used by the registry bookkeeping
// fields and by the Resrobot date/time pairs once joined.
const Layout = "2006-01-02 15:04:05"

// minutesPerDay is added when an HH:MM display time has already passed today.
const minutesPerDay = 24 * 60

// ParseRelativeDeparture converts a departure display text into minutes from now.
//
//	"Nu"     -> 0
//	"7 min"  -> 7
//	"14:05"  -> minutes until 14:05, rolling over midnight when already passed
//
// Any other input reports ok == false.
func ParseRelativeDeparture(text string, now time.Time) (minutes int, ok bool) {
	text = strings.TrimSpace(text)
	if text == "Nu" {
		return 0, true
	}

	if fields := strings.Fields(text); len(fields) > 1 && fields[1] == "min" {
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, false
		}
		return n, true
	}

	parts := strings.Split(text, ":")
	if len(parts) < 2 {
		return 0, false
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	m := hh*60 + mm - (now.Hour()*60 + now.Minute())
	if m < 0 {
		m += minutesPerDay
	}
	return m, true
}

// SecondsDiff returns a - b in seconds for two Layout timestamps.
func SecondsDiff(a, b string) (float64, error) {
	ta, err := time.Parse(Layout, a)
	if err != nil {
		return 0, err
	}
	tb, err := time.Parse(Layout, b)
	if err != nil {
		return 0, err
	}
	return ta.Sub(tb).Seconds(), nil
}

// MinutesUntil returns the whole minutes from now until t, rounded half away
// from zero. Negative results mean t has passed.
func MinutesUntil(t, now time.Time) int {
	return int(math.Round(t.Sub(now).Minutes()))
}

// ParseLocal parses a date ("2006-01-02") and a time ("15:04:05") reported
// without offset in loc.
func ParseLocal(date, clock string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(Layout, date+" "+clock, loc)
}

// Stamp renders t in Layout.
func Stamp(t time.Time) string {
	return t.Format(Layout)
}
