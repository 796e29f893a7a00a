// Package dateutil provides trading-calendar date helpers for NSE data.
//
// NSE publishes end-of-day files per trading day, so most of the library
// deals in whole days. All times in and out of this package are
// normalized to midnight UTC.
package dateutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/nsefeed/internal/common"
)

// MinDate is the earliest date NSE archives reach back to.
var MinDate = time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC)

// MaxPeriodStart is the floor for the "max" period.
var MaxPeriodStart = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Accepted input layouts, tried in order. NSE sources and user input mix
// ISO dates, Indian day-first dates and the archive's 02JAN2006 shape.
var parseLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"02-Jan-2006",
	"02Jan2006",
	"20060102",
}

// Midnight truncates t to midnight UTC
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns today's date at midnight UTC
func Today() time.Time {
	return Midnight(time.Now().UTC())
}

// ParseDate parses a date string in any accepted layout
func ParseDate(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, &common.InvalidDateError{Message: "empty date", Input: s}
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return Midnight(t), nil
		}
	}
	// Month names come through in mixed case from some sources.
	if t, err := time.Parse("02-Jan-2006", normalizeMonthCase(trimmed, "-")); err == nil {
		return Midnight(t), nil
	}
	return time.Time{}, &common.InvalidDateError{
		Message: fmt.Sprintf("unrecognized date format (expected one of %s)", strings.Join(parseLayouts, ", ")),
		Input:   s,
	}
}

func normalizeMonthCase(s, sep string) string {
	parts := strings.Split(s, sep)
	if len(parts) != 3 || len(parts[1]) != 3 {
		return s
	}
	parts[1] = strings.ToUpper(parts[1][:1]) + strings.ToLower(parts[1][1:])
	return strings.Join(parts, sep)
}

// PeriodRange resolves a period keyword ("1d", "5d", "1mo", "3mo",
// "6mo", "1y", "2y", "5y", "10y", "ytd", "max") into a [start, end]
// range ending today.
func PeriodRange(period string) (start, end time.Time, err error) {
	end = Today()

	switch strings.ToLower(strings.TrimSpace(period)) {
	case "1d":
		start = end.AddDate(0, 0, -1)
	case "5d":
		start = end.AddDate(0, 0, -5)
	case "1mo":
		start = end.AddDate(0, -1, 0)
	case "3mo":
		start = end.AddDate(0, -3, 0)
	case "6mo":
		start = end.AddDate(0, -6, 0)
	case "1y":
		start = end.AddDate(-1, 0, 0)
	case "2y":
		start = end.AddDate(-2, 0, 0)
	case "5y":
		start = end.AddDate(-5, 0, 0)
	case "10y":
		start = end.AddDate(-10, 0, 0)
	case "ytd":
		start = time.Date(end.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case "max":
		start = MaxPeriodStart
	default:
		return time.Time{}, time.Time{}, &common.InvalidDateError{
			Message: "unknown period (expected 1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd or max)",
			Input:   period,
		}
	}
	return start, end, nil
}

// ValidateRange normalizes and bounds a date range: start must not be
// after end, the future is clamped to today and anything before MinDate
// is clamped up to it.
func ValidateRange(start, end time.Time) (time.Time, time.Time, error) {
	start, end = Midnight(start), Midnight(end)

	if start.After(end) {
		return time.Time{}, time.Time{}, &common.InvalidDateError{
			Message: "start date is after end date",
			Input:   fmt.Sprintf("%s..%s", start.Format("2006-01-02"), end.Format("2006-01-02")),
		}
	}

	today := Today()
	if end.After(today) {
		end = today
	}
	if start.After(today) {
		start = today
	}
	if start.Before(MinDate) {
		start = MinDate
	}

	return start, end, nil
}

// IsTradingDay reports whether d is a weekday. NSE holidays are not
// modelled; a holiday simply yields no published file for that day.
func IsTradingDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PreviousTradingDay returns the last weekday strictly before d
func PreviousTradingDay(d time.Time) time.Time {
	d = Midnight(d).AddDate(0, 0, -1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TradingDaysBetween returns the weekdays in [start, end] ascending
func TradingDaysBetween(start, end time.Time) []time.Time {
	var days []time.Time
	for d := Midnight(start); !d.After(Midnight(end)); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// DateRange is a closed interval of days
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ChunkRange splits [start, end] into consecutive sub-ranges of at most
// maxDays days each, for sources that cap the span per request.
func ChunkRange(start, end time.Time, maxDays int) []DateRange {
	if maxDays <= 0 {
		maxDays = 365
	}

	var chunks []DateRange
	for s := Midnight(start); !s.After(Midnight(end)); {
		e := s.AddDate(0, 0, maxDays-1)
		if e.After(end) {
			e = Midnight(end)
		}
		chunks = append(chunks, DateRange{Start: s, End: e})
		s = e.AddDate(0, 0, 1)
	}
	return chunks
}
