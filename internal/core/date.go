package core

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical wire and storage layout for calendar days.
const DateLayout = "2006-01-02"

// MonthLayout is the wire layout for a month ("2024-01").
const MonthLayout = "2006-01"

// dateLayouts lists the formats seen in bank CSV exports, tried in order.
// Day-first layouts win over month-first ones for ambiguous slashes.
var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"02/01/06",
	"Jan 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2-Jan-2006",
	"02-Jan-06",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseDate parses a calendar day in any of the supported layouts.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrZeroDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("unrecognized date %q", s)
}

// ParseMonth parses "YYYY-MM" into the first day of that month.
func ParseMonth(s string) (Date, error) {
	t, err := time.Parse(MonthLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid month %q: want YYYY-MM", s)
	}
	return DateOf(t), nil
}

// MonthStart returns the first day of the month containing t.
func MonthStart(t time.Time) Date {
	y, m, _ := t.Date()
	return NewDate(y, int(m), 1)
}

// MonthEnd returns the last day of the month containing t.
func MonthEnd(t time.Time) Date {
	return Date{Time: MonthStart(t).AddDate(0, 1, -1)}
}

// NextMonth returns the first day of the month after d.
func (d Date) NextMonth() Date {
	return Date{Time: MonthStart(d.Time).AddDate(0, 1, 0)}
}

// MonthKey renders the month of d as "YYYY-MM".
func (d Date) MonthKey() string {
	return d.Format(MonthLayout)
}

// MonthsBetween lists the first day of every month from start's month to
// end's month inclusive. It returns nil when end precedes start.
func MonthsBetween(start, end time.Time) []Date {
	first := MonthStart(start)
	last := MonthStart(end)
	if last.Before(first.Time) {
		return nil
	}
	var out []Date
	for m := first; !m.After(last.Time); m = m.NextMonth() {
		out = append(out, m)
	}
	return out
}
