// Package window models the closed date intervals used to scope vendor
// queries and to subdivide them.
package window

import (
	"fmt"
	"time"
)

// DateLayout is the vendor's date format.
const DateLayout = "2006-01-02"

// Window is a closed interval of calendar dates, Start <= End. Both bounds
// are truncated to midnight in their location.
type Window struct {
	Start time.Time
	End   time.Time
}

// New returns the window [start, end] at day resolution. It fails if end is
// before start.
func New(start, end time.Time) (Window, error) {
	s, e := Day(start), Day(end.In(start.Location()))
	if e.Before(s) {
		return Window{}, fmt.Errorf("window end %s before start %s", e.Format(DateLayout), s.Format(DateLayout))
	}
	return Window{Start: s, End: e}, nil
}

// MustNew is New for literals in tests and defaults.
func MustNew(start, end time.Time) Window {
	w, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

// Parse builds a window from two YYYY-MM-DD strings in loc.
func Parse(start, end string, loc *time.Location) (Window, error) {
	s, err := time.ParseInLocation(DateLayout, start, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.ParseInLocation(DateLayout, end, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	return New(s, e)
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Days is the number of calendar days covered, at least 1.
func (w Window) Days() int {
	n := 0
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}

// Contains reports whether t falls on a date inside the window.
func (w Window) Contains(t time.Time) bool {
	d := Day(t.In(w.Start.Location()))
	return !d.Before(w.Start) && !d.After(w.End)
}

// Dates lists every date in the window.
func (w Window) Dates() []time.Time {
	out := make([]time.Time, 0, w.Days())
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Chunks splits the window into consecutive sub-windows of at most days
// days each. The last chunk may be shorter.
func (w Window) Chunks(days int) []Window {
	if days < 1 {
		days = 1
	}
	var out []Window
	for s := w.Start; !s.After(w.End); s = s.AddDate(0, 0, days) {
		e := s.AddDate(0, 0, days-1)
		if e.After(w.End) {
			e = w.End
		}
		out = append(out, Window{Start: s, End: e})
	}
	return out
}

// Months splits the window at calendar month boundaries.
func (w Window) Months() []Window {
	var out []Window
	for s := w.Start; !s.After(w.End); {
		firstOfNext := time.Date(s.Year(), s.Month()+1, 1, 0, 0, 0, 0, s.Location())
		e := firstOfNext.AddDate(0, 0, -1)
		if e.After(w.End) {
			e = w.End
		}
		out = append(out, Window{Start: s, End: e})
		s = firstOfNext
	}
	return out
}

func (w Window) String() string {
	return w.Start.Format(DateLayout) + ".." + w.End.Format(DateLayout)
}
