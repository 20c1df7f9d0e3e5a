// Package clock supplies the current date to eligibility filters, folder naming
// and finalize. Production code uses System; tests pin time with Fixed so that
// day-count filters and "Jan2006" folder suffixes are reproducible.
package clock

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Fixed is a settable clock for tests.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed creates a clock pinned at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

// Now returns the pinned time.
func (c *Fixed) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set repins the clock.
func (c *Fixed) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Advance moves the clock forward by d.
func (c *Fixed) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Today returns the calendar date of c.Now() in c's location, as midnight UTC.
// All date arithmetic in mailmonkey runs on these UTC-midnight values.
func Today(c Clock) time.Time {
	return Date(c.Now())
}

// Date truncates t to its calendar date, expressed as midnight UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b (b - a).
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}

// DateLayout is the canonical on-disk date format.
const DateLayout = "2006-01-02"

// readLayouts are the date forms accepted on read, tried in order.
var readLayouts = []string{
	DateLayout,
	"1/2/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006 15:04",
	"1/2/06",
}

// ParseDate parses an on-disk date. Blank input returns the zero time and no
// error; callers treat the zero time as "no date".
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range readLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// FormatDate renders t as YYYY-MM-DD, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
