package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - The billing period key
// =============================================================================

// Month is a calendar-month period key in "YYYY-MM" form. The textual form
// sorts chronologically, which is what the oldest-first allocation order
// relies on.
type Month string

const monthLayout = "2006-01"

// MonthOf returns the period key containing t.
func MonthOf(t time.Time) Month {
	return Month(t.Format(monthLayout))
}

// ParseMonth validates a "YYYY-MM" key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid month %q: expected YYYY-MM", s)
	}
	return MonthOf(t), nil
}

func (m Month) String() string { return string(m) }

// Time returns the first day of the month, UTC.
func (m Month) Time() time.Time {
	t, err := time.Parse(monthLayout, string(m))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (m Month) Before(other Month) bool { return m < other }

// Next returns the following month's key.
func (m Month) Next() Month {
	return MonthOf(m.Time().AddDate(0, 1, 0))
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies the current time. Engines take a Clock so tests can pin
// the billing period.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (f FixedClock) Now() time.Time { return time.Time(f) }
