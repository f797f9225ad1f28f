package contest

import (
	"fmt"
	"time"
)

// Week is an ISO-8601 week. Year is the ISO year, which differs from the
// calendar year for a few days around New Year.
type Week struct {
	Year   int `json:"year"`
	Number int `json:"week"`
}

// WeekOf returns the ISO week containing t, evaluated in UTC.
func WeekOf(t time.Time) Week {
	y, w := t.UTC().ISOWeek()
	return Week{Year: y, Number: w}
}

// ParseWeek parses the "2026-W42" form.
func ParseWeek(s string) (Week, error) {
	var w Week
	if _, err := fmt.Sscanf(s, "%d-W%d", &w.Year, &w.Number); err != nil {
		return Week{}, fmt.Errorf("parse week %q: %w", s, err)
	}
	if w.Number < 1 || w.Number > 53 || WeekOf(w.Start()) != w || w.String() != s {
		return Week{}, fmt.Errorf("parse week %q: no such ISO week", s)
	}
	return w, nil
}

// Start returns Monday 00:00 UTC of the week.
func (w Week) Start() time.Time {
	// January 4th always falls in ISO week 1.
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset+7*(w.Number-1))
}

// Prev returns the week before w.
func (w Week) Prev() Week {
	return WeekOf(w.Start().AddDate(0, 0, -7))
}

// Next returns the week after w.
func (w Week) Next() Week {
	return WeekOf(w.Start().AddDate(0, 0, 7))
}

// Before reports whether w precedes o.
func (w Week) Before(o Week) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Number < o.Number
}

func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Number)
}
