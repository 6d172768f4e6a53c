// Package window provides half-open time windows aligned to a job's cadence.
package window

import (
	"fmt"
	"time"
)

// Unit is the alignment of a window.
type Unit int

const (
	UnitHour Unit = iota
	UnitDay
)

func (u Unit) String() string {
	switch u {
	case UnitHour:
		return "hour"
	case UnitDay:
		return "day"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
	Unit  Unit
}

// Hour returns the hour window containing t, in t's location. The start is
// taken on the absolute instant so a repeated wall-clock hour at a DST
// fall-back yields two distinct windows.
func Hour(t time.Time) Window {
	start := t.Add(-time.Duration(t.Minute())*time.Minute -
		time.Duration(t.Second())*time.Second -
		time.Duration(t.Nanosecond()))
	return Window{Start: start, End: start.Add(time.Hour), Unit: UnitHour}
}

// Day returns the calendar day window containing t, in t's location.
// Days are computed with AddDate so DST transitions keep windows adjacent.
func Day(t time.Time) Window {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return Window{Start: start, End: start.AddDate(0, 0, 1), Unit: UnitDay}
}

// Of returns the window of the given unit containing t.
func Of(u Unit, t time.Time) Window {
	if u == UnitDay {
		return Day(t)
	}
	return Hour(t)
}

// Shift moves the window by n units. Shift(0) is the identity.
func (w Window) Shift(n int) Window {
	switch w.Unit {
	case UnitDay:
		return Window{Start: w.Start.AddDate(0, 0, n), End: w.End.AddDate(0, 0, n), Unit: UnitDay}
	default:
		d := time.Duration(n) * time.Hour
		return Window{Start: w.Start.Add(d), End: w.End.Add(d), Unit: UnitHour}
	}
}

// Next is Shift(1).
func (w Window) Next() Window { return w.Shift(1) }

// Prev is Shift(-1).
func (w Window) Prev() Window { return w.Shift(-1) }

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether the two windows share any instant.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// UTC returns the same window with both bounds converted to UTC.
func (w Window) UTC() Window {
	return Window{Start: w.Start.UTC(), End: w.End.UTC(), Unit: w.Unit}
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
