package timeutil

import (
	"time"
)

// Common layouts
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DateTimeLayout = "2006-01-02 15:04:05"
	DisplayLayout  = "02 Jan 2006, 03:04 PM"
)

// Zone is the business time zone used for day boundaries, month-to-date and
// year-to-date windows. Its clock can be replaced in tests.
type Zone struct {
	Loc *time.Location
	now func() time.Time
}

// NewZone loads the named location, falling back to UTC+3 when the tz
// database is not available.
func NewZone(name string) *Zone {
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.FixedZone(name, 3*60*60)
	}
	return &Zone{Loc: loc, now: time.Now}
}

// FixedClock returns a copy of z whose Now always returns t
func (z *Zone) FixedClock(t time.Time) *Zone {
	return &Zone{Loc: z.Loc, now: func() time.Time { return t }}
}

// Now returns the current time in the zone
func (z *Zone) Now() time.Time {
	return z.now().In(z.Loc)
}

// In converts any time to the zone
func (z *Zone) In(t time.Time) time.Time {
	return t.In(z.Loc)
}

// StartOfDay returns 00:00:00 of t's day in the zone
func (z *Zone) StartOfDay(t time.Time) time.Time {
	l := t.In(z.Loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, z.Loc)
}

// Today is the start of the current day
func (z *Zone) Today() time.Time {
	return z.StartOfDay(z.Now())
}

func (z *Zone) StartOfMonth(t time.Time) time.Time {
	l := t.In(z.Loc)
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, z.Loc)
}

func (z *Zone) StartOfYear(t time.Time) time.Time {
	l := t.In(z.Loc)
	return time.Date(l.Year(), time.January, 1, 0, 0, 0, 0, z.Loc)
}

// ParseDate parses YYYY-MM-DD as a day in the zone
func (z *Zone) ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, z.Loc)
}

// FormatDate formats t as YYYY-MM-DD in the zone
func (z *Zone) FormatDate(t time.Time) string {
	return t.In(z.Loc).Format(DateLayout)
}

// DateOnly truncates t to a UTC midnight carrying the zone's calendar date,
// the form stored in DATE columns.
func (z *Zone) DateOnly(t time.Time) time.Time {
	l := t.In(z.Loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}
