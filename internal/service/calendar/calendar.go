// Package calendar computes NYSE regular-session bounds.
package calendar

import (
	"fmt"
	"time"

	// Embedded zone database so America/New_York resolves on minimal images.
	_ "time/tzdata"
)

// Location is the exchange time zone.
const Location = "America/New_York"

// Session is one trading day's regular hours.
type Session struct {
	Open       time.Time
	Close      time.Time
	EarlyClose bool
}

// Contains reports whether t is within [Open, Close).
func (s Session) Contains(t time.Time) bool {
	return !t.Before(s.Open) && t.Before(s.Close)
}

// Closure explains why a day has no session.
type Closure string

const (
	ClosureNone    Closure = ""
	ClosureWeekend Closure = "weekend"
	ClosureHoliday Closure = "holiday"
)

// NYSE is the exchange calendar. The zero value is not usable; use New.
type NYSE struct {
	loc   *time.Location
	extra map[string]struct{}
}

// New loads the exchange zone and merges extra full-day closures
// (YYYY-MM-DD) into the computed holiday set.
func New(extraHolidays []string) (*NYSE, error) {
	loc, err := time.LoadLocation(Location)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", Location, err)
	}
	extra := make(map[string]struct{}, len(extraHolidays))
	for _, d := range extraHolidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("extra holiday %q: %w", d, err)
		}
		extra[d] = struct{}{}
	}
	return &NYSE{loc: loc, extra: extra}, nil
}

// Loc returns the exchange location.
func (c *NYSE) Loc() *time.Location { return c.loc }

// SessionFor returns the session of the exchange day containing t, or the
// reason the exchange is closed that day.
func (c *NYSE) SessionFor(t time.Time) (Session, Closure) {
	day := t.In(c.loc)
	y, m, d := day.Date()

	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return Session{}, ClosureWeekend
	}
	if c.IsHoliday(day) {
		return Session{}, ClosureHoliday
	}

	open := time.Date(y, m, d, 9, 30, 0, 0, c.loc)
	closeAt := time.Date(y, m, d, 16, 0, 0, 0, c.loc)
	early := isEarlyClose(y, m, d)
	if early {
		closeAt = time.Date(y, m, d, 13, 0, 0, 0, c.loc)
	}
	return Session{Open: open, Close: closeAt, EarlyClose: early}, ClosureNone
}

// IsOpen reports whether the regular session is in progress at t.
func (c *NYSE) IsOpen(t time.Time) bool {
	s, closed := c.SessionFor(t)
	return closed == ClosureNone && s.Contains(t)
}

// IsTradingDay reports whether the exchange has a session on t's date.
func (c *NYSE) IsTradingDay(t time.Time) bool {
	_, closed := c.SessionFor(t)
	return closed == ClosureNone
}

// AddTradingMinutes walks n regular-session minutes forward from t, skipping
// nights, weekends and holidays. A start outside a session begins at the
// next open.
func (c *NYSE) AddTradingMinutes(t time.Time, n int) time.Time {
	cur := t.In(c.loc)
	remaining := time.Duration(n) * time.Minute
	for i := 0; i < 3660; i++ {
		s, closed := c.SessionFor(cur)
		if closed == ClosureNone && cur.Before(s.Close) {
			if cur.Before(s.Open) {
				cur = s.Open
			}
			left := s.Close.Sub(cur)
			if remaining <= left {
				return cur.Add(remaining)
			}
			remaining -= left
		}
		y, m, d := cur.Date()
		cur = time.Date(y, m, d+1, 0, 0, 0, 0, c.loc)
	}
	return cur
}

// IsHoliday reports whether t's exchange date is a full-day closure.
func (c *NYSE) IsHoliday(t time.Time) bool {
	day := t.In(c.loc)
	if _, ok := c.extra[day.Format("2006-01-02")]; ok {
		return true
	}
	y, m, d := day.Date()
	for _, h := range Holidays(y) {
		if h.Month() == m && h.Day() == d {
			return true
		}
	}
	return false
}

// Holidays returns the computed NYSE full-day closures of year y.
func Holidays(y int) []time.Time {
	date := func(m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	out := []time.Time{
		nthWeekday(y, time.January, time.Monday, 3),
		nthWeekday(y, time.February, time.Monday, 3),
		easter(y).AddDate(0, 0, -2),
		lastWeekday(y, time.May, time.Monday),
		observed(date(time.July, 4)),
		nthWeekday(y, time.September, time.Monday, 1),
		nthWeekday(y, time.November, time.Thursday, 4),
		observed(date(time.December, 25)),
	}
	// A Saturday New Year is not observed on the prior Friday.
	if ny := date(time.January, 1); ny.Weekday() != time.Saturday {
		out = append(out, observed(ny))
	}
	if y >= 2022 {
		out = append(out, observed(date(time.June, 19)))
	}
	return out
}

func isEarlyClose(y int, m time.Month, d int) bool {
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch {
	case m == time.July && d == 3:
		// Only when July 4 itself is the holiday, not a Monday observance.
		return day.Weekday() != time.Friday
	case m == time.December && d == 24:
		return true
	case m == time.November:
		return day.Equal(nthWeekday(y, time.November, time.Thursday, 4).AddDate(0, 0, 1))
	}
	return false
}

func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

func nthWeekday(y int, m time.Month, wd time.Weekday, n int) time.Time {
	t := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(y int, m time.Month, wd time.Weekday) time.Time {
	t := time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
	offset := (int(t.Weekday()) - int(wd) + 7) % 7
	return t.AddDate(0, 0, -offset)
}

// easter computes Western Easter Sunday (anonymous Gregorian algorithm).
func easter(y int) time.Time {
	a := y % 19
	b := y / 100
	c := y % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
