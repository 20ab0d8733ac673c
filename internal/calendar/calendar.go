// Package calendar implements the U.S. equity trading calendar: weekdays
// minus the fixed market holiday set, and the end-of-day snapshot cutoff.
package calendar

import (
	"sync"
	"time"
)

// Eastern is the exchange's local time zone. All calendar and cutoff
// decisions are made in Eastern time regardless of server locale.
var Eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("calendar: load location " + name + ": " + err.Error())
	}
	return loc
}

// CutoffHour and CutoffMinute define the end-of-day cutoff (16:10 ET):
// after this wall-clock time same-day closes are final and safe to snapshot.
const (
	CutoffHour   = 16
	CutoffMinute = 10
)

// Calendar answers trading-day questions. Holiday sets are computed per
// calendar year and memoized. Safe for concurrent use.
type Calendar struct {
	mu       sync.Mutex
	holidays map[int]map[time.Time]bool
}

// New builds an empty calendar; holiday sets are computed lazily per year.
func New() *Calendar {
	return &Calendar{holidays: make(map[int]map[time.Time]bool)}
}

// IsTradingDay reports whether d (date part only) is a weekday and not a
// market holiday.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = dateOnly(d)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidaySet(d.Year())[d]
}

// NextTradingDay returns the first trading day strictly after d.
func (c *Calendar) NextTradingDay(d time.Time) time.Time {
	d = dateOnly(d)
	for {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return d
		}
	}
}

// PreviousTradingDay returns the last trading day strictly before d.
func (c *Calendar) PreviousTradingDay(d time.Time) time.Time {
	d = dateOnly(d)
	for {
		d = d.AddDate(0, 0, -1)
		if c.IsTradingDay(d) {
			return d
		}
	}
}

// IsPastCutoff reports whether now (converted to Eastern) is at or past the
// 16:10 end-of-day cutoff.
func (c *Calendar) IsPastCutoff(now time.Time) bool {
	et := now.In(Eastern)
	cutoff := time.Date(et.Year(), et.Month(), et.Day(), CutoffHour, CutoffMinute, 0, 0, Eastern)
	return !et.Before(cutoff)
}

func (c *Calendar) holidaySet(year int) map[time.Time]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.holidays[year]; ok {
		return set
	}
	set := Holidays(year)
	c.holidays[year] = set
	return set
}

// Holidays returns the fixed U.S. market holiday set for a year, each
// observed on the adjacent weekday when it falls on a weekend.
func Holidays(year int) map[time.Time]bool {
	days := []time.Time{
		observed(date(year, time.January, 1)),           // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),  // MLK Day
		nthWeekday(year, time.February, time.Monday, 3), // Presidents' Day
		easterSunday(year).AddDate(0, 0, -2),            // Good Friday
		lastWeekday(year, time.May, time.Monday),        // Memorial Day
		observed(date(year, time.June, 19)),             // Juneteenth
		observed(date(year, time.July, 4)),              // Independence Day
		nthWeekday(year, time.September, time.Monday, 1), // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4), // Thanksgiving
		observed(date(year, time.December, 25)),         // Christmas
	}
	set := make(map[time.Time]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return set
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// nthWeekday returns the n-th given weekday of the month (n >= 1).
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := date(year, month, 1)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last given weekday of the month.
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	last := date(year, month, 1).AddDate(0, 1, -1)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// observed shifts a weekend holiday to the adjacent weekday: Saturday
// observes Friday, Sunday observes Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// easterSunday computes Easter via the anonymous Gregorian algorithm.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
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
	return date(year, time.Month(month), day)
}
