package engine

import (
	"time"
)

// =============================================================================
// BUSINESS CALENDAR
// =============================================================================

// BusinessCalendar answers whether a date counts as a working day.
type BusinessCalendar interface {
	IsBusinessDay(date time.Time) bool
}

// Holiday is a non-working date. Recurring holidays repeat on the same
// month/day every year.
type Holiday struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	Name      string    `json:"name"`
	Recurring bool      `json:"recurring"`
}

// HolidayCalendar skips weekends and the supplied holidays.
type HolidayCalendar struct {
	fixed     map[string]Holiday
	recurring map[string]Holiday
}

// NewHolidayCalendar builds a calendar from a holiday list. A nil or empty
// list yields a weekend-only calendar.
func NewHolidayCalendar(holidays []Holiday) *HolidayCalendar {
	c := &HolidayCalendar{
		fixed:     make(map[string]Holiday),
		recurring: make(map[string]Holiday),
	}
	for _, h := range holidays {
		if h.Recurring {
			c.recurring[h.Date.Format("01-02")] = h
			continue
		}
		c.fixed[h.Date.Format("2006-01-02")] = h
	}
	return c
}

// IsHoliday reports whether date is a listed holiday.
func (c *HolidayCalendar) IsHoliday(date time.Time) bool {
	if c == nil {
		return false
	}
	if _, ok := c.fixed[date.Format("2006-01-02")]; ok {
		return true
	}
	_, ok := c.recurring[date.Format("01-02")]
	return ok
}

func (c *HolidayCalendar) IsBusinessDay(date time.Time) bool {
	if IsWeekend(date) {
		return false
	}
	return !c.IsHoliday(date)
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// BusinessDaysElapsed counts business days strictly after from's day up to
// and including to's day. Same-day returns 0; to before from returns 0.
// from is converted into to's location first.
func BusinessDaysElapsed(cal BusinessCalendar, from, to time.Time) int {
	if cal == nil {
		cal = NewHolidayCalendar(nil)
	}
	day := StartOfDay(from.In(to.Location())).AddDate(0, 0, 1)
	end := StartOfDay(to)

	n := 0
	for !day.After(end) {
		if cal.IsBusinessDay(day) {
			n++
		}
		day = day.AddDate(0, 0, 1)
	}
	return n
}
