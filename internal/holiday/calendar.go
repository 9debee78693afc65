package holiday

import (
	"math"
	"time"

	"github.com/checkloops/checkloops/internal/staff"
)

// Calendar knows where the holiday year starts.
type Calendar struct {
	startMonth time.Month
}

// NewCalendar returns a calendar whose holiday year starts on the first of startMonth.
// Invalid months fall back to April.
func NewCalendar(startMonth int) Calendar {
	if startMonth < 1 || startMonth > 12 {
		startMonth = int(time.April)
	}
	return Calendar{startMonth: time.Month(startMonth)}
}

// YearBounds returns the first and last day of the holiday year starting in the given calendar year.
func (c Calendar) YearBounds(year int) (staff.Date, staff.Date) {
	start := time.Date(year, c.startMonth, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, -1)
	return staff.Date{Time: start}, staff.Date{Time: end}
}

// YearOf returns the holiday year containing d.
func (c Calendar) YearOf(d time.Time) int {
	if d.Month() >= c.startMonth {
		return d.Year()
	}
	return d.Year() - 1
}

// WorkingDays counts Monday to Friday between from and to, both inclusive.
func WorkingDays(from, to staff.Date) int {
	if to.Before(from.Time) {
		return 0
	}
	start := from.Time
	total := int(to.Sub(start).Hours()/24) + 1

	weeks := total / 7
	days := weeks * 5
	for d := start.AddDate(0, 0, weeks*7); !d.After(to.Time); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}

// DaysInYear returns how many days of the request fall into [yearStart, yearEnd].
// A request wholly inside the year counts its booked days_requested, which allows half days,
// but never more than its working days.
// A request crossing the year boundary counts the working days inside the year.
func DaysInYear(r staff.HolidayRequest, yearStart, yearEnd staff.Date) float64 {
	if r.EndDate.Before(yearStart.Time) || r.StartDate.After(yearEnd.Time) {
		return 0
	}
	if !r.StartDate.Before(yearStart.Time) && !r.EndDate.After(yearEnd.Time) && r.DaysRequested > 0 {
		return min(r.DaysRequested, float64(WorkingDays(r.StartDate, r.EndDate)))
	}
	from, to := r.StartDate, r.EndDate
	if from.Before(yearStart.Time) {
		from = yearStart
	}
	if to.After(yearEnd.Time) {
		to = yearEnd
	}
	return float64(WorkingDays(from, to))
}

// Summary is the holiday balance of one user for one holiday year.
type Summary struct {
	UserID      int64   `json:"user_id"`
	Year        int     `json:"year"`
	YearStart   string  `json:"year_start"`
	YearEnd     string  `json:"year_end"`
	Entitlement float64 `json:"entitlement"`
	Taken       float64 `json:"taken"`
	Pending     float64 `json:"pending"`
	Remaining   float64 `json:"remaining"`
}

// Summarize computes the balance of a user from their requests.
// Only approved requests count as taken. Pending requests are reported but do not reduce the balance.
func (c Calendar) Summarize(user *staff.MasterUser, requests []staff.HolidayRequest, year int) Summary {
	start, end := c.YearBounds(year)
	s := Summary{
		UserID:      user.ID,
		Year:        year,
		YearStart:   start.String(),
		YearEnd:     end.String(),
		Entitlement: user.HolidayEntitlement,
	}
	for _, r := range requests {
		if r.UserID != user.ID {
			continue
		}
		switch r.Status {
		case staff.HolidayStatusApproved:
			s.Taken += DaysInYear(r, start, end)
		case staff.HolidayStatusPending:
			s.Pending += DaysInYear(r, start, end)
		}
	}
	s.Taken = round2(s.Taken)
	s.Pending = round2(s.Pending)
	s.Remaining = round2(s.Entitlement - s.Taken)
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
