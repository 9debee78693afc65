package holiday

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/staff"
)

func date(t *testing.T, s string) staff.Date {
	t.Helper()
	d, err := staff.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestYearBounds(t *testing.T) {
	start, end := NewCalendar(4).YearBounds(2025)
	assert.Equal(t, "2025-04-01", start.String())
	assert.Equal(t, "2026-03-31", end.String())

	start, end = NewCalendar(1).YearBounds(2024)
	assert.Equal(t, "2024-01-01", start.String())
	assert.Equal(t, "2024-12-31", end.String())

	// invalid months fall back to April
	start, _ = NewCalendar(13).YearBounds(2025)
	assert.Equal(t, "2025-04-01", start.String())
}

func TestYearOf(t *testing.T) {
	c := NewCalendar(4)
	assert.Equal(t, 2024, c.YearOf(time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2025, c.YearOf(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestWorkingDays(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		want     int
	}{
		{"full week", "2025-04-07", "2025-04-11", 5},
		{"weekend only", "2025-04-05", "2025-04-06", 0},
		{"single day", "2025-04-08", "2025-04-08", 1},
		{"across weekend", "2025-03-27", "2025-04-03", 6},
		{"whole calendar year", "2025-01-01", "2025-12-31", 261},
		{"reversed", "2025-04-11", "2025-04-07", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WorkingDays(date(t, tt.from), date(t, tt.to)))
		})
	}
}

func TestDaysInYear(t *testing.T) {
	start, end := NewCalendar(4).YearBounds(2025)

	half := staff.HolidayRequest{StartDate: date(t, "2025-06-02"), EndDate: date(t, "2025-06-02"), DaysRequested: 0.5}
	assert.Equal(t, 0.5, DaysInYear(half, start, end))

	noDays := staff.HolidayRequest{StartDate: date(t, "2025-04-07"), EndDate: date(t, "2025-04-11")}
	assert.Equal(t, 5.0, DaysInYear(noDays, start, end))

	// booked days never exceed the working days of the range
	overbooked := staff.HolidayRequest{StartDate: date(t, "2025-04-07"), EndDate: date(t, "2025-04-14"), DaysRequested: 10}
	assert.Equal(t, 6.0, DaysInYear(overbooked, start, end))

	weekend := staff.HolidayRequest{StartDate: date(t, "2025-04-12"), EndDate: date(t, "2025-04-13"), DaysRequested: 2}
	assert.Zero(t, DaysInYear(weekend, start, end))

	// only the part inside the year counts
	crossing := staff.HolidayRequest{StartDate: date(t, "2025-03-27"), EndDate: date(t, "2025-04-03"), DaysRequested: 6}
	assert.Equal(t, 3.0, DaysInYear(crossing, start, end))

	crossingEnd := staff.HolidayRequest{StartDate: date(t, "2026-03-30"), EndDate: date(t, "2026-04-02"), DaysRequested: 4}
	assert.Equal(t, 2.0, DaysInYear(crossingEnd, start, end))

	outside := staff.HolidayRequest{StartDate: date(t, "2024-06-03"), EndDate: date(t, "2024-06-07"), DaysRequested: 5}
	assert.Zero(t, DaysInYear(outside, start, end))
}

func TestSummarize(t *testing.T) {
	user := &staff.MasterUser{ID: 7, HolidayEntitlement: 25}
	requests := []staff.HolidayRequest{
		{UserID: 7, StartDate: date(t, "2025-04-07"), EndDate: date(t, "2025-04-11"), DaysRequested: 5, Status: staff.HolidayStatusApproved},
		{UserID: 7, StartDate: date(t, "2025-06-02"), EndDate: date(t, "2025-06-02"), DaysRequested: 0.5, Status: staff.HolidayStatusApproved},
		{UserID: 7, StartDate: date(t, "2025-08-04"), EndDate: date(t, "2025-08-05"), DaysRequested: 2, Status: staff.HolidayStatusPending},
		{UserID: 7, StartDate: date(t, "2025-09-01"), EndDate: date(t, "2025-09-05"), DaysRequested: 5, Status: staff.HolidayStatusRejected},
		{UserID: 8, StartDate: date(t, "2025-09-01"), EndDate: date(t, "2025-09-05"), DaysRequested: 5, Status: staff.HolidayStatusApproved},
	}

	s := NewCalendar(4).Summarize(user, requests, 2025)
	assert.Equal(t, 25.0, s.Entitlement)
	assert.Equal(t, 5.5, s.Taken)
	assert.Equal(t, 2.0, s.Pending)
	assert.Equal(t, 19.5, s.Remaining)
	assert.Equal(t, "2025-04-01", s.YearStart)
}

type memStore struct {
	users    []staff.MasterUser
	requests []staff.HolidayRequest
	updates  int
	failUser int64
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*staff.MasterUser, error) {
	for _, u := range m.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, staff.ErrNotFound
}

func (m *memStore) ListUsers(_ context.Context, siteID int64, activeOnly bool) ([]staff.MasterUser, error) {
	var out []staff.MasterUser
	for _, u := range m.users {
		if u.SiteID == siteID && (!activeOnly || u.Active) {
			out = append(out, u)
		}
	}
	return out, nil
}

func overlaps(r staff.HolidayRequest, from, to staff.Date) bool {
	return !r.StartDate.After(to.Time) && !r.EndDate.Before(from.Time)
}

func (m *memStore) ListHolidayRequests(_ context.Context, siteID int64, from, to staff.Date, status staff.HolidayStatus) ([]staff.HolidayRequest, error) {
	var out []staff.HolidayRequest
	for _, r := range m.requests {
		if r.SiteID == siteID && overlaps(r, from, to) && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListUserHolidayRequests(_ context.Context, userID int64, from, to staff.Date) ([]staff.HolidayRequest, error) {
	var out []staff.HolidayRequest
	for _, r := range m.requests {
		if r.UserID == userID && overlaps(r, from, to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateUser(_ context.Context, id int64, patch map[string]any) error {
	if id == m.failUser {
		return errors.New("update failed")
	}
	for i := range m.users {
		if m.users[i].ID == id {
			m.users[i].HolidayTaken = patch["holiday_taken"].(float64)
			m.users[i].HolidayRemaining = patch["holiday_remaining"].(float64)
			m.updates++
			return nil
		}
	}
	return staff.ErrNotFound
}

func newReconcileStore(t *testing.T) *memStore {
	return &memStore{
		users: []staff.MasterUser{
			{ID: 1, SiteID: 2, FullName: "In Sync", Active: true, HolidayEntitlement: 25, HolidayTaken: 5, HolidayRemaining: 20},
			{ID: 2, SiteID: 2, FullName: "Drifted", Active: true, HolidayEntitlement: 20, HolidayTaken: 0, HolidayRemaining: 20},
			{ID: 3, SiteID: 2, FullName: "Rounding", Active: true, HolidayEntitlement: 20, HolidayTaken: 2.005, HolidayRemaining: 17.995},
			{ID: 4, SiteID: 2, FullName: "Inactive", Active: false, HolidayEntitlement: 20, HolidayTaken: 99},
		},
		requests: []staff.HolidayRequest{
			{UserID: 1, SiteID: 2, StartDate: date(t, "2025-04-07"), EndDate: date(t, "2025-04-11"), DaysRequested: 5, Status: staff.HolidayStatusApproved},
			{UserID: 2, SiteID: 2, StartDate: date(t, "2025-05-05"), EndDate: date(t, "2025-05-07"), DaysRequested: 2.5, Status: staff.HolidayStatusApproved},
			{UserID: 2, SiteID: 2, StartDate: date(t, "2025-07-07"), EndDate: date(t, "2025-07-08"), DaysRequested: 2, Status: staff.HolidayStatusPending},
			{UserID: 3, SiteID: 2, StartDate: date(t, "2025-10-06"), EndDate: date(t, "2025-10-07"), DaysRequested: 2, Status: staff.HolidayStatusApproved},
		},
	}
}

func TestReconcileReportOnly(t *testing.T) {
	store := newReconcileStore(t)
	svc := New(store, nil, &config.HolidayConfig{YearStartMonth: 4})

	report, err := svc.Reconcile(context.Background(), 2, 2025, false, "system")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, int64(2), d.UserID)
	assert.Equal(t, 2.5, d.ComputedTaken)
	assert.Equal(t, 17.5, d.ComputedRemaining)
	assert.Zero(t, report.Applied)
	assert.Zero(t, store.updates)
}

func TestReconcileApplyIsIdempotent(t *testing.T) {
	store := newReconcileStore(t)
	svc := New(store, nil, &config.HolidayConfig{YearStartMonth: 4})
	ctx := context.Background()

	report, err := svc.Reconcile(ctx, 2, 2025, true, "system")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 2.5, store.users[1].HolidayTaken)

	again, err := svc.Reconcile(ctx, 2, 2025, true, "system")
	require.NoError(t, err)
	assert.Empty(t, again.Discrepancies)
	assert.Equal(t, 1, store.updates)
}

func TestReconcileReportsFailedUpdates(t *testing.T) {
	store := newReconcileStore(t)
	store.failUser = 2
	svc := New(store, nil, &config.HolidayConfig{YearStartMonth: 4})

	report, err := svc.Reconcile(context.Background(), 2, 2025, true, "system")
	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Applied)
}

func TestValidate(t *testing.T) {
	store := newReconcileStore(t)
	svc := New(store, nil, &config.HolidayConfig{YearStartMonth: 4})

	summary, err := svc.Summary(context.Background(), 2, 2025)
	require.NoError(t, err)
	assert.Equal(t, 17.5, summary.Remaining)
	assert.Equal(t, 2.0, summary.Pending)

	days, err := svc.Validate(staff.HolidayRequest{StartDate: date(t, "2025-11-03"), EndDate: date(t, "2025-11-07")}, summary)
	require.NoError(t, err)
	assert.Equal(t, 5.0, days)

	_, err = svc.Validate(staff.HolidayRequest{StartDate: date(t, "2025-11-07"), EndDate: date(t, "2025-11-03")}, summary)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = svc.Validate(staff.HolidayRequest{StartDate: date(t, "2025-11-08"), EndDate: date(t, "2025-11-09")}, summary)
	assert.ErrorIs(t, err, ErrNoWorkingDays)

	_, err = svc.Validate(staff.HolidayRequest{StartDate: date(t, "2025-11-08"), EndDate: date(t, "2025-11-09"), DaysRequested: 2}, summary)
	assert.ErrorIs(t, err, ErrNoWorkingDays)

	days, err = svc.Validate(staff.HolidayRequest{StartDate: date(t, "2025-11-03"), EndDate: date(t, "2025-11-10"), DaysRequested: 10}, summary)
	require.NoError(t, err)
	assert.Equal(t, 6.0, days)

	_, err = svc.Validate(staff.HolidayRequest{StartDate: date(t, "2025-11-03"), EndDate: date(t, "2025-11-28")}, summary)
	assert.ErrorIs(t, err, ErrInsufficientEntitlement)

	_, err = svc.Summary(context.Background(), 99, 2025)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
