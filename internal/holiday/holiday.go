// Package holiday computes holiday entitlements and keeps the stored balances in line with the approved requests.
package holiday

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/staff"
)

// Tolerance is the largest difference in days treated as equal.
const Tolerance = 0.01

const applyConcurrency = 4

var (
	ErrInvalidRange            = errors.New("holiday end date is before the start date")
	ErrNoWorkingDays           = errors.New("holiday request covers no working days")
	ErrInsufficientEntitlement = errors.New("not enough holiday entitlement remaining")
	ErrUserNotFound            = errors.New("user not found")
)

// Store is the persistence used by the holiday service.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*staff.MasterUser, error)
	ListUsers(ctx context.Context, siteID int64, activeOnly bool) ([]staff.MasterUser, error)
	ListHolidayRequests(ctx context.Context, siteID int64, from, to staff.Date, status staff.HolidayStatus) ([]staff.HolidayRequest, error)
	ListUserHolidayRequests(ctx context.Context, userID int64, from, to staff.Date) ([]staff.HolidayRequest, error)
	UpdateUser(ctx context.Context, id int64, patch map[string]any) error
}

// Auditor records privileged changes.
type Auditor interface {
	RecordAudit(ctx context.Context, actor string, action database.AuditAction, subject string, siteID int64, details map[string]any) error
}

// Service computes holiday balances.
type Service struct {
	store    Store
	audit    Auditor
	calendar Calendar
	now      func() time.Time
}

// New creates a new holiday service.
func New(store Store, audit Auditor, cfg *config.HolidayConfig) *Service {
	return &Service{
		store:    store,
		audit:    audit,
		calendar: NewCalendar(cfg.YearStartMonth),
		now:      time.Now,
	}
}

// Calendar returns the holiday calendar of the service.
func (s *Service) Calendar() Calendar {
	return s.calendar
}

// CurrentYear returns the holiday year containing today.
func (s *Service) CurrentYear() int {
	return s.calendar.YearOf(s.now())
}

// Summary returns the balance of a user for a holiday year.
func (s *Service) Summary(ctx context.Context, userID int64, year int) (*Summary, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	start, end := s.calendar.YearBounds(year)
	requests, err := s.store.ListUserHolidayRequests(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	summary := s.calendar.Summarize(user, requests, year)
	return &summary, nil
}

// Validate checks a new request against the balance of its user.
// If the request lies wholly in the year and books days, those count; otherwise its working days do.
func (s *Service) Validate(req staff.HolidayRequest, summary *Summary) (float64, error) {
	if req.EndDate.Before(req.StartDate.Time) {
		return 0, ErrInvalidRange
	}
	start, end := s.calendar.YearBounds(summary.Year)
	days := DaysInYear(req, start, end)
	if days <= 0 {
		return 0, ErrNoWorkingDays
	}
	if days > summary.Remaining+Tolerance {
		return days, fmt.Errorf("%w: requested %.2f, remaining %.2f", ErrInsufficientEntitlement, days, summary.Remaining)
	}
	return days, nil
}

// Discrepancy is a stored balance that differs from the approved requests.
type Discrepancy struct {
	UserID            int64   `json:"user_id"`
	Name              string  `json:"name"`
	StoredTaken       float64 `json:"stored_taken"`
	ComputedTaken     float64 `json:"computed_taken"`
	StoredRemaining   float64 `json:"stored_remaining"`
	ComputedRemaining float64 `json:"computed_remaining"`
}

// ReconcileReport is the outcome of a reconciliation run.
type ReconcileReport struct {
	SiteID        int64         `json:"site_id"`
	Year          int           `json:"year"`
	Checked       int           `json:"checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Applied       int           `json:"applied"`
	Failed        int           `json:"failed"`
}

// Reconcile recomputes taken and remaining days for every active user of a site.
// With apply set, differing balances are written back. Running it twice reports nothing the second time.
func (s *Service) Reconcile(ctx context.Context, siteID int64, year int, apply bool, actor string) (*ReconcileReport, error) {
	users, err := s.store.ListUsers(ctx, siteID, true)
	if err != nil {
		return nil, err
	}
	start, end := s.calendar.YearBounds(year)
	requests, err := s.store.ListHolidayRequests(ctx, siteID, start, end, staff.HolidayStatusApproved)
	if err != nil {
		return nil, err
	}
	byUser := lo.GroupBy(requests, func(r staff.HolidayRequest) int64 { return r.UserID })

	report := &ReconcileReport{SiteID: siteID, Year: year, Checked: len(users), Discrepancies: []Discrepancy{}}
	for i := range users {
		u := &users[i]
		summary := s.calendar.Summarize(u, byUser[u.ID], year)
		if differs(u.HolidayTaken, summary.Taken) || differs(u.HolidayRemaining, summary.Remaining) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				UserID:            u.ID,
				Name:              u.FullName,
				StoredTaken:       u.HolidayTaken,
				ComputedTaken:     summary.Taken,
				StoredRemaining:   u.HolidayRemaining,
				ComputedRemaining: summary.Remaining,
			})
		}
	}

	log.Info("Holiday reconciliation", "site", siteID, "year", year, "checked", report.Checked, "discrepancies", len(report.Discrepancies), "apply", apply)
	if !apply || len(report.Discrepancies) == 0 {
		return report, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(applyConcurrency)
	for _, d := range report.Discrepancies {
		g.Go(func() error {
			err := s.store.UpdateUser(ctx, d.UserID, map[string]any{
				"holiday_taken":     d.ComputedTaken,
				"holiday_remaining": d.ComputedRemaining,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("Failed to apply holiday balance", "user", d.UserID, "error", err)
				report.Failed++
				errs = append(errs, fmt.Errorf("user %d: %w", d.UserID, err))
				return nil
			}
			report.Applied++
			return nil
		})
	}
	_ = g.Wait()

	if s.audit != nil {
		if err := s.audit.RecordAudit(ctx, actor, database.AuditHolidayReconcile, "", siteID, map[string]any{
			"year":    year,
			"applied": report.Applied,
			"failed":  report.Failed,
		}); err != nil {
			log.Warn("Failed to record audit event", "error", err)
		}
	}
	return report, errors.Join(errs...)
}

func differs(a, b float64) bool {
	return math.Abs(a-b) > Tolerance
}
