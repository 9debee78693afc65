// Package training builds the training compliance matrix of a site.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/staff"
)

// Status is the compliance status of one user for one training type.
type Status string

const (
	StatusValid   Status = "valid"
	StatusDueSoon Status = "due_soon"
	StatusExpired Status = "expired"
	StatusMissing Status = "missing"
)

// Label returns a human readable status.
func (s Status) Label() string {
	switch s {
	case StatusValid:
		return "Valid"
	case StatusDueSoon:
		return "Due soon"
	case StatusExpired:
		return "Expired"
	default:
		return "Missing"
	}
}

// Compliant reports whether the status counts towards compliance.
func (s Status) Compliant() bool {
	return s == StatusValid || s == StatusDueSoon
}

var (
	ErrUnknownTrainingType = errors.New("unknown training type")
	ErrInvalidRecord       = errors.New("invalid training record")
)

// Store is the persistence used by the training service.
type Store interface {
	ListUsers(ctx context.Context, siteID int64, activeOnly bool) ([]staff.MasterUser, error)
	ListTrainingTypes(ctx context.Context, siteID int64) ([]staff.TrainingType, error)
	ListTrainingRecords(ctx context.Context, siteID int64) ([]staff.TrainingRecord, error)
	InsertTrainingRecord(ctx context.Context, rec *staff.TrainingRecord) (*staff.TrainingRecord, error)
}

// Expiry returns when a record expires, or nil if it never does.
// An explicit expiry date wins over the validity period of the type.
func Expiry(rec staff.TrainingRecord, typ staff.TrainingType) *staff.Date {
	if rec.ExpiryDate != nil && !rec.ExpiryDate.IsZero() {
		d := *rec.ExpiryDate
		return &d
	}
	if typ.ValidityMonths <= 0 {
		return nil
	}
	d := staff.NewDate(rec.CompletionDate.AddDate(0, typ.ValidityMonths, 0))
	return &d
}

// StatusAt classifies an expiry relative to now.
func StatusAt(expiry *staff.Date, now time.Time, dueSoon time.Duration) Status {
	if expiry == nil {
		return StatusValid
	}
	today := staff.NewDate(now)
	if expiry.Before(today.Time) {
		return StatusExpired
	}
	if expiry.Sub(today.Time) <= dueSoon {
		return StatusDueSoon
	}
	return StatusValid
}

// Cell is the status of one user for one training type.
type Cell struct {
	TrainingTypeID int64       `json:"training_type_id"`
	Training       string      `json:"training"`
	Mandatory      bool        `json:"mandatory"`
	Status         Status      `json:"status"`
	CompletedAt    *staff.Date `json:"completed_at,omitempty"`
	ExpiresAt      *staff.Date `json:"expires_at,omitempty"`
}

// Row holds the cells of one user.
type Row struct {
	UserID     int64   `json:"user_id"`
	AuthUserID string  `json:"auth_user_id,omitempty"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Cells      []Cell  `json:"cells"`
	Compliance float64 `json:"compliance"`
}

// Matrix is the training compliance of a site.
type Matrix struct {
	SiteID     int64                `json:"site_id"`
	Types      []staff.TrainingType `json:"types"`
	Rows       []Row                `json:"rows"`
	Compliance float64              `json:"compliance"`
	Counts     map[Status]int       `json:"counts"`
}

// Build computes the matrix from already loaded rows.
// Compliance counts the cells of mandatory types, or all cells when no type is mandatory.
func Build(siteID int64, users []staff.MasterUser, types []staff.TrainingType, records []staff.TrainingRecord, now time.Time, dueSoon time.Duration) *Matrix {
	latest := map[[2]int64]staff.TrainingRecord{}
	for _, rec := range records {
		key := [2]int64{rec.UserID, rec.TrainingTypeID}
		if cur, ok := latest[key]; !ok || rec.CompletionDate.After(cur.CompletionDate.Time) {
			latest[key] = rec
		}
	}

	anyMandatory := lo.SomeBy(types, func(t staff.TrainingType) bool { return t.Mandatory })
	counted := func(t staff.TrainingType) bool { return !anyMandatory || t.Mandatory }

	m := &Matrix{SiteID: siteID, Types: types, Rows: make([]Row, 0, len(users)), Counts: map[Status]int{}}
	var total, compliant int
	for _, u := range users {
		row := Row{UserID: u.ID, AuthUserID: u.AuthUserID, Name: u.FullName, Email: u.Email, Cells: make([]Cell, 0, len(types))}
		var rowTotal, rowCompliant int
		for _, t := range types {
			cell := Cell{TrainingTypeID: t.ID, Training: t.Name, Mandatory: t.Mandatory, Status: StatusMissing}
			if rec, ok := latest[[2]int64{u.ID, t.ID}]; ok {
				completed := rec.CompletionDate
				cell.CompletedAt = &completed
				cell.ExpiresAt = Expiry(rec, t)
				cell.Status = StatusAt(cell.ExpiresAt, now, dueSoon)
			}
			m.Counts[cell.Status]++
			if counted(t) {
				rowTotal++
				if cell.Status.Compliant() {
					rowCompliant++
				}
			}
			row.Cells = append(row.Cells, cell)
		}
		row.Compliance = percent(rowCompliant, rowTotal)
		total += rowTotal
		compliant += rowCompliant
		m.Rows = append(m.Rows, row)
	}
	m.Compliance = percent(compliant, total)
	return m
}

func percent(part, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(part)*1000/float64(total)) / 10
}

// Service loads and evaluates training data.
type Service struct {
	store   Store
	dueSoon time.Duration
	now     func() time.Time
}

// New creates a new training service.
func New(store Store, cfg *config.TrainingConfig) *Service {
	return &Service{
		store:   store,
		dueSoon: time.Duration(cfg.DueSoonDays) * 24 * time.Hour,
		now:     time.Now,
	}
}

// Matrix loads the site data and builds the compliance matrix.
func (s *Service) Matrix(ctx context.Context, siteID int64, now time.Time) (*Matrix, error) {
	users, err := s.store.ListUsers(ctx, siteID, true)
	if err != nil {
		return nil, err
	}
	types, err := s.store.ListTrainingTypes(ctx, siteID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListTrainingRecords(ctx, siteID)
	if err != nil {
		return nil, err
	}
	return Build(siteID, users, types, records, now, s.dueSoon), nil
}

// Reminder lists the expired and due soon trainings of one user.
type Reminder struct {
	Row
	Items []Cell `json:"items"`
}

// Reminders returns every user of a site with expired or due soon trainings.
// Missing trainings are not included: there is nothing to renew yet.
func (s *Service) Reminders(ctx context.Context, siteID int64, now time.Time) ([]Reminder, error) {
	m, err := s.Matrix(ctx, siteID, now)
	if err != nil {
		return nil, err
	}
	var out []Reminder
	for _, row := range m.Rows {
		items := lo.Filter(row.Cells, func(c Cell, _ int) bool {
			return c.Status == StatusExpired || c.Status == StatusDueSoon
		})
		if len(items) > 0 {
			out = append(out, Reminder{Row: row, Items: items})
		}
	}
	return out, nil
}

// Record stores a completed training. If no expiry date is given it is derived from the type.
func (s *Service) Record(ctx context.Context, rec staff.TrainingRecord) (*staff.TrainingRecord, error) {
	if rec.UserID <= 0 || rec.CompletionDate.IsZero() {
		return nil, fmt.Errorf("%w: user and completion date are required", ErrInvalidRecord)
	}
	if rec.CompletionDate.After(s.now()) {
		return nil, fmt.Errorf("%w: completion date lies in the future", ErrInvalidRecord)
	}
	types, err := s.store.ListTrainingTypes(ctx, rec.SiteID)
	if err != nil {
		return nil, err
	}
	typ, ok := lo.Find(types, func(t staff.TrainingType) bool { return t.ID == rec.TrainingTypeID })
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTrainingType, rec.TrainingTypeID)
	}
	if rec.ExpiryDate == nil {
		rec.ExpiryDate = Expiry(rec, typ)
	} else if rec.ExpiryDate.Before(rec.CompletionDate.Time) {
		return nil, fmt.Errorf("%w: expiry before completion", ErrInvalidRecord)
	}
	return s.store.InsertTrainingRecord(ctx, &rec)
}
