package training

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/staff"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func d(s string) staff.Date {
	date, err := staff.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return date
}

func dp(s string) *staff.Date {
	date := d(s)
	return &date
}

func TestExpiry(t *testing.T) {
	yearly := staff.TrainingType{ValidityMonths: 12}
	once := staff.TrainingType{}

	e := Expiry(staff.TrainingRecord{CompletionDate: d("2024-07-01")}, yearly)
	require.NotNil(t, e)
	assert.Equal(t, "2025-07-01", e.String())

	e = Expiry(staff.TrainingRecord{CompletionDate: d("2024-07-01"), ExpiryDate: dp("2025-01-01")}, yearly)
	assert.Equal(t, "2025-01-01", e.String())

	assert.Nil(t, Expiry(staff.TrainingRecord{CompletionDate: d("2020-01-01")}, once))
}

func TestStatusAt(t *testing.T) {
	dueSoon := 30 * 24 * time.Hour
	assert.Equal(t, StatusValid, StatusAt(nil, now, dueSoon))
	assert.Equal(t, StatusExpired, StatusAt(dp("2025-06-14"), now, dueSoon))
	assert.Equal(t, StatusDueSoon, StatusAt(dp("2025-06-15"), now, dueSoon))
	assert.Equal(t, StatusDueSoon, StatusAt(dp("2025-07-15"), now, dueSoon))
	assert.Equal(t, StatusValid, StatusAt(dp("2025-07-16"), now, dueSoon))
}

func fixture() ([]staff.MasterUser, []staff.TrainingType, []staff.TrainingRecord) {
	users := []staff.MasterUser{
		{ID: 1, FullName: "Alex", Email: "alex@example.com"},
		{ID: 2, FullName: "Blair", Email: "blair@example.com"},
	}
	types := []staff.TrainingType{
		{ID: 10, Name: "Fire Safety", ValidityMonths: 12, Mandatory: true},
		{ID: 11, Name: "Safeguarding", ValidityMonths: 36, Mandatory: true},
		{ID: 12, Name: "Conflict Resolution", ValidityMonths: 0},
	}
	records := []staff.TrainingRecord{
		// older record is superseded by the newer one
		{UserID: 1, TrainingTypeID: 10, CompletionDate: d("2023-01-10")},
		{UserID: 1, TrainingTypeID: 10, CompletionDate: d("2025-01-10")},
		{UserID: 1, TrainingTypeID: 11, CompletionDate: d("2022-07-01")},
		{UserID: 2, TrainingTypeID: 10, CompletionDate: d("2024-05-01")},
		{UserID: 2, TrainingTypeID: 12, CompletionDate: d("2019-03-01")},
	}
	return users, types, records
}

func TestBuild(t *testing.T) {
	users, types, records := fixture()
	m := Build(5, users, types, records, now, 30*24*time.Hour)

	require.Len(t, m.Rows, 2)
	alex := m.Rows[0]
	assert.Equal(t, StatusValid, alex.Cells[0].Status)
	assert.Equal(t, "2026-01-10", alex.Cells[0].ExpiresAt.String())
	assert.Equal(t, StatusDueSoon, alex.Cells[1].Status)
	assert.Equal(t, StatusMissing, alex.Cells[2].Status)
	assert.Equal(t, 100.0, alex.Compliance)

	blair := m.Rows[1]
	assert.Equal(t, StatusExpired, blair.Cells[0].Status)
	assert.Equal(t, StatusMissing, blair.Cells[1].Status)
	assert.Equal(t, StatusValid, blair.Cells[2].Status)
	assert.Nil(t, blair.Cells[2].ExpiresAt)
	assert.Equal(t, 0.0, blair.Compliance)

	// 2 of 4 mandatory cells are compliant
	assert.Equal(t, 50.0, m.Compliance)
	assert.Equal(t, 2, m.Counts[StatusValid])
	assert.Equal(t, 2, m.Counts[StatusMissing])
}

func TestBuildWithoutMandatoryTypes(t *testing.T) {
	users := []staff.MasterUser{{ID: 1}}
	types := []staff.TrainingType{{ID: 1, ValidityMonths: 12}, {ID: 2, ValidityMonths: 12}, {ID: 3}}
	records := []staff.TrainingRecord{{UserID: 1, TrainingTypeID: 1, CompletionDate: d("2025-01-01")}}

	m := Build(1, users, types, records, now, 0)
	assert.Equal(t, 33.3, m.Compliance)

	empty := Build(1, nil, types, nil, now, 0)
	assert.Equal(t, 100.0, empty.Compliance)
}

type memStore struct {
	users    []staff.MasterUser
	types    []staff.TrainingType
	records  []staff.TrainingRecord
	inserted []staff.TrainingRecord
}

func (m *memStore) ListUsers(context.Context, int64, bool) ([]staff.MasterUser, error) {
	return m.users, nil
}

func (m *memStore) ListTrainingTypes(context.Context, int64) ([]staff.TrainingType, error) {
	return m.types, nil
}

func (m *memStore) ListTrainingRecords(context.Context, int64) ([]staff.TrainingRecord, error) {
	return m.records, nil
}

func (m *memStore) InsertTrainingRecord(_ context.Context, rec *staff.TrainingRecord) (*staff.TrainingRecord, error) {
	m.inserted = append(m.inserted, *rec)
	return rec, nil
}

func newTestService() (*Service, *memStore) {
	users, types, records := fixture()
	store := &memStore{users: users, types: types, records: records}
	svc := New(store, &config.TrainingConfig{DueSoonDays: 30})
	svc.now = func() time.Time { return now }
	return svc, store
}

func TestReminders(t *testing.T) {
	svc, _ := newTestService()

	reminders, err := svc.Reminders(context.Background(), 5, now)
	require.NoError(t, err)
	require.Len(t, reminders, 2)

	assert.Equal(t, "Alex", reminders[0].Name)
	require.Len(t, reminders[0].Items, 1)
	assert.Equal(t, "Safeguarding", reminders[0].Items[0].Training)

	assert.Equal(t, "Blair", reminders[1].Name)
	require.Len(t, reminders[1].Items, 1)
	assert.Equal(t, StatusExpired, reminders[1].Items[0].Status)
}

func TestRecord(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	rec, err := svc.Record(ctx, staff.TrainingRecord{SiteID: 5, UserID: 2, TrainingTypeID: 11, CompletionDate: d("2025-06-01")})
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiryDate)
	assert.Equal(t, "2028-06-01", rec.ExpiryDate.String())
	assert.Len(t, store.inserted, 1)

	_, err = svc.Record(ctx, staff.TrainingRecord{SiteID: 5, UserID: 2, TrainingTypeID: 99, CompletionDate: d("2025-06-01")})
	assert.ErrorIs(t, err, ErrUnknownTrainingType)

	_, err = svc.Record(ctx, staff.TrainingRecord{SiteID: 5, UserID: 2, TrainingTypeID: 10, CompletionDate: d("2025-07-01")})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = svc.Record(ctx, staff.TrainingRecord{SiteID: 5, UserID: 2, TrainingTypeID: 10, CompletionDate: d("2025-06-01"), ExpiryDate: dp("2025-01-01")})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Due soon", StatusDueSoon.Label())
	assert.Equal(t, "Missing", StatusMissing.Label())
	assert.False(t, StatusExpired.Compliant())
}
