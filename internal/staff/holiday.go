package staff

import (
	"context"
	"fmt"

	"github.com/checkloops/checkloops/pkg/supabase"
)

// ListHolidayRequests returns the requests of a site overlapping [from, to].
// An empty status returns every status.
func (r *Repository) ListHolidayRequests(ctx context.Context, siteID int64, from, to Date, status HolidayStatus) ([]HolidayRequest, error) {
	q := r.client.From(TableHolidayRequests).
		Select("*").
		Eq("site_id", siteID).
		Lte("start_date", to.String()).
		Gte("end_date", from.String())
	if status != "" {
		q = q.Eq("status", status)
	}
	rows, err := supabase.All[HolidayRequest](ctx, q.Order("start_date", true).Order("id", true))
	if err != nil {
		return nil, fmt.Errorf("failed to list holiday requests: %w", err)
	}
	return rows, nil
}

// ListUserHolidayRequests returns all requests of one user overlapping [from, to].
func (r *Repository) ListUserHolidayRequests(ctx context.Context, userID int64, from, to Date) ([]HolidayRequest, error) {
	rows, err := supabase.All[HolidayRequest](ctx, r.client.From(TableHolidayRequests).
		Select("*").
		Eq("user_id", userID).
		Lte("start_date", to.String()).
		Gte("end_date", from.String()).
		Order("start_date", true).
		Order("id", true))
	if err != nil {
		return nil, fmt.Errorf("failed to list holiday requests: %w", err)
	}
	return rows, nil
}

// CountPendingHolidayRequests returns the number of requests awaiting approval on a site.
func (r *Repository) CountPendingHolidayRequests(ctx context.Context, siteID int64) (int, error) {
	return r.client.From(TableHolidayRequests).Eq("site_id", siteID).Eq("status", HolidayStatusPending).Count(ctx)
}
