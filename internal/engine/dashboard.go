package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/internal/training"
)

// quizWindow is the period recent quiz attempts are counted over.
const quizWindow = 30 * 24 * time.Hour

// Dashboard aggregates the admin overview of a site.
type Dashboard struct {
	SiteID             int64                   `json:"site_id"`
	ActiveStaff        int                     `json:"active_staff"`
	PendingInvites     int                     `json:"pending_invites"`
	PendingHolidays    int                     `json:"pending_holidays"`
	RecentQuizAttempts int                     `json:"recent_quiz_attempts"`
	TrainingCompliance float64                 `json:"training_compliance"`
	TrainingCounts     map[training.Status]int `json:"training_counts"`
	GeneratedAt        time.Time               `json:"generated_at"`
}

// Dashboard loads the counts of a site concurrently.
func (e *Engine) Dashboard(ctx context.Context, siteID int64) (*Dashboard, error) {
	now := e.now()
	d := &Dashboard{SiteID: siteID, GeneratedAt: now}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.ActiveStaff, err = e.counts.CountUsers(ctx, siteID)
		return err
	})
	g.Go(func() (err error) {
		d.PendingInvites, err = e.counts.CountInvites(ctx, siteID, staff.InviteStatusPending)
		return err
	})
	g.Go(func() (err error) {
		d.PendingHolidays, err = e.counts.CountPendingHolidayRequests(ctx, siteID)
		return err
	})
	g.Go(func() (err error) {
		d.RecentQuizAttempts, err = e.counts.CountAttemptsSince(ctx, siteID, now.Add(-quizWindow))
		return err
	})
	g.Go(func() error {
		m, err := e.trainings.Matrix(ctx, siteID, now)
		if err != nil {
			return err
		}
		d.TrainingCompliance = m.Compliance
		d.TrainingCounts = m.Counts
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}
