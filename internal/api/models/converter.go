package models

import (
	"time"

	"github.com/mergestat/timediff"

	"github.com/checkloops/checkloops/internal/database"
)

// NewPagedResponse builds a page, computing the page count from total.
func NewPagedResponse[T any](items []T, total int64, page, pageSize int) PagedResponse[T] {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(total) / pageSize
		if int(total)%pageSize != 0 {
			totalPages++
		}
	}
	if items == nil {
		items = []T{}
	}
	return PagedResponse[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}

// ToJobRunItems converts journaled runs.
func ToJobRunItems(runs []database.JobRun) []JobRunItem {
	result := make([]JobRunItem, len(runs))
	for i, r := range runs {
		result[i] = JobRunItem{
			ID:          r.ID,
			JobID:       r.JobID,
			Status:      string(r.Status),
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
			Items:       r.Items,
			Error:       r.Error,
		}
		if d := r.Duration(); d > 0 {
			result[i].Duration = d.Round(time.Millisecond).String()
		}
	}
	return result
}

// ToAuditItems converts audit events. Ago is relative to now.
func ToAuditItems(events []database.AuditEvent, now time.Time) []AuditItem {
	result := make([]AuditItem, len(events))
	for i, e := range events {
		result[i] = AuditItem{
			ID:        e.ID,
			Actor:     e.Actor,
			Action:    string(e.Action),
			Subject:   e.Subject,
			SiteID:    e.SiteID,
			Details:   e.DetailsMap(),
			EventTime: e.EventTime,
			Ago:       timediff.TimeDiff(e.EventTime, timediff.WithStartTime(now)),
		}
	}
	return result
}
