package staff

import (
	"context"
	"fmt"

	"github.com/checkloops/checkloops/pkg/supabase"
)

// ListTrainingTypes returns the active training types of a site.
func (r *Repository) ListTrainingTypes(ctx context.Context, siteID int64) ([]TrainingType, error) {
	rows, err := supabase.All[TrainingType](ctx, r.client.From(TableTrainingTypes).
		Select("*").
		Eq("site_id", siteID).
		Eq("active", true).
		Order("name", true).
		Order("id", true))
	if err != nil {
		return nil, fmt.Errorf("failed to list training types: %w", err)
	}
	return rows, nil
}

// ListTrainingRecords returns all training records of a site.
func (r *Repository) ListTrainingRecords(ctx context.Context, siteID int64) ([]TrainingRecord, error) {
	rows, err := supabase.All[TrainingRecord](ctx, r.client.From(TableTrainingRecords).
		Select("*").
		Eq("site_id", siteID).
		Order("completion_date", false).
		Order("id", false))
	if err != nil {
		return nil, fmt.Errorf("failed to list training records: %w", err)
	}
	return rows, nil
}

// InsertTrainingRecord stores a completed training.
func (r *Repository) InsertTrainingRecord(ctx context.Context, rec *TrainingRecord) (*TrainingRecord, error) {
	var rows []TrainingRecord
	if err := r.client.From(TableTrainingRecords).Insert(ctx, rec, &rows); err != nil {
		return nil, fmt.Errorf("failed to insert training record: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert training record returned no rows")
	}
	return &rows[0], nil
}
