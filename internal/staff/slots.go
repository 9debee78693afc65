package staff

import (
	"context"
	"fmt"
)

// ListSlotMappings returns the slot type mappings of a site.
func (r *Repository) ListSlotMappings(ctx context.Context, siteID int64) ([]SlotMapping, error) {
	var rows []SlotMapping
	err := r.client.From(TableSlotMappings).
		Select("*").
		Eq("site_id", siteID).
		Order("slot_type", true).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot mappings: %w", err)
	}
	return rows, nil
}

// ReplaceSlotMappings deletes the mappings of a site and inserts the given ones.
func (r *Repository) ReplaceSlotMappings(ctx context.Context, siteID int64, mappings []SlotMapping) ([]SlotMapping, error) {
	if err := r.client.From(TableSlotMappings).Eq("site_id", siteID).Delete(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to clear slot mappings: %w", err)
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	var rows []SlotMapping
	if err := r.client.From(TableSlotMappings).Insert(ctx, mappings, &rows); err != nil {
		return nil, fmt.Errorf("failed to insert slot mappings: %w", err)
	}
	return rows, nil
}
