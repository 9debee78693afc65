// Package slots stores the mapping of clinical system appointment slot types to CheckLoops categories.
package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/staff"
)

var (
	ErrEmptySlotType     = errors.New("slot type must not be empty")
	ErrEmptyCategory     = errors.New("category must not be empty")
	ErrDuplicateSlotType = errors.New("duplicate slot type")
	ErrInvalidSite       = errors.New("invalid site")
)

// Store is the persistence used by the slot mapping service.
type Store interface {
	ListSlotMappings(ctx context.Context, siteID int64) ([]staff.SlotMapping, error)
	ReplaceSlotMappings(ctx context.Context, siteID int64, mappings []staff.SlotMapping) ([]staff.SlotMapping, error)
}

// Auditor records privileged changes.
type Auditor interface {
	RecordAudit(ctx context.Context, actor string, action database.AuditAction, subject string, siteID int64, details map[string]any) error
}

// Mapping is one slot type to category pair as sent by clients.
type Mapping struct {
	SlotType string `json:"slot_type"`
	Category string `json:"category"`
}

// Service manages slot mappings.
type Service struct {
	store Store
	audit Auditor
}

// New creates a new slot mapping service.
func New(store Store, audit Auditor) *Service {
	return &Service{store: store, audit: audit}
}

// Normalize trims the mappings and rejects empty and duplicate slot types.
// Slot types are compared case-insensitively.
func Normalize(siteID int64, mappings []Mapping) ([]staff.SlotMapping, error) {
	out := make([]staff.SlotMapping, 0, len(mappings))
	seen := make(map[string]bool, len(mappings))
	for i, m := range mappings {
		slot := strings.TrimSpace(m.SlotType)
		category := strings.TrimSpace(m.Category)
		if slot == "" {
			return nil, fmt.Errorf("mapping %d: %w", i+1, ErrEmptySlotType)
		}
		if category == "" {
			return nil, fmt.Errorf("mapping %d (%s): %w", i+1, slot, ErrEmptyCategory)
		}
		key := strings.ToLower(slot)
		if seen[key] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSlotType, slot)
		}
		seen[key] = true
		out = append(out, staff.SlotMapping{SiteID: siteID, SlotType: slot, Category: category})
	}
	return out, nil
}

// Save replaces all mappings of a site.
func (s *Service) Save(ctx context.Context, siteID int64, mappings []Mapping, actor string) ([]staff.SlotMapping, error) {
	if siteID <= 0 {
		return nil, ErrInvalidSite
	}
	rows, err := Normalize(siteID, mappings)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.ReplaceSlotMappings(ctx, siteID, rows)
	if err != nil {
		return nil, err
	}
	log.Info("Slot mappings saved", "site", siteID, "count", len(rows))
	if s.audit != nil {
		if err := s.audit.RecordAudit(ctx, actor, database.AuditSlotsSaved, "", siteID, map[string]any{"count": len(rows)}); err != nil {
			log.Warn("Failed to record audit event", "error", err)
		}
	}
	return saved, nil
}

// List returns the mappings of a site.
func (s *Service) List(ctx context.Context, siteID int64) ([]staff.SlotMapping, error) {
	if siteID <= 0 {
		return nil, ErrInvalidSite
	}
	return s.store.ListSlotMappings(ctx, siteID)
}
