package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// AuditAction is the kind of privileged change recorded in the audit log.
type AuditAction string

const (
	AuditInviteCreated    AuditAction = "invite_created"
	AuditInviteResent     AuditAction = "invite_resent"
	AuditInviteCancelled  AuditAction = "invite_cancelled"
	AuditInviteRevoked    AuditAction = "invite_revoked"
	AuditInviteAccepted   AuditAction = "invite_accepted"
	AuditInvitesExpired   AuditAction = "invites_expired"
	AuditSimpleInvite     AuditAction = "simple_invite"
	AuditUserCreated      AuditAction = "user_created"
	AuditRoleChanged      AuditAction = "role_changed"
	AuditKioskPinSet      AuditAction = "kiosk_pin_set"
	AuditHolidayReconcile AuditAction = "holiday_reconciled"
	AuditQuizImported     AuditAction = "quiz_imported"
	AuditQuizSubmitted    AuditAction = "quiz_submitted"
	AuditSlotsSaved       AuditAction = "slot_mappings_saved"
	AuditAvatarUploaded   AuditAction = "avatar_uploaded"
)

// SystemActor is the actor of changes made by scheduled jobs and the CLI.
const SystemActor = "system"

// AuditEvent is one privileged change.
type AuditEvent struct {
	gorm.Model
	// Actor is the auth user id of the caller, or SystemActor.
	Actor string `gorm:"not null;index"`
	// Action is what happened.
	Action AuditAction `gorm:"not null;index"`
	// Subject identifies what was changed, e.g. an email or "site:3".
	Subject string `gorm:"index"`
	// SiteID is the site the change belongs to, if any.
	SiteID int64 `gorm:"index"`
	// Details holds a JSON object with additional data.
	Details string
	// EventTime is when the change happened.
	EventTime time.Time `gorm:"not null;index"`
}

// DetailsMap decodes the JSON details.
func (e *AuditEvent) DetailsMap() map[string]any {
	if e.Details == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(e.Details), &m); err != nil {
		return nil
	}
	return m
}

// AuditFilter restricts GetAuditEvents.
type AuditFilter struct {
	Action  AuditAction
	Actor   string
	Subject string
	SiteID  int64
	Since   *time.Time
}

// AuditDB defines the interface for audit log operations.
type AuditDB interface {
	RecordAudit(ctx context.Context, actor string, action AuditAction, subject string, siteID int64, details map[string]any) error
	GetAuditEvents(ctx context.Context, filter AuditFilter, page, pageSize int, sortOrder SortOrder) ([]AuditEvent, int64, error)
}

// RecordAudit appends an event to the audit log.
func (c *Client) RecordAudit(ctx context.Context, actor string, action AuditAction, subject string, siteID int64, details map[string]any) error {
	if actor == "" {
		actor = SystemActor
	}
	event := AuditEvent{
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		SiteID:    siteID,
		EventTime: time.Now(),
	}
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return err
		}
		event.Details = string(b)
	}

	if err := c.db.WithContext(ctx).Create(&event).Error; err != nil {
		log.Error("failed to create audit event", "error", err)
		return err
	}
	return nil
}

// GetAuditEvents retrieves paginated audit events matching the filter.
func (c *Client) GetAuditEvents(ctx context.Context, filter AuditFilter, page, pageSize int, sortOrder SortOrder) ([]AuditEvent, int64, error) {
	q := c.db.WithContext(ctx).Model(&AuditEvent{})
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.Actor != "" {
		q = q.Where("actor = ?", filter.Actor)
	}
	if filter.Subject != "" {
		q = q.Where("subject = ?", filter.Subject)
	}
	if filter.SiteID != 0 {
		q = q.Where("site_id = ?", filter.SiteID)
	}
	if filter.Since != nil {
		q = q.Where("event_time >= ?", *filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		log.Error("failed to count audit events", "error", err)
		return nil, 0, err
	}

	if sortOrder != SortOrderAsc && sortOrder != SortOrderDesc {
		sortOrder = SortOrderDesc
	}
	offset, limit := normalizePage(page, pageSize)

	var events []AuditEvent
	result := q.Order("event_time " + string(sortOrder)).
		Order("id " + string(sortOrder)).
		Limit(limit).
		Offset(offset).
		Find(&events)
	if result.Error != nil && result.Error != gorm.ErrRecordNotFound {
		log.Error("failed to get audit events", "error", result.Error)
		return nil, 0, result.Error
	}

	return events, total, nil
}
