// Package models holds the request and response shapes of the HTTP API.
package models

import "time"

// User is the authenticated caller.
type User struct {
	AuthUserID string `json:"auth_user_id"`
	Email      string `json:"email"`
	// Role and SiteID come from the caller's profile. Only set behind the admin guard.
	Role    string `json:"role,omitempty"`
	SiteID  int64  `json:"site_id,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// PagedResponse wraps one page of a list.
type PagedResponse[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// JobRunItem is one journaled job run.
type JobRunItem struct {
	ID          uint       `json:"id"`
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Items       int        `json:"items"`
	Error       string     `json:"error,omitempty"`
}

// AuditItem is one audit log entry.
type AuditItem struct {
	ID        uint           `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Subject   string         `json:"subject,omitempty"`
	SiteID    int64          `json:"site_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	EventTime time.Time      `json:"event_time"`
	Ago       string         `json:"ago"`
}
