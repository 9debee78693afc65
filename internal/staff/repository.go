// Package staff maps the CheckLoops tables to typed Go values.
// Every method issues one PostgREST, RPC or Auth call, except the List methods
// which read the table page by page.
package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/checkloops/checkloops/pkg/supabase"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleInvite is returned when a conditional invite update matched no row
	// because the invite already left the expected status.
	ErrStaleInvite = errors.New("invite status changed concurrently")
)

// Repository provides typed access to the CheckLoops tables.
type Repository struct {
	client *supabase.Client
}

// New creates a new repository using the given Supabase client.
func New(client *supabase.Client) *Repository {
	return &Repository{client: client}
}

// Client returns the underlying Supabase client.
func (r *Repository) Client() *supabase.Client {
	return r.client
}

// single fetches one row and maps the PostgREST no-rows error to ErrNotFound.
func single[T any](ctx context.Context, q *supabase.Query) (*T, error) {
	var out T
	if err := q.Single(ctx, &out); err != nil {
		if supabase.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// GetUserByAuthID returns the profile linked to an auth user.
func (r *Repository) GetUserByAuthID(ctx context.Context, authUserID string) (*MasterUser, error) {
	return single[MasterUser](ctx, r.client.From(TableMasterUsers).Select("*").Eq("auth_user_id", authUserID))
}

// GetUserByID returns a profile by its row id.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*MasterUser, error) {
	return single[MasterUser](ctx, r.client.From(TableMasterUsers).Select("*").Eq("id", id))
}

// FindUserByEmail returns the profiles with the given email on a site.
// Emails compare case-insensitively and never as a pattern.
func (r *Repository) FindUserByEmail(ctx context.Context, email string, siteID int64) ([]MasterUser, error) {
	users, err := supabase.All[MasterUser](ctx, r.client.From(TableMasterUsers).
		Select("*").
		ILike("email", supabase.EscapeLike(email)).
		Eq("site_id", siteID).
		Order("id", true))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user by email: %w", err)
	}
	return lo.Filter(users, func(u MasterUser, _ int) bool { return strings.EqualFold(u.Email, email) }), nil
}

// ListUsers returns the profiles of a site ordered by name.
func (r *Repository) ListUsers(ctx context.Context, siteID int64, activeOnly bool) ([]MasterUser, error) {
	q := r.client.From(TableMasterUsers).Select("*").Eq("site_id", siteID)
	if activeOnly {
		q = q.Eq("active", true)
	}
	users, err := supabase.All[MasterUser](ctx, q.Order("full_name", true).Order("id", true))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// CountUsers returns the number of active profiles of a site.
func (r *Repository) CountUsers(ctx context.Context, siteID int64) (int, error) {
	return r.client.From(TableMasterUsers).Eq("site_id", siteID).Eq("active", true).Count(ctx)
}

// InsertUser creates a profile.
func (r *Repository) InsertUser(ctx context.Context, u *MasterUser) (*MasterUser, error) {
	var rows []MasterUser
	if err := r.client.From(TableMasterUsers).Insert(ctx, u, &rows); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert user returned no rows")
	}
	return &rows[0], nil
}

// UpsertProfile creates or merges a profile keyed on auth_user_id.
// Only the provisioning columns are sent, so balances and quiz dates of an existing row are kept.
func (r *Repository) UpsertProfile(ctx context.Context, p *Profile) (*MasterUser, error) {
	var rows []MasterUser
	if err := r.client.From(TableMasterUsers).Upsert(ctx, p, "auth_user_id", &rows); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert user returned no rows")
	}
	return &rows[0], nil
}

// UpdateUser patches a profile by row id.
func (r *Repository) UpdateUser(ctx context.Context, id int64, patch map[string]any) error {
	var rows []MasterUser
	if err := r.client.From(TableMasterUsers).Eq("id", id).Update(ctx, patch, &rows); err != nil {
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserByAuthID patches the profile linked to an auth user.
func (r *Repository) UpdateUserByAuthID(ctx context.Context, authUserID string, patch map[string]any) error {
	var rows []MasterUser
	if err := r.client.From(TableMasterUsers).Eq("auth_user_id", authUserID).Update(ctx, patch, &rows); err != nil {
		return fmt.Errorf("failed to update user %s: %w", authUserID, err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAccess returns the access type and site of the profile linked to an auth user.
func (r *Repository) GetAccess(ctx context.Context, authUserID string) (*Access, error) {
	var rows []Access
	err := r.client.From(TableMasterUsers).
		Select("access_type,site_id").
		Eq("auth_user_id", authUserID).
		Limit(1).
		Execute(ctx, &rows)
	if err != nil {
		log.Error("Failed to look up access", "auth_user_id", authUserID, "error", err)
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// DeleteUser removes a profile by row id.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	return r.client.From(TableMasterUsers).Eq("id", id).Delete(ctx, nil)
}
