package staff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/checkloops/checkloops/pkg/supabase"
)

// InsertInvite creates an invite row.
func (r *Repository) InsertInvite(ctx context.Context, inv *SiteInvite) (*SiteInvite, error) {
	var rows []SiteInvite
	if err := r.client.From(TableSiteInvites).Insert(ctx, inv, &rows); err != nil {
		return nil, fmt.Errorf("failed to insert invite: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert invite returned no rows")
	}
	return &rows[0], nil
}

// GetInviteByID returns an invite by id.
func (r *Repository) GetInviteByID(ctx context.Context, id int64) (*SiteInvite, error) {
	return single[SiteInvite](ctx, r.client.From(TableSiteInvites).Select("*").Eq("id", id))
}

// GetInviteByToken returns an invite by its token.
func (r *Repository) GetInviteByToken(ctx context.Context, token string) (*SiteInvite, error) {
	return single[SiteInvite](ctx, r.client.From(TableSiteInvites).Select("*").Eq("token", token))
}

// FindPendingInvites returns the pending invites for an email on a site.
// Emails compare case-insensitively and never as a pattern.
func (r *Repository) FindPendingInvites(ctx context.Context, email string, siteID int64) ([]SiteInvite, error) {
	rows, err := supabase.All[SiteInvite](ctx, r.client.From(TableSiteInvites).
		Select("*").
		ILike("email", supabase.EscapeLike(email)).
		Eq("site_id", siteID).
		Eq("status", InviteStatusPending).
		Order("id", true))
	if err != nil {
		return nil, fmt.Errorf("failed to look up pending invites: %w", err)
	}
	return lo.Filter(rows, func(inv SiteInvite, _ int) bool { return strings.EqualFold(inv.Email, email) }), nil
}

// ListInvites returns the invites of a site, newest first. An empty status returns all.
func (r *Repository) ListInvites(ctx context.Context, siteID int64, status InviteStatus) ([]SiteInvite, error) {
	q := r.client.From(TableSiteInvites).Select("*").Eq("site_id", siteID)
	if status != "" {
		q = q.Eq("status", status)
	}
	rows, err := supabase.All[SiteInvite](ctx, q.Order("created_at", false).Order("id", false))
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	return rows, nil
}

// CountInvites returns the number of invites of a site with the given status.
func (r *Repository) CountInvites(ctx context.Context, siteID int64, status InviteStatus) (int, error) {
	return r.client.From(TableSiteInvites).Eq("site_id", siteID).Eq("status", status).Count(ctx)
}

// TransitionInvite moves an invite from one status to another and applies extra columns.
// The update only matches while the invite still has the from status, otherwise ErrStaleInvite is returned.
func (r *Repository) TransitionInvite(ctx context.Context, id int64, from, to InviteStatus, extra map[string]any) (*SiteInvite, error) {
	patch := map[string]any{"status": to}
	for k, v := range extra {
		patch[k] = v
	}

	var rows []SiteInvite
	err := r.client.From(TableSiteInvites).
		Eq("id", id).
		Eq("status", from).
		Update(ctx, patch, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to update invite %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, ErrStaleInvite
	}
	return &rows[0], nil
}

// UpdatePendingInvite patches an invite that is still pending.
func (r *Repository) UpdatePendingInvite(ctx context.Context, id int64, patch map[string]any) (*SiteInvite, error) {
	var rows []SiteInvite
	err := r.client.From(TableSiteInvites).
		Eq("id", id).
		Eq("status", InviteStatusPending).
		Update(ctx, patch, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to update invite %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, ErrStaleInvite
	}
	return &rows[0], nil
}

// ExpirePendingInvites marks every pending invite expiring before now as expired and returns them.
func (r *Repository) ExpirePendingInvites(ctx context.Context, now time.Time) ([]SiteInvite, error) {
	var rows []SiteInvite
	err := r.client.From(TableSiteInvites).
		Eq("status", InviteStatusPending).
		Lt("expires_at", now).
		Update(ctx, map[string]any{"status": InviteStatusExpired}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to expire invites: %w", err)
	}
	return rows, nil
}

// DeleteInvite removes an invite row.
func (r *Repository) DeleteInvite(ctx context.Context, id int64) error {
	if err := r.client.From(TableSiteInvites).Eq("id", id).Delete(ctx, nil); err != nil {
		return fmt.Errorf("failed to delete invite %d: %w", id, err)
	}
	return nil
}
