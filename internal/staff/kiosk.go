package staff

import (
	"context"
	"fmt"
)

// UpsertKioskUser creates or merges the kiosk row linked to an auth user.
func (r *Repository) UpsertKioskUser(ctx context.Context, k *KioskUser) (*KioskUser, error) {
	var rows []KioskUser
	if err := r.client.From(TableKioskUsers).Upsert(ctx, k, "auth_user_id", &rows); err != nil {
		return nil, fmt.Errorf("failed to upsert kiosk user: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert kiosk user returned no rows")
	}
	return &rows[0], nil
}

// SetKioskPinHash stores the PIN hash of the kiosk row linked to an auth user.
func (r *Repository) SetKioskPinHash(ctx context.Context, authUserID, hash string) error {
	var rows []KioskUser
	err := r.client.From(TableKioskUsers).
		Eq("auth_user_id", authUserID).
		Update(ctx, map[string]any{"pin_hash": hash}, &rows)
	if err != nil {
		return fmt.Errorf("failed to set kiosk pin: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// AuthenticateKiosk checks a PIN for a site through the kiosk authentication function.
func (r *Repository) AuthenticateKiosk(ctx context.Context, siteID int64, pin string) ([]KioskLogin, error) {
	var rows []KioskLogin
	err := r.client.Rpc(ctx, "authenticate_kiosk_user_with_profiles", map[string]any{
		"p_site_id": siteID,
		"p_pin":     pin,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("kiosk authentication failed: %w", err)
	}
	return rows, nil
}
