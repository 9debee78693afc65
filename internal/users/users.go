// Package users provisions staff accounts and manages their roles.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/invite"
	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/pkg/supabase"
)

const minPasswordLength = 8

var (
	ErrInvalidRole   = errors.New("invalid role")
	ErrWeakPassword  = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrUserExists    = errors.New("a user with this email already exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidSiteID = errors.New("invalid site")
)

// Store is the persistence used by the user service.
type Store interface {
	InsertUser(ctx context.Context, u *staff.MasterUser) (*staff.MasterUser, error)
	GetUserByAuthID(ctx context.Context, authUserID string) (*staff.MasterUser, error)
	ListUsers(ctx context.Context, siteID int64, activeOnly bool) ([]staff.MasterUser, error)
	UpdateUserByAuthID(ctx context.Context, authUserID string, patch map[string]any) error
	UpsertKioskUser(ctx context.Context, k *staff.KioskUser) (*staff.KioskUser, error)
	SetKioskPinHash(ctx context.Context, authUserID, hash string) error
}

// Auth is the subset of the Supabase admin API used for accounts.
type Auth interface {
	CreateUser(ctx context.Context, params supabase.AdminUserParams) (*supabase.User, error)
	UpdateUser(ctx context.Context, id string, params supabase.AdminUserParams) (*supabase.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// RoleCache is invalidated whenever a role changes.
type RoleCache interface {
	Delete(ctx context.Context, key any) error
}

// Auditor records privileged changes.
type Auditor interface {
	RecordAudit(ctx context.Context, actor string, action database.AuditAction, subject string, siteID int64, details map[string]any) error
}

// Service manages staff accounts.
type Service struct {
	store Store
	auth  Auth
	roles RoleCache
	audit Auditor
	cfg   *config.Config
}

// New creates a new user service. roles and audit may be nil.
func New(store Store, auth Auth, roles RoleCache, audit Auditor, cfg *config.Config) *Service {
	return &Service{store: store, auth: auth, roles: roles, audit: audit, cfg: cfg}
}

// CreateRequest holds the data of an account created by an admin.
type CreateRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	SiteID    int64  `json:"site_id"`
	PIN       string `json:"pin,omitempty"`
	CreatedBy string `json:"-"`
}

// CreateUser creates a confirmed auth user and its profile.
// If the profile cannot be written the auth user is deleted again.
func (s *Service) CreateUser(ctx context.Context, req CreateRequest) (*staff.MasterUser, error) {
	email, err := invite.NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if !s.cfg.IsValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, req.Role)
	}
	if req.SiteID <= 0 {
		return nil, ErrInvalidSiteID
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	var pinHash string
	if req.PIN != "" {
		if pinHash, err = staff.HashPIN(req.PIN); err != nil {
			return nil, err
		}
	}
	fullName := strings.TrimSpace(req.FullName)

	authUser, err := s.auth.CreateUser(ctx, supabase.AdminUserParams{
		Email:        email,
		Password:     req.Password,
		EmailConfirm: true,
		UserMetadata: map[string]any{"full_name": fullName, "site_id": req.SiteID},
		AppMetadata:  map[string]any{"role": role},
	})
	if err != nil {
		if supabase.IsUserExists(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create auth user: %w", err)
	}

	user, err := s.store.InsertUser(ctx, &staff.MasterUser{
		AuthUserID: authUser.ID,
		Email:      email,
		FullName:   fullName,
		SiteID:     req.SiteID,
		AccessType: role,
		Active:     true,
	})
	if err != nil {
		log.Error("Failed to create profile, removing auth user", "email", email, "error", err)
		if delErr := s.auth.DeleteUser(ctx, authUser.ID); delErr != nil {
			log.Error("Failed to roll back auth user", "user", authUser.ID, "error", delErr)
			return nil, errors.Join(err, delErr)
		}
		return nil, err
	}

	if _, err := s.store.UpsertKioskUser(ctx, &staff.KioskUser{
		SiteID:     req.SiteID,
		AuthUserID: authUser.ID,
		FullName:   fullName,
		Email:      email,
		Role:       role,
		PinHash:    pinHash,
		Active:     true,
	}); err != nil {
		// the account is usable without a kiosk row
		log.Warn("Failed to create kiosk user", "user", authUser.ID, "error", err)
	}

	log.Info("User created", "email", email, "site", req.SiteID, "role", role)
	s.record(ctx, req.CreatedBy, database.AuditUserCreated, email, req.SiteID, map[string]any{"role": role, "auth_user_id": authUser.ID})
	return user, nil
}

// SetRole changes the role of a user in the profile and in the auth app metadata.
func (s *Service) SetRole(ctx context.Context, authUserID, role, actor string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if !s.cfg.IsValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	user, err := s.get(ctx, authUserID)
	if err != nil {
		return err
	}
	previous := user.AccessType

	if err := s.store.UpdateUserByAuthID(ctx, authUserID, map[string]any{"access_type": role}); err != nil {
		return err
	}
	if _, err := s.auth.UpdateUser(ctx, authUserID, supabase.AdminUserParams{
		AppMetadata: map[string]any{"role": role},
	}); err != nil {
		return fmt.Errorf("failed to update auth metadata: %w", err)
	}

	s.invalidate(ctx, authUserID)
	log.Info("Role changed", "user", authUserID, "from", previous, "to", role)
	s.record(ctx, actor, database.AuditRoleChanged, user.Email, user.SiteID, map[string]any{"from": previous, "to": role})
	return nil
}

// SetKioskPIN validates, hashes and stores a kiosk PIN.
func (s *Service) SetKioskPIN(ctx context.Context, authUserID, pin, actor string) error {
	hash, err := staff.HashPIN(pin)
	if err != nil {
		return err
	}
	if err := s.store.SetKioskPinHash(ctx, authUserID, hash); err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.record(ctx, actor, database.AuditKioskPinSet, authUserID, 0, nil)
	return nil
}

// List returns the profiles of a site.
func (s *Service) List(ctx context.Context, siteID int64, activeOnly bool) ([]staff.MasterUser, error) {
	if siteID <= 0 {
		return nil, ErrInvalidSiteID
	}
	return s.store.ListUsers(ctx, siteID, activeOnly)
}

func (s *Service) get(ctx context.Context, authUserID string) (*staff.MasterUser, error) {
	user, err := s.store.GetUserByAuthID(ctx, authUserID)
	if err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) invalidate(ctx context.Context, authUserID string) {
	if s.roles == nil {
		return
	}
	if err := s.roles.Delete(ctx, authUserID); err != nil {
		log.Warn("Failed to invalidate cached role", "user", authUserID, "error", err)
	}
}

func (s *Service) record(ctx context.Context, actor string, action database.AuditAction, subject string, siteID int64, details map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAudit(ctx, actor, action, subject, siteID, details); err != nil {
		log.Warn("Failed to record audit event", "action", action, "error", err)
	}
}
