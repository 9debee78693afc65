// Package invite implements the site invitation lifecycle.
//
// An invite starts pending and ends in exactly one of accepted, expired, revoked or cancelled.
// Every status change is a conditional update on the current status, so concurrent callers
// cannot move an invite twice.
package invite

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/pkg/supabase"
)

var (
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidSite       = errors.New("invalid site")
	ErrDuplicateInvite   = errors.New("a pending invite already exists for this email")
	ErrAlreadyMember     = errors.New("user is already a member of this site")
	ErrInviteNotFound    = errors.New("invite not found")
	ErrInviteExpired     = errors.New("invite has expired")
	ErrEmailMismatch     = errors.New("invite was sent to a different email address")
	ErrInvalidTransition = errors.New("invalid invite status transition")
	ErrUnknownStatus     = errors.New("unknown invite status")
	ErrDeliveryFailed    = errors.New("failed to deliver invite")
)

// Store is the persistence used by the invite service.
type Store interface {
	InsertInvite(ctx context.Context, inv *staff.SiteInvite) (*staff.SiteInvite, error)
	GetInviteByID(ctx context.Context, id int64) (*staff.SiteInvite, error)
	GetInviteByToken(ctx context.Context, token string) (*staff.SiteInvite, error)
	FindPendingInvites(ctx context.Context, email string, siteID int64) ([]staff.SiteInvite, error)
	ListInvites(ctx context.Context, siteID int64, status staff.InviteStatus) ([]staff.SiteInvite, error)
	TransitionInvite(ctx context.Context, id int64, from, to staff.InviteStatus, extra map[string]any) (*staff.SiteInvite, error)
	UpdatePendingInvite(ctx context.Context, id int64, patch map[string]any) (*staff.SiteInvite, error)
	ExpirePendingInvites(ctx context.Context, now time.Time) ([]staff.SiteInvite, error)
	DeleteInvite(ctx context.Context, id int64) error
	FindUserByEmail(ctx context.Context, email string, siteID int64) ([]staff.MasterUser, error)
	UpsertProfile(ctx context.Context, p *staff.Profile) (*staff.MasterUser, error)
	UpsertKioskUser(ctx context.Context, k *staff.KioskUser) (*staff.KioskUser, error)
}

// Auth is the subset of Supabase Auth used to deliver and clean up invites.
type Auth interface {
	InviteUserByEmail(ctx context.Context, email, redirectTo string, data map[string]any) (*supabase.User, error)
	SendMagicLink(ctx context.Context, email, redirectTo string, createUser bool, data map[string]any) error
	GenerateLink(ctx context.Context, params supabase.GenerateLinkParams) (*supabase.GeneratedLink, error)
	GetUserByID(ctx context.Context, id string) (*supabase.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Mailer sends invitation emails when links are delivered over SMTP.
type Mailer interface {
	SendInvite(ctx context.Context, inv *staff.SiteInvite, link string) error
}

// Auditor records privileged changes.
type Auditor interface {
	RecordAudit(ctx context.Context, actor string, action database.AuditAction, subject string, siteID int64, details map[string]any) error
}

// Service manages invitations.
type Service struct {
	store    Store
	auth     Auth
	mailer   Mailer
	audit    Auditor
	cfg      *config.Config
	now      func() time.Time
	newToken func() string
}

// New creates a new invite service. mailer may be nil when invites are delivered by Supabase.
func New(store Store, auth Auth, mailer Mailer, audit Auditor, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		auth:     auth,
		mailer:   mailer,
		audit:    audit,
		cfg:      cfg,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// CreateRequest holds the data of a new invite.
type CreateRequest struct {
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	SiteID    int64  `json:"site_id"`
	InvitedBy string `json:"-"`
}

// AcceptRequest holds the caller of an invite acceptance.
type AcceptRequest struct {
	Token      string
	AuthUserID string
	Email      string
	FullName   string
	// PIN optionally sets the kiosk PIN of the new member.
	PIN string
}

// AcceptResult is the outcome of a successful acceptance.
type AcceptResult struct {
	Invite  *staff.SiteInvite `json:"invite"`
	Profile *staff.MasterUser `json:"profile,omitempty"`
	// AlreadyAccepted is set when the same user accepted the invite before.
	AlreadyAccepted bool `json:"already_accepted"`
}

// NormalizeEmail parses an address and returns it lower-cased without display name.
func NormalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return strings.ToLower(addr.Address), nil
}

func (s *Service) validate(req *CreateRequest) error {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return err
	}
	req.Email = email
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if !s.cfg.IsValidRole(req.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, req.Role)
	}
	if req.SiteID <= 0 {
		return ErrInvalidSite
	}
	req.FullName = strings.TrimSpace(req.FullName)
	return nil
}

// Create validates and stores a new invite and delivers it.
// If delivery fails, the stored invite is removed again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*staff.SiteInvite, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	now := s.now()

	pending, err := s.store.FindPendingInvites(ctx, req.Email, req.SiteID)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if !p.IsExpired(now) {
			return nil, ErrDuplicateInvite
		}
		// stale pending invite the sweep did not catch yet
		if _, err := s.store.TransitionInvite(ctx, p.ID, staff.InviteStatusPending, staff.InviteStatusExpired, nil); err != nil && !errors.Is(err, staff.ErrStaleInvite) {
			log.Warn("Failed to expire stale invite", "invite", p.ID, "error", err)
		}
	}

	members, err := s.store.FindUserByEmail(ctx, req.Email, req.SiteID)
	if err != nil {
		return nil, err
	}
	if lo.ContainsBy(members, func(u staff.MasterUser) bool { return u.Active }) {
		return nil, ErrAlreadyMember
	}

	inv, err := s.store.InsertInvite(ctx, &staff.SiteInvite{
		Email:     req.Email,
		FullName:  req.FullName,
		Role:      req.Role,
		SiteID:    req.SiteID,
		Token:     s.newToken(),
		Status:    staff.InviteStatusPending,
		InvitedBy: req.InvitedBy,
		ExpiresAt: now.Add(s.cfg.Invites.TTL).UTC(),
	})
	if err != nil {
		if supabase.IsUniqueViolation(err) {
			return nil, ErrDuplicateInvite
		}
		return nil, err
	}

	if err := s.deliver(ctx, inv); err != nil {
		if delErr := s.store.DeleteInvite(ctx, inv.ID); delErr != nil {
			log.Error("Failed to remove undelivered invite", "invite", inv.ID, "error", delErr)
		}
		return nil, err
	}

	log.Info("Invite created", "email", inv.Email, "site", inv.SiteID, "role", inv.Role)
	s.record(ctx, req.InvitedBy, database.AuditInviteCreated, inv, nil)
	return inv, nil
}

// Resend rotates the token of a pending invite, extends its expiry and delivers it again.
func (s *Service) Resend(ctx context.Context, id int64, actor string) (*staff.SiteInvite, error) {
	inv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != staff.InviteStatusPending {
		return nil, fmt.Errorf("%w: cannot resend %s invite", ErrInvalidTransition, inv.Status)
	}

	inv, err = s.store.UpdatePendingInvite(ctx, id, map[string]any{
		"token":      s.newToken(),
		"expires_at": s.now().Add(s.cfg.Invites.TTL).UTC(),
	})
	if err != nil {
		if errors.Is(err, staff.ErrStaleInvite) {
			return nil, fmt.Errorf("%w: invite is no longer pending", ErrInvalidTransition)
		}
		return nil, err
	}

	if err := s.deliver(ctx, inv); err != nil {
		return nil, err
	}

	s.record(ctx, actor, database.AuditInviteResent, inv, nil)
	return inv, nil
}

// Cancel cancels a pending invite. An auth user created for the invite that never signed in is removed.
func (s *Service) Cancel(ctx context.Context, id int64, actor string) (*staff.SiteInvite, error) {
	inv, err := s.transition(ctx, id, staff.InviteStatusCancelled, nil)
	if err != nil {
		return nil, err
	}

	if inv.AuthUserID != nil && *inv.AuthUserID != "" {
		s.removeUnusedAuthUser(ctx, *inv.AuthUserID)
	}

	s.record(ctx, actor, database.AuditInviteCancelled, inv, nil)
	return inv, nil
}

// Revoke revokes a pending invite.
func (s *Service) Revoke(ctx context.Context, id int64, actor string) (*staff.SiteInvite, error) {
	inv, err := s.transition(ctx, id, staff.InviteStatusRevoked, nil)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, database.AuditInviteRevoked, inv, nil)
	return inv, nil
}

// Accept accepts an invite for the calling user and provisions the profile and kiosk rows.
// Provisioning is idempotent and happens before the status change, so a retry after a partial failure converges.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (*AcceptResult, error) {
	if req.Token == "" {
		return nil, ErrInviteNotFound
	}
	inv, err := s.store.GetInviteByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	switch inv.Status {
	case staff.InviteStatusPending:
	case staff.InviteStatusAccepted:
		if acceptedBy(inv, req.AuthUserID) {
			return &AcceptResult{Invite: inv, AlreadyAccepted: true}, nil
		}
		return nil, fmt.Errorf("%w: invite already accepted", ErrInvalidTransition)
	case staff.InviteStatusExpired:
		return nil, ErrInviteExpired
	default:
		return nil, fmt.Errorf("%w: invite is %s", ErrInvalidTransition, inv.Status)
	}

	now := s.now()
	if inv.IsExpired(now) {
		if _, err := s.store.TransitionInvite(ctx, inv.ID, staff.InviteStatusPending, staff.InviteStatusExpired, nil); err != nil && !errors.Is(err, staff.ErrStaleInvite) {
			log.Warn("Failed to mark invite expired", "invite", inv.ID, "error", err)
		}
		return nil, ErrInviteExpired
	}

	callerEmail, err := NormalizeEmail(req.Email)
	if err != nil || callerEmail != strings.ToLower(inv.Email) {
		return nil, ErrEmailMismatch
	}

	var pinHash string
	if req.PIN != "" {
		if pinHash, err = staff.HashPIN(req.PIN); err != nil {
			return nil, err
		}
	}

	fullName := lo.CoalesceOrEmpty(strings.TrimSpace(req.FullName), inv.FullName)
	profile, err := s.store.UpsertProfile(ctx, &staff.Profile{
		AuthUserID: req.AuthUserID,
		Email:      inv.Email,
		FullName:   fullName,
		SiteID:     inv.SiteID,
		AccessType: inv.Role,
		Active:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to provision profile: %w", err)
	}

	if s.cfg.Invites.CreateKioskUser {
		if _, err := s.store.UpsertKioskUser(ctx, &staff.KioskUser{
			SiteID:     inv.SiteID,
			AuthUserID: req.AuthUserID,
			FullName:   lo.CoalesceOrEmpty(fullName, inv.Email),
			Email:      inv.Email,
			Role:       inv.Role,
			PinHash:    pinHash,
			Active:     true,
		}); err != nil {
			return nil, fmt.Errorf("failed to provision kiosk user: %w", err)
		}
	}

	accepted, err := s.store.TransitionInvite(ctx, inv.ID, staff.InviteStatusPending, staff.InviteStatusAccepted, map[string]any{
		"accepted_at":  now.UTC(),
		"auth_user_id": req.AuthUserID,
	})
	if errors.Is(err, staff.ErrStaleInvite) {
		// someone else moved the invite between our read and the update
		current, getErr := s.store.GetInviteByID(ctx, inv.ID)
		if getErr == nil && current.Status == staff.InviteStatusAccepted && acceptedBy(current, req.AuthUserID) {
			return &AcceptResult{Invite: current, Profile: profile, AlreadyAccepted: true}, nil
		}
		return nil, fmt.Errorf("%w: invite changed while accepting", ErrInvalidTransition)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Invite accepted", "email", accepted.Email, "site", accepted.SiteID, "user", req.AuthUserID)
	s.record(ctx, req.AuthUserID, database.AuditInviteAccepted, accepted, nil)
	return &AcceptResult{Invite: accepted, Profile: profile}, nil
}

// ExpireStale marks every pending invite that expired before now as expired and returns how many changed.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ExpirePendingInvites(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		log.Info("Expired stale invites", "count", len(expired))
		ids := lo.Map(expired, func(inv staff.SiteInvite, _ int) int64 { return inv.ID })
		if s.audit != nil {
			if err := s.audit.RecordAudit(ctx, database.SystemActor, database.AuditInvitesExpired, "", 0, map[string]any{"ids": ids}); err != nil {
				log.Warn("Failed to record audit event", "error", err)
			}
		}
	}
	return len(expired), nil
}

// List returns the invites of a site. An empty status returns every invite.
func (s *Service) List(ctx context.Context, siteID int64, status staff.InviteStatus) ([]staff.SiteInvite, error) {
	if siteID <= 0 {
		return nil, ErrInvalidSite
	}
	if status != "" && !isKnownStatus(status) {
		return nil, fmt.Errorf("%w %q", ErrUnknownStatus, status)
	}
	return s.store.ListInvites(ctx, siteID, status)
}

// SimpleInvite sends a magic link that creates the user on first sign in. No invite row is stored.
func (s *Service) SimpleInvite(ctx context.Context, req CreateRequest) error {
	if err := s.validate(&req); err != nil {
		return err
	}
	data := map[string]any{
		"site_id":   req.SiteID,
		"role":      req.Role,
		"full_name": req.FullName,
	}
	if err := s.auth.SendMagicLink(ctx, req.Email, s.redirectURL(""), true, data); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	log.Info("Magic link sent", "email", req.Email, "site", req.SiteID)
	if s.audit != nil {
		if err := s.audit.RecordAudit(ctx, req.InvitedBy, database.AuditSimpleInvite, req.Email, req.SiteID, map[string]any{"role": req.Role}); err != nil {
			log.Warn("Failed to record audit event", "error", err)
		}
	}
	return nil
}

func (s *Service) get(ctx context.Context, id int64) (*staff.SiteInvite, error) {
	inv, err := s.store.GetInviteByID(ctx, id)
	if err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (s *Service) transition(ctx context.Context, id int64, to staff.InviteStatus, extra map[string]any) (*staff.SiteInvite, error) {
	inv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(inv.Status, to); err != nil {
		return nil, err
	}
	updated, err := s.store.TransitionInvite(ctx, id, inv.Status, to, extra)
	if err != nil {
		if errors.Is(err, staff.ErrStaleInvite) {
			return nil, fmt.Errorf("%w: invite changed concurrently", ErrInvalidTransition)
		}
		return nil, err
	}
	return updated, nil
}

// deliver sends the invite link and remembers the auth user Supabase created for it.
func (s *Service) deliver(ctx context.Context, inv *staff.SiteInvite) error {
	redirect := s.redirectURL(inv.Token)
	data := map[string]any{
		"site_id":      inv.SiteID,
		"role":         inv.Role,
		"full_name":    inv.FullName,
		"invite_token": inv.Token,
	}

	var authUserID string
	switch s.cfg.Invites.Delivery {
	case config.InviteDeliverySMTP:
		if s.mailer == nil {
			return fmt.Errorf("%w: no mailer configured", ErrDeliveryFailed)
		}
		link, err := s.auth.GenerateLink(ctx, supabase.GenerateLinkParams{
			Type: supabase.LinkTypeInvite, Email: inv.Email, Data: data, RedirectTo: redirect,
		})
		if supabase.IsUserExists(err) {
			link, err = s.auth.GenerateLink(ctx, supabase.GenerateLinkParams{
				Type: supabase.LinkTypeMagicLink, Email: inv.Email, RedirectTo: redirect,
			})
		} else if err == nil {
			authUserID = link.UserID
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
		if err := s.mailer.SendInvite(ctx, inv, link.ActionLink); err != nil {
			// the invite link created an auth user nobody can reach now
			if authUserID != "" {
				s.removeUnusedAuthUser(ctx, authUserID)
			}
			return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
	default:
		user, err := s.auth.InviteUserByEmail(ctx, inv.Email, redirect, data)
		if supabase.IsUserExists(err) {
			log.Debug("Auth user exists, sending magic link instead", "email", inv.Email)
			err = s.auth.SendMagicLink(ctx, inv.Email, redirect, false, nil)
		} else if err == nil && user != nil {
			authUserID = user.ID
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
	}

	if authUserID != "" {
		if updated, err := s.store.UpdatePendingInvite(ctx, inv.ID, map[string]any{"auth_user_id": authUserID}); err != nil {
			log.Warn("Failed to link auth user to invite", "invite", inv.ID, "error", err)
		} else {
			*inv = *updated
		}
	}
	return nil
}

func (s *Service) redirectURL(token string) string {
	base := s.cfg.Invites.RedirectURL
	if base == "" {
		base = s.cfg.ServerURL + "/accept-invite"
	}
	if token == "" {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) removeUnusedAuthUser(ctx context.Context, authUserID string) {
	user, err := s.auth.GetUserByID(ctx, authUserID)
	if err != nil {
		if !supabase.IsNotFound(err) {
			log.Warn("Failed to look up invited auth user", "user", authUserID, "error", err)
		}
		return
	}
	if user.HasSignedIn() {
		return
	}
	if err := s.auth.DeleteUser(ctx, authUserID); err != nil {
		log.Warn("Failed to delete invited auth user", "user", authUserID, "error", err)
		return
	}
	log.Debug("Deleted unused invited auth user", "user", authUserID)
}

func (s *Service) record(ctx context.Context, actor string, action database.AuditAction, inv *staff.SiteInvite, details map[string]any) {
	if s.audit == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["invite_id"] = inv.ID
	details["role"] = inv.Role
	details["status"] = inv.Status
	if err := s.audit.RecordAudit(ctx, actor, action, inv.Email, inv.SiteID, details); err != nil {
		log.Warn("Failed to record audit event", "action", action, "error", err)
	}
}

func acceptedBy(inv *staff.SiteInvite, authUserID string) bool {
	return inv.AuthUserID != nil && authUserID != "" && *inv.AuthUserID == authUserID
}

func isKnownStatus(s staff.InviteStatus) bool {
	switch s {
	case staff.InviteStatusPending, staff.InviteStatusAccepted, staff.InviteStatusExpired,
		staff.InviteStatusRevoked, staff.InviteStatusCancelled:
		return true
	}
	return false
}
