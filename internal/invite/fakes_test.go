package invite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/pkg/supabase"
)

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	invites map[int64]*staff.SiteInvite
	users   []staff.MasterUser
	kiosk   map[string]*staff.KioskUser

	profileUpserts int
	failProfile    error
}

func newMemStore() *memStore {
	return &memStore{invites: map[int64]*staff.SiteInvite{}, kiosk: map[string]*staff.KioskUser{}}
}

func clone(inv *staff.SiteInvite) *staff.SiteInvite {
	c := *inv
	return &c
}

func (m *memStore) InsertInvite(_ context.Context, inv *staff.SiteInvite) (*staff.SiteInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := clone(inv)
	c.ID = m.nextID
	m.invites[c.ID] = c
	return clone(c), nil
}

func (m *memStore) GetInviteByID(_ context.Context, id int64) (*staff.SiteInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok {
		return nil, staff.ErrNotFound
	}
	return clone(inv), nil
}

func (m *memStore) GetInviteByToken(_ context.Context, token string) (*staff.SiteInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invites {
		if inv.Token == token {
			return clone(inv), nil
		}
	}
	return nil, staff.ErrNotFound
}

func (m *memStore) FindPendingInvites(_ context.Context, email string, siteID int64) ([]staff.SiteInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []staff.SiteInvite
	for _, inv := range m.invites {
		if strings.EqualFold(inv.Email, email) && inv.SiteID == siteID && inv.Status == staff.InviteStatusPending {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memStore) ListInvites(_ context.Context, siteID int64, status staff.InviteStatus) ([]staff.SiteInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []staff.SiteInvite
	for _, inv := range m.invites {
		if inv.SiteID == siteID && (status == "" || inv.Status == status) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memStore) TransitionInvite(_ context.Context, id int64, from, to staff.InviteStatus, extra map[string]any) (*staff.SiteInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok || inv.Status != from {
		return nil, staff.ErrStaleInvite
	}
	inv.Status = to
	applyPatch(inv, extra)
	return clone(inv), nil
}

func (m *memStore) UpdatePendingInvite(_ context.Context, id int64, patch map[string]any) (*staff.SiteInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok || inv.Status != staff.InviteStatusPending {
		return nil, staff.ErrStaleInvite
	}
	applyPatch(inv, patch)
	return clone(inv), nil
}

func applyPatch(inv *staff.SiteInvite, patch map[string]any) {
	for k, v := range patch {
		switch k {
		case "token":
			inv.Token = v.(string)
		case "expires_at":
			inv.ExpiresAt = v.(time.Time)
		case "auth_user_id":
			id := v.(string)
			inv.AuthUserID = &id
		case "accepted_at":
			t := v.(time.Time)
			inv.AcceptedAt = &t
		}
	}
}

func (m *memStore) ExpirePendingInvites(_ context.Context, now time.Time) ([]staff.SiteInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []staff.SiteInvite
	for _, inv := range m.invites {
		if inv.Status == staff.InviteStatusPending && inv.ExpiresAt.Before(now) {
			inv.Status = staff.InviteStatusExpired
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memStore) DeleteInvite(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invites, id)
	return nil
}

func (m *memStore) FindUserByEmail(_ context.Context, email string, siteID int64) ([]staff.MasterUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []staff.MasterUser
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) && u.SiteID == siteID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) UpsertProfile(_ context.Context, p *staff.Profile) (*staff.MasterUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failProfile != nil {
		return nil, m.failProfile
	}
	m.profileUpserts++
	for i := range m.users {
		if m.users[i].AuthUserID == p.AuthUserID {
			m.users[i].Email = p.Email
			m.users[i].SiteID = p.SiteID
			m.users[i].AccessType = p.AccessType
			m.users[i].Active = p.Active
			u := m.users[i]
			return &u, nil
		}
	}
	u := staff.MasterUser{
		ID:         int64(len(m.users) + 1),
		AuthUserID: p.AuthUserID,
		Email:      p.Email,
		FullName:   p.FullName,
		SiteID:     p.SiteID,
		AccessType: p.AccessType,
		Active:     p.Active,
	}
	m.users = append(m.users, u)
	return &u, nil
}

func (m *memStore) UpsertKioskUser(_ context.Context, k *staff.KioskUser) (*staff.KioskUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *k
	m.kiosk[k.AuthUserID] = &c
	return &c, nil
}

type fakeAuth struct {
	mu           sync.Mutex
	invited      []string
	magicLinks   []string
	generated    []supabase.GenerateLinkParams
	deleted      []string
	users        map[string]*supabase.User
	existing     map[string]bool
	failInvite   error
	failMagic    error
	lastCreate   bool
	lastRedirect string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{users: map[string]*supabase.User{}, existing: map[string]bool{}}
}

var errUserExists = &supabase.Error{Status: 422, Code: "email_exists", Message: "A user with this email address has already been registered"}

func (f *fakeAuth) InviteUserByEmail(_ context.Context, email, redirectTo string, _ map[string]any) (*supabase.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRedirect = redirectTo
	if f.failInvite != nil {
		return nil, f.failInvite
	}
	if f.existing[email] {
		return nil, errUserExists
	}
	f.invited = append(f.invited, email)
	u := &supabase.User{ID: "auth-" + email, Email: email}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeAuth) SendMagicLink(_ context.Context, email, redirectTo string, createUser bool, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRedirect = redirectTo
	f.lastCreate = createUser
	if f.failMagic != nil {
		return f.failMagic
	}
	f.magicLinks = append(f.magicLinks, email)
	return nil
}

func (f *fakeAuth) GenerateLink(_ context.Context, params supabase.GenerateLinkParams) (*supabase.GeneratedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if params.Type == supabase.LinkTypeInvite && f.existing[params.Email] {
		return nil, errUserExists
	}
	f.generated = append(f.generated, params)
	if params.Type == supabase.LinkTypeInvite {
		f.users["auth-"+params.Email] = &supabase.User{ID: "auth-" + params.Email, Email: params.Email}
	}
	return &supabase.GeneratedLink{
		UserID:     "auth-" + params.Email,
		ActionLink: "https://project.supabase.co/auth/v1/verify?type=" + string(params.Type),
	}, nil
}

func (f *fakeAuth) GetUserByID(_ context.Context, id string) (*supabase.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, &supabase.Error{Status: 404, Code: "user_not_found"}
	}
	return u, nil
}

func (f *fakeAuth) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.users, id)
	return nil
}

type fakeMailer struct {
	links []string
	fail  error
}

func (f *fakeMailer) SendInvite(_ context.Context, _ *staff.SiteInvite, link string) error {
	if f.fail != nil {
		return f.fail
	}
	f.links = append(f.links, link)
	return nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []database.AuditAction
}

func (f *fakeAuditor) RecordAudit(_ context.Context, _ string, action database.AuditAction, _ string, _ int64, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

var errBoom = errors.New("boom")
