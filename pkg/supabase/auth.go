package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// User is a GoTrue user.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Role             string         `json:"role,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	InvitedAt        *time.Time     `json:"invited_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
}

// HasSignedIn reports whether the user ever completed a sign in.
func (u *User) HasSignedIn() bool {
	return u.LastSignInAt != nil && !u.LastSignInAt.IsZero()
}

// Session is the result of a successful sign in.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// AdminUserParams are the attributes accepted by the admin user endpoints.
type AdminUserParams struct {
	Email        string         `json:"email,omitempty"`
	Password     string         `json:"password,omitempty"`
	EmailConfirm bool           `json:"email_confirm,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	BanDuration  string         `json:"ban_duration,omitempty"`
}

// LinkType is the type of link generated by GenerateLink.
type LinkType string

const (
	LinkTypeInvite    LinkType = "invite"
	LinkTypeMagicLink LinkType = "magiclink"
	LinkTypeRecovery  LinkType = "recovery"
	LinkTypeSignup    LinkType = "signup"
)

// GenerateLinkParams are the parameters of the generate_link admin endpoint.
type GenerateLinkParams struct {
	Type       LinkType       `json:"type"`
	Email      string         `json:"email"`
	Password   string         `json:"password,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	RedirectTo string         `json:"redirect_to,omitempty"`
}

// GeneratedLink is the response of the generate_link admin endpoint.
type GeneratedLink struct {
	UserID           string `json:"id"`
	Email            string `json:"email"`
	ActionLink       string `json:"action_link"`
	EmailOTP         string `json:"email_otp"`
	HashedToken      string `json:"hashed_token"`
	VerificationType string `json:"verification_type"`
	RedirectTo       string `json:"redirect_to"`
}

// SignInWithPassword signs a user in with email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
		bearer: c.anonOrAPIKey(),
	}, &s)
	if err != nil {
		return nil, fmt.Errorf("sign in failed: %w", err)
	}
	return &s, nil
}

// GetUser returns the user an access token belongs to. It fails if the token is invalid or expired.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   authPath + "/user",
		bearer: accessToken,
	}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendMagicLink sends a passwordless sign in email.
// With createUser the user is created if it does not exist yet, data becomes its user metadata.
func (c *Client) SendMagicLink(ctx context.Context, email, redirectTo string, createUser bool, data map[string]any) error {
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/otp",
		query:  q,
		body: map[string]any{
			"email":       email,
			"create_user": createUser,
			"data":        data,
		},
	}, nil)
}

// InviteUserByEmail creates a user and sends them an invite email.
func (c *Client) InviteUserByEmail(ctx context.Context, email, redirectTo string, data map[string]any) (*User, error) {
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	var u User
	if err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/invite",
		query:  q,
		body:   map[string]any{"email": email, "data": data},
	}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser creates a user through the admin API.
func (c *Client) CreateUser(ctx context.Context, params AdminUserParams) (*User, error) {
	var u User
	if err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/admin/users",
		body:   params,
	}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns a user by id through the admin API.
func (c *Client) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   authPath + "/admin/users/" + url.PathEscape(id),
	}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns one page of users. Pages start at 1.
func (c *Client) ListUsers(ctx context.Context, page, perPage int) ([]User, error) {
	var res struct {
		Users []User `json:"users"`
	}
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   authPath + "/admin/users",
		query:  url.Values{"page": {itoa(page)}, "per_page": {itoa(perPage)}},
	}, &res); err != nil {
		return nil, err
	}
	return res.Users, nil
}

// FindUserByEmail pages through all users looking for the email. Returns nil if none matches.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	const perPage = 200
	for page := 1; ; page++ {
		users, err := c.ListUsers(ctx, page, perPage)
		if err != nil {
			return nil, err
		}
		for i := range users {
			if strings.EqualFold(users[i].Email, email) {
				return &users[i], nil
			}
		}
		if len(users) < perPage {
			return nil, nil
		}
	}
}

// UpdateUser patches a user through the admin API.
func (c *Client) UpdateUser(ctx context.Context, id string, params AdminUserParams) (*User, error) {
	var u User
	if err := c.doJSON(ctx, request{
		method: http.MethodPut,
		path:   authPath + "/admin/users/" + url.PathEscape(id),
		body:   params,
	}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUser deletes a user through the admin API.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.doJSON(ctx, request{
		method: http.MethodDelete,
		path:   authPath + "/admin/users/" + url.PathEscape(id),
	}, nil)
}

// GenerateLink generates an invite, magic link, recovery or signup link without sending an email.
func (c *Client) GenerateLink(ctx context.Context, params GenerateLinkParams) (*GeneratedLink, error) {
	var l GeneratedLink
	if err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/admin/generate_link",
		body:   params,
	}, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) anonOrAPIKey() string {
	if c.anonKey != "" {
		return c.anonKey
	}
	return c.apiKey
}
