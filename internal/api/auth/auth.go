// Package auth verifies Supabase access tokens and guards admin routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/checkloops/checkloops/internal/api/models"
	"github.com/checkloops/checkloops/internal/cache"
	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/pkg/supabase"
)

// Context keys set by the middlewares.
const (
	UserKey  = "user"
	TokenKey = "access_token"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid access token")
)

// UserFetcher resolves an access token remotely.
type UserFetcher interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
}

// AccessLookup returns the access type and site of an auth user's profile.
type AccessLookup interface {
	GetAccess(ctx context.Context, authUserID string) (*staff.Access, error)
}

// Claims are the parts of a GoTrue access token we rely on.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Provider authenticates requests.
type Provider struct {
	secret []byte
	remote UserFetcher
	roles  AccessLookup
	cache  *cache.PrefixedCache[staff.Access]
	cfg    *config.Config
}

// New creates a new provider. With a JWT secret configured tokens are verified locally,
// otherwise every token is resolved through Supabase Auth. roleCache may be nil.
func New(cfg *config.Config, remote UserFetcher, roles AccessLookup, roleCache *cache.PrefixedCache[staff.Access]) *Provider {
	var secret []byte
	if cfg.Supabase != nil && cfg.Supabase.JWTSecret != "" {
		secret = []byte(cfg.Supabase.JWTSecret)
	}
	return &Provider{secret: secret, remote: remote, roles: roles, cache: roleCache, cfg: cfg}
}

// BearerToken extracts the token of an Authorization header.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Verify returns the caller an access token belongs to.
func (p *Provider) Verify(ctx context.Context, token string) (*models.User, error) {
	if p.secret != nil {
		return p.verifyLocal(token)
	}
	if p.remote == nil {
		return nil, fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}
	u, err := p.remote.GetUser(ctx, token)
	if err != nil {
		log.Debug("Remote token verification failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return &models.User{AuthUserID: u.ID, Email: u.Email}, nil
}

func (p *Provider) verifyLocal(token string) (*models.User, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	// anon and service role keys carry no subject
	if claims.Subject == "" || claims.Role != "authenticated" {
		return nil, fmt.Errorf("%w: not a user token", ErrInvalidToken)
	}
	return &models.User{AuthUserID: claims.Subject, Email: claims.Email}, nil
}

// RequireAuth rejects requests without a valid access token.
func (p *Provider) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Missing authorization header"})
			return
		}
		user, err := p.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid or expired token"})
			return
		}
		c.Set(UserKey, user)
		c.Set(TokenKey, token)
		c.Next()
	}
}

// Access returns the access type and site of an auth user, cached for cache.role_ttl.
func (p *Provider) Access(ctx context.Context, authUserID string) (staff.Access, error) {
	load := func(ctx context.Context) (staff.Access, error) {
		a, err := p.roles.GetAccess(ctx, authUserID)
		if err != nil {
			return staff.Access{}, err
		}
		return *a, nil
	}
	if p.cache == nil {
		return load(ctx)
	}
	return p.cache.GetOrLoad(ctx, authUserID, load)
}

// RequireAdmin lets only callers with an admin access type through and records their site.
// Handlers behind it compare every site they touch with User.SiteID. Must run after RequireAuth.
func (p *Provider) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := c.MustGet(UserKey).(*models.User)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		access, err := p.Access(c.Request.Context(), user.AuthUserID)
		if err != nil {
			if errors.Is(err, staff.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "No staff profile for this user"})
				return
			}
			log.Error("Failed to look up caller role", "user", user.AuthUserID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to verify permissions"})
			return
		}
		user.Role = access.AccessType
		user.SiteID = access.SiteID
		user.IsAdmin = p.cfg.IsAdminRole(access.AccessType)
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "Admin privileges required"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the caller set by RequireAuth.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(UserKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}
