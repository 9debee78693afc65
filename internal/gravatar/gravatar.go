// Package gravatar resolves fallback avatars for staff without an uploaded picture.
package gravatar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/checkloops/checkloops/internal/config"
)

const baseURL = "https://www.gravatar.com/avatar/"

var (
	defaultImages = []string{"404", "mp", "identicon", "monsterid", "wavatar", "retro", "robohash", "blank"}
	ratings       = []string{"g", "pg", "r", "x"}
)

// Resolver builds Gravatar URLs from email addresses.
type Resolver struct {
	cfg *config.GravatarConfig
}

// New creates a resolver. A nil or disabled config yields empty URLs.
func New(cfg *config.GravatarConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// URL returns the Gravatar URL for the email, or "" if Gravatar is disabled or the email is empty.
func (r *Resolver) URL(email string) string {
	if r == nil || r.cfg == nil || !r.cfg.Enabled {
		return ""
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(email))
	u := baseURL + hex.EncodeToString(sum[:])

	params := url.Values{}
	if r.cfg.DefaultImage != "" {
		params.Add("d", r.cfg.DefaultImage)
	}
	if r.cfg.Rating != "" {
		params.Add("r", r.cfg.Rating)
	}
	if r.cfg.Size > 0 {
		params.Add("s", strconv.Itoa(r.cfg.Size))
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// AvatarURL prefers a stored avatar and falls back to Gravatar.
func (r *Resolver) AvatarURL(stored *string, email string) string {
	if stored != nil && *stored != "" {
		return *stored
	}
	return r.URL(email)
}

// Validate checks the Gravatar options against the values the service accepts.
func Validate(cfg *config.GravatarConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if cfg.DefaultImage != "" && !slices.Contains(defaultImages, cfg.DefaultImage) {
		return fmt.Errorf("invalid gravatar default image %q, must be one of %s", cfg.DefaultImage, strings.Join(defaultImages, ", "))
	}
	if cfg.Rating != "" && !slices.Contains(ratings, cfg.Rating) {
		return fmt.Errorf("invalid gravatar rating %q, must be one of %s", cfg.Rating, strings.Join(ratings, ", "))
	}
	if cfg.Size != 0 && (cfg.Size < 1 || cfg.Size > 2048) {
		return fmt.Errorf("invalid gravatar size %d, must be between 1 and 2048", cfg.Size)
	}
	return nil
}
