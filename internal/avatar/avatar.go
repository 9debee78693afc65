// Package avatar processes uploaded profile pictures and stores them in Supabase Storage.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/gravatar"
	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/pkg/supabase"
)

var (
	ErrTooLarge         = errors.New("image is too large")
	ErrUnsupportedImage = errors.New("unsupported or corrupt image")
	ErrUserNotFound     = errors.New("user not found")
)

// Store is the persistence used by the avatar service.
type Store interface {
	GetUserByAuthID(ctx context.Context, authUserID string) (*staff.MasterUser, error)
	UpdateUserByAuthID(ctx context.Context, authUserID string, patch map[string]any) error
}

// Storage is the object storage holding the avatars.
type Storage interface {
	Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, upsert bool) error
	List(ctx context.Context, bucket, prefix string, limit, offset int) ([]supabase.FileObject, error)
	PublicURL(bucket, path string) string
}

// Auditor records privileged changes.
type Auditor interface {
	RecordAudit(ctx context.Context, actor string, action database.AuditAction, subject string, siteID int64, details map[string]any) error
}

// Service handles avatars.
type Service struct {
	store    Store
	storage  Storage
	gravatar *gravatar.Resolver
	audit    Auditor
	cfg      *config.AvatarsConfig
	now      func() time.Time
}

// New creates a new avatar service.
func New(store Store, storage Storage, resolver *gravatar.Resolver, audit Auditor, cfg *config.AvatarsConfig) *Service {
	return &Service{store: store, storage: storage, gravatar: resolver, audit: audit, cfg: cfg, now: time.Now}
}

// DefaultMaxPixels bounds the dimensions of an accepted upload when none are configured.
const DefaultMaxPixels = 25_000_000

// Process decodes an image, center-crops it to a square of size pixels and encodes it as PNG.
// Images with more than maxPixels pixels are rejected before they are decoded.
func Process(data []byte, size, maxPixels int) ([]byte, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	if cfg.Width > maxPixels/cfg.Height {
		return nil, fmt.Errorf("%w: %dx%d exceeds %s pixels", ErrTooLarge, cfg.Width, cfg.Height, humanize.Comma(int64(maxPixels)))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	var out image.Image = img
	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		out = imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
		log.Debug("Resized avatar", "from", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()), "to", size)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG, imaging.PNGCompressionLevel(6)); err != nil {
		return nil, fmt.Errorf("failed to encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}

// ObjectPath returns the storage path of the avatar of an auth user.
func ObjectPath(authUserID string) string {
	return authUserID + ".png"
}

// Upload processes an image, stores it as the avatar of the user and records its URL on the profile.
func (s *Service) Upload(ctx context.Context, authUserID string, r io.Reader, actor string) (string, error) {
	user, err := s.store.GetUserByAuthID(ctx, authUserID)
	if err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return "", fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.IBytes(uint64(s.cfg.MaxUploadBytes)))
	}

	png, err := Process(data, s.cfg.Size, s.cfg.MaxPixels)
	if err != nil {
		return "", err
	}

	path := ObjectPath(authUserID)
	if err := s.storage.Upload(ctx, s.cfg.Bucket, path, bytes.NewReader(png), "image/png", true); err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	// cache-busting version
	url := s.storage.PublicURL(s.cfg.Bucket, path) + "?v=" + strconv.FormatInt(s.now().Unix(), 10)
	if err := s.store.UpdateUserByAuthID(ctx, authUserID, map[string]any{"avatar_url": url}); err != nil {
		return "", err
	}

	log.Info("Avatar uploaded", "user", authUserID, "size", humanize.Bytes(uint64(len(png))))
	if s.audit != nil {
		if err := s.audit.RecordAudit(ctx, actor, database.AuditAvatarUploaded, user.Email, user.SiteID, nil); err != nil {
			log.Warn("Failed to record audit event", "error", err)
		}
	}
	return url, nil
}

// URL returns the stored avatar of a user, or the Gravatar fallback.
func (s *Service) URL(ctx context.Context, authUserID string) (string, error) {
	user, err := s.store.GetUserByAuthID(ctx, authUserID)
	if err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return s.gravatar.AvatarURL(user.AvatarURL, user.Email), nil
}

// Object is a stored avatar.
type Object struct {
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Size      int64      `json:"size"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// List returns the stored avatars.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Object, error) {
	files, err := s.storage.List(ctx, s.cfg.Bucket, "", limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(files))
	for _, f := range files {
		// folders have no id
		if f.ID == "" {
			continue
		}
		out = append(out, Object{
			Name:      f.Name,
			URL:       s.storage.PublicURL(s.cfg.Bucket, f.Name),
			Size:      f.Size(),
			UpdatedAt: f.UpdatedAt,
		})
	}
	return out, nil
}
