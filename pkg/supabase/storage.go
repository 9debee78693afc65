package supabase

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FileObject is an entry returned by the storage list endpoint.
type FileObject struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Size returns the object size from its metadata, or 0.
func (f FileObject) Size() int64 {
	switch v := f.Metadata["size"].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func objectPath(bucket, path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(parts, "/")
}

// Upload stores body at path in bucket. With upsert an existing object is overwritten.
func (c *Client) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, upsert bool) error {
	headers := map[string]string{
		"Content-Type": contentType,
		"x-upsert":     strconv.FormatBool(upsert),
	}
	return c.doJSON(ctx, request{
		method:  http.MethodPost,
		path:    storagePath + "/object/" + objectPath(bucket, path),
		raw:     body,
		headers: headers,
	}, nil)
}

// List lists the objects in bucket below prefix.
func (c *Client) List(ctx context.Context, bucket, prefix string, limit, offset int) ([]FileObject, error) {
	if limit <= 0 {
		limit = 100
	}
	var objects []FileObject
	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   storagePath + "/object/list/" + url.PathEscape(bucket),
		body: map[string]any{
			"prefix": prefix,
			"limit":  limit,
			"offset": offset,
			"sortBy": map[string]string{"column": "name", "order": "asc"},
		},
	}, &objects)
	return objects, err
}

// Remove deletes the objects at paths from bucket.
func (c *Client) Remove(ctx context.Context, bucket string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	return c.doJSON(ctx, request{
		method: http.MethodDelete,
		path:   storagePath + "/object/" + url.PathEscape(bucket),
		body:   map[string]any{"prefixes": paths},
	}, nil)
}

// PublicURL returns the public URL of an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + storagePath + "/object/public/" + objectPath(bucket, path)
}
