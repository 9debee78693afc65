package supabase

import (
	"context"
	"net/http"
	"net/url"
)

// Rpc calls a Postgres function exposed by PostgREST and decodes the result into out.
func (c *Client) Rpc(ctx context.Context, fn string, params any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   restPath + "/rpc/" + url.PathEscape(fn),
		body:   params,
	}, out)
}
