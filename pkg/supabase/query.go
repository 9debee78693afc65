package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query builds a PostgREST request for a single table.
// Filters are accumulated and a terminal operation sends the request.
type Query struct {
	c        *Client
	table    string
	params   url.Values
	filtered bool
}

// From starts a query on the given table.
func (c *Client) From(table string) *Query {
	return &Query{
		c:      c,
		table:  table,
		params: url.Values{},
	}
}

// Select sets the columns to return, e.g. "id,email,site_id".
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

func (q *Query) filter(column, op string, value any) *Query {
	q.params.Add(column, op+"."+formatValue(value))
	q.filtered = true
	return q
}

// Eq filters rows where column equals value.
func (q *Query) Eq(column string, value any) *Query { return q.filter(column, "eq", value) }

// Neq filters rows where column is not equal to value.
func (q *Query) Neq(column string, value any) *Query { return q.filter(column, "neq", value) }

// Gt filters rows where column is greater than value.
func (q *Query) Gt(column string, value any) *Query { return q.filter(column, "gt", value) }

// Gte filters rows where column is greater than or equal to value.
func (q *Query) Gte(column string, value any) *Query { return q.filter(column, "gte", value) }

// Lt filters rows where column is less than value.
func (q *Query) Lt(column string, value any) *Query { return q.filter(column, "lt", value) }

// Lte filters rows where column is less than or equal to value.
func (q *Query) Lte(column string, value any) *Query { return q.filter(column, "lte", value) }

// Like filters rows matching a case sensitive pattern. Use * as wildcard.
func (q *Query) Like(column, pattern string) *Query { return q.filter(column, "like", pattern) }

// ILike filters rows matching a case insensitive pattern. Use * as wildcard.
func (q *Query) ILike(column, pattern string) *Query { return q.filter(column, "ilike", pattern) }

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes the LIKE metacharacters % and _ of s.
// PostgREST has no escape for its * wildcard, so callers matching a literal
// value that may contain * must check the returned rows themselves.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// IsNull filters rows where column is null.
func (q *Query) IsNull(column string) *Query {
	q.params.Add(column, "is.null")
	q.filtered = true
	return q
}

// NotNull filters rows where column is not null.
func (q *Query) NotNull(column string) *Query {
	q.params.Add(column, "not.is.null")
	q.filtered = true
	return q
}

// In filters rows where column is one of values.
func (q *Query) In(column string, values ...any) *Query {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		s := formatValue(v)
		if strings.ContainsAny(s, ",()\" ") {
			s = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
		}
		parts = append(parts, s)
	}
	q.params.Add(column, "in.("+strings.Join(parts, ",")+")")
	q.filtered = true
	return q
}

// Order sorts the result by column.
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	if existing := q.params.Get("order"); existing != "" {
		q.params.Set("order", existing+","+column+"."+dir)
	} else {
		q.params.Set("order", column+"."+dir)
	}
	return q
}

// Limit limits the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.params.Set("offset", strconv.Itoa(n))
	return q
}

// Params returns the encoded query string. Mostly useful for debugging.
func (q *Query) Params() string {
	return q.params.Encode()
}

func (q *Query) path() string {
	return restPath + "/" + url.PathEscape(q.table)
}

// Execute runs a GET request and decodes the rows into out, usually a pointer to a slice.
func (q *Query) Execute(ctx context.Context, out any) error {
	return q.c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   q.path(),
		query:  q.params,
	}, out)
}

// All runs q page by page and returns every row. It stops at the first page
// shorter than the client's page size. q should be ordered on a unique column
// so that pages neither overlap nor skip rows.
func All[T any](ctx context.Context, q *Query) ([]T, error) {
	size := q.c.pageSize
	var out []T
	for offset := 0; ; offset += size {
		var page []T
		if err := q.Limit(size).Offset(offset).Execute(ctx, &page); err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < size {
			return out, nil
		}
	}
}

// Single runs a GET request expecting exactly one row.
// If no row matches, an *Error with code PGRST116 is returned.
func (q *Query) Single(ctx context.Context, out any) error {
	return q.c.doJSON(ctx, request{
		method:  http.MethodGet,
		path:    q.path(),
		query:   q.params,
		headers: map[string]string{"Accept": "application/vnd.pgrst.object+json"},
	}, out)
}

// Count returns the exact number of rows matching the filters.
func (q *Query) Count(ctx context.Context) (int, error) {
	params := cloneValues(q.params)
	if params.Get("select") == "" {
		params.Set("select", "*")
	}
	resp, err := q.c.do(ctx, request{
		method:  http.MethodHead,
		path:    q.path(),
		query:   params,
		headers: map[string]string{"Prefer": "count=exact"},
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	return parseContentRange(resp.Header.Get("Content-Range"))
}

// Insert inserts one row or a slice of rows and decodes the created rows into out.
func (q *Query) Insert(ctx context.Context, rows any, out any) error {
	return q.c.doJSON(ctx, request{
		method:  http.MethodPost,
		path:    q.path(),
		query:   selectOnly(q.params),
		body:    rows,
		headers: map[string]string{"Prefer": preferReturn(out)},
	}, out)
}

// Upsert inserts rows or merges them into existing rows conflicting on onConflict.
func (q *Query) Upsert(ctx context.Context, rows any, onConflict string, out any) error {
	params := selectOnly(q.params)
	if onConflict != "" {
		params.Set("on_conflict", onConflict)
	}
	return q.c.doJSON(ctx, request{
		method:  http.MethodPost,
		path:    q.path(),
		query:   params,
		body:    rows,
		headers: map[string]string{"Prefer": "resolution=merge-duplicates," + preferReturn(out)},
	}, out)
}

// Update patches every row matching the filters and decodes the updated rows into out.
func (q *Query) Update(ctx context.Context, patch any, out any) error {
	if !q.filtered {
		return ErrUnfilteredMutation
	}
	return q.c.doJSON(ctx, request{
		method:  http.MethodPatch,
		path:    q.path(),
		query:   q.params,
		body:    patch,
		headers: map[string]string{"Prefer": preferReturn(out)},
	}, out)
}

// Delete deletes every row matching the filters and decodes the deleted rows into out.
func (q *Query) Delete(ctx context.Context, out any) error {
	if !q.filtered {
		return ErrUnfilteredMutation
	}
	return q.c.doJSON(ctx, request{
		method:  http.MethodDelete,
		path:    q.path(),
		query:   q.params,
		headers: map[string]string{"Prefer": preferReturn(out)},
	}, out)
}

func preferReturn(out any) string {
	if out == nil {
		return "return=minimal"
	}
	return "return=representation"
}

func selectOnly(params url.Values) url.Values {
	v := url.Values{}
	if s := params.Get("select"); s != "" {
		v.Set("select", s)
	}
	return v
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// parseContentRange parses the total of a PostgREST Content-Range header, e.g. "0-24/3573" or "*/0".
func parseContentRange(h string) (int, error) {
	idx := strings.LastIndex(h, "/")
	if idx < 0 {
		return 0, fmt.Errorf("invalid content range %q", h)
	}
	total := h[idx+1:]
	if total == "*" {
		return 0, fmt.Errorf("content range %q has no exact count", h)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid content range %q: %w", h, err)
	}
	return n, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return "null"
		}
		return t.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
