package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return New(Options{
		URL:            server.URL,
		AnonKey:        "anon-key",
		ServiceRoleKey: "service-key",
	})
}

type row struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func TestQueryExecute(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/site_invites", r.URL.Path)
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "id,email", q.Get("select"))
		assert.Equal(t, "eq.pending", q.Get("status"))
		assert.Equal(t, "gte.2", q.Get("site_id"))
		assert.Equal(t, "is.null", q.Get("accepted_at"))
		assert.Equal(t, "in.(a,\"b c\")", q.Get("role"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		assert.Equal(t, "10", q.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":1,"email":"a@example.com"},{"id":2,"email":"b@example.com"}]`)
	})

	var rows []row
	err := client.From("site_invites").
		Select("id,email").
		Eq("status", "pending").
		Gte("site_id", 2).
		IsNull("accepted_at").
		In("role", "a", "b c").
		Order("created_at", false).
		Limit(10).
		Execute(context.Background(), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b@example.com", rows[1].Email)
}

func TestAllReadsEveryPage(t *testing.T) {
	var offsets []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("limit"))
		offsets = append(offsets, q.Get("offset"))
		switch q.Get("offset") {
		case "0":
			_, _ = io.WriteString(w, `[{"id":1},{"id":2}]`)
		case "2":
			_, _ = io.WriteString(w, `[{"id":3},{"id":4}]`)
		default:
			_, _ = io.WriteString(w, `[{"id":5}]`)
		}
	}))
	t.Cleanup(server.Close)
	client := New(Options{URL: server.URL, ServiceRoleKey: "service-key", PageSize: 2})

	rows, err := All[row](context.Background(), client.From("training_records").Order("id", true))
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, int64(5), rows[4].ID)
	assert.Equal(t, []string{"0", "2", "4"}, offsets)
}

func TestAllStopsOnEmptyPage(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("offset") == "0" {
			_, _ = io.WriteString(w, `[{"id":1},{"id":2}]`)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	t.Cleanup(server.Close)
	client := New(Options{URL: server.URL, ServiceRoleKey: "service-key", PageSize: 2})

	rows, err := All[row](context.Background(), client.From("master_users"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, calls)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `john\_smith@example.com`, EscapeLike("john_smith@example.com"))
	assert.Equal(t, `100\%@example.com`, EscapeLike("100%@example.com"))
	assert.Equal(t, `a\\b@example.com`, EscapeLike(`a\b@example.com`))
	assert.Equal(t, "plain@example.com", EscapeLike("plain@example.com"))
}

func TestQuerySingleNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = io.WriteString(w, `{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned","details":"The result contains 0 rows","hint":null}`)
	})

	var r row
	err := client.From("master_users").Eq("id", 5).Single(context.Background(), &r)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotAcceptable, e.Status)
	assert.Equal(t, "The result contains 0 rows", e.Details)
}

func TestQueryCount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		w.Header().Set("Content-Range", "0-24/3573")
		w.WriteHeader(http.StatusOK)
	})

	n, err := client.From("training_records").Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3573, n)
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header  string
		want    int
		wantErr bool
	}{
		{"0-24/3573", 3573, false},
		{"*/0", 0, false},
		{"0-9/*", 0, true},
		{"", 0, true},
		{"0-9/abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := parseContentRange(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpsertAndUpdate(t *testing.T) {
	var calls []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method)
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "auth_user_id", r.URL.Query().Get("on_conflict"))
			assert.Equal(t, "resolution=merge-duplicates,return=representation", r.Header.Get("Prefer"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "x@example.com", body["email"])
			_, _ = io.WriteString(w, `[{"id":7,"email":"x@example.com"}]`)
		case http.MethodPatch:
			assert.Equal(t, "eq.7", r.URL.Query().Get("id"))
			assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
			w.WriteHeader(http.StatusNoContent)
		}
	})

	var rows []row
	err := client.From("master_users").Upsert(context.Background(), map[string]any{"email": "x@example.com"}, "auth_user_id", &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0].ID)

	err = client.From("master_users").Eq("id", 7).Update(context.Background(), map[string]any{"access_type": "admin"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodPost, http.MethodPatch}, calls)
}

func TestUnfilteredMutationRefused(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s %s", r.Method, r.URL)
	})

	err := client.From("site_invites").Update(context.Background(), map[string]any{"status": "expired"}, nil)
	assert.ErrorIs(t, err, ErrUnfilteredMutation)

	err = client.From("site_invites").Order("id", true).Delete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnfilteredMutation)
}

func TestUniqueViolation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint","details":"Key (email)=(a@b.c) already exists."}`)
	})

	err := client.From("master_users").Insert(context.Background(), map[string]any{"email": "a@b.c"}, nil)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "23505")
}

func TestRpc(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/authenticate_kiosk_user_with_profiles", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(3), body["p_site_id"])
		assert.Equal(t, "1234", body["p_pin"])
		_, _ = io.WriteString(w, `[{"id":1,"email":"k@example.com"}]`)
	})

	var rows []row
	err := client.Rpc(context.Background(), "authenticate_kiosk_user_with_profiles", map[string]any{"p_site_id": 3, "p_pin": "1234"}, &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestWithToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-jwt", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[]`)
	})

	var rows []row
	require.NoError(t, client.WithToken("user-jwt").From("master_users").Execute(context.Background(), &rows))
	assert.Empty(t, rows)
}

func TestAuthErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/invite":
			assert.Equal(t, "https://app.example.com/accept", r.URL.Query().Get("redirect_to"))
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"code":422,"error_code":"email_exists","msg":"A user with this email address has already been registered"}`)
		case "/auth/v1/token":
			assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
		default:
			http.NotFound(w, r)
		}
	})

	_, err := client.InviteUserByEmail(context.Background(), "a@example.com", "https://app.example.com/accept", nil)
	require.Error(t, err)
	assert.True(t, IsUserExists(err))

	_, err = client.SignInWithPassword(context.Background(), "a@example.com", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestAdminUsers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/admin/users":
			var params AdminUserParams
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			assert.True(t, params.EmailConfirm)
			_, _ = io.WriteString(w, `{"id":"u-1","email":"`+params.Email+`"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/auth/v1/admin/users":
			assert.Equal(t, "1", r.URL.Query().Get("page"))
			_, _ = io.WriteString(w, `{"users":[{"id":"u-1","email":"New@Example.com","last_sign_in_at":"2025-01-01T00:00:00Z"}]}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/auth/v1/admin/users/u-1":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/admin/generate_link":
			_, _ = io.WriteString(w, `{"id":"u-1","action_link":"https://x.supabase.co/auth/v1/verify?token=abc"}`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	u, err := client.CreateUser(ctx, AdminUserParams{Email: "new@example.com", Password: "secret", EmailConfirm: true})
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)

	found, err := client.FindUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.HasSignedIn())

	link, err := client.GenerateLink(ctx, GenerateLinkParams{Type: LinkTypeInvite, Email: "new@example.com"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.ActionLink, "https://"))

	require.NoError(t, client.DeleteUser(ctx, "u-1"))
}

func TestStorage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/avatars/abc.png":
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			b, _ := io.ReadAll(r.Body)
			assert.Equal(t, "png-bytes", string(b))
			_, _ = io.WriteString(w, `{"Key":"avatars/abc.png"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/list/avatars":
			_, _ = io.WriteString(w, `[{"id":"1","name":"abc.png","metadata":{"size":1234}}]`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	require.NoError(t, client.Upload(ctx, "avatars", "abc.png", strings.NewReader("png-bytes"), "image/png", true))

	objects, err := client.List(ctx, "avatars", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, int64(1234), objects[0].Size())

	assert.Equal(t, client.BaseURL()+"/storage/v1/object/public/avatars/abc.png", client.PublicURL("avatars", "abc.png"))
}
