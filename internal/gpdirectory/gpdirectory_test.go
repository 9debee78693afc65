package gpdirectory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkloops/checkloops/internal/cache"
	"github.com/checkloops/checkloops/internal/config"
)

const odsBody = `{"Organisations":[
 {"Name":"THE DENSHAM SURGERY","OrgId":"A81001","Status":"Active","PostCode":"TS18 1HU","LastChangeDate":"2020-02-21","PrimaryRoleId":"RO177","OrgLink":"https://directory.spineservices.nhs.uk/ORD/2-0-0/organisations/A81001"},
 {"Name":"OLD SURGERY","OrgId":"A81999","Status":"Inactive","PostCode":"TS18 1HU","PrimaryRoleId":"RO177"}
]}`

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/organisations", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "RO177", q.Get("PrimaryRoleId"))
		assert.Equal(t, "Active", q.Get("Status"))
		assert.Equal(t, "5", q.Get("Limit"))
		if q.Get("PostCode") == "ZZ1 1ZZ" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		if q.Get("Name") == "boom" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(odsBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearch(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	c := New(&config.GPDirectoryConfig{URL: srv.URL, Limit: 5, CacheTTL: time.Hour}, nil)

	practices, err := c.Search(context.Background(), "Densham", " ts18   1hu ")
	require.NoError(t, err)
	require.Len(t, practices, 1)
	assert.Equal(t, "A81001", practices[0].Code)
	assert.Equal(t, "THE DENSHAM SURGERY", practices[0].Name)
	assert.Equal(t, "TS18 1HU", practices[0].PostCode)
}

func TestSearchIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	engineCache := cache.NewEngineCache(&config.CacheConfig{Type: config.CacheTypeMemory})
	c := New(&config.GPDirectoryConfig{URL: srv.URL, Limit: 5, CacheTTL: time.Hour}, engineCache)

	for range 3 {
		practices, err := c.Search(context.Background(), "densham", "")
		require.NoError(t, err)
		assert.Len(t, practices, 1)
	}
	assert.Equal(t, int32(1), hits.Load())

	_, err := c.Search(context.Background(), "DENSHAM", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "names are cached case-insensitively")
}

func TestSearchNoMatches(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	c := New(&config.GPDirectoryConfig{URL: srv.URL, Limit: 5}, nil)

	practices, err := c.Search(context.Background(), "", "zz1 1zz")
	require.NoError(t, err)
	assert.Empty(t, practices)
}

func TestSearchErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	c := New(&config.GPDirectoryConfig{URL: srv.URL, Limit: 5}, nil)

	_, err := c.Search(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, hits.Load())

	_, err = c.Search(context.Background(), "boom", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
