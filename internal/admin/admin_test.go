package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnscash/internal/data"
	"dnscash/internal/log"
	"dnscash/internal/pool"
	"dnscash/internal/wire"
)

type staticPool pool.Stats

func (p staticPool) Stats() pool.Stats {
	return pool.Stats(p)
}

func newTestServer(t *testing.T) (*Server, *data.TLRUCache) {
	t.Helper()

	cache := data.NewTLRUCache(8, true, data.TLRUCacheOpts{})
	for _, q := range []wire.Question{
		{Name: "example.com", Type: dns.TypeA, Class: dns.ClassINET},
		{Name: "example.com", Type: dns.TypeAAAA, Class: dns.ClassINET},
	} {
		answer, err := wire.NewAnswer([]byte{1, 2, 3}, time.Minute, time.Now())
		require.NoError(t, err)
		cache.Add(q, answer)
	}

	pending := data.NewPendingTable(data.PendingTableOpts{})
	server := NewServer("127.0.0.1:0", cache, pending, staticPool{Workers: 4, Completed: 10}, log.NewNoopLogger())

	return server, cache
}

func serve(server *Server, method string, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	return rec
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	rec := serve(server, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	server, _ := newTestServer(t)

	rec := serve(server, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Cache.Entries)
	assert.Equal(t, 8, stats.Cache.Capacity)
	assert.Equal(t, 4, stats.Pool.Workers)
	assert.Equal(t, uint64(10), stats.Pool.Completed)
	assert.Equal(t, 0, stats.Pending.Entries)
}

func TestDeleteCacheEntry(t *testing.T) {
	server, cache := newTestServer(t)

	rec := serve(server, http.MethodDelete, "/cache?name=example.com.&type=aaaa")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":true}`, rec.Body.String())
	assert.False(t, cache.Has(wire.Question{Name: "example.com", Type: dns.TypeAAAA, Class: dns.ClassINET}))
	assert.True(t, cache.Has(wire.Question{Name: "example.com", Type: dns.TypeA, Class: dns.ClassINET}))

	rec = serve(server, http.MethodDelete, "/cache?name=example.com&type=1&class=IN")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, cache.Len())

	rec = serve(server, http.MethodDelete, "/cache?name=example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":false}`, rec.Body.String())
}

func TestDeleteCacheEntryValidation(t *testing.T) {
	server, _ := newTestServer(t)

	for _, target := range []string{
		"/cache",
		"/cache?name=example.com&type=BOGUS",
		"/cache?name=example.com&class=70000",
	} {
		rec := serve(server, http.MethodDelete, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestDeleteCache(t *testing.T) {
	server, cache := newTestServer(t)

	rec := serve(server, http.MethodDelete, "/cache/all")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, cache.Len())
}
