package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextpipe/internal/contextitem"
	"contextpipe/internal/storage"
)

func newTestSM(t *testing.T) *storage.Manager {
	t.Helper()
	return storage.New(filepath.Join(t.TempDir(), "ns"), nil)
}

func TestRequestHitsGatewayWhenHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/data/memory/memories/search", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"data": []map[string]any{{"id": "m1", "title": "hi"}},
			"meta": map[string]any{},
		})
	}))
	defer srv.Close()

	sm := newTestSM(t)
	c := New(srv.URL, sm, nil)

	resp, err := c.Request(context.Background(), "memory", "memories", VerbSearch, map[string]string{"q": "hi"}, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	recs := resp.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].ID())
}

func TestRequestFallsBackWhenGatewayUnreachable(t *testing.T) {
	sm := newTestSM(t)
	_, err := sm.Create("memories", map[string]any{"id": "m1", "title": "local"})
	require.NoError(t, err)

	c := New("http://127.0.0.1:0", sm, nil, WithRetryBackoff(time.Millisecond))

	resp, err := c.Request(context.Background(), "memory", "memories", VerbList, nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	recs := resp.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].ID())
	assert.False(t, c.Healthy())
}

func TestSuccessfulCallResetsHealthFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": []map[string]any{}})
	}))
	defer srv.Close()

	sm := newTestSM(t)
	c := New(srv.URL, sm, nil)
	c.markDegraded()

	// A pair with no fallback route makes the degraded client try the
	// gateway; a routed pair would be served locally without HTTP.
	_, err := c.Request(context.Background(), "unknown", "thing", VerbList, nil, nil)
	require.NoError(t, err)
	assert.True(t, c.Healthy())
}

func TestDegradedClientSkipsGatewayAndUsesFallback(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": []map[string]any{}})
	}))
	defer srv.Close()

	sm := newTestSM(t)
	_, err := sm.Create("memories", map[string]any{"id": "m1", "title": "local"})
	require.NoError(t, err)

	c := New(srv.URL, sm, nil)
	c.markDegraded()

	resp, err := c.Request(context.Background(), "memory", "memories", VerbList, nil, nil)
	require.NoError(t, err)
	recs := resp.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].ID())
	assert.Equal(t, 0, hits, "degraded client must not hit the gateway while a fallback route exists")
	assert.False(t, c.Healthy())
}

func TestServerErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	sm := newTestSM(t)
	_, err := sm.Create("tasks", map[string]any{"id": "t1", "swimlane": "doing"})
	require.NoError(t, err)

	c := New(srv.URL, sm, nil, WithRetryBackoff(time.Millisecond))
	resp, err := c.Request(context.Background(), "kanban", "tasks", VerbList, nil, nil)
	require.NoError(t, err)
	recs := resp.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "t1", recs[0].ID())
}

func TestNoFallbackRouteSurfacesError(t *testing.T) {
	sm := newTestSM(t)
	c := New("http://127.0.0.1:0", sm, nil, WithRetryBackoff(time.Millisecond))

	_, err := c.Request(context.Background(), "unknown", "thing", VerbList, nil, nil)
	require.Error(t, err)
}

func TestDecodeDataHandlesSingleRecordAndNull(t *testing.T) {
	assert.Nil(t, decodeData(nil))
	assert.Nil(t, decodeData(json.RawMessage("null")))

	single := decodeData(json.RawMessage(`{"id":"p1"}`))
	rec, ok := single.(contextitem.Record)
	require.True(t, ok)
	assert.Equal(t, "p1", rec.ID())
}
