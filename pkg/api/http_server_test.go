package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tierkv/pkg/checkpoint"
	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/core"
	"tierkv/pkg/evict"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *core.TieredStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.BloomSize = 1024
	cfg.Checkpoint.Dir = t.TempDir()
	cfg.Eviction.HotCapacity = 2

	store, err := core.NewTieredStore(cfg.Storage, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	evictor, err := evict.NewManager(store, cfg.Eviction, nil)
	require.NoError(t, err)

	return NewServer(store, Options{
		Checkpointer: checkpoint.New(store, cfg.Checkpoint, nil, nil),
		Evictor:      evictor,
	}), store
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestPutGetDelete(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := do(t, s, http.MethodGet, "/api/get?key=7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/put", `{"key":7,"value":"seven"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := do(t, s, http.MethodGet, "/api/get?key=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seven", out["value"])

	rec, _ = do(t, s, http.MethodPost, "/api/put", `{"key":7,"value":"much longer"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, s, http.MethodDelete, "/api/keys/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, s, http.MethodGet, "/api/get?key=7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/get?key=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvictAndTier(t *testing.T) {
	s, store := newTestServer(t)
	for k := 1; k <= 4; k++ {
		rec, _ := do(t, s, http.MethodPost, "/api/put", fmt.Sprintf(`{"key":%d,"value":"v"}`, k))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, out := do(t, s, http.MethodPost, "/api/evict", `{"keys":[1]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["evicted"])

	_, out = do(t, s, http.MethodGet, "/api/keys/1/tier", "")
	assert.Equal(t, "cold", out["name"])
	assert.Equal(t, float64(1), out["tier"])

	rec, out = do(t, s, http.MethodPost, "/api/evict", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["evicted"], "manager trims to hot capacity")
	assert.Equal(t, int64(2), store.SizeAt(common.TierHot))

	rec, out = do(t, s, http.MethodGet, "/api/scan?start=1&end=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), out["count"])
}

func TestCheckpointEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/api/put", `{"key":1,"value":"a"}`)

	rec, out := do(t, s, http.MethodPost, "/api/checkpoint", `{"step":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["hot"])
	assert.Contains(t, out["path"], "ckpt-")
}

func TestStatsAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/api/put", `{"key":1,"value":"a"}`)
	do(t, s, http.MethodGet, "/api/get?key=1", "")

	rec, out := do(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tiered", out["kind"])
	assert.Equal(t, float64(1), out["size"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	s.Handler().ServeHTTP(mrec, req)
	require.Equal(t, http.StatusOK, mrec.Code)
	body := mrec.Body.String()
	for _, m := range []string{"tierkv_reads_total", "tierkv_hot_keys", "tierkv_cold_keys", "tierkv_live_handles"} {
		assert.Contains(t, body, m)
	}
}

func TestEvictOnSingleTierStore(t *testing.T) {
	store := core.NewSingleTierStore(config.Default().Storage, nil)
	defer store.Close()
	s := NewServer(store, Options{})

	rec, _ := do(t, s, http.MethodPost, "/api/evict", `{"keys":[1]}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	rec, _ = do(t, s, http.MethodPost, "/api/checkpoint", `{"step":1}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
