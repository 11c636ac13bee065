package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velocut/velocut/internal/config"
	"github.com/velocut/velocut/internal/media"
	"github.com/velocut/velocut/internal/modules/framecachemodule"
	"github.com/velocut/velocut/internal/modules/perfmodule"
	"github.com/velocut/velocut/internal/modules/preloadmodule"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Default()

	factory := func(sourceID string, src media.ByteSource) (media.FrameDecoder, error) {
		return media.NewStubDecoder(sourceID), nil
	}
	cache := framecachemodule.NewManager(hclog.NewNullLogger(), factory, nil,
		framecachemodule.OptionsFromConfig(cfg.Cache))
	scheduler := preloadmodule.NewScheduler(hclog.NewNullLogger(), cache,
		preloadmodule.OptionsFromConfig(cfg.Preload))
	monitor := perfmodule.NewMonitor(hclog.NewNullLogger(), cfg.Monitor, perfmodule.Baseline{})

	return SetupRouter(cfg.Server, cache, scheduler, monitor)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t)

	w := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestModuleRoutesAreMounted(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{
		"/api/framecache/stats",
		"/api/preload/stats",
		"/api/perf/metrics",
		"/api/perf/status",
		"/api/perf/grade",
		"/api/perf/recommendations",
	} {
		w := doRequest(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestCacheStatsShape(t *testing.T) {
	router := testRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/framecache/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Contains(t, stats, "cached_frames")
	assert.Contains(t, stats, "hit_rate")
	assert.Contains(t, stats, "total_pools")
}

func TestPreloadConfigureClampsAndEchoes(t *testing.T) {
	router := testRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/preload/configure",
		`{"preload_radius": 999, "max_concurrent_preloads": 0}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		PreloadRadius         float64 `json:"preload_radius"`
		MaxConcurrentPreloads int     `json:"max_concurrent_preloads"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 10.0, resp.PreloadRadius)
	assert.Equal(t, 1, resp.MaxConcurrentPreloads)
}

func TestPreloadConfigureRejectsBadPayload(t *testing.T) {
	router := testRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/preload/configure", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheClearEndpoint(t *testing.T) {
	router := testRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/framecache/clear", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cleared")
}

func TestCORSHeadersWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Server.EnableCORS = true
	monitor := perfmodule.NewMonitor(hclog.NewNullLogger(), cfg.Monitor, perfmodule.Baseline{})
	router := SetupRouter(cfg.Server, monitor)

	w := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = doRequest(t, router, http.MethodOptions, "/health", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAddr(t *testing.T) {
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 9090}
	assert.Equal(t, "127.0.0.1:9090", Addr(cfg))
}
