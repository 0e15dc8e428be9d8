package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschubert/receiptcache/internal/middleware"
	"github.com/benjaminschubert/receiptcache/internal/testutils"
)

func TestRequestsAreAccountedByCacheOutcome(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewPedanticRegistry()
	stats := &middleware.Statistics{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hit":
			middleware.SetCacheState(r.Context(), middleware.CacheHit)
		case "/fallback":
			middleware.SetCacheState(r.Context(), middleware.CacheFallback)
		}
		_, _ = w.Write([]byte("hello"))
	})

	wrapped := middleware.ApplyAllMiddlewares(handler, "proxy", testutils.TestLogger(t), registry, stats)

	for _, uri := range []string{"/hit", "/hit", "/fallback", "/other"} {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), http.MethodGet, uri, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Receiptcache-Correlation-ID"))
	}

	assert.Equal(t, uint64(2), stats.CacheHits.Load())
	assert.Equal(t, uint64(1), stats.Fallbacks.Load())
	assert.Equal(t, uint64(20), stats.BytesServed.Load())
	assert.Equal(t, uint64(15), stats.BytesFromCache.Load())

	families, err := registry.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "receiptcache_http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, label := range metric.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			assert.Equal(t, "proxy", labels["service"])
			counts[labels["cache"]+" "+labels["code"]] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"hit 200": 2, "fallback 200": 1, "N/A 200": 1}, counts)
}

func TestServicesCanShareARegistry(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewPedanticRegistry()
	logger := testutils.TestLogger(t)
	handler := http.NotFoundHandler()

	assert.NotPanics(t, func() {
		middleware.ApplyAllMiddlewares(handler, "proxy", logger, registry, nil)
		middleware.ApplyAllMiddlewares(handler, "admin", logger, registry, nil)
	})
}

func TestCacheStateOutsideOfMiddlewares(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	middleware.SetCacheState(ctx, middleware.CacheHit)
	assert.Equal(t, "N/A", middleware.GetCacheState(ctx))
}

func TestStatisticsArePersisted(t *testing.T) {
	t.Parallel()

	logger := testutils.TestLogger(t)
	statsPath := path.Join(t.TempDir(), "statistics.json")

	stats, err := middleware.LoadSavedStatistics(statsPath, logger)
	require.NoError(t, err)
	assert.Equal(t, middleware.StatisticsSnapshot{}, stats.Snapshot())

	stats.Record(middleware.CacheHit, 10)
	stats.Record(middleware.CacheMiss, 5)
	stats.Record(middleware.CacheOffline, 0)
	require.NoError(t, stats.Save(statsPath, logger))

	loaded, err := middleware.LoadSavedStatistics(statsPath, logger)
	require.NoError(t, err)
	assert.Equal(
		t,
		middleware.StatisticsSnapshot{
			CacheHits:      1,
			CacheMisses:    1,
			Offline:        1,
			BytesServed:    15,
			BytesFromCache: 10,
		},
		loaded.Snapshot(),
	)
}
