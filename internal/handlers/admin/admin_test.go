package admin_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschubert/receiptcache/internal/cachestore"
	"github.com/benjaminschubert/receiptcache/internal/clients"
	"github.com/benjaminschubert/receiptcache/internal/config"
	"github.com/benjaminschubert/receiptcache/internal/handlers/admin"
	"github.com/benjaminschubert/receiptcache/internal/lifecycle"
	"github.com/benjaminschubert/receiptcache/internal/middleware"
	"github.com/benjaminschubert/receiptcache/internal/outbox"
	"github.com/benjaminschubert/receiptcache/internal/router"
	"github.com/benjaminschubert/receiptcache/internal/testutils"
	"github.com/benjaminschubert/receiptcache/internal/units"
)

const generation = "receipts-v2"

type env struct {
	t       *testing.T
	server  *httptest.Server
	origin  *httptest.Server
	calls   *testutils.Origin
	storage *cachestore.Storage
}

func setup(t *testing.T) *env {
	t.Helper()

	logger := testutils.TestLogger(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/expenses", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("origin " + r.URL.Path))
	})
	calls := testutils.NewOrigin(mux)
	origin := httptest.NewServer(calls)
	t.Cleanup(origin.Close)

	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	storage, err := cachestore.New(
		t.TempDir(),
		cachestore.Options{MemorySize: units.Bytes{Bytes: 1024 * 1024}},
		logger,
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, storage.Close()) })

	box, err := outbox.Open(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, box.Close()) })

	hub := clients.NewHub(nil, logger)

	controller := lifecycle.New(
		storage,
		origin.Client(),
		lifecycle.Options{
			Generation:  generation,
			URLs:        []string{origin.URL + "/", origin.URL + "/static/style.css"},
			Policy:      router.NewPolicy(originURL, nil),
			SkipWaiting: true,
			Clients:     hub,
			Outbox:      box,
		},
		logger,
	)
	require.NoError(t, controller.Install(logger.WithContext(t.Context())))

	conf, err := config.Default(func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	stats := &middleware.Statistics{}
	stats.Record(middleware.CacheHit, 42)

	handler := http.NewServeMux()
	require.NoError(t, admin.RegisterHandler(
		handler,
		admin.Dependencies{
			Controller: controller,
			Storage:    storage,
			Outbox:     box,
			Hub:        hub,
			Statistics: stats,
		},
		conf,
	))

	server := httptest.NewServer(
		middleware.ApplyAllMiddlewares(handler, "admin", logger, prometheus.NewPedanticRegistry(), nil),
	)
	t.Cleanup(server.Close)

	return &env{t, server, origin, calls, storage}
}

func (e *env) do(method, path, body string) (int, string) {
	e.t.Helper()

	req, err := http.NewRequestWithContext(e.t.Context(), method, e.server.URL+path, strings.NewReader(body))
	require.NoError(e.t, err)

	resp, err := e.server.Client().Do(req)
	require.NoError(e.t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	require.NoError(e.t, resp.Body.Close())
	return resp.StatusCode, string(data)
}

func (e *env) addGeneration(name string) {
	e.t.Helper()

	_, err := e.storage.Open(e.t.Context(), name)
	require.NoError(e.t, err)
}

func (e *env) generations() []string {
	e.t.Helper()

	keys, err := e.storage.Keys(e.t.Context())
	require.NoError(e.t, err)
	return keys
}

func TestIndexShowsCachesAndStatistics(t *testing.T) {
	t.Parallel()

	e := setup(t)

	status, body := e.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Breakdown")
	assert.Contains(t, body, generation)
	assert.Contains(t, body, "activated")
	assert.Contains(t, body, "ai-expenses-tracker")

	status, body = e.do(http.MethodGet, "/static/style.css", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "tr.current")
}

func TestListCaches(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.addGeneration("receipts-v3")

	status, body := e.do(http.MethodGet, "/caches", "")
	require.Equal(t, http.StatusOK, status)

	var listing []struct {
		Name        string   `json:"name"`
		Current     bool     `json:"current"`
		InstalledAt *string  `json:"installedAt"`
		Keys        []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listing))
	require.Len(t, listing, 2)

	assert.Equal(t, generation, listing[0].Name)
	assert.True(t, listing[0].Current)
	assert.NotNil(t, listing[0].InstalledAt)
	assert.ElementsMatch(
		t,
		[]string{"GET+" + e.origin.URL + "/", "GET+" + e.origin.URL + "/static/style.css"},
		listing[0].Keys,
	)

	assert.Equal(t, "receipts-v3", listing[1].Name)
	assert.False(t, listing[1].Current)
	assert.Nil(t, listing[1].InstalledAt)
	assert.Empty(t, listing[1].Keys)
}

func TestDeleteCache(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.addGeneration("receipts-v1")

	status, _ := e.do(http.MethodDelete, "/caches/"+generation, "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = e.do(http.MethodDelete, "/caches/receipts-v1", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = e.do(http.MethodDelete, "/caches/receipts-v1", "")
	assert.Equal(t, http.StatusNotFound, status)

	assert.Equal(t, []string{generation}, e.generations())
}

func TestMessagesAreDelivered(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.addGeneration("receipts-v1")

	status, _ := e.do(http.MethodPost, "/messages", `{"type":"CLEAR_CACHE"}`)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, []string{generation}, e.generations())

	status, _ = e.do(http.MethodPost, "/messages", `{"type":"SOMETHING_ELSE"}`)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = e.do(http.MethodPost, "/messages", `{"kind":"CLEAR_CACHE"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDeferredRequestsAreReplayedOnSync(t *testing.T) {
	t.Parallel()

	e := setup(t)

	status, _ := e.do(http.MethodPost, "/outbox", `{"method":"GET","url":"`+e.origin.URL+`/api/expenses"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := e.do(
		http.MethodPost,
		"/outbox",
		`{"method":"POST","url":"`+e.origin.URL+`/api/expenses","body":"eyJhbW91bnQiOjEyfQ=="}`,
	)
	require.Equal(t, http.StatusCreated, status)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.NotEmpty(t, created.ID)

	status, body = e.do(http.MethodGet, "/outbox", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, created.ID)

	status, _ = e.do(http.MethodPost, "/sync/"+lifecycle.SyncTag, "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, 1, e.calls.Calls(http.MethodPost, "/api/expenses"))

	status, body = e.do(http.MethodGet, "/outbox", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", body)
}

func TestSyncFailuresAskForARetry(t *testing.T) {
	t.Parallel()

	e := setup(t)

	status, _ := e.do(http.MethodPost, "/outbox", `{"method":"POST","url":"http://127.0.0.1:1/api/expenses"}`)
	require.Equal(t, http.StatusCreated, status)

	status, _ = e.do(http.MethodPost, "/sync/"+lifecycle.SyncTag, "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = e.do(http.MethodPost, "/sync/unknown-tag", "")
	assert.Equal(t, http.StatusNoContent, status)
}
