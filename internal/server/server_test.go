package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschubert/receiptcache/internal/clients"
	"github.com/benjaminschubert/receiptcache/internal/config"
	"github.com/benjaminschubert/receiptcache/internal/middleware"
	"github.com/benjaminschubert/receiptcache/internal/testutils"
)

func newServer(t *testing.T, conf *config.Config) *Server {
	t.Helper()

	logger := testutils.TestLogger(t)
	services := Services{
		Hub:        clients.NewHub(nil, logger),
		Statistics: &middleware.Statistics{},
	}
	return New(conf, services, logger, prometheus.NewPedanticRegistry())
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()

	conf, err := config.Default(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	return conf
}

func TestServerInitialization(t *testing.T) {
	t.Parallel()

	conf := defaultConfig(t)
	conf.EnableProfiling = true
	srv := newServer(t, conf)

	addresses := make([]string, 0, len(srv.servers))
	for _, s := range srv.servers {
		addresses = append(addresses, s.server.Addr)
	}
	require.Equal(t, []string{"localhost:3150", "localhost:3151"}, addresses)
}

func TestAdminInterfaceCanBeDisabled(t *testing.T) {
	t.Parallel()

	conf := defaultConfig(t)
	conf.AdminInterface = ""
	conf.EnableProfiling = true
	srv := newServer(t, conf)

	require.Len(t, srv.servers, 1)
	assert.Equal(t, "localhost:3150", srv.servers[0].server.Addr)
}

func TestAdminInterfaceExposesMetricsAndProfiles(t *testing.T) {
	t.Parallel()

	conf := defaultConfig(t)
	conf.EnableProfiling = true
	srv := newServer(t, conf)

	admin := srv.servers[1].server.Handler
	for uri, expected := range map[string]int{
		"/metrics":        http.StatusOK,
		"/-/pprof/":       http.StatusOK,
		"/does/not/exist": http.StatusNotImplemented,
	} {
		rec := httptest.NewRecorder()
		admin.ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), http.MethodGet, uri, nil))
		assert.Equal(t, expected, rec.Code, uri)
	}
}

func TestMetricsCanBeDisabled(t *testing.T) {
	t.Parallel()

	conf := defaultConfig(t)
	conf.EnableMetrics = false
	srv := newServer(t, conf)

	rec := httptest.NewRecorder()
	srv.servers[1].server.Handler.ServeHTTP(
		rec,
		httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/metrics", nil),
	)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
