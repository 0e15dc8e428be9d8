package config_test

import (
	"io/fs"
	"net/url"
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benjaminschubert/receiptcache/internal/config"
	"github.com/benjaminschubert/receiptcache/internal/manifest"
	"github.com/benjaminschubert/receiptcache/internal/units"
)

func noEnv(string) (string, bool) { return "", false }

func TestCanParseValidConfiguration(t *testing.T) {
	t.Parallel()

	configFile := path.Join(t.TempDir(), "config.yml")

	require.NoError(
		t,
		os.WriteFile(
			configFile,
			[]byte(`
host: 0.0.0.0
port: 8080
origin: https://expenses.test
upstream_timeout: 30s
skip_waiting: false
sync_interval: 5m
cache:
  path: ./cache
  prefix: expenses
  version: v3
  memory_size: 1MiB
  gc_interval: 1h
manifest:
  assets: [/, /static/style.css]
  external: [https://cdn.test/all.min.css]
admin_interface: localhost:8192
metrics: false
profiling: true
log:
  level: error
  format: console`),
			0o600,
		),
	)

	conf, err := config.Parse(configFile, noEnv)
	require.NoError(t, err)
	require.Equal(
		t,
		&config.Config{
			Host:            "0.0.0.0",
			Port:            8080,
			Origin:          config.Origin{&url.URL{Scheme: "https", Host: "expenses.test"}},
			UpstreamTimeout: 30 * time.Second,
			SkipWaiting:     false,
			SyncInterval:    5 * time.Minute,
			Cache: config.Cache{
				Path:       "./cache",
				Prefix:     "expenses",
				Version:    "v3",
				MemorySize: units.Bytes{Bytes: 1024 * 1024},
				GCInterval: time.Hour,
			},
			Manifest: manifest.Manifest{
				Assets:   []string{"/", "/static/style.css"},
				External: []string{"https://cdn.test/all.min.css"},
			},
			AdminInterface:  "localhost:8192",
			EnableMetrics:   false,
			EnableProfiling: true,
			Log:             config.Log{"error", "console"},
		},
		conf,
	)
	require.Equal(t, "expenses-v3", conf.Cache.Generation())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	configFile := path.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("registries: []"), 0o600))

	_, err := config.Parse(configFile, noEnv)
	require.ErrorContains(t, err, "field registries not found")
}

func TestParseRejectsInvalidOrigin(t *testing.T) {
	t.Parallel()

	configFile := path.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("origin: /relative"), 0o600))

	_, err := config.Parse(configFile, noEnv)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestParseReportsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Parse(path.Join(t.TempDir(), "missing.yml"), noEnv)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestDefaultConfiguration(t *testing.T) {
	t.Parallel()

	conf, err := config.Default(noEnv)
	require.NoError(t, err)
	require.Equal(t, "ai-expenses-tracker-v2.0.0", conf.Cache.Generation())
	require.Equal(t, "_cache/", conf.Cache.Path)
	require.True(t, conf.SkipWaiting)
	require.Equal(t, manifest.Default(), conf.Manifest)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"RECEIPTCACHE_DEFAULT_CACHE_PATH": "/var/cache/default",
		"RECEIPTCACHE_CACHE_PATH":         "/var/cache/receiptcache",
		"RECEIPTCACHE_CACHE_VERSION":      "v2.1.0",
		"RECEIPTCACHE_LOG_LEVEL":          "debug",
		"RECEIPTCACHE_LOG_FORMAT":         "console",
		"RECEIPTCACHE_HOST":               "0.0.0.0",
		"RECEIPTCACHE_ADMIN_INTERFACE":    "",
		"RECEIPTCACHE_ENABLE_PROFILING":   "1",
		"RECEIPTCACHE_ORIGIN":             "https://expenses.test",
		"RECEIPTCACHE_SYNC_INTERVAL":      "30s",
	}

	conf, err := config.Default(func(key string) (string, bool) {
		val, ok := env[key]
		return val, ok
	})
	require.NoError(t, err)
	require.Equal(t, "/var/cache/receiptcache", conf.Cache.Path)
	require.Equal(t, "ai-expenses-tracker-v2.1.0", conf.Cache.Generation())
	require.Equal(t, config.Log{"debug", "console"}, conf.Log)
	require.Equal(t, "0.0.0.0", conf.Host)
	require.Empty(t, conf.AdminInterface)
	require.True(t, conf.EnableProfiling)
	require.Equal(t, "https://expenses.test", conf.Origin.URL.String())
	require.Equal(t, 30*time.Second, conf.SyncInterval)
}

func TestEnvironmentOverridesAreValidated(t *testing.T) {
	t.Parallel()

	_, err := config.Default(func(key string) (string, bool) {
		if key == "RECEIPTCACHE_SYNC_INTERVAL" {
			return "soon", true
		}
		return "", false
	})
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
