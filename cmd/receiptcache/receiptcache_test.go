package main

import (
	"io/fs"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschubert/receiptcache/internal/config"
)

func TestCanGetVersion(t *testing.T) {
	t.Parallel()

	require.Equal(t, "(devel)", getVersion())
}

func TestCanLoadSpecifiedConfig(t *testing.T) {
	t.Parallel()

	conf := path.Join(t.TempDir(), "receiptcache.yml")
	require.NoError(t, os.WriteFile(conf, []byte("host: 1.1.1.1\nlog:\n  level: debug"), 0o600))

	c, usingDefault, err := loadConfig(func(s string) (string, bool) {
		switch s {
		case "RECEIPTCACHE_CONFIG_PATH":
			return conf, true
		default:
			return "", false
		}
	})

	require.NoError(t, err)
	assert.False(t, usingDefault)
	assert.Equal(t, "1.1.1.1", c.Host)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestFailsIfSpecifiedConfigDoesNotExist(t *testing.T) {
	t.Parallel()

	_, _, err := loadConfig(func(s string) (string, bool) {
		switch s {
		case "RECEIPTCACHE_CONFIG_PATH":
			return path.Join(t.TempDir(), "receiptcache.yml"), true
		default:
			return "", false
		}
	})
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFailsIfSpecifiedConfigIsInvalid(t *testing.T) {
	t.Parallel()

	conf := path.Join(t.TempDir(), "receiptcache.yml")
	require.NoError(t, os.WriteFile(conf, []byte("origin: /not/absolute"), 0o600))

	_, _, err := loadConfig(func(s string) (string, bool) {
		if s == "RECEIPTCACHE_CONFIG_PATH" {
			return conf, true
		}
		return "", false
	})
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestClientsFromTheProxyCanConnect(t *testing.T) {
	t.Parallel()

	conf, err := config.Default(func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:3150", "localhost:5000"}, clientOriginPatterns(conf))
}
