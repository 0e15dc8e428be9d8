package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/benjaminschubert/receiptcache/internal/manifest"
	"github.com/benjaminschubert/receiptcache/internal/units"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type LookupEnv func(string) (string, bool)

type Log struct {
	Level  string
	Format string
}

type Cache struct {
	Path       string
	Prefix     string
	Version    string
	MemorySize units.Bytes   `yaml:"memory_size"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// Generation is the name of the cache generation owned by this version.
func (c Cache) Generation() string {
	return c.Prefix + "-" + c.Version
}

type Config struct {
	Host            string
	Port            uint16
	Origin          Origin
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	SkipWaiting     bool          `yaml:"skip_waiting"`
	// SyncInterval is how often deferred requests are retried. Zero only
	// replays them when asked through the admin interface.
	SyncInterval    time.Duration `yaml:"sync_interval"`
	Cache           Cache
	Manifest        manifest.Manifest
	AdminInterface  string `yaml:"admin_interface"`
	EnableMetrics   bool   `yaml:"metrics"`
	EnableProfiling bool   `yaml:"profiling"`
	Log             Log
}

func getBaseConfig(lookupEnv LookupEnv) *Config {
	defaultCachePath, ok := lookupEnv("RECEIPTCACHE_DEFAULT_CACHE_PATH")
	if !ok {
		defaultCachePath = "_cache/"
	}

	return &Config{
		Host:            "localhost",
		Port:            3150,
		Origin:          Origin{&url.URL{Scheme: "http", Host: "localhost:5000"}},
		UpstreamTimeout: 2 * time.Minute,
		SkipWaiting:     true,
		SyncInterval:    time.Minute,
		Cache: Cache{
			Path:       defaultCachePath,
			Prefix:     "ai-expenses-tracker",
			Version:    "v2.0.0",
			MemorySize: units.Bytes{Bytes: 64 * 1024 * 1024},
			GCInterval: 15 * time.Minute,
		},
		Manifest:       manifest.Default(),
		AdminInterface: "localhost:3151",
		EnableMetrics:  true,
		Log:            Log{zerolog.LevelInfoValue, "json"},
	}
}

func Parse(configPath string, lookupEnv LookupEnv) (*Config, error) {
	c := getBaseConfig(lookupEnv)

	fp, err := os.Open(configPath) //nolint:gosec
	if err != nil {
		return c, err
	}
	defer fp.Close() //nolint:errcheck

	decoder := yaml.NewDecoder(fp)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := applyOverrides(c, lookupEnv); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func Default(lookupEnv LookupEnv) (*Config, error) {
	conf := getBaseConfig(lookupEnv)
	if err := applyOverrides(conf, lookupEnv); err != nil {
		return conf, err
	}
	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Origin.Host() == "" {
		return fmt.Errorf("%w: origin is required", ErrInvalidConfig)
	}
	if c.Cache.Prefix == "" || c.Cache.Version == "" {
		return fmt.Errorf("%w: cache prefix and version are required", ErrInvalidConfig)
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("%w: cache path is required", ErrInvalidConfig)
	}
	if err := c.Manifest.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func applyOverrides(conf *Config, lookupEnv LookupEnv) error {
	if val, ok := lookupEnv("RECEIPTCACHE_ENABLE_PROFILING"); ok && val == "1" {
		conf.EnableProfiling = true
	}

	if val, ok := lookupEnv("RECEIPTCACHE_LOG_LEVEL"); ok {
		conf.Log.Level = val
	}

	if val, ok := lookupEnv("RECEIPTCACHE_LOG_FORMAT"); ok {
		conf.Log.Format = val
	}

	if val, ok := lookupEnv("RECEIPTCACHE_CACHE_PATH"); ok {
		conf.Cache.Path = val
	}

	if val, ok := lookupEnv("RECEIPTCACHE_CACHE_VERSION"); ok {
		conf.Cache.Version = val
	}

	if val, ok := lookupEnv("RECEIPTCACHE_HOST"); ok {
		conf.Host = val
	}

	if val, ok := lookupEnv("RECEIPTCACHE_ADMIN_INTERFACE"); ok {
		conf.AdminInterface = val
	}

	if val, ok := lookupEnv("RECEIPTCACHE_SYNC_INTERVAL"); ok {
		interval, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: RECEIPTCACHE_SYNC_INTERVAL: %w", ErrInvalidConfig, err)
		}
		conf.SyncInterval = interval
	}

	if val, ok := lookupEnv("RECEIPTCACHE_ORIGIN"); ok {
		origin, err := ParseOrigin(val)
		if err != nil {
			return fmt.Errorf("%w: RECEIPTCACHE_ORIGIN: %w", ErrInvalidConfig, err)
		}
		conf.Origin = origin
	}

	return nil
}
