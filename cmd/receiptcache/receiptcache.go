package main

import (
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/benjaminschubert/receiptcache/internal/cachestore"
	"github.com/benjaminschubert/receiptcache/internal/clients"
	"github.com/benjaminschubert/receiptcache/internal/config"
	"github.com/benjaminschubert/receiptcache/internal/lifecycle"
	"github.com/benjaminschubert/receiptcache/internal/logging"
	"github.com/benjaminschubert/receiptcache/internal/middleware"
	"github.com/benjaminschubert/receiptcache/internal/outbox"
	"github.com/benjaminschubert/receiptcache/internal/router"
	"github.com/benjaminschubert/receiptcache/internal/server"
)

// Bodies younger than this are never collected, their entry might still be
// getting committed.
const gcGracePeriod = time.Hour

func getVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return info.Main.Version
}

// loadConfig reads the file named by RECEIPTCACHE_CONFIG_PATH, or
// ./receiptcache.yaml. The default configuration is used when the latter does
// not exist, which is reported by the second return value.
func loadConfig(lookupEnv config.LookupEnv) (*config.Config, bool, error) {
	configPath, configPathSet := lookupEnv("RECEIPTCACHE_CONFIG_PATH")
	if !configPathSet {
		configPath = "./receiptcache.yaml"
	}

	conf, err := config.Parse(configPath, lookupEnv)
	if err != nil && !configPathSet && errors.Is(err, fs.ErrNotExist) {
		conf, err = config.Default(lookupEnv)
		return conf, true, err
	}
	return conf, false, err
}

func newClient(conf *config.Config) *http.Client {
	return &http.Client{
		Timeout: conf.UpstreamTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          20,
			MaxConnsPerHost:       20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Pages are served by the proxy while the client channel lives on the admin
// interface, so their origin has to be allowed explicitly.
func clientOriginPatterns(conf *config.Config) []string {
	return []string{
		net.JoinHostPort(conf.Host, strconv.Itoa(int(conf.Port))),
		conf.Origin.Host(),
	}
}

func main() {
	panicLogger, err := logging.CreateLogger(zerolog.WarnLevel, "json")
	if err != nil {
		panic("BUG: invalid default logger")
	}

	conf, usingDefault, err := loadConfig(os.LookupEnv)
	if err != nil {
		panicLogger.Fatal().Err(err).Msg("Unable to start server: invalid configuration")
	}

	logLevel, err := zerolog.ParseLevel(conf.Log.Level)
	if err != nil {
		panicLogger.Fatal().Err(err).Msg("Unable to start server: invalid configuration")
	}
	logger, err := logging.CreateLogger(logLevel, conf.Log.Format)
	if err != nil {
		panicLogger.Fatal().Err(err).Msg("Unable to initialize logger")
	}

	logger.Info().Str("version", getVersion()).Str("cache", conf.Cache.Generation()).Msg("Starting receiptcache")
	if usingDefault {
		logger.Info().
			Msg("receiptcache.yaml not found and RECEIPTCACHE_CONFIG_PATH not set: Using default configuration")
	}

	storage, err := cachestore.New(
		conf.Cache.Path,
		cachestore.Options{
			MemorySize:    conf.Cache.MemorySize,
			GCInterval:    conf.Cache.GCInterval,
			GCGracePeriod: gcGracePeriod,
		},
		&logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to start server: can't setup cache")
	}
	defer func() {
		logger.Info().Msg("Closing up the cache")
		if err := storage.Close(); err != nil {
			logger.Error().Err(err).Msg("Couldn't close the cache properly")
		}
	}()

	box, err := outbox.Open(path.Join(conf.Cache.Path, "outbox"), &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to start server: can't setup outbox")
	}
	defer func() {
		if err := box.Close(); err != nil {
			logger.Error().Err(err).Msg("Couldn't close the outbox properly")
		}
	}()

	statsPath := path.Join(conf.Cache.Path, "statistics.json")
	stats, err := middleware.LoadSavedStatistics(statsPath, &logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Unable to load previous statistics, starting from scratch")
		stats = &middleware.Statistics{}
	}
	defer func() {
		if err := stats.Save(statsPath, &logger); err != nil {
			logger.Error().Err(err).Msg("Couldn't save statistics")
		}
	}()

	hub := clients.NewHub(clientOriginPatterns(conf), &logger)
	controller := lifecycle.New(
		storage,
		newClient(conf),
		lifecycle.Options{
			Generation:  conf.Cache.Generation(),
			URLs:        conf.Manifest.URLs(conf.Origin.URL),
			Policy:      router.NewPolicy(conf.Origin.URL, conf.Manifest.External),
			SkipWaiting: conf.SkipWaiting,
			Clients:     hub,
			Outbox:      box,
		},
		&logger,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(
		conf,
		server.Services{
			Controller: controller,
			Storage:    storage,
			Outbox:     box,
			Hub:        hub,
			Statistics: stats,
		},
		&logger,
		registry,
	)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error().Err(err).Msg("An error occurred while shutting down the server")
	}

	logger.Info().Msg("Server shut down")
}
