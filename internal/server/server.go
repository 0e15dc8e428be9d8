package server

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/benjaminschubert/receiptcache/internal/cachestore"
	"github.com/benjaminschubert/receiptcache/internal/clients"
	"github.com/benjaminschubert/receiptcache/internal/config"
	"github.com/benjaminschubert/receiptcache/internal/handlers"
	"github.com/benjaminschubert/receiptcache/internal/handlers/admin"
	"github.com/benjaminschubert/receiptcache/internal/handlers/proxy"
	"github.com/benjaminschubert/receiptcache/internal/lifecycle"
	"github.com/benjaminschubert/receiptcache/internal/middleware"
	"github.com/benjaminschubert/receiptcache/internal/outbox"
)

// Delay between two attempts at activating a version whose activation failed.
const activationRetryInterval = 30 * time.Second

type Services struct {
	Controller *lifecycle.Controller
	Storage    *cachestore.Storage
	Outbox     *outbox.Outbox
	Hub        *clients.Hub
	Statistics *middleware.Statistics
}

type serverInfo struct {
	server *http.Server
	logger *zerolog.Logger
}

type Server struct {
	servers      []serverInfo
	controller   *lifecycle.Controller
	syncInterval time.Duration
	logger       *zerolog.Logger
}

func New(
	conf *config.Config,
	services Services,
	logger *zerolog.Logger,
	metricsRegistry interface {
		prometheus.Registerer
		prometheus.Gatherer
	},
) *Server {
	srv := Server{
		controller:   services.Controller,
		syncInterval: conf.SyncInterval,
		logger:       logger,
	}

	srv.servers = append(srv.servers, setupProxy(conf, services, logger, metricsRegistry))

	if conf.AdminInterface != "" {
		srv.servers = append(srv.servers, setupAdminInterface(conf, services, logger, metricsRegistry))
	} else if conf.EnableProfiling {
		logger.Warn().Msg("Profiling requested, but the admin interface is disabled. Ignoring.")
	}

	return &srv
}

// ListenAndServe installs the current version, then serves until interrupted.
// Requests are passed through to the origin while the installation runs, and
// for as long as it keeps failing.
func (s *Server) ListenAndServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, len(s.servers))

	for _, srv := range s.servers {
		go func() {
			srv.logger.Info().Str("address", srv.server.Addr).Msg("Starting server")
			err := srv.server.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error().Err(err).Msg("Server didn't come up properly")
				errChan <- err
			}
		}()
	}

	background := make(chan struct{})
	go func() {
		defer close(background)
		s.runController(ctx)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		s.logger.Info().Msg("Shutting down")
	case err := <-errChan:
		s.logger.Error().Err(err).Msg("At least one server is unhealthy, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer shutdownCancel()

	closingErrs := make(chan error, len(s.servers))

	for _, srv := range s.servers {
		go func() {
			err := srv.server.Shutdown(shutdownCtx)
			if err != nil {
				srv.logger.Error().Err(err).Msg("Error shutting down the server")
			}
			closingErrs <- err
		}()
	}

	var lastErr error
	for range len(s.servers) {
		if err := <-closingErrs; err != nil {
			lastErr = err
		}
	}

	<-background
	return lastErr
}

func (s *Server) runController(ctx context.Context) {
	if s.controller == nil {
		return
	}

	if err := s.controller.Start(s.logger.WithContext(ctx), activationRetryInterval); err != nil {
		s.logger.Error().
			Err(err).
			Str("cache", s.controller.Generation()).
			Stringer("state", s.controller.State()).
			Msg("Unable to take control, requests will go straight to the origin")
	}

	s.controller.RunBackgroundSync(ctx, s.syncInterval)
}

func setupProxy(
	conf *config.Config,
	services Services,
	logger *zerolog.Logger,
	registry prometheus.Registerer,
) serverInfo {
	serviceName := "proxy"
	log := logger.With().Str("service", serviceName).Logger()

	handler := http.NewServeMux()
	proxy.RegisterHandler(handler, conf.Origin.URL, services.Controller)
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	return createServer(
		fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		proxy.WithTunnel(handler, dialer),
		serviceName,
		&log,
		registry,
		services.Statistics,
	)
}

func setupAdminInterface(
	conf *config.Config,
	services Services,
	logger *zerolog.Logger,
	registry interface {
		prometheus.Registerer
		prometheus.Gatherer
	},
) serverInfo {
	serviceName := "admin"
	log := logger.With().Str("service", serviceName).Logger()

	handler := http.NewServeMux()

	if conf.EnableProfiling {
		log.Info().
			Str("profilingUrl", conf.AdminInterface+"/-/pprof/").
			Msg("Enabling profiling")
		handlers.RegisterProfilingHandlers(handler, "/-/pprof/")
	}

	if conf.EnableMetrics {
		log.Info().
			Str("metricsUrl", conf.AdminInterface+"/metrics").
			Msg("Enabling metrics")
		handler.Handle(
			"GET /metrics",
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	deps := admin.Dependencies{
		Controller: services.Controller,
		Storage:    services.Storage,
		Outbox:     services.Outbox,
		Hub:        services.Hub,
		Statistics: services.Statistics,
	}
	if err := admin.RegisterHandler(handler, deps, conf); err != nil {
		logger.Panic().Err(err).Msg("unable to initialize server properly")
	}
	handler.HandleFunc("/", handlers.NotImplemented)

	return createServer(conf.AdminInterface, handler, serviceName, &log, registry, nil)
}

func createServer(
	address string,
	handler *http.ServeMux,
	serviceName string,
	log *zerolog.Logger,
	registry prometheus.Registerer,
	stats *middleware.Statistics,
) serverInfo {
	return serverInfo{
		&http.Server{
			Addr:              address,
			Handler:           middleware.ApplyAllMiddlewares(handler, serviceName, log, registry, stats),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          stdlog.New(log, "", 0),
		},
		log,
	}
}
