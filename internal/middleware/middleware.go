package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(serviceName string, registry prometheus.Registerer) *metrics {
	labels := prometheus.Labels{"service": serviceName}

	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "receiptcache_http_requests_total",
				Help:        "Number of requests processed, by status code and cache outcome",
				ConstLabels: labels,
			},
			[]string{"method", "code", "cache"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "receiptcache_http_request_duration_seconds",
				Help:        "Time taken to answer requests, by cache outcome",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"cache"},
		),
	}

	if registry != nil {
		registry.MustRegister(m.requests, m.duration)
	}
	return m
}

func newLoggingMiddleware(
	handler http.Handler,
	logger *zerolog.Logger,
	m *metrics,
	stats *Statistics,
) http.Handler {
	logHandler := hlog.NewHandler(*logger)

	correlationID := hlog.RequestIDHandler("id", "X-Receiptcache-Correlation-ID")

	urlHandler := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := zerolog.Ctx(r.Context())
			log.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("url", r.URL.Redacted())
			})
			next.ServeHTTP(w, r)
		})
	}

	access := hlog.AccessHandler(func(req *http.Request, status, size int, duration time.Duration) {
		cacheState := GetCacheState(req.Context())

		m.requests.WithLabelValues(req.Method, strconv.Itoa(status), cacheState).Inc()
		m.duration.WithLabelValues(cacheState).Observe(duration.Seconds())
		if stats != nil {
			stats.Record(cacheState, size)
		}

		level := zerolog.InfoLevel
		if status == 0 {
			level = zerolog.ErrorLevel
		} else if status >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}

		l := hlog.FromRequest(req).WithLevel(level) //nolint:zerologlint
		if ua := req.Header.Get("User-Agent"); ua != "" {
			l = l.Str("user-agent", ua)
		}
		l.
			Str("ip", req.RemoteAddr).
			Str("method", req.Method).
			Str("cache", cacheState).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Processed request")
	})

	return StateHandler(logHandler(correlationID(access(urlHandler(handler)))))
}

func newTraceMiddleware(next http.Handler, logger *zerolog.Logger) http.Handler {
	if logger.GetLevel() > zerolog.TraceLevel {
		logger.Debug().Msg("Tracing disabled, not adding trace middleware")
		return next
	}

	return http.HandlerFunc(func(respw http.ResponseWriter, req *http.Request) {
		headers := req.Header.Clone()
		headers.Del("Authorization")
		headers.Del("Cookie")

		hlog.FromRequest(req).Trace().
			Any("headers", headers).
			Str("method", req.Method).
			Msg("Received request")
		defer func() {
			hlog.FromRequest(req).Trace().Any("headers", respw.Header()).Msg("Returned response")
		}()
		next.ServeHTTP(respw, req)
	})
}

// ApplyAllMiddlewares wraps the handler with request ids, access logs, metrics
// and, at trace level, header dumps. stats may be nil.
func ApplyAllMiddlewares(
	handler http.Handler,
	serviceName string,
	logger *zerolog.Logger,
	registry prometheus.Registerer,
	stats *Statistics,
) http.Handler {
	return newLoggingMiddleware(
		newTraceMiddleware(handler, logger),
		logger,
		newMetrics(serviceName, registry),
		stats,
	)
}
