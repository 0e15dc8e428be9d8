package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/benjaminschubert/receiptcache/internal/middleware"
)

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// WithTunnel answers CONNECT requests by piping the client connection to the
// requested host, and hands every other request to next. Tunneled traffic is
// opaque and never cached. ServeMux cannot route CONNECT requests, their
// target has no path.
func WithTunnel(next http.Handler, dialer Dialer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			next.ServeHTTP(w, r)
			return
		}
		tunnel(w, r, dialer)
	})
}

func tunnelAddress(r *http.Request) string {
	address := r.Host
	if address == "" {
		address = r.URL.Host
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, "443")
	}
	return address
}

func tunnel(w http.ResponseWriter, r *http.Request, dialer Dialer) {
	logger := hlog.FromRequest(r)
	middleware.SetCacheState(r.Context(), middleware.CachePassthrough)

	address := tunnelAddress(r)
	upstream, err := dialer.DialContext(r.Context(), "tcp", address)
	if err != nil {
		logger.Warn().Err(err).Str("upstream", address).Msg("Unable to reach upstream")
		http.Error(w, "Unable to reach upstream", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusOK)
	client, buffered, err := http.NewResponseController(w).Hijack()
	if err != nil {
		logger.Error().Err(err).Msg("Unable to take over the client connection")
		if err := upstream.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing upstream connection")
		}
		return
	}

	// The server might have left deadlines on the connection.
	if err := client.SetDeadline(time.Time{}); err != nil {
		logger.Warn().Err(err).Msg("Unable to clear deadlines on the client connection")
	}

	sent, received := pipe(client, buffered.Reader, upstream, logger)
	logger.Debug().
		Str("upstream", address).
		Int64("sent", sent).
		Int64("received", received).
		Msg("Tunnel closed")
}

// pipe copies both directions until each side is done sending, then closes
// both connections.
func pipe(client net.Conn, fromClient *bufio.Reader, upstream net.Conn, logger *zerolog.Logger) (int64, int64) {
	var (
		wg       sync.WaitGroup
		sent     int64
		received int64
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sent, _ = io.Copy(upstream, fromClient)
		closeWrite(upstream, logger)
	}()
	go func() {
		defer wg.Done()
		received, _ = io.Copy(client, upstream)
		closeWrite(client, logger)
	}()
	wg.Wait()

	for _, conn := range []net.Conn{client, upstream} {
		if err := conn.Close(); err != nil && !isClosed(err) {
			logger.Warn().Err(err).Msg("Error closing tunnel connection")
		}
	}
	return sent, received
}

func closeWrite(conn net.Conn, logger *zerolog.Logger) {
	if half, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := half.CloseWrite(); err != nil && !isClosed(err) {
			logger.Debug().Err(err).Msg("Unable to half-close tunnel connection")
		}
		return
	}
	if err := conn.Close(); err != nil && !isClosed(err) {
		logger.Debug().Err(err).Msg("Unable to close tunnel connection")
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
