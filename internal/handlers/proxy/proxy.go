// Package proxy exposes the controller as an HTTP accelerator in front of the
// origin.
package proxy

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/hlog"

	"github.com/benjaminschubert/receiptcache/internal/handlers"
)

type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Headers that only apply to a single connection and must not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RegisterHandler sends every request through the fetcher. Requests in origin
// form are rebuilt against the origin. Absolute-form requests, as sent to a
// forward proxy, are used as is. CONNECT requests are handled by WithTunnel.
func RegisterHandler(handler *http.ServeMux, origin *url.URL, fetcher Fetcher) {
	handler.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)

		upstreamReq, err := newUpstreamRequest(r, origin)
		if err != nil {
			logger.Warn().Err(err).Msg("Unable to build the upstream request")
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		resp, err := fetcher.Fetch(r.Context(), upstreamReq) //nolint:bodyclose
		if err != nil {
			logger.Warn().Err(err).Str("upstream", upstreamReq.URL.Redacted()).Msg("Unable to reach upstream")
			http.Error(w, "Unable to reach upstream", http.StatusBadGateway)
			return
		}

		handlers.WriteResponse(w, r, resp)
	})
}

func upstreamURL(r *http.Request, origin *url.URL) *url.URL {
	if r.URL.IsAbs() {
		target := *r.URL
		return &target
	}

	return origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
}

func newUpstreamRequest(r *http.Request, origin *url.URL) (*http.Request, error) {
	body := r.Body
	if r.ContentLength == 0 {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL(r, origin).String(), body)
	if err != nil {
		return nil, err
	}

	req.ContentLength = r.ContentLength
	req.Header = r.Header.Clone()
	for _, header := range hopByHopHeaders {
		req.Header.Del(header)
	}

	return req, nil
}
