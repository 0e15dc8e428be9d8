// Package httpheaders matches stored responses against new requests using
// the response 'Vary' header, the way the browser Cache API does.
//
// See https://datatracker.ietf.org/doc/html/rfc9110#section-12.5.5
package httpheaders

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

func getVaryHeaderNames(headers http.Header) []string {
	hdrs := make([]string, 0)

	varys := headers["Vary"]
	for _, vary := range varys {
		for field := range strings.SplitSeq(vary, ",") {
			field = strings.TrimSpace(field)
			if field != "" {
				hdrs = append(hdrs, http.CanonicalHeaderKey(field))
			}
		}
	}

	return hdrs
}

func normalizeVaryHeaders(headerVal []string) []string {
	if headerVal == nil {
		return nil
	}
	return []string{strings.Join(headerVal, ", ")}
}

// ExtractVaryHeaders keeps the request headers named by the response 'Vary'.
func ExtractVaryHeaders(reqHeaders, respHeaders http.Header) http.Header {
	varyHeaders := getVaryHeaderNames(respHeaders)
	relevantHeaders := http.Header{}

	for _, header := range varyHeaders {
		relevantHeaders[header] = normalizeVaryHeaders(reqHeaders[header])
	}

	return relevantHeaders
}

// MatchVaryHeaders reports whether a request carries the same values as the
// request a response was stored for, for every header the response varies on.
func MatchVaryHeaders(reqHeaders, varyHeaders http.Header, logger *zerolog.Logger) bool {
	if len(varyHeaders) == 0 {
		return true
	}

	if _, ok := varyHeaders["*"]; ok {
		return false
	}

	for headerName, headerValue := range varyHeaders {
		reqHeader := normalizeVaryHeaders(reqHeaders[headerName])
		if len(reqHeader) != len(headerValue) {
			logger.Debug().
				Str("header", headerName).
				Strs("currentHeaders", reqHeader).
				Strs("originalHeaders", headerValue).
				Msg("cached response varies on a header with a different number of values")
			return false
		}

		if len(reqHeader) == 1 && headerValue[0] != reqHeader[0] {
			logger.Debug().
				Str("header", headerName).
				Strs("currentHeaders", reqHeader).
				Strs("originalHeaders", headerValue).
				Msg("cached response varies on a header with a different value")
			return false
		}
	}

	return true
}
