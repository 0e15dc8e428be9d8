// Package router decides how an intercepted request is served.
package router

import (
	"net/http"
	"net/url"
	"strings"
)

type Strategy int

const (
	// Passthrough requests go to the network and never touch the cache.
	Passthrough Strategy = iota
	NetworkFirst
	CacheFirst
)

func (s Strategy) String() string {
	switch s {
	case Passthrough:
		return "passthrough"
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	default:
		return "unknown"
	}
}

type ResponseType string

const (
	Basic ResponseType = "basic"
	Cors  ResponseType = "cors"
)

const apiMarker = "/api/"

type Policy struct {
	Origin *url.URL
	// External lists the cross-origin URLs that are intercepted. A request is
	// matched when its URL starts with one of them.
	External []string
}

func NewPolicy(origin *url.URL, external []string) *Policy {
	return &Policy{Origin: origin, External: external}
}

func (p *Policy) isSameOrigin(uri *url.URL) bool {
	return strings.EqualFold(uri.Scheme, p.Origin.Scheme) && strings.EqualFold(uri.Host, p.Origin.Host)
}

func (p *Policy) isExternal(uri *url.URL) bool {
	href := uri.String()
	for _, prefix := range p.External {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}

func (p *Policy) Classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet {
		return Passthrough
	}
	if !p.isSameOrigin(req.URL) && !p.isExternal(req.URL) {
		return Passthrough
	}
	if strings.Contains(req.URL.String(), apiMarker) {
		return NetworkFirst
	}
	return CacheFirst
}

// ResponseType is Basic for same origin responses that were not redirected.
func (p *Policy) ResponseType(req *http.Request, resp *http.Response) ResponseType {
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}

	if !p.isSameOrigin(final) || final.String() != req.URL.String() {
		return Cors
	}
	return Basic
}

func (p *Policy) Cacheable(req *http.Request, resp *http.Response) bool {
	return resp.StatusCode == http.StatusOK && p.ResponseType(req, resp) == Basic
}
