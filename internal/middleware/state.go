package middleware

import (
	"context"
	"net/http"
)

// Outcomes of an intercepted request, as recorded by SetCacheState.
const (
	CacheHit         = "hit"
	CacheMiss        = "miss"
	CacheRefreshed   = "refreshed"
	CacheFallback    = "fallback"
	CacheUncacheable = "uncacheable"
	CachePassthrough = "passthrough"
	CacheOffline     = "offline"
)

type ctxStateKeyStruct struct{}

var ctxStateKey = ctxStateKeyStruct{}

type RequestState struct {
	cache string
}

func initializeState(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxStateKey, &RequestState{})
}

// SetCacheState records how the request was served. It is a no-op outside of
// StateHandler.
func SetCacheState(ctx context.Context, value string) {
	if state, ok := ctx.Value(ctxStateKey).(*RequestState); ok {
		state.cache = value
	}
}

func GetCacheState(ctx context.Context) string {
	state, ok := ctx.Value(ctxStateKey).(*RequestState)
	if !ok || state.cache == "" {
		return "N/A"
	}
	return state.cache
}

func StateHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(initializeState(r.Context()))
		next.ServeHTTP(w, r)
	})
}
