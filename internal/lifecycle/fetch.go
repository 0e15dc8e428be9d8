package lifecycle

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/benjaminschubert/receiptcache/internal/cachestore"
	"github.com/benjaminschubert/receiptcache/internal/middleware"
	"github.com/benjaminschubert/receiptcache/internal/router"
)

// Fetch serves an intercepted request. Until the version is activated, every
// request goes to the network untouched.
func (c *Controller) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	cache, active := c.activeCache()
	if !active {
		return c.passthrough(ctx, req)
	}

	strategy := c.policy.Classify(req)
	zerolog.Ctx(ctx).Debug().Stringer("strategy", strategy).Msg("Intercepted request")

	switch strategy {
	case router.NetworkFirst:
		return c.networkFirst(ctx, cache, req)
	case router.CacheFirst:
		return c.cacheFirst(ctx, cache, req)
	default:
		return c.passthrough(ctx, req)
	}
}

func (c *Controller) passthrough(ctx context.Context, req *http.Request) (*http.Response, error) {
	middleware.SetCacheState(ctx, middleware.CachePassthrough)
	return c.fetcher.Do(req)
}

// store returns a response streaming the same body, which is written to the
// cache once fully read. Failing to set up the write never fails the request.
func (c *Controller) store(
	ctx context.Context,
	cache *cachestore.Cache,
	req *http.Request,
	resp *http.Response,
) *http.Response {
	stored, err := cache.Put(ctx, req, resp)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Unable to store response in the cache")
		return resp
	}
	return stored
}

func (c *Controller) networkFirst(
	ctx context.Context,
	cache *cachestore.Cache,
	req *http.Request,
) (*http.Response, error) {
	logger := zerolog.Ctx(ctx)

	resp, err := c.fetcher.Do(req)
	if err != nil {
		cached, matchErr := c.storage.Match(ctx, req)
		if matchErr == nil {
			logger.Debug().Err(err).Msg("Network unavailable, serving from the cache")
			middleware.SetCacheState(ctx, middleware.CacheFallback)
			return cached, nil
		}
		if !errors.Is(matchErr, cachestore.ErrNotFound) {
			logger.Warn().Err(matchErr).Msg("Unable to look up the cache")
		}

		middleware.SetCacheState(ctx, middleware.CacheOffline)
		return nil, err
	}

	if !c.policy.Cacheable(req, resp) {
		middleware.SetCacheState(ctx, middleware.CacheUncacheable)
		return resp, nil
	}

	middleware.SetCacheState(ctx, middleware.CacheRefreshed)
	return c.store(ctx, cache, req, resp), nil
}

func (c *Controller) cacheFirst(
	ctx context.Context,
	cache *cachestore.Cache,
	req *http.Request,
) (*http.Response, error) {
	logger := zerolog.Ctx(ctx)

	cached, err := c.storage.Match(ctx, req)
	if err == nil {
		middleware.SetCacheState(ctx, middleware.CacheHit)
		return cached, nil
	}
	if !errors.Is(err, cachestore.ErrNotFound) {
		logger.Warn().Err(err).Msg("Unable to look up the cache, going to the network")
	}

	resp, err := c.fetcher.Do(req)
	if err != nil {
		middleware.SetCacheState(ctx, middleware.CacheOffline)
		return nil, err
	}

	if !c.policy.Cacheable(req, resp) {
		middleware.SetCacheState(ctx, middleware.CacheUncacheable)
		return resp, nil
	}

	middleware.SetCacheState(ctx, middleware.CacheMiss)
	return c.store(ctx, cache, req, resp), nil
}
