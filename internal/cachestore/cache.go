package cachestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benjaminschubert/receiptcache/internal/database"
	"github.com/benjaminschubert/receiptcache/internal/httpheaders"
)

type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache is a handle on a single generation.
type Cache struct {
	storage *Storage
	gen     Generation
}

func (c *Cache) Name() string {
	return c.gen.Name
}

// Info returns the generation as it was when the handle was opened.
func (c *Cache) Info() Generation {
	return c.gen
}

// Installed reports whether the generation was marked as installed when the
// handle was opened.
func (c *Cache) Installed() bool {
	return !c.gen.InstalledAt.IsZero()
}

// Generations recreated under the same name get a new creation time, so
// in-memory entries of a deleted generation are never served.
func (c *Cache) hotKey(key string) string {
	return key + keySeparator + strconv.FormatInt(c.gen.CreatedAt.UnixNano(), 36)
}

// MarkInstalled records that the generation holds its whole manifest.
func (c *Cache) MarkInstalled(_ context.Context) error {
	c.storage.genLock.Lock()
	defer c.storage.genLock.Unlock()

	entry, err := c.storage.generations.Get(c.gen.Name)
	if err != nil {
		return fmt.Errorf("unable to mark %s as installed: %w", c.gen.Name, err)
	}

	entry.Value.InstalledAt = time.Now().UTC()
	if err := c.storage.generations.Save(c.gen.Name, entry); err != nil {
		return fmt.Errorf("unable to mark %s as installed: %w", c.gen.Name, err)
	}

	c.gen = entry.Value
	return nil
}

func (c *Cache) lookup(key string) (CachedResponse, error) {
	if entry, ok := c.storage.hot.Get(c.hotKey(key)); ok {
		return entry, nil
	}

	entry, err := c.storage.entries.Get(key)
	if err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			return CachedResponse{}, ErrNotFound
		}
		return CachedResponse{}, err
	}
	return entry.Value, nil
}

// Match returns the stored response for the request, or ErrNotFound.
func (c *Cache) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	logger := zerolog.Ctx(ctx)

	requestKey, err := RequestKey(req)
	if err != nil {
		return nil, ErrNotFound
	}
	key := entryKey(c.gen.Name, requestKey)

	entry, err := c.lookup(key)
	if err != nil {
		return nil, err
	}

	if !httpheaders.MatchVaryHeaders(req.Header, entry.VaryHeaders, logger) {
		return nil, ErrNotFound
	}

	body, err := c.storage.files.Open(entry.ContentHash, logger)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Str("cache", c.gen.Name).Msg("Entry has been pruned from the cache already")
			unlock := c.storage.lockKey(key)
			c.storage.dropHot(c.hotKey(key))
			unlock()
			return nil, ErrNotFound
		}
		return nil, err
	}

	contentLength := int64(-1)
	if stat, err := body.Stat(); err == nil {
		contentLength = stat.Size()
	}

	return &http.Response{
		Status:        strconv.Itoa(entry.StatusCode) + " " + http.StatusText(entry.StatusCode),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        entry.Headers.Clone(),
		Body:          body,
		ContentLength: contentLength,
		Request:       req,
	}, nil
}

func (c *Cache) commit(key string, value CachedResponse) error {
	unlock := c.storage.lockKey(key)
	defer unlock()

	for range maxRetries {
		entry, err := c.storage.entries.Get(key)
		switch {
		case errors.Is(err, database.ErrKeyNotFound):
			err = c.storage.entries.New(key, value)
		case err == nil:
			entry.Value = value
			err = c.storage.entries.Save(key, entry)
		}

		if errors.Is(err, database.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}

		c.storage.setHot(c.hotKey(key), value)
		return nil
	}

	return fmt.Errorf("unable to save %s: %w", key, errTooManyRetries)
}

func newEntry(req *http.Request, resp *http.Response, hash string) CachedResponse {
	return CachedResponse{
		ContentHash: hash,
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		VaryHeaders: httpheaders.ExtractVaryHeaders(req.Header, resp.Header),
		URL:         req.URL.String(),
		StoredAt:    time.Now().UTC(),
	}
}

// Put stores the response for the request. The returned response streams the
// same body to the caller; the entry is written once that body has been read
// entirely and closed. A body that is not consumed completely is not stored.
func (c *Cache) Put(ctx context.Context, req *http.Request, resp *http.Response) (*http.Response, error) {
	requestKey, err := RequestKey(req)
	if err != nil {
		return resp, err
	}
	key := entryKey(c.gen.Name, requestKey)
	logger := zerolog.Ctx(ctx)

	clone := *resp
	clone.Body = c.storage.files.SetupIngestion(
		resp.Body,
		func(hash string, _ int64) error {
			if err := c.commit(key, newEntry(req, resp, hash)); err != nil {
				logger.Error().Err(err).Str("cache", c.gen.Name).Msg("Error saving entry in the database")
				return err
			}
			logger.Debug().Str("cache", c.gen.Name).Msg("Response saved in the cache")
			return nil
		},
		logger,
	)
	return &clone, nil
}

// Store reads the whole response and stores it before returning.
func (c *Cache) Store(ctx context.Context, req *http.Request, resp *http.Response) error {
	requestKey, err := RequestKey(req)
	if err != nil {
		return err
	}

	hash, err := c.ingest(resp)
	if err != nil {
		return err
	}

	return c.commit(entryKey(c.gen.Name, requestKey), newEntry(req, resp, hash))
}

func (c *Cache) ingest(resp *http.Response) (string, error) {
	hash, _, err := c.storage.files.Ingest(resp.Body)
	if closeErr := resp.Body.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("unable to store body: %w", err)
	}
	return hash, nil
}

// AddAll fetches every URL and stores all the responses at once. If any fetch
// fails, or returns a non 2xx status, nothing is stored.
func (c *Cache) AddAll(ctx context.Context, fetcher Fetcher, urls []string) error {
	logger := zerolog.Ctx(ctx)
	values := make(map[string]CachedResponse, len(urls))

	for _, uri := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAddAllFailed, err)
		}

		resp, err := fetcher.Do(req)
		if err != nil {
			return fmt.Errorf("%w: fetching %s: %w", ErrAddAllFailed, uri, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			if err := resp.Body.Close(); err != nil {
				logger.Warn().Err(err).Msg("Error closing upstream response body")
			}
			return fmt.Errorf("%w: %s answered with status %d", ErrAddAllFailed, uri, resp.StatusCode)
		}

		hash, err := c.ingest(resp)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrAddAllFailed, uri, err)
		}

		requestKey, _ := RequestKey(req)
		values[entryKey(c.gen.Name, requestKey)] = newEntry(req, resp, hash)
	}

	unlock := c.storage.lockKeys(slices.Collect(maps.Keys(values)))
	defer unlock()

	if err := c.storage.entries.SaveAll(values); err != nil {
		return fmt.Errorf("%w: %w", ErrAddAllFailed, err)
	}
	for key, value := range values {
		c.storage.setHot(c.hotKey(key), value)
	}

	logger.Debug().Str("cache", c.gen.Name).Int("entries", len(values)).Msg("Added all requests to the cache")
	return nil
}

// Keys returns the request keys stored in the generation.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	keys := []string{}
	prefix := c.gen.Name + keySeparator

	err := c.storage.entries.Iterate(
		ctx,
		prefix,
		func(key string, _ *database.Entry[CachedResponse]) error {
			keys = append(keys, strings.TrimPrefix(key, prefix))
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to list entries of %s: %w", c.gen.Name, err)
	}
	return keys, nil
}

// Delete removes the entry for the request, reporting whether it existed.
func (c *Cache) Delete(_ context.Context, req *http.Request) (bool, error) {
	requestKey, err := RequestKey(req)
	if err != nil {
		return false, nil
	}
	key := entryKey(c.gen.Name, requestKey)

	unlock := c.storage.lockKey(key)
	defer unlock()

	entry, err := c.storage.entries.Get(key)
	if errors.Is(err, database.ErrKeyNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	c.storage.dropHot(c.hotKey(key))
	if err := c.storage.entries.Delete(key, entry); err != nil {
		return false, err
	}
	return true, nil
}
