// Package cachestore implements named generations of cached HTTP responses,
// persisted across restarts.
//
// Entry metadata is stored in badger, keyed by generation and request, bodies
// are stored once per content in the file cache, and a ristretto index keeps
// recently written entries in memory.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dgraph-io/ristretto/v2/z"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/benjaminschubert/receiptcache/internal/database"
	"github.com/benjaminschubert/receiptcache/internal/filecache"
	"github.com/benjaminschubert/receiptcache/internal/units"
)

var (
	ErrNotFound       = errors.New("no matching entry in the cache")
	ErrInvalidName    = errors.New("invalid cache name")
	ErrNotCacheable   = errors.New("only GET requests can be cached")
	ErrAddAllFailed   = errors.New("unable to add all requests to the cache")
	errTooManyRetries = errors.New("too many conflicting writes")
)

const (
	keySeparator = "\x00"
	maxRetries   = 10
	keyLocks     = 64
)

type Options struct {
	MemorySize units.Bytes
	// GCInterval is the period of the background collector. Zero disables it.
	GCInterval time.Duration
	// GCGracePeriod protects freshly written bodies whose entry might not be
	// committed yet.
	GCGracePeriod time.Duration
}

type Storage struct {
	db          *database.Database
	generations *database.Collection[Generation, *Generation]
	entries     *database.Collection[CachedResponse, *CachedResponse]
	files       *filecache.FileCache
	hot         *ristretto.Cache[string, CachedResponse]
	logger      *zerolog.Logger

	gcGracePeriod time.Duration
	gcRequests    chan struct{}
	gcLock        sync.Mutex
	genLock       sync.Mutex
	keyLocks      [keyLocks]sync.Mutex

	stopSignal chan struct{}
	stopWait   sync.WaitGroup
	closeOnce  sync.Once
}

func New(cachePath string, opts Options, logger *zerolog.Logger) (*Storage, error) {
	files, err := filecache.NewFileCache(path.Join(cachePath, "files"))
	if err != nil {
		return nil, fmt.Errorf("unable to initialize file cache: %w", err)
	}

	// Ensure the db logger is not too chatty
	dbLogger := logger.With().Str("component", "database").Logger()
	if dbLogger.GetLevel() < zerolog.WarnLevel {
		dbLogger = dbLogger.Level(zerolog.WarnLevel)
	}

	db, err := database.NewDatabase(path.Join(cachePath, "db"), &dbLogger)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize database: %w", err)
	}

	maxCost := max(opts.MemorySize.Bytes, 1024*1024)
	hot, err := ristretto.NewCache(&ristretto.Config[string, CachedResponse]{
		NumCounters: max(maxCost/100, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("unable to initialize memory index: %w", err), db.Close())
	}

	s := &Storage{
		db:            db,
		generations:   database.NewCollection[Generation](db, "generations"),
		entries:       database.NewCollection[CachedResponse](db, "entries"),
		files:         files,
		hot:           hot,
		logger:        logger,
		gcGracePeriod: opts.GCGracePeriod,
		gcRequests:    make(chan struct{}, 1),
		stopSignal:    make(chan struct{}),
	}

	s.stopWait.Add(1)
	go s.manage(opts.GCInterval)

	return s, nil
}

func (s *Storage) Close() error {
	err := error(nil)

	s.closeOnce.Do(func() {
		close(s.stopSignal)
		s.stopWait.Wait()
		s.hot.Close()
		err = s.db.Close()
	})

	return err
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, keySeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// RequestKey is the key a request is stored under. Only GET requests have one.
func RequestKey(req *http.Request) (string, error) {
	if req.Method != http.MethodGet {
		return "", fmt.Errorf("%w: got %s", ErrNotCacheable, req.Method)
	}

	uri := *req.URL
	uri.Fragment = ""
	uri.RawFragment = ""
	return req.Method + "+" + uri.String(), nil
}

func entryKey(name, requestKey string) string {
	return name + keySeparator + requestKey
}

func keyStripe(key string) uint64 {
	hash, _ := z.KeyToHash(key)
	return hash % keyLocks
}

func (s *Storage) lockKey(key string) func() {
	lock := &s.keyLocks[keyStripe(key)]
	lock.Lock()
	return lock.Unlock
}

// lockKeys takes the locks of every key, always in the same order.
func (s *Storage) lockKeys(keys []string) func() {
	stripes := make([]uint64, 0, len(keys))
	for _, key := range keys {
		stripes = append(stripes, keyStripe(key))
	}
	slices.Sort(stripes)
	stripes = slices.Compact(stripes)

	for _, stripe := range stripes {
		s.keyLocks[stripe].Lock()
	}
	return func() {
		for _, stripe := range slices.Backward(stripes) {
			s.keyLocks[stripe].Unlock()
		}
	}
}

// ristretto buffers the first Set of a key and drops a second one arriving
// before the buffer is applied. Callers hold the key lock, so waiting for the
// buffers makes the next write to the key an in-place update.
func (s *Storage) setHot(key string, value CachedResponse) {
	s.hot.Set(key, value, int64(value.Msgsize()))
	s.hot.Wait()
}

func (s *Storage) dropHot(key string) {
	s.hot.Del(key)
	s.hot.Wait()
}

// Open returns the named generation, creating it if it does not exist.
func (s *Storage) Open(_ context.Context, name string) (*Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.genLock.Lock()
	defer s.genLock.Unlock()

	gen := Generation{Name: name, CreatedAt: time.Now().UTC()}

	entry, err := s.generations.Get(name)
	switch {
	case err == nil:
		gen = entry.Value
	case errors.Is(err, database.ErrKeyNotFound):
		err = s.generations.New(name, gen)
		if err == nil {
			s.logger.Debug().Str("cache", name).Msg("Created cache generation")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open cache %s: %w", name, err)
	}

	return &Cache{s, gen}, nil
}

func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	_, err := s.generations.Get(name)
	if errors.Is(err, database.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get returns the named generation without creating it.
func (s *Storage) Get(_ context.Context, name string) (*Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	entry, err := s.generations.Get(name)
	if errors.Is(err, database.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: no cache named %s", ErrNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("unable to get cache %s: %w", name, err)
	}
	return &Cache{s, entry.Value}, nil
}

func (s *Storage) listGenerations(ctx context.Context) ([]Generation, error) {
	generations := []Generation{}

	err := s.generations.Iterate(
		ctx,
		"",
		func(_ string, entry *database.Entry[Generation]) error {
			generations = append(generations, entry.Value)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to list caches: %w", err)
	}

	slices.SortStableFunc(generations, func(a, b Generation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return generations, nil
}

// Keys returns the name of every generation, oldest first.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	generations, err := s.listGenerations(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(generations))
	for _, gen := range generations {
		names = append(names, gen.Name)
	}
	return names, nil
}

// Delete removes a generation and all its entries. It reports whether the
// generation existed.
func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	s.genLock.Lock()
	defer s.genLock.Unlock()

	entry, err := s.generations.Get(name)
	if errors.Is(err, database.ErrKeyNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("unable to delete cache %s: %w", name, err)
	}

	if err := s.generations.Delete(name, entry); err != nil {
		return false, fmt.Errorf("unable to delete cache %s: %w", name, err)
	}
	if err := s.entries.DeletePrefix(name + keySeparator); err != nil {
		return true, fmt.Errorf("unable to delete entries of cache %s: %w", name, err)
	}

	s.logger.Debug().Str("cache", name).Msg("Deleted cache generation")
	s.RequestGarbageCollection()
	return true, nil
}

// Match looks for the request in every generation, oldest first.
func (s *Storage) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	generations, err := s.listGenerations(ctx)
	if err != nil {
		return nil, err
	}

	for _, gen := range generations {
		resp, err := (&Cache{s, gen}).Match(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}

func (s *Storage) RequestGarbageCollection() {
	select {
	case s.gcRequests <- struct{}{}:
	default:
	}
}

// CollectGarbage removes bodies that no entry references anymore and reclaims
// database space.
func (s *Storage) CollectGarbage(ctx context.Context, logID string) error {
	s.gcLock.Lock()
	defer s.gcLock.Unlock()

	logger := s.logger.With().Str("id", logID).Str("component", "gc").Logger()
	cutoff := time.Now().Add(-s.gcGracePeriod)

	// Bodies listed before entries: a body committed after the listing is
	// never considered for removal.
	hashes, err := s.files.GetAllHashes()
	if err != nil {
		return fmt.Errorf("unable to list cached files: %w", err)
	}

	referenced := map[string]struct{}{}
	err = s.entries.Iterate(
		ctx,
		"",
		func(_ string, entry *database.Entry[CachedResponse]) error {
			referenced[entry.Value.ContentHash] = struct{}{}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("unable to list cached entries: %w", err)
	}

	removed := 0
	for _, hash := range hashes {
		if _, ok := referenced[hash]; ok {
			continue
		}

		stat, err := s.files.Stat(hash)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn().Err(err).Str("hash", hash).Msg("unable to stat cached file")
			}
			continue
		}
		if stat.ModTime().After(cutoff) {
			continue
		}

		if err := s.files.Remove(hash); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("hash", hash).Msg("unable to remove cached file")
			continue
		}
		removed++
	}

	logger.Info().Int("removed", removed).Msg("Unreferenced files removed, vacuuming database")
	if err := s.db.RunGarbageCollector(); err != nil && !errors.Is(err, database.ErrNoRewrite) {
		return fmt.Errorf("unable to vacuum the database: %w", err)
	}
	return nil
}

func (s *Storage) manage(interval time.Duration) {
	defer s.stopWait.Done()

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
		case <-s.gcRequests:
		case <-s.stopSignal:
			return
		}

		if err := s.CollectGarbage(context.Background(), xid.New().String()); err != nil {
			s.logger.Error().Err(err).Msg("an error happened trying to reclaim space")
		}
	}
}

func (s *Storage) GetStatistics(ctx context.Context) (Statistics, error) {
	generations, err := s.listGenerations(ctx)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		DatabaseSize: s.db.Size(),
		Generations:  make([]GenerationStatistics, 0, len(generations)),
	}

	stats.FileCacheEntries, stats.FileCacheSize, err = s.files.GetStatistics()
	if err != nil {
		return Statistics{}, err
	}

	for _, gen := range generations {
		genStats := GenerationStatistics{Name: gen.Name, CreatedAt: gen.CreatedAt, InstalledAt: gen.InstalledAt}

		err := s.entries.Iterate(
			ctx,
			gen.Name+keySeparator,
			func(_ string, entry *database.Entry[CachedResponse]) error {
				genStats.Entries++
				stat, err := s.files.Stat(entry.Value.ContentHash)
				if err == nil {
					genStats.Size += stat.Size()
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				return nil
			},
		)
		if err != nil {
			return Statistics{}, err
		}

		stats.Generations = append(stats.Generations, genStats)
	}

	return stats, nil
}
