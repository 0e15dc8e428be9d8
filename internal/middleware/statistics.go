package middleware

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Statistics are totals kept across restarts.
type Statistics struct {
	CacheHits      atomic.Uint64
	CacheMisses    atomic.Uint64
	Refreshed      atomic.Uint64
	Fallbacks      atomic.Uint64
	UnCacheable    atomic.Uint64
	Passthrough    atomic.Uint64
	Offline        atomic.Uint64
	BytesServed    atomic.Uint64
	BytesFromCache atomic.Uint64
}

type StatisticsSnapshot struct {
	CacheHits      uint64 `json:"cacheHits"`
	CacheMisses    uint64 `json:"cacheMisses"`
	Refreshed      uint64 `json:"refreshed"`
	Fallbacks      uint64 `json:"fallbacks"`
	UnCacheable    uint64 `json:"uncacheable"`
	Passthrough    uint64 `json:"passthrough"`
	Offline        uint64 `json:"offline"`
	BytesServed    uint64 `json:"bytesServed"`
	BytesFromCache uint64 `json:"bytesFromCache"`
}

func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		CacheHits:      s.CacheHits.Load(),
		CacheMisses:    s.CacheMisses.Load(),
		Refreshed:      s.Refreshed.Load(),
		Fallbacks:      s.Fallbacks.Load(),
		UnCacheable:    s.UnCacheable.Load(),
		Passthrough:    s.Passthrough.Load(),
		Offline:        s.Offline.Load(),
		BytesServed:    s.BytesServed.Load(),
		BytesFromCache: s.BytesFromCache.Load(),
	}
}

func (s *Statistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

func (s *Statistics) UnmarshalJSON(data []byte) error {
	var snapshot StatisticsSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	s.CacheHits.Store(snapshot.CacheHits)
	s.CacheMisses.Store(snapshot.CacheMisses)
	s.Refreshed.Store(snapshot.Refreshed)
	s.Fallbacks.Store(snapshot.Fallbacks)
	s.UnCacheable.Store(snapshot.UnCacheable)
	s.Passthrough.Store(snapshot.Passthrough)
	s.Offline.Store(snapshot.Offline)
	s.BytesServed.Store(snapshot.BytesServed)
	s.BytesFromCache.Store(snapshot.BytesFromCache)
	return nil
}

// Record accounts for a request served with the given cache outcome.
func (s *Statistics) Record(outcome string, size int) {
	bytes := uint64(max(size, 0)) //nolint:gosec
	s.BytesServed.Add(bytes)

	switch outcome {
	case CacheHit:
		s.CacheHits.Add(1)
		s.BytesFromCache.Add(bytes)
	case CacheFallback:
		s.Fallbacks.Add(1)
		s.BytesFromCache.Add(bytes)
	case CacheMiss:
		s.CacheMisses.Add(1)
	case CacheRefreshed:
		s.Refreshed.Add(1)
	case CacheUncacheable:
		s.UnCacheable.Add(1)
	case CachePassthrough:
		s.Passthrough.Add(1)
	case CacheOffline:
		s.Offline.Add(1)
	}
}

func LoadSavedStatistics(path string, logger *zerolog.Logger) (*Statistics, error) {
	stats := new(Statistics)

	fp, err := os.Open(path) //nolint:gosec
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug().Msg("Statistics don't exist. Creating new one")
			return stats, nil
		}
		return nil, err
	}
	defer func() {
		if err := fp.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing the statistics file")
		}
	}()

	decoder := json.NewDecoder(fp)
	if err := decoder.Decode(stats); err != nil {
		return nil, err
	}

	logger.Debug().Str("path", path).Msg("Statistics loaded from disk")
	return stats, nil
}

func (s *Statistics) Save(path string, logger *zerolog.Logger) error {
	fp, err := os.Create(path) //nolint:gosec
	if err != nil {
		return err
	}
	defer func() {
		if err := fp.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing the statistics file")
		}
	}()

	encoder := json.NewEncoder(fp)
	return encoder.Encode(s)
}
