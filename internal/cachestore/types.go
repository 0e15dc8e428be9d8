package cachestore

import (
	"net/http"
	"time"
)

//go:generate go tool github.com/tinylib/msgp -io=false
//msgp:replace http.Header with:map[string][]string
//msgp:tuple CachedResponse Generation

// CachedResponse is the snapshot of a response stored in a generation. The
// body lives in the file cache under ContentHash.
type CachedResponse struct {
	ContentHash string
	StatusCode  int
	Headers     http.Header
	VaryHeaders http.Header
	URL         string
	StoredAt    time.Time
}

type Generation struct {
	Name      string
	CreatedAt time.Time
	// InstalledAt is zero until every manifest entry has been stored.
	InstalledAt time.Time
}

type GenerationStatistics struct {
	Name        string
	CreatedAt   time.Time
	InstalledAt time.Time
	Entries     int64
	Size        int64
}

type Statistics struct {
	DatabaseSize     int64
	FileCacheEntries int64
	FileCacheSize    int64
	Generations      []GenerationStatistics
}
