package outbox

import (
	"net/http"
	"time"
)

//go:generate go tool github.com/tinylib/msgp -io=false
//msgp:replace http.Header with:map[string][]string
//msgp:tuple Record

// Record is a write request waiting to be replayed against the origin.
type Record struct {
	ID         string      `json:"id"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}
