package testutils

import (
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogger(tb testing.TB) *zerolog.Logger {
	tb.Helper()

	logger := zerolog.New(zerolog.NewConsoleWriter(zerolog.ConsoleTestWriter(tb))).
		Level(zerolog.TraceLevel)
	return &logger
}

// Origin is a test upstream that records how often each path was requested.
type Origin struct {
	lock  sync.Mutex
	calls map[string]int
	next  http.Handler
}

func NewOrigin(next http.Handler) *Origin {
	return &Origin{calls: make(map[string]int), next: next}
}

func (o *Origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.lock.Lock()
	o.calls[r.Method+" "+r.URL.RequestURI()]++
	o.lock.Unlock()
	o.next.ServeHTTP(w, r)
}

func (o *Origin) Calls(method, requestURI string) int {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.calls[method+" "+requestURI]
}

func (o *Origin) TotalCalls() int {
	o.lock.Lock()
	defer o.lock.Unlock()

	total := 0
	for _, val := range o.calls {
		total += val
	}
	return total
}
