package outbox_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminschubert/receiptcache/internal/outbox"
	"github.com/benjaminschubert/receiptcache/internal/testutils"
)

func setup(t *testing.T) *outbox.Outbox {
	t.Helper()

	box, err := outbox.Open(t.TempDir(), testutils.TestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, box.Close()) })
	return box
}

type recordingOrigin struct {
	lock     sync.Mutex
	bodies   []string
	statuses []int
}

func (o *recordingOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	o.lock.Lock()
	defer o.lock.Unlock()

	o.bodies = append(o.bodies, r.Method+" "+r.URL.Path+" "+string(body))
	status := http.StatusCreated
	if len(o.statuses) > 0 {
		status, o.statuses = o.statuses[0], o.statuses[1:]
	}
	w.WriteHeader(status)
}

func (o *recordingOrigin) received() []string {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]string{}, o.bodies...)
}

func enqueue(t *testing.T, box *outbox.Outbox, method, uri, body string) string {
	t.Helper()

	id, err := box.Enqueue(t.Context(), outbox.Record{
		Method: method,
		URL:    uri,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(body),
	})
	require.NoError(t, err)
	return id
}

func TestEnqueueRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	box := setup(t)

	for _, tc := range []struct {
		description string
		record      outbox.Record
	}{
		{"no-method", outbox.Record{URL: "http://expenses.test/api/expenses"}},
		{"get", outbox.Record{Method: http.MethodGet, URL: "http://expenses.test/api/expenses"}},
		{"relative-url", outbox.Record{Method: http.MethodPost, URL: "/api/expenses"}},
		{"invalid-url", outbox.Record{Method: http.MethodPost, URL: "http://[::1"}},
	} {
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()

			_, err := box.Enqueue(t.Context(), tc.record)
			require.ErrorIs(t, err, outbox.ErrInvalidRecord)
		})
	}
}

func TestListIsOrdered(t *testing.T) {
	t.Parallel()

	box := setup(t)

	first := enqueue(t, box, http.MethodPost, "http://expenses.test/api/expenses", `{"amount":12}`)
	second := enqueue(t, box, http.MethodDelete, "http://expenses.test/api/expenses/3", "")
	third := enqueue(t, box, http.MethodPost, "http://expenses.test/api/upload", "receipt")

	records, err := box.List(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{first, second, third}, []string{records[0].ID, records[1].ID, records[2].ID})
	assert.Equal(t, http.MethodDelete, records[1].Method)
	assert.Equal(t, "application/json", records[0].Header.Get("Content-Type"))
	assert.Equal(t, []byte("receipt"), records[2].Body)
	assert.False(t, records[0].EnqueuedAt.IsZero())

	count, err := box.Len(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRecordsSurviveRestarts(t *testing.T) {
	t.Parallel()

	path := t.TempDir()

	box, err := outbox.Open(path, testutils.TestLogger(t))
	require.NoError(t, err)
	enqueue(t, box, http.MethodPost, "http://expenses.test/api/expenses", "{}")
	require.NoError(t, box.Close())

	box, err = outbox.Open(path, testutils.TestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, box.Close()) })

	count, err := box.Len(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReplaySendsRecordsInOrder(t *testing.T) {
	t.Parallel()

	box := setup(t)
	origin := &recordingOrigin{}
	srv := httptest.NewServer(origin)
	t.Cleanup(srv.Close)

	enqueue(t, box, http.MethodPost, srv.URL+"/api/expenses", "first")
	enqueue(t, box, http.MethodPut, srv.URL+"/api/expenses/1", "second")

	replayed, err := box.Replay(t.Context(), srv.Client())
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)
	assert.Equal(t, []string{"POST /api/expenses first", "PUT /api/expenses/1 second"}, origin.received())

	count, err := box.Len(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReplayDropsRejectedRecords(t *testing.T) {
	t.Parallel()

	box := setup(t)
	origin := &recordingOrigin{statuses: []int{http.StatusBadRequest}}
	srv := httptest.NewServer(origin)
	t.Cleanup(srv.Close)

	enqueue(t, box, http.MethodPost, srv.URL+"/api/expenses", "invalid")

	replayed, err := box.Replay(t.Context(), srv.Client())
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)

	count, err := box.Len(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReplayStopsOnServerErrors(t *testing.T) {
	t.Parallel()

	box := setup(t)
	origin := &recordingOrigin{statuses: []int{http.StatusCreated, http.StatusServiceUnavailable}}
	srv := httptest.NewServer(origin)
	t.Cleanup(srv.Close)

	enqueue(t, box, http.MethodPost, srv.URL+"/api/expenses", "first")
	enqueue(t, box, http.MethodPost, srv.URL+"/api/expenses", "second")
	enqueue(t, box, http.MethodPost, srv.URL+"/api/expenses", "third")

	replayed, err := box.Replay(t.Context(), srv.Client())
	require.ErrorIs(t, err, outbox.ErrReplayFailed)
	assert.Equal(t, 1, replayed)
	assert.Len(t, origin.received(), 2)

	records, err := box.List(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("second"), records[0].Body)

	replayed, err = box.Replay(t.Context(), srv.Client())
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)
}

type offlineFetcher struct{}

func (offlineFetcher) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("network is unreachable")
}

func TestReplayKeepsRecordsWhileOffline(t *testing.T) {
	t.Parallel()

	box := setup(t)
	enqueue(t, box, http.MethodPost, "http://expenses.test/api/expenses", "{}")

	replayed, err := box.Replay(t.Context(), offlineFetcher{})
	require.ErrorIs(t, err, outbox.ErrReplayFailed)
	assert.Equal(t, 0, replayed)

	count, err := box.Len(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
