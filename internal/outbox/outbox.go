// Package outbox keeps write requests that could not reach the origin until
// they can be replayed.
package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	ErrInvalidRecord = errors.New("invalid outbox record")
	ErrReplayFailed  = errors.New("unable to replay the outbox")
)

var recordPrefix = []byte("r:")

type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

func (r *Record) validate() error {
	if r.Method == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return fmt.Errorf("%w: method %q does not carry a deferred write", ErrInvalidRecord, r.Method)
	}

	uri, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if !uri.IsAbs() || uri.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidRecord, r.URL)
	}
	return nil
}

type Outbox struct {
	db     *leveldb.DB
	logger *zerolog.Logger
	// Only one replay runs at a time, so a record is never sent twice
	// concurrently.
	replayLock sync.Mutex
}

func Open(path string, logger *zerolog.Logger) (*Outbox, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to open outbox at %s: %w", path, err)
	}
	return &Outbox{db: db, logger: logger}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func recordKey(id string) []byte {
	return append(bytes.Clone(recordPrefix), id...)
}

// Enqueue persists the record and returns its identifier. Identifiers sort in
// enqueue order.
func (o *Outbox) Enqueue(_ context.Context, record Record) (string, error) {
	if err := record.validate(); err != nil {
		return "", err
	}

	record.ID = xid.New().String()
	if record.EnqueuedAt.IsZero() {
		record.EnqueuedAt = time.Now().UTC()
	}

	data, err := record.MarshalMsg(nil)
	if err != nil {
		return "", fmt.Errorf("unable to encode record: %w", err)
	}

	if err := o.db.Put(recordKey(record.ID), data, &opt.WriteOptions{Sync: true}); err != nil {
		return "", fmt.Errorf("unable to save record: %w", err)
	}

	o.logger.Debug().Str("record", record.ID).Str("method", record.Method).Str("url", record.URL).Msg("Request deferred")
	return record.ID, nil
}

func (o *Outbox) iterate(fn func(Record) error) error {
	iter := o.db.NewIterator(util.BytesPrefix(recordPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		var record Record
		if _, err := record.UnmarshalMsg(iter.Value()); err != nil {
			o.logger.Warn().Err(err).Bytes("key", iter.Key()).Msg("Skipping undecodable outbox record")
			continue
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return iter.Error()
}

// List returns the queued records, oldest first.
func (o *Outbox) List(_ context.Context) ([]Record, error) {
	records := []Record{}
	err := o.iterate(func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list the outbox: %w", err)
	}
	return records, nil
}

func (o *Outbox) Len(ctx context.Context) (int, error) {
	records, err := o.List(ctx)
	return len(records), err
}

func (o *Outbox) send(ctx context.Context, fetcher Fetcher, record Record) error {
	req, err := http.NewRequestWithContext(ctx, record.Method, record.URL, bytes.NewReader(record.Body))
	if err != nil {
		return err
	}
	req.Header = record.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}

	resp, err := fetcher.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		o.logger.Warn().Err(err).Str("record", record.ID).Msg("Error closing replay response body")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("origin answered with status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		// The origin rejected the request, retrying would not change the answer.
		o.logger.Warn().Str("record", record.ID).Int("status", resp.StatusCode).Msg("Deferred request rejected by the origin")
	}
	return nil
}

// Replay sends the queued records in order. A record is dropped once the
// origin answered it without a server error. The first failure stops the
// replay and leaves the remaining records queued.
func (o *Outbox) Replay(ctx context.Context, fetcher Fetcher) (int, error) {
	o.replayLock.Lock()
	defer o.replayLock.Unlock()

	records, err := o.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrReplayFailed, err)
	}

	replayed := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return replayed, fmt.Errorf("%w: %w", ErrReplayFailed, err)
		}

		if err := o.send(ctx, fetcher, record); err != nil {
			return replayed, fmt.Errorf("%w: record %s: %w", ErrReplayFailed, record.ID, err)
		}

		if err := o.db.Delete(recordKey(record.ID), &opt.WriteOptions{Sync: true}); err != nil {
			return replayed, fmt.Errorf("%w: unable to remove record %s: %w", ErrReplayFailed, record.ID, err)
		}
		replayed++
	}

	o.logger.Info().Int("replayed", replayed).Msg("Outbox replayed")
	return replayed, nil
}
