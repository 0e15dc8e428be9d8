package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tinylib/msgp/msgp"

	"github.com/benjaminschubert/receiptcache/internal/logging"
)

var (
	ErrKeyNotFound = badger.ErrKeyNotFound
	ErrNoRewrite   = badger.ErrNoRewrite
	ErrInvalidKey  = errors.New("invalid entry key")
	ErrConflict    = errors.New("trying to update an entry that got updated already")
)

// Ptr is satisfied by the pointer of any msgp generated type, whichever
// receivers the generator picked.
type Ptr[T any] interface {
	*T
	msgp.Marshaler
	msgp.Unmarshaler
}

type Entry[T any] struct {
	Value   T
	version uint64
}

// Database is a badger instance shared by several collections.
type Database struct {
	db *badger.DB
}

func NewDatabase(path string, logger *zerolog.Logger) (*Database, error) {
	badgerDB, err := badger.Open(
		badger.DefaultOptions(path).WithLogger(logging.NewBadgerLogger(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open the database, it might be corrupted: %w", err)
	}

	return &Database{badgerDB}, nil
}

func (d *Database) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("unable to close the database, it might be corrupted: %w", err)
	}
	return nil
}

// Size returns the on-disk size of the LSM tree and the value log.
func (d *Database) Size() int64 {
	lsm, vlog := d.db.Size()
	return lsm + vlog
}

func (d *Database) RunGarbageCollector() error {
	return d.db.RunValueLogGC(0.5)
}

// Collection stores values of a single type under a key prefix.
type Collection[T any, TPtr Ptr[T]] struct {
	db     *badger.DB
	prefix []byte
}

func NewCollection[T any, TPtr Ptr[T]](db *Database, prefix string) *Collection[T, TPtr] {
	return &Collection[T, TPtr]{db.db, []byte(prefix + "\x00")}
}

func (c *Collection[T, TPtr]) key(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	return append(bytes.Clone(c.prefix), key...), nil
}

func (c *Collection[T, TPtr]) decode(item *badger.Item) (*Entry[T], error) {
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("unexpected error extracting value: %w", err)
	}

	var value TPtr = new(T)
	if _, err = value.UnmarshalMsg(val); err != nil {
		return nil, fmt.Errorf(
			"entry in the database is not of the correct format, this should not happen: %w",
			err,
		)
	}

	return &Entry[T]{*value, item.Version()}, nil
}

func (c *Collection[T, TPtr]) Get(key string) (*Entry[T], error) {
	dbKey, err := c.key(key)
	if err != nil {
		return nil, err
	}

	var entry *Entry[T]

	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return fmt.Errorf("unexpected error loading key: %w", err)
		}

		entry, err = c.decode(item)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("unable to load key: %w", err)
	}

	return entry, nil
}

// Save writes the entry if nobody updated it since it was read. New entries
// have a zero version and can only be saved if the key does not exist yet.
func (c *Collection[T, TPtr]) Save(key string, entry *Entry[T]) error {
	dbKey, err := c.key(key)
	if err != nil {
		return err
	}

	data, err := TPtr(&entry.Value).MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf(
			"entry in the database is not of the correct format, this should not happen: %w",
			err,
		)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey)
		if err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("unable to check for previous entry with same key: %w", err)
			}
			if entry.version != 0 {
				return ErrConflict
			}
		} else if item.Version() != entry.version {
			return ErrConflict
		}

		return txn.Set(dbKey, data)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("unable to save entry in database: %w", ErrConflict)
		}
		return fmt.Errorf("unable to save entry in database: %w", err)
	}
	return nil
}

func (c *Collection[T, TPtr]) New(key string, value T) error {
	return c.Save(key, &Entry[T]{Value: value})
}

// SaveAll overwrites all the given values in a single transaction: either all
// of them are written, or none.
func (c *Collection[T, TPtr]) SaveAll(values map[string]T) error {
	encoded := make(map[string][]byte, len(values))
	for key, value := range values {
		dbKey, err := c.key(key)
		if err != nil {
			return err
		}
		data, err := TPtr(&value).MarshalMsg(nil)
		if err != nil {
			return fmt.Errorf("unable to encode entry %s: %w", key, err)
		}
		encoded[string(dbKey)] = data
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		for key, data := range encoded {
			if err := txn.Set([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to save entries in database: %w", err)
	}
	return nil
}

func (c *Collection[T, TPtr]) Delete(key string, entry *Entry[T]) error {
	dbKey, err := c.key(key)
	if err != nil {
		return err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey)
		if err != nil {
			return err
		}
		if item.Version() != entry.version {
			return ErrConflict
		}
		return txn.Delete(dbKey)
	})
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("unable to delete entry from database: %w", err)
	}
	return nil
}

// DeletePrefix removes every key of the collection starting with prefix.
func (c *Collection[T, TPtr]) DeletePrefix(prefix string) error {
	if prefix == "" {
		return ErrInvalidKey
	}
	return c.db.DropPrefix(append(bytes.Clone(c.prefix), prefix...))
}

// Iterate calls fn for each entry whose key starts with prefix, in key order.
func (c *Collection[T, TPtr]) Iterate(
	ctx context.Context,
	prefix string,
	fn func(key string, entry *Entry[T]) error,
) error {
	dbPrefix := append(bytes.Clone(c.prefix), prefix...)

	return c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = dbPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(dbPrefix); it.ValidForPrefix(dbPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			entry, err := c.decode(item)
			if err != nil {
				return err
			}

			key := string(item.KeyCopy(nil)[len(c.prefix):])
			if err := fn(key, entry); err != nil {
				return err
			}
		}

		return nil
	})
}

// Count returns the number of keys starting with prefix.
func (c *Collection[T, TPtr]) Count(ctx context.Context, prefix string) (int64, error) {
	dbPrefix := append(bytes.Clone(c.prefix), prefix...)
	count := int64(0)

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = dbPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(dbPrefix); it.ValidForPrefix(dbPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}
