package cache

import (
	"animeagg/internal/components/assert"
	"animeagg/internal/components/chrono"
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type badgerEntry struct {
	Payload   []byte
	ExpiresAt int64
}

// BadgerStore keeps entries in an embedded badger database. Entries carry a
// badger TTL so they are eventually garbage collected, expiry itself is
// still decided by the clock on read.
type BadgerStore struct {
	db    *badger.DB
	clock chrono.TimeAPI
}

func NewBadgerStore(db *badger.DB, clock chrono.TimeAPI) BadgerStore {
	assert.NotNil(db, "badger")
	assert.NotNil(clock, "clock")
	return BadgerStore{db: db, clock: clock}
}

// OpenBadger opens a badger database in dir, an empty dir opens it in
// memory.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return badger.Open(opts)
}

func (s BadgerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_, span := tracer.Start(ctx, "badger:Get")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	var serialized []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		serialized, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return nil, false, CacheError{Op: "get", Err: err}
	}

	var entry badgerEntry
	err = gob.NewDecoder(bytes.NewReader(serialized)).Decode(&entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached item")
		return nil, false, CacheError{Op: "get", Err: err}
	}
	if expired(s.clock.Now(), entry.ExpiresAt) {
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

func (s BadgerStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	_, span := tracer.Start(ctx, "badger:Set")
	defer span.End()

	serialized := bytes.NewBuffer(nil)
	err := gob.NewEncoder(serialized).Encode(badgerEntry{
		Payload:   payload,
		ExpiresAt: expiresAt(s.clock.Now(), ttl),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize entry")
		return CacheError{Op: "set", Err: err}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), serialized.Bytes())
		// badger ttls have second precision, keep the entry a little longer
		// than the logical expiry
		if ttl > 0 {
			entry = entry.WithTTL(ttl + time.Second)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return CacheError{Op: "set", Err: err}
	}
	return nil
}

func (s BadgerStore) Invalidate(ctx context.Context, pattern string) (int, error) {
	_, span := tracer.Start(ctx, "badger:Invalidate")
	defer span.End()

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(literalPrefix(pattern))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if MatchPattern(pattern, string(key)) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, CacheError{Op: "invalidate", Err: err}
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		err = batch.Delete(key)
		if err != nil {
			span.RecordError(err)
			return 0, CacheError{Op: "invalidate", Err: err}
		}
	}
	err = batch.Flush()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete badger items")
		return 0, CacheError{Op: "invalidate", Err: err}
	}
	return len(keys), nil
}
