package cache

import (
	"animeagg/internal/components/assert"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/db"
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SqliteStore keeps entries in the cache_entry table of the application
// database.
type SqliteStore struct {
	qry   *db.Queries
	clock chrono.TimeAPI
}

func NewSqliteStore(qry *db.Queries, clock chrono.TimeAPI) SqliteStore {
	assert.NotNil(qry, "queries")
	assert.NotNil(clock, "clock")
	return SqliteStore{qry: qry, clock: clock}
}

func (s SqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := tracer.Start(ctx, "sqlite:Get")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	entry, err := s.qry.GetCacheEntry(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cache entry")
		return nil, false, CacheError{Op: "get", Err: err}
	}

	now := s.clock.Now()
	if expired(now, entry.ExpiresAt) {
		err = s.qry.DeleteExpiredCacheEntry(ctx, db.DeleteExpiredCacheEntryParams{
			Key: key,
			Now: now.UnixMilli(),
		})
		if err != nil {
			span.RecordError(err)
		}
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

func (s SqliteStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "sqlite:Set")
	defer span.End()

	err := s.qry.SetCacheEntry(ctx, db.SetCacheEntryParams{
		Key:       key,
		Payload:   payload,
		ExpiresAt: expiresAt(s.clock.Now(), ttl),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache entry")
		return CacheError{Op: "set", Err: err}
	}
	return nil
}

var globEscaper = strings.NewReplacer("[", "[[]", "?", "[?]")

func (s SqliteStore) Invalidate(ctx context.Context, pattern string) (int, error) {
	ctx, span := tracer.Start(ctx, "sqlite:Invalidate")
	defer span.End()

	removed, err := s.qry.DeleteCacheEntriesGlob(ctx, globEscaper.Replace(pattern))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete cache entries")
		return 0, CacheError{Op: "invalidate", Err: err}
	}
	return int(removed), nil
}
