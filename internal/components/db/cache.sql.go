package db

import (
	"context"
)

const getCacheEntry = `-- name: GetCacheEntry :one
select key, payload, expires_at from cache_entry
where key = ?
`

func (q *Queries) GetCacheEntry(ctx context.Context, key string) (CacheEntry, error) {
	row := q.db.QueryRowContext(ctx, getCacheEntry, key)
	var i CacheEntry
	err := row.Scan(&i.Key, &i.Payload, &i.ExpiresAt)
	return i, err
}

const setCacheEntry = `-- name: SetCacheEntry :exec
insert into cache_entry(key, payload, expires_at)
values (?, ?, ?)
on conflict (key) do update set
    payload = excluded.payload,
    expires_at = excluded.expires_at
`

type SetCacheEntryParams struct {
	Key       string
	Payload   []byte
	ExpiresAt int64
}

func (q *Queries) SetCacheEntry(ctx context.Context, arg SetCacheEntryParams) error {
	_, err := q.db.ExecContext(ctx, setCacheEntry, arg.Key, arg.Payload, arg.ExpiresAt)
	return err
}

const deleteExpiredCacheEntry = `-- name: DeleteExpiredCacheEntry :exec
delete from cache_entry
where key = ? and expires_at < ?
`

type DeleteExpiredCacheEntryParams struct {
	Key string
	Now int64
}

func (q *Queries) DeleteExpiredCacheEntry(ctx context.Context, arg DeleteExpiredCacheEntryParams) error {
	_, err := q.db.ExecContext(ctx, deleteExpiredCacheEntry, arg.Key, arg.Now)
	return err
}

const deleteCacheEntriesGlob = `-- name: DeleteCacheEntriesGlob :execrows
delete from cache_entry
where key glob ?
`

func (q *Queries) DeleteCacheEntriesGlob(ctx context.Context, pattern string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteCacheEntriesGlob, pattern)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
