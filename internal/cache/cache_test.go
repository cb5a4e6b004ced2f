package cache

import (
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/db"
	"animeagg/internal/testutil"
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatchPattern(t *testing.T) {
	table := []struct {
		pattern string
		key     string
		match   bool
	}{
		{pattern: "*", key: "trending:zoro:20", match: true},
		{pattern: "*", key: "", match: true},
		{pattern: "trending:*", key: "trending:zoro:20", match: true},
		{pattern: "trending:*", key: "search:zoro:naruto:1", match: false},
		{pattern: "*:zoro:*", key: "detail:zoro:bleach", match: true},
		{pattern: "*:zoro:*", key: "detail:gogoanime:zoro", match: false},
		{pattern: "detail:zoro:bleach", key: "detail:zoro:bleach", match: true},
		{pattern: "detail:zoro:bleach", key: "detail:zoro:bleach-2", match: false},
		{pattern: "search:*:1", key: "search:zoro:one piece:1", match: true},
		{pattern: "search:*:1", key: "search:zoro:one piece:10", match: false},
		{pattern: "a*a", key: "a", match: false},
		{pattern: "a*a", key: "aa", match: true},
		{pattern: "search:*?*", key: "search:zoro:what?:1", match: true},
	}

	for _, row := range table {
		require.Equal(t, row.match, MatchPattern(row.pattern, row.key), "%s ~ %s", row.pattern, row.key)
	}
}

type backend struct {
	name  string
	store Store
}

func backends(t *testing.T, clock chrono.TimeAPI) []backend {
	conn := testutil.SetupService(t, "cache")

	badgerDB, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { badgerDB.Close() })

	return []backend{
		{name: "sqlite", store: NewSqliteStore(db.New(conn), clock)},
		{name: "badger", store: NewBadgerStore(badgerDB, clock)},
		{name: "memory", store: NewMemoryStore(128, time.Hour, clock)},
	}
}

func TestStoreExpiry(t *testing.T) {
	clock := chrono.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, b := range backends(t, clock) {
		t.Run(b.name, func(t *testing.T) {
			key := "trending:" + b.name + ":20"

			_, found, err := b.store.Get(ctx, key)
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, b.store.Set(ctx, key, []byte(`[{"id":"x"}]`), time.Second))

			payload, found, err := b.store.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, `[{"id":"x"}]`, string(payload))

			// exactly at the expiry the entry is still valid
			clock.Advance(time.Second)
			_, found, err = b.store.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, found)

			clock.Advance(time.Millisecond * 100)
			_, found, err = b.store.Get(ctx, key)
			require.NoError(t, err)
			require.False(t, found)

			// expired entries can be overwritten
			require.NoError(t, b.store.Set(ctx, key, []byte(`[]`), time.Minute))
			payload, found, err = b.store.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, `[]`, string(payload))
		})
	}
}

func TestStoreExpiryWallClock(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends(t, chrono.StandardImpl{}) {
		t.Run(b.name, func(t *testing.T) {
			require.NoError(t, b.store.Set(ctx, "episodes:zoro:x", []byte("1"), time.Second))

			_, found, err := b.store.Get(ctx, "episodes:zoro:x")
			require.NoError(t, err)
			require.True(t, found)

			time.Sleep(time.Millisecond * 1100)

			_, found, err = b.store.Get(ctx, "episodes:zoro:x")
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestStoreInvalidate(t *testing.T) {
	clock := chrono.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	keys := []string{
		"trending:gogoanime:20",
		"trending:zoro:20",
		"search:zoro:naruto:1",
		"search:nineanime:[x]?:1",
		"detail:zoro:bleach",
		"detail:gogoanime:zoro",
	}

	for _, b := range backends(t, clock) {
		t.Run(b.name, func(t *testing.T) {
			for _, k := range keys {
				require.NoError(t, b.store.Set(ctx, k, []byte(k), time.Minute))
			}

			removed, err := b.store.Invalidate(ctx, "*:zoro:*")
			require.NoError(t, err)
			require.Equal(t, 3, removed)

			_, found, err := b.store.Get(ctx, "detail:gogoanime:zoro")
			require.NoError(t, err)
			require.True(t, found)

			removed, err = b.store.Invalidate(ctx, "search:nineanime:[x]?:1")
			require.NoError(t, err)
			require.Equal(t, 1, removed)

			removed, err = b.store.Invalidate(ctx, "trending:*")
			require.NoError(t, err)
			require.Equal(t, 1, removed)

			removed, err = b.store.Invalidate(ctx, "*")
			require.NoError(t, err)
			require.Equal(t, 1, removed)

			var remaining []string
			for _, k := range keys {
				_, found, err := b.store.Get(ctx, k)
				require.NoError(t, err)
				if found {
					remaining = append(remaining, k)
				}
			}
			sort.Strings(remaining)
			require.Empty(t, remaining)
		})
	}
}
