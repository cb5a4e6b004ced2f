package engine

import (
	"animeagg/internal/anime"
	"animeagg/internal/cache"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/fetch"
	"animeagg/internal/sources"
	"animeagg/internal/testutil"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	source   anime.Source
	listings []anime.Listing
	details  map[string]anime.Detail
	episodes []anime.Episode
	servers  []anime.EpisodeSource
	err      error
	// delays stalls an operation without regard for ctx.
	delays   map[string]time.Duration

	mutex sync.Mutex
	calls map[string]int
	times []time.Time
}

func newFakeAdapter(source anime.Source, listings ...anime.Listing) *fakeAdapter {
	return &fakeAdapter{
		source:   source,
		listings: listings,
		details:  map[string]anime.Detail{},
		calls:    map[string]int{},
		delays:   map[string]time.Duration{},
	}
}

func (f *fakeAdapter) record(op string) error {
	f.mutex.Lock()
	f.calls[op]++
	f.times = append(f.times, time.Now())
	err, delay := f.err, f.delays[op]
	f.mutex.Unlock()

	time.Sleep(delay)
	return err
}

func (f *fakeAdapter) Times() []time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return slices.Clone(f.times)
}

func (f *fakeAdapter) Calls(op string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[op]
}

func (f *fakeAdapter) Name() anime.Source {
	return f.source
}

func (f *fakeAdapter) ListTrending(ctx context.Context, limit int) ([]anime.Listing, error) {
	if err := f.record("trending"); err != nil {
		return nil, err
	}
	if len(f.listings) > limit {
		return f.listings[:limit], nil
	}
	return f.listings, nil
}

func (f *fakeAdapter) Search(ctx context.Context, query string, page int) (anime.SearchPage, error) {
	if err := f.record("search"); err != nil {
		return anime.SearchPage{}, err
	}
	return anime.SearchPage{Items: f.listings}, nil
}

func (f *fakeAdapter) GetDetail(ctx context.Context, slug string) (anime.Detail, error) {
	if err := f.record("detail"); err != nil {
		return anime.Detail{}, err
	}
	detail, ok := f.details[slug]
	if !ok {
		return anime.Detail{}, anime.ExtractionError{Source: f.source, Page: slug, Selector: ".detail"}
	}
	return detail, nil
}

func (f *fakeAdapter) ListEpisodes(ctx context.Context, slug string) ([]anime.Episode, error) {
	if err := f.record("episodes"); err != nil {
		return nil, err
	}
	return f.episodes, nil
}

func (f *fakeAdapter) GetEpisodeSources(ctx context.Context, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error) {
	if err := f.record("sources"); err != nil {
		return nil, err
	}
	return anime.FilterServers(f.servers, preferredServer), nil
}

type fakeArchive struct {
	mutex    sync.Mutex
	listings []anime.Listing
	details  []anime.Detail
	episodes int
	sources  int
}

func (a *fakeArchive) SaveListings(ctx context.Context, listings []anime.Listing) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.listings = append(a.listings, listings...)
	return nil
}

func (a *fakeArchive) SaveDetail(ctx context.Context, detail anime.Detail) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.details = append(a.details, detail)
	return nil
}

func (a *fakeArchive) SaveEpisodes(ctx context.Context, source anime.Source, slug string, episodes []anime.Episode) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.episodes++
	return nil
}

func (a *fakeArchive) SaveEpisodeSources(ctx context.Context, source anime.Source, slug string, episode int, list []anime.EpisodeSource) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.sources++
	return errors.New("archive is read only")
}

type brokenStore struct {
	gets atomic.Int32
}

func (s *brokenStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.gets.Add(1)
	return nil, false, cache.CacheError{Op: "get", Err: errors.New("disk on fire")}
}

func (s *brokenStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return cache.CacheError{Op: "set", Err: errors.New("disk on fire")}
}

func (s *brokenStore) Invalidate(ctx context.Context, pattern string) (int, error) {
	return 0, cache.CacheError{Op: "invalidate", Err: errors.New("disk on fire")}
}

func testConfig() Config {
	config := DefaultConfig()
	config.Spacing = 0
	config.SourceTimeout = time.Second * 5
	return config
}

func newTestEngine(t testing.TB, adapters []sources.Adapter, archive Archive, config Config) (*Engine, *telemetry.RecordingAPI) {
	t.Helper()
	tel := telemetry.NewRecordingAPI()
	store := cache.NewMemoryStore(128, time.Hour, chrono.StandardImpl{})
	return New(adapters, store, archive, config, tel), tel
}

func listing(source anime.Source, slug string, episode int) anime.Listing {
	return anime.NewListing(source, slug, slug, "", episode)
}

func keys(listings []anime.Listing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.ID
	}
	return out
}

func TestMergeDedup(t *testing.T) {
	merged := Merge(
		[]anime.Listing{listing("a", "x", 1), listing("a", "x", 9)},
		[]anime.Listing{listing("b", "x", 1)},
	)
	require.Len(t, merged, 2)
	require.Equal(t, []string{"a-x", "b-x"}, keys(merged))
	// the first occurrence wins
	require.Equal(t, 1, merged[0].LatestEpisode)
}

func TestMergeRandomized(t *testing.T) {
	rndm := rand.New(rand.NewSource(1))
	// most listings reuse a slug seen before so duplicates are common
	pick := testutil.RandomSwitch(3, 1)

	for range 50 {
		var groups [][]anime.Listing
		var slugs []string
		for _, source := range anime.AllSources {
			var group []anime.Listing
			for range rndm.Intn(20) {
				slug := testutil.RandomSlug(rndm, 9)
				if len(slugs) > 0 && pick(rndm) == 0 {
					slug = slugs[rndm.Intn(len(slugs))]
				}
				slugs = append(slugs, slug)
				group = append(group, listing(source, slug, rndm.Intn(12)))
			}
			groups = append(groups, group)
		}

		merged := Merge(groups...)

		expected := []string{}
		seen := map[anime.Key]bool{}
		for _, group := range groups {
			for _, l := range group {
				if seen[l.Key()] {
					continue
				}
				seen[l.Key()] = true
				expected = append(expected, l.ID)
			}
		}
		require.Equal(t, expected, keys(merged))

		Sort(merged, SortLatestEpisode, "")
		for i := 1; i < len(merged); i++ {
			require.GreaterOrEqual(t, merged[i-1].LatestEpisode, merged[i].LatestEpisode)
		}
	}
}

func TestSortStable(t *testing.T) {
	listings := []anime.Listing{
		listing(anime.Zoro, "three", 3),
		listing(anime.Gogoanime, "first-five", 5),
		listing(anime.NineAnime, "second-five", 5),
	}
	Sort(listings, SortLatestEpisode, "")
	require.Equal(t, []string{"gogoanime-first-five", "nineanime-second-five", "zoro-three"}, keys(listings))

	listings = []anime.Listing{
		listing(anime.Gogoanime, "a", 5),
		listing(anime.NineAnime, "b", 5),
		listing(anime.Zoro, "c", 3),
	}
	Sort(listings, "unknown-key", "")
	require.Equal(t, []string{"gogoanime-a", "nineanime-b", "zoro-c"}, keys(listings))
}

func TestSortTitleAndRelevance(t *testing.T) {
	titled := func(slug, title string, episode int) anime.Listing {
		return anime.NewListing(anime.Zoro, slug, title, "", episode)
	}
	listings := []anime.Listing{
		titled("3", "one piece film red", 1),
		titled("1", "Bleach", 2),
		titled("2", "One Piece", 3),
		titled("4", "bleach", 4),
	}

	Sort(listings, SortTitle, "")
	require.Equal(t, []string{"zoro-1", "zoro-4", "zoro-2", "zoro-3"}, keys(listings))

	Sort(listings, SortRelevance, "One Piece")
	require.Equal(t, "zoro-2", listings[0].ID)
	require.Equal(t, "zoro-3", listings[1].ID)

	// relevance without a query sorts by latest episode
	Sort(listings, SortRelevance, " ")
	require.Equal(t, []string{"zoro-4", "zoro-2", "zoro-1", "zoro-3"}, keys(listings))
}

func TestTrendingPartialFailure(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "naruto", 220), listing(anime.Gogoanime, "bleach", 366))
	nine := newFakeAdapter(anime.NineAnime, listing(anime.NineAnime, "bleach", 366))
	zoro := newFakeAdapter(anime.Zoro)
	zoro.err = fetch.FetchError{URL: "https://zoro.to/trending", Attempts: 4, Reason: fetch.StatusError{Code: 503}}

	engine, tel := newTestEngine(t, []sources.Adapter{gogo, nine, zoro}, nil, testConfig())

	listings, err := engine.Trending(context.Background(), TrendingOptions{Limit: 20})
	require.NoError(t, err)
	require.Equal(t, []string{"gogoanime-bleach", "nineanime-bleach", "gogoanime-naruto"}, keys(listings))
	require.True(t, tel.Has("warning", report_engine_source_failure))
	require.EqualValues(t, 1, engine.Stats().SourceFailures)

	t.Run("total failure is an empty list", func(t *testing.T) {
		broken := newFakeAdapter(anime.Zoro)
		broken.err = errors.New("offline")
		engine, _ := newTestEngine(t, []sources.Adapter{broken}, nil, testConfig())
		listings, err := engine.Trending(context.Background(), TrendingOptions{})
		require.NoError(t, err)
		require.NotNil(t, listings)
		require.Empty(t, listings)
	})
}

func TestTrendingLimitPerSource(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "a", 1), listing(anime.Gogoanime, "b", 2), listing(anime.Gogoanime, "c", 3))
	zoro := newFakeAdapter(anime.Zoro, listing(anime.Zoro, "d", 4), listing(anime.Zoro, "e", 5))
	engine, _ := newTestEngine(t, []sources.Adapter{gogo, zoro}, nil, testConfig())

	listings, err := engine.Trending(context.Background(), TrendingOptions{Limit: 2, SortBy: SortTitle})
	require.NoError(t, err)
	require.Equal(t, []string{"gogoanime-a", "gogoanime-b", "zoro-d", "zoro-e"}, keys(listings))
}

func TestTrendingCache(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "naruto", 220))
	archive := &fakeArchive{}
	engine, _ := newTestEngine(t, []sources.Adapter{gogo}, archive, testConfig())
	ctx := context.Background()

	first, err := engine.Trending(ctx, TrendingOptions{Limit: 10})
	require.NoError(t, err)
	second, err := engine.Trending(ctx, TrendingOptions{Limit: 10})
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, 1, gogo.Calls("trending"))
	require.Len(t, archive.listings, 1)
	require.EqualValues(t, 1, engine.Stats().CacheHits)
	require.EqualValues(t, 1, engine.Stats().CacheMisses)

	// a different limit is a different key
	_, err = engine.Trending(ctx, TrendingOptions{Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 2, gogo.Calls("trending"))

	removed, err := engine.InvalidateCache(ctx, "trending:*")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = engine.Trending(ctx, TrendingOptions{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 3, gogo.Calls("trending"))
}

func TestCacheFailureDegrades(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "naruto", 220))
	tel := telemetry.NewRecordingAPI()
	store := &brokenStore{}
	engine := New([]sources.Adapter{gogo}, store, nil, testConfig(), tel)

	for range 2 {
		listings, err := engine.Trending(context.Background(), TrendingOptions{})
		require.NoError(t, err)
		require.Len(t, listings, 1)
	}
	require.Equal(t, 2, gogo.Calls("trending"))
	require.True(t, tel.Has("warning", report_engine_cache))

	_, err := engine.InvalidateCache(context.Background(), "")
	require.ErrorAs(t, err, &cache.CacheError{})
}

func TestSearchEnrichment(t *testing.T) {
	gogo := newFakeAdapter(
		anime.Gogoanime,
		anime.NewListing(anime.Gogoanime, "one-piece", "One Piece", "", 1100),
		anime.NewListing(anime.Gogoanime, "one-punch-man", "One Punch Man", "", 12),
	)
	gogo.details["one-piece"] = anime.Detail{
		Listing:     anime.NewListing(anime.Gogoanime, "one-piece", "One Piece", "", 1100),
		Description: "pirates",
	}
	archive := &fakeArchive{}
	engine, tel := newTestEngine(t, []sources.Adapter{gogo}, archive, testConfig())

	listings, err := engine.Search(context.Background(), SearchOptions{
		Query:        "one piece",
		FetchDetails: true,
		SortBy:       SortRelevance,
	})
	require.NoError(t, err)
	require.Len(t, listings, 2)

	require.Equal(t, "gogoanime-one-piece", listings[0].ID)
	require.NotNil(t, listings[0].Detail)
	require.Equal(t, "pirates", listings[0].Detail.Description)

	// the failed enrichment keeps the item without details
	require.Equal(t, "gogoanime-one-punch-man", listings[1].ID)
	require.Nil(t, listings[1].Detail)
	require.True(t, tel.Has("warning", report_engine_enrich))

	require.Len(t, archive.details, 1)
	require.Equal(t, 1, gogo.Calls("search"))
	require.Equal(t, 2, gogo.Calls("detail"))
}

func TestSingleSourceOperations(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime)
	gogo.episodes = []anime.Episode{{Number: 1, Slug: "x-episode-1"}}
	gogo.servers = []anime.EpisodeSource{
		{Server: "Vidstream", URL: "https://vidstream.pro/e/1", Priority: 1},
		{Server: "Mp4Upload", URL: "https://mp4upload.com/e/1", Priority: 1},
	}
	archive := &fakeArchive{}
	engine, tel := newTestEngine(t, []sources.Adapter{gogo}, archive, testConfig())
	ctx := context.Background()

	t.Run("unknown source", func(t *testing.T) {
		_, err := engine.Episodes(ctx, "crunchyroll", "x")
		var unknown anime.UnknownSourceError
		require.ErrorAs(t, err, &unknown)
		require.Equal(t, "crunchyroll", unknown.Name)

		_, err = engine.EpisodeSources(ctx, "crunchyroll", "x", 1, "")
		require.ErrorAs(t, err, &unknown)

		_, err = engine.Detail(ctx, "crunchyroll", "x")
		require.ErrorAs(t, err, &unknown)
	})

	t.Run("episodes", func(t *testing.T) {
		episodes, err := engine.Episodes(ctx, anime.Gogoanime, "x")
		require.NoError(t, err)
		require.Equal(t, gogo.episodes, episodes)
		require.Equal(t, 1, archive.episodes)
	})

	t.Run("episode sources", func(t *testing.T) {
		list, err := engine.EpisodeSources(ctx, anime.Gogoanime, "x", 1, "NoSuchServer")
		require.NoError(t, err)
		require.Equal(t, gogo.servers[:1], list)

		list, err = engine.EpisodeSources(ctx, anime.Gogoanime, "x", 1, "")
		require.NoError(t, err)
		require.Equal(t, gogo.servers, list)

		// archive failures are only reported
		require.Equal(t, 1, archive.sources)
		require.True(t, tel.Has("warning", report_engine_archive))
	})

	t.Run("adapter errors propagate", func(t *testing.T) {
		_, err := engine.Detail(ctx, anime.Gogoanime, "missing")
		require.ErrorAs(t, err, &anime.ExtractionError{})

		failing := newFakeAdapter(anime.Zoro)
		failing.err = fetch.FetchError{URL: "https://zoro.to/watch/x", Attempts: 4, Reason: errors.New("timeout")}
		engine, _ := newTestEngine(t, []sources.Adapter{failing}, nil, testConfig())
		_, err = engine.Episodes(ctx, anime.Zoro, "x")
		require.ErrorAs(t, err, &fetch.FetchError{})
	})
}

func TestRateGate(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "a", 1))
	config := testConfig()
	config.Spacing = time.Millisecond * 100
	engine, _ := newTestEngine(t, []sources.Adapter{gogo}, nil, config)
	ctx := context.Background()

	for i := range 3 {
		_, err := engine.Trending(ctx, TrendingOptions{Limit: i + 1})
		require.NoError(t, err)
	}

	times := gogo.Times()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		require.GreaterOrEqual(t, gap, time.Millisecond*90, fmt.Sprintf("gap %d was %s", i, gap))
	}
}

func TestRateGateConcurrent(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "a", 1))
	config := testConfig()
	config.Spacing = time.Millisecond * 100
	engine, _ := newTestEngine(t, []sources.Adapter{gogo}, nil, config)

	// distinct limits keep every call away from the cache
	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = engine.Trending(context.Background(), TrendingOptions{Limit: i + 1})
		}()
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	times := gogo.Times()
	require.Len(t, times, 4)
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		require.GreaterOrEqual(t, gap, time.Millisecond*90, fmt.Sprintf("gap %d was %s", i, gap))
	}
}

func TestMergeOrderIgnoresCompletion(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "x", 1))
	nine := newFakeAdapter(anime.NineAnime, listing(anime.NineAnime, "x", 1))
	zoro := newFakeAdapter(anime.Zoro, listing(anime.Zoro, "x", 1))
	// the first configured source answers last
	gogo.delays["trending"] = time.Millisecond * 150
	zoro.delays["trending"] = time.Millisecond * 50

	engine, _ := newTestEngine(t, []sources.Adapter{gogo, nine, zoro}, nil, testConfig())
	listings, err := engine.Trending(context.Background(), TrendingOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"gogoanime-x", "nineanime-x", "zoro-x"}, keys(listings))
}

func TestSourceTimeout(t *testing.T) {
	config := testConfig()
	config.SourceTimeout = time.Millisecond * 200

	t.Run("hung source is dropped", func(t *testing.T) {
		gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "naruto", 220))
		zoro := newFakeAdapter(anime.Zoro, listing(anime.Zoro, "bleach", 366))
		gogo.delays["trending"] = time.Second * 3

		engine, tel := newTestEngine(t, []sources.Adapter{gogo, zoro}, nil, config)
		start := time.Now()
		listings, err := engine.Trending(context.Background(), TrendingOptions{})
		require.NoError(t, err)
		require.Less(t, time.Since(start), time.Second)
		require.Equal(t, []string{"zoro-bleach"}, keys(listings))
		require.True(t, tel.Has("warning", report_engine_source_failure))
		require.EqualValues(t, 1, engine.Stats().SourceFailures)
	})

	t.Run("hung detail leaves the listing bare", func(t *testing.T) {
		gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "naruto", 220))
		gogo.details["naruto"] = anime.Detail{Listing: listing(anime.Gogoanime, "naruto", 220)}
		gogo.delays["detail"] = time.Second * 3

		engine, tel := newTestEngine(t, []sources.Adapter{gogo}, nil, config)
		start := time.Now()
		listings, err := engine.Search(context.Background(), SearchOptions{Query: "naruto", FetchDetails: true})
		require.NoError(t, err)
		require.Less(t, time.Since(start), time.Second)
		require.Len(t, listings, 1)
		require.Nil(t, listings[0].Detail)
		require.True(t, tel.Has("warning", report_engine_enrich))
	})
}

func TestCancelledContext(t *testing.T) {
	gogo := newFakeAdapter(anime.Gogoanime, listing(anime.Gogoanime, "a", 1))
	engine, _ := newTestEngine(t, []sources.Adapter{gogo}, nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Trending(ctx, TrendingOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, gogo.Calls("trending"))
}

func TestSources(t *testing.T) {
	engine, _ := newTestEngine(t, []sources.Adapter{
		newFakeAdapter(anime.Zoro),
		newFakeAdapter(anime.Gogoanime),
	}, nil, testConfig())
	require.Equal(t, []anime.Source{anime.Zoro, anime.Gogoanime}, engine.Sources())
}
