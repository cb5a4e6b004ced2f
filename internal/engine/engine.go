package engine

import (
	"animeagg/internal/anime"
	"animeagg/internal/cache"
	"animeagg/internal/components/assert"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/sources"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	tracer = otel.Tracer("internal/engine")
	meter  = otel.Meter("internal/engine")
)

const (
	report_engine_source_failure = "engine.source-failure"
	report_engine_cache          = "engine.cache"
	report_engine_archive        = "engine.archive"
	report_engine_enrich         = "engine.enrich"
	report_engine_cache_hits     = "engine.cache-hits"
	report_engine_cache_misses   = "engine.cache-misses"
)

// Archive receives every record the engine scraped live.
type Archive interface {
	SaveListings(ctx context.Context, listings []anime.Listing) error
	SaveDetail(ctx context.Context, detail anime.Detail) error
	SaveEpisodes(ctx context.Context, source anime.Source, slug string, episodes []anime.Episode) error
	SaveEpisodeSources(ctx context.Context, source anime.Source, slug string, episode int, list []anime.EpisodeSource) error
}

type TTLConfig struct {
	Trending time.Duration
	Search   time.Duration
	Detail   time.Duration
	Episodes time.Duration
	Sources  time.Duration
}

type Config struct {
	// Spacing is the minimum time between two live calls to the same source.
	Spacing time.Duration
	// MaxInFlight caps the operations running at once.
	MaxInFlight int64
	// SourceTimeout bounds the work done for one source in one operation.
	SourceTimeout time.Duration
	// EnrichConcurrency bounds the detail fetches of a search.
	EnrichConcurrency int
	TTL               TTLConfig
}

func DefaultConfig() Config {
	return Config{
		Spacing:           time.Second * 2,
		MaxInFlight:       8,
		SourceTimeout:     time.Second * 45,
		EnrichConcurrency: 4,
		TTL: TTLConfig{
			Trending: time.Minute,
			Search:   time.Minute,
			Detail:   time.Minute * 30,
			Episodes: time.Minute * 10,
			Sources:  time.Minute * 5,
		},
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Spacing < 0 {
		c.Spacing = 0
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = defaults.MaxInFlight
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = defaults.SourceTimeout
	}
	if c.EnrichConcurrency <= 0 {
		c.EnrichConcurrency = defaults.EnrichConcurrency
	}
	if c.TTL.Trending <= 0 {
		c.TTL.Trending = defaults.TTL.Trending
	}
	if c.TTL.Search <= 0 {
		c.TTL.Search = defaults.TTL.Search
	}
	if c.TTL.Detail <= 0 {
		c.TTL.Detail = defaults.TTL.Detail
	}
	if c.TTL.Episodes <= 0 {
		c.TTL.Episodes = defaults.TTL.Episodes
	}
	if c.TTL.Sources <= 0 {
		c.TTL.Sources = defaults.TTL.Sources
	}
	return c
}

type Stats struct {
	CacheHits      int64 `json:"cacheHits"`
	CacheMisses    int64 `json:"cacheMisses"`
	SourceFailures int64 `json:"sourceFailures"`
}

// Engine fans operations out to the source adapters, caches what they
// return and merges the results.
type Engine struct {
	adapters []sources.Adapter
	bySource map[anime.Source]sources.Adapter
	gates    map[anime.Source]*rate.Limiter
	inflight *semaphore.Weighted
	cache    cache.Store
	archive  Archive
	config   Config
	tel      telemetry.API

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64

	sourceFailures metric.Int64Counter
	cacheLookups   metric.Int64Counter
}

// New creates an engine over adapters, their order is the merge order.
// archive may be nil.
func New(adapters []sources.Adapter, store cache.Store, archive Archive, config Config, tel telemetry.API) *Engine {
	assert.NotNil(store, "cache")
	assert.NotNil(tel, "telemetry")

	config = config.withDefaults()
	limit := rate.Inf
	if config.Spacing > 0 {
		limit = rate.Every(config.Spacing)
	}

	e := &Engine{
		adapters: adapters,
		bySource: make(map[anime.Source]sources.Adapter, len(adapters)),
		gates:    make(map[anime.Source]*rate.Limiter, len(adapters)),
		inflight: semaphore.NewWeighted(config.MaxInFlight),
		cache:    store,
		config:   config,
		archive:  archive,
		tel:      telemetry.NewScopedAPI("engine", tel),
	}
	for _, adapter := range adapters {
		assert.NotNil(adapter, "adapter")
		e.bySource[adapter.Name()] = adapter
		e.gates[adapter.Name()] = rate.NewLimiter(limit, 1)
	}

	e.sourceFailures, _ = meter.Int64Counter(
		"engine.source_failures",
		metric.WithDescription("source calls that failed during an operation"),
	)
	e.cacheLookups, _ = meter.Int64Counter(
		"engine.cache_lookups",
		metric.WithDescription("cache lookups made by the engine by result"),
	)
	return e
}

// Sources returns the configured sources in merge order.
func (e *Engine) Sources() []anime.Source {
	out := make([]anime.Source, len(e.adapters))
	for i, a := range e.adapters {
		out[i] = a.Name()
	}
	return out
}

func (e *Engine) Stats() Stats {
	return Stats{
		CacheHits:      e.hits.Load(),
		CacheMisses:    e.misses.Load(),
		SourceFailures: e.failures.Load(),
	}
}

func (e *Engine) adapter(source anime.Source) (sources.Adapter, error) {
	adapter, ok := e.bySource[source]
	if !ok {
		return nil, anime.UnknownSourceError{Name: string(source)}
	}
	return adapter, nil
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	err := e.inflight.Acquire(ctx, 1)
	if err != nil {
		return nil, ctx.Err()
	}
	return func() { e.inflight.Release(1) }, nil
}

func (e *Engine) reportSourceFailure(ctx context.Context, op string, source anime.Source, err error) {
	e.failures.Add(1)
	e.sourceFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("source", string(source)),
	))
	e.tel.ReportWarning(report_engine_source_failure, op, string(source), err)
}

func (e *Engine) countLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
		e.tel.ReportCount(report_engine_cache_hits, e.hits.Add(1))
	} else {
		e.tel.ReportCount(report_engine_cache_misses, e.misses.Add(1))
	}
	e.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// cached returns the cached value under key, or computes it with live
// (after waiting for the rate gate of source) and caches it for ttl.
// Failed live calls are never cached.
func cached[T any](
	ctx context.Context,
	e *Engine,
	source anime.Source,
	key string,
	ttl time.Duration,
	live func(ctx context.Context) (T, error),
) (T, bool, error) {
	payload, found, err := e.cache.Get(ctx, key)
	if err != nil {
		e.tel.ReportWarning(report_engine_cache, "get", key, err)
	}
	if found {
		var value T
		err = json.Unmarshal(payload, &value)
		if err == nil {
			e.countLookup(ctx, true)
			return value, true, nil
		}
		e.tel.ReportWarning(report_engine_cache, "decode", key, err)
	}
	e.countLookup(ctx, false)

	var empty T
	gate := e.gates[source]
	if gate != nil {
		err = gate.Wait(ctx)
		if err != nil {
			return empty, false, err
		}
	}

	value, err := live(ctx)
	if err != nil {
		return empty, false, err
	}

	payload, err = json.Marshal(value)
	if err != nil {
		e.tel.ReportWarning(report_engine_cache, "encode", key, err)
		return value, false, nil
	}
	err = e.cache.Set(ctx, key, payload, ttl)
	if err != nil {
		e.tel.ReportWarning(report_engine_cache, "set", key, err)
	}
	return value, false, nil
}

func (e *Engine) archiveWith(ctx context.Context, save func(archive Archive) error) {
	if e.archive == nil {
		return
	}
	err := save(e.archive)
	if err != nil {
		e.tel.ReportWarning(report_engine_archive, err)
	}
}

// bounded runs fn with a deadline of d and stops waiting for it once the
// deadline passes. An abandoned fn keeps running with a cancelled ctx, its
// result is dropped.
func bounded[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan T, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case value := <-done:
		return value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// fanOut runs fn for every adapter concurrently, each with its own timeout,
// and returns the outcomes in adapter order. A source that fails or overruns
// its timeout is reported and contributes nothing.
func (e *Engine) fanOut(ctx context.Context, op string, fn func(ctx context.Context, adapter sources.Adapter) ([]anime.Listing, error)) [][]anime.Listing {
	type outcome struct {
		listings []anime.Listing
		err      error
	}

	results := make([][]anime.Listing, len(e.adapters))
	var wg sync.WaitGroup
	for i, adapter := range e.adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := bounded(ctx, e.config.SourceTimeout, func(ctx context.Context) outcome {
				listings, err := fn(ctx, adapter)
				return outcome{listings: listings, err: err}
			})
			if err == nil {
				err = result.err
			}
			if err != nil {
				e.reportSourceFailure(ctx, op, adapter.Name(), err)
				return
			}
			results[i] = result.listings
		}()
	}
	wg.Wait()
	return results
}

func limitListings(listings []anime.Listing, limit int) []anime.Listing {
	if limit > 0 && len(listings) > limit {
		return listings[:limit]
	}
	return listings
}

type TrendingOptions struct {
	// Limit applies per source.
	Limit  int
	SortBy SortKey
}

// Trending merges the trending lists of every source. Sources that fail
// contribute nothing, the operation itself only fails if ctx is done.
func (e *Engine) Trending(ctx context.Context, opts TrendingOptions) ([]anime.Listing, error) {
	ctx, span := tracer.Start(ctx, "engine:Trending")
	defer span.End()

	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	release, err := e.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire slot")
		return nil, err
	}
	defer release()

	results := e.fanOut(ctx, "trending", func(ctx context.Context, adapter sources.Adapter) ([]anime.Listing, error) {
		source := adapter.Name()
		key := fmt.Sprintf("trending:%s:%d", source, opts.Limit)
		listings, fromCache, err := cached(ctx, e, source, key, e.config.TTL.Trending, func(ctx context.Context) ([]anime.Listing, error) {
			return adapter.ListTrending(ctx, opts.Limit)
		})
		if err != nil {
			return nil, err
		}
		if !fromCache {
			e.archiveWith(ctx, func(a Archive) error { return a.SaveListings(ctx, listings) })
		}
		return limitListings(listings, opts.Limit), nil
	})

	merged := Merge(results...)
	Sort(merged, opts.SortBy, "")
	span.SetAttributes(attribute.Int("results", len(merged)))
	return merged, nil
}

type SearchOptions struct {
	Query string
	// Limit applies per source.
	Limit        int
	FetchDetails bool
	SortBy       SortKey
}

func searchKey(source anime.Source, query string, page int) string {
	return fmt.Sprintf("search:%s:%s:%d", source, strings.ToLower(query), page)
}

// Search merges the first result page of every source and optionally
// attaches the detail of every result.
func (e *Engine) Search(ctx context.Context, opts SearchOptions) ([]anime.Listing, error) {
	ctx, span := tracer.Start(ctx, "engine:Search")
	defer span.End()

	query := strings.TrimSpace(opts.Query)
	span.SetAttributes(attribute.String("query", query))
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	release, err := e.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire slot")
		return nil, err
	}
	defer release()

	results := e.fanOut(ctx, "search", func(ctx context.Context, adapter sources.Adapter) ([]anime.Listing, error) {
		source := adapter.Name()
		page, fromCache, err := cached(ctx, e, source, searchKey(source, query, 1), e.config.TTL.Search, func(ctx context.Context) (anime.SearchPage, error) {
			return adapter.Search(ctx, query, 1)
		})
		if err != nil {
			return nil, err
		}
		if !fromCache {
			e.archiveWith(ctx, func(a Archive) error { return a.SaveListings(ctx, page.Items) })
		}
		return limitListings(page.Items, opts.Limit), nil
	})

	merged := Merge(results...)
	Sort(merged, opts.SortBy, query)

	if opts.FetchDetails {
		e.enrich(ctx, merged)
	}
	span.SetAttributes(attribute.Int("results", len(merged)))
	return merged, nil
}

// enrich attaches details to listings in place, a listing whose detail
// cannot be fetched is left as is.
func (e *Engine) enrich(ctx context.Context, listings []anime.Listing) {
	ctx, span := tracer.Start(ctx, "engine:enrich")
	defer span.End()

	group := errgroup.Group{}
	group.SetLimit(e.config.EnrichConcurrency)
	for i := range listings {
		group.Go(func() error {
			adapter, err := e.adapter(listings[i].Source)
			if err != nil {
				return nil
			}
			type outcome struct {
				detail anime.Detail
				err    error
			}
			slug := listings[i].Slug
			result, err := bounded(ctx, e.config.SourceTimeout, func(ctx context.Context) outcome {
				detail, err := e.detail(ctx, adapter, slug)
				return outcome{detail: detail, err: err}
			})
			if err == nil {
				err = result.err
			}
			if err != nil {
				e.tel.ReportWarning(report_engine_enrich, listings[i].ID, err)
				return nil
			}
			listings[i].Detail = &result.detail
			return nil
		})
	}
	group.Wait()
}

func (e *Engine) detail(ctx context.Context, adapter sources.Adapter, slug string) (anime.Detail, error) {
	source := adapter.Name()
	key := fmt.Sprintf("detail:%s:%s", source, slug)
	detail, fromCache, err := cached(ctx, e, source, key, e.config.TTL.Detail, func(ctx context.Context) (anime.Detail, error) {
		return adapter.GetDetail(ctx, slug)
	})
	if err != nil {
		return anime.Detail{}, err
	}
	if !fromCache {
		e.archiveWith(ctx, func(a Archive) error { return a.SaveDetail(ctx, detail) })
	}
	return detail, nil
}

// single runs a single source operation holding an in-flight slot and
// bounded by the source timeout.
func (e *Engine) single(ctx context.Context, source anime.Source, fn func(ctx context.Context, adapter sources.Adapter) error) error {
	adapter, err := e.adapter(source)
	if err != nil {
		return err
	}
	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.config.SourceTimeout)
	defer cancel()
	return fn(ctx, adapter)
}

// Detail returns the detail of one anime.
func (e *Engine) Detail(ctx context.Context, source anime.Source, slug string) (anime.Detail, error) {
	ctx, span := tracer.Start(ctx, "engine:Detail")
	defer span.End()

	var detail anime.Detail
	err := e.single(ctx, source, func(ctx context.Context, adapter sources.Adapter) error {
		var err error
		detail, err = e.detail(ctx, adapter, slug)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail failed")
		return anime.Detail{}, fmt.Errorf("detail %s/%s: %w", source, slug, err)
	}
	return detail, nil
}

// Episodes returns the episode list of one anime.
func (e *Engine) Episodes(ctx context.Context, source anime.Source, slug string) ([]anime.Episode, error) {
	ctx, span := tracer.Start(ctx, "engine:Episodes")
	defer span.End()

	var episodes []anime.Episode
	err := e.single(ctx, source, func(ctx context.Context, adapter sources.Adapter) error {
		key := fmt.Sprintf("episodes:%s:%s", source, slug)
		var (
			fromCache bool
			err       error
		)
		episodes, fromCache, err = cached(ctx, e, source, key, e.config.TTL.Episodes, func(ctx context.Context) ([]anime.Episode, error) {
			return adapter.ListEpisodes(ctx, slug)
		})
		if err != nil {
			return err
		}
		if !fromCache {
			e.archiveWith(ctx, func(a Archive) error { return a.SaveEpisodes(ctx, source, slug, episodes) })
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "episodes failed")
		return nil, fmt.Errorf("episodes %s/%s: %w", source, slug, err)
	}
	if episodes == nil {
		episodes = []anime.Episode{}
	}
	return episodes, nil
}

// EpisodeSources returns the links of one episode, filtered by
// preferredServer when it is not empty.
func (e *Engine) EpisodeSources(ctx context.Context, source anime.Source, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error) {
	ctx, span := tracer.Start(ctx, "engine:EpisodeSources")
	defer span.End()

	preferredServer = strings.TrimSpace(preferredServer)
	var list []anime.EpisodeSource
	err := e.single(ctx, source, func(ctx context.Context, adapter sources.Adapter) error {
		key := fmt.Sprintf("sources:%s:%s:%d:%s", source, slug, episode, strings.ToLower(preferredServer))
		var (
			fromCache bool
			err       error
		)
		list, fromCache, err = cached(ctx, e, source, key, e.config.TTL.Sources, func(ctx context.Context) ([]anime.EpisodeSource, error) {
			return adapter.GetEpisodeSources(ctx, slug, episode, preferredServer)
		})
		if err != nil {
			return err
		}
		if !fromCache && preferredServer == "" {
			e.archiveWith(ctx, func(a Archive) error { return a.SaveEpisodeSources(ctx, source, slug, episode, list) })
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "episode sources failed")
		return nil, fmt.Errorf("episode sources %s/%s/%d: %w", source, slug, episode, err)
	}
	if list == nil {
		list = []anime.EpisodeSource{}
	}
	return list, nil
}

// InvalidateCache removes the cached entries matching pattern, an empty
// pattern clears everything.
func (e *Engine) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	ctx, span := tracer.Start(ctx, "engine:InvalidateCache")
	defer span.End()

	if strings.TrimSpace(pattern) == "" {
		pattern = "*"
	}
	removed, err := e.cache.Invalidate(ctx, pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalidate failed")
		return 0, err
	}
	e.tel.ReportDebug("cache invalidated", pattern, removed)
	return removed, nil
}
