package httpapi

import (
	"animeagg/internal/anime"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/engine"
	"animeagg/internal/fetch"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	trending engine.TrendingOptions
	search   engine.SearchOptions
	server   string
}

func (f *fakeEngine) Trending(ctx context.Context, opts engine.TrendingOptions) ([]anime.Listing, error) {
	f.trending = opts
	return []anime.Listing{anime.NewListing(anime.Zoro, "bleach-806", "Bleach", "", 366)}, nil
}

func (f *fakeEngine) Search(ctx context.Context, opts engine.SearchOptions) ([]anime.Listing, error) {
	f.search = opts
	return []anime.Listing{}, nil
}

func (f *fakeEngine) Detail(ctx context.Context, source anime.Source, slug string) (anime.Detail, error) {
	if slug == "offline" {
		return anime.Detail{}, fetch.FetchError{URL: "https://zoro.to/offline", Attempts: 4, Reason: fetch.StatusError{Code: 503}}
	}
	return anime.Detail{Listing: anime.NewListing(source, slug, "Bleach", "", 366), Genres: []string{"Action"}}, nil
}

func (f *fakeEngine) Episodes(ctx context.Context, source anime.Source, slug string) ([]anime.Episode, error) {
	return []anime.Episode{{Number: 1, Slug: slug + "/ep-1"}}, nil
}

func (f *fakeEngine) EpisodeSources(ctx context.Context, source anime.Source, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error) {
	f.server = preferredServer
	return []anime.EpisodeSource{
		{Server: "Doodstream", URL: "https://dood.to/e/1", Quality: "480p", Priority: 1},
		{Server: "Vidstream", URL: "https://vidstream.pro/e/1", Quality: "1080p", Priority: 1},
		{Server: "Vidstream", URL: "https://vidstream.pro/e/2", Quality: "360p", Priority: 1},
	}, nil
}

func (f *fakeEngine) Sources() []anime.Source {
	return anime.AllSources
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestAPI(t *testing.T, config Config) (*API, *fakeEngine) {
	fake := &fakeEngine{}
	clock := chrono.NewManualClock(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	return New(fake, config, clock, telemetry.NewRecordingAPI()), fake
}

func do(t *testing.T, api *API, path string, headers map[string]string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	var res response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return rec.Code, res
}

func TestRoutes(t *testing.T) {
	api, fake := newTestAPI(t, Config{})

	t.Run("health", func(t *testing.T) {
		status, res := do(t, api, "/api/v1/health", nil)
		require.Equal(t, http.StatusOK, status)
		require.True(t, res.Success)
		require.JSONEq(t, `{"status": "ok", "sources": ["gogoanime", "nineanime", "zoro"], "time": "2024-07-01T00:00:00Z"}`, string(res.Data))
	})

	t.Run("trending", func(t *testing.T) {
		status, res := do(t, api, "/api/v1/anime/trending?limit=5&sortBy=title", nil)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, engine.TrendingOptions{Limit: 5, SortBy: engine.SortTitle}, fake.trending)

		var listings []anime.Listing
		require.NoError(t, json.Unmarshal(res.Data, &listings))
		require.Len(t, listings, 1)
		require.Equal(t, "zoro-bleach-806", listings[0].ID)

		do(t, api, "/api/v1/anime/trending?limit=abc", nil)
		require.Equal(t, 20, fake.trending.Limit)
	})

	t.Run("search", func(t *testing.T) {
		status, res := do(t, api, "/api/v1/anime/search", nil)
		require.Equal(t, http.StatusBadRequest, status)
		require.False(t, res.Success)
		require.NotEmpty(t, res.Message)

		status, res = do(t, api, "/api/v1/anime/search?q=naruto&details=true&sortBy=relevance", nil)
		require.Equal(t, http.StatusOK, status)
		require.JSONEq(t, `[]`, string(res.Data))
		require.Equal(t, engine.SearchOptions{
			Query:        "naruto",
			Limit:        20,
			FetchDetails: true,
			SortBy:       engine.SortRelevance,
		}, fake.search)
	})

	t.Run("detail", func(t *testing.T) {
		status, res := do(t, api, "/api/v1/anime/9anime/bleach", nil)
		require.Equal(t, http.StatusOK, status)
		var detail anime.Detail
		require.NoError(t, json.Unmarshal(res.Data, &detail))
		require.Equal(t, anime.NineAnime, detail.Source)

		status, res = do(t, api, "/api/v1/anime/crunchyroll/bleach", nil)
		require.Equal(t, http.StatusBadRequest, status)
		require.Contains(t, res.Message, "crunchyroll")

		status, res = do(t, api, "/api/v1/anime/zoro/offline", nil)
		require.Equal(t, http.StatusBadGateway, status)
		require.False(t, res.Success)
	})

	t.Run("episodes", func(t *testing.T) {
		status, res := do(t, api, "/api/v1/anime/zoro/bleach-806/episodes", nil)
		require.Equal(t, http.StatusOK, status)
		require.JSONEq(t, `[{"number": 1, "slug": "bleach-806/ep-1"}]`, string(res.Data))
	})

	t.Run("episode sources", func(t *testing.T) {
		status, _ := do(t, api, "/api/v1/anime/zoro/bleach-806/episodes/zero/sources", nil)
		require.Equal(t, http.StatusBadRequest, status)

		status, res := do(t, api, "/api/v1/anime/zoro/bleach-806/episodes/1/sources?server=vid", nil)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "vid", fake.server)
		var list []anime.EpisodeSource
		require.NoError(t, json.Unmarshal(res.Data, &list))
		require.Len(t, list, 3)

		status, res = do(t, api, "/api/v1/anime/zoro/bleach-806/episodes/1/sources?best=true", nil)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(res.Data, &list))
		expected := []string{"https://vidstream.pro/e/2", "https://vidstream.pro/e/1"}
		urls := []string{}
		for _, s := range list {
			urls = append(urls, s.URL)
		}
		if diff := cmp.Diff(expected, urls); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("not found", func(t *testing.T) {
		status, res := do(t, api, "/api/v2/anything", nil)
		require.Equal(t, http.StatusNotFound, status)
		require.False(t, res.Success)
	})
}

func TestAPIKey(t *testing.T) {
	api, _ := newTestAPI(t, Config{APIKey: "secret"})

	status, _ := do(t, api, "/api/v1/anime/trending", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, api, "/api/v1/anime/trending", map[string]string{"X-API-Key": "wrong"})
	require.Equal(t, http.StatusForbidden, status)

	status, _ = do(t, api, "/api/v1/anime/trending", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, status)

	// health stays open
	status, _ = do(t, api, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestRateLimit(t *testing.T) {
	api, _ := newTestAPI(t, Config{RateLimit: RateLimitConfig{Requests: 3, WindowSeconds: 3600}})

	for range 3 {
		status, _ := do(t, api, "/api/v1/anime/trending", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, res := do(t, api, "/api/v1/anime/trending", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.False(t, res.Success)

	// other clients have their own budget
	req := httptest.NewRequest(http.MethodGet, "/api/v1/anime/trending", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitFirstBurst(t *testing.T) {
	limiter := newClientLimiter(RateLimitConfig{Requests: 3, WindowSeconds: 3600, Clients: 16})

	// a new client arriving on many connections at once still gets one bucket
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.get("10.0.0.9").Allow() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 3, allowed.Load())
	require.Equal(t, 1, limiter.limiters.Len())
}
