package httpapi

import (
	"animeagg/internal/anime"
	"animeagg/internal/components/assert"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/engine"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	report_request = "request"
	report_panic   = "panic"
)

// Engine is what the REST API serves.
type Engine interface {
	Trending(ctx context.Context, opts engine.TrendingOptions) ([]anime.Listing, error)
	Search(ctx context.Context, opts engine.SearchOptions) ([]anime.Listing, error)
	Detail(ctx context.Context, source anime.Source, slug string) (anime.Detail, error)
	Episodes(ctx context.Context, source anime.Source, slug string) ([]anime.Episode, error)
	EpisodeSources(ctx context.Context, source anime.Source, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error)
	Sources() []anime.Source
}

type RateLimitConfig struct {
	Requests      int `json:"requests"`
	WindowSeconds int `json:"window_seconds"`
	// Clients bounds the number of clients tracked at once.
	Clients int `json:"clients"`
}

type Config struct {
	// APIKey is required in the X-API-Key header when set.
	APIKey           string          `json:"api_key"`
	RateLimit        RateLimitConfig `json:"rate_limit"`
	PreferredServers []string        `json:"preferred_servers"`
	QualityRanking   []string        `json:"quality_ranking"`
}

func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Requests:      150,
			WindowSeconds: 15 * 60,
			Clients:       10000,
		},
		PreferredServers: anime.DefaultPreferredServers,
		QualityRanking:   anime.DefaultQualityRanking,
	}
}

type API struct {
	engine Engine
	config Config
	clock  chrono.TimeAPI
	tel    telemetry.API
	router *gin.Engine
}

func New(engine Engine, config Config, clock chrono.TimeAPI, tel telemetry.API) *API {
	assert.NotNil(engine, "engine")
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "telemetry")

	defaults := DefaultConfig()
	if config.RateLimit.Requests <= 0 {
		config.RateLimit.Requests = defaults.RateLimit.Requests
	}
	if config.RateLimit.WindowSeconds <= 0 {
		config.RateLimit.WindowSeconds = defaults.RateLimit.WindowSeconds
	}
	if config.RateLimit.Clients <= 0 {
		config.RateLimit.Clients = defaults.RateLimit.Clients
	}
	if len(config.PreferredServers) == 0 {
		config.PreferredServers = defaults.PreferredServers
	}
	if len(config.QualityRanking) == 0 {
		config.QualityRanking = defaults.QualityRanking
	}

	api := &API{
		engine: engine,
		config: config,
		clock:  clock,
		tel:    telemetry.NewScopedAPI("httpapi", tel),
	}
	api.router = api.routes()
	return api
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(a.recovery(), a.logRequests())

	v1 := router.Group("/api/v1")
	v1.GET("/health", a.health)

	limiter := newClientLimiter(a.config.RateLimit)
	animeGroup := v1.Group("/anime", a.requireAPIKey(), limiter.middleware())
	animeGroup.GET("/trending", a.trending)
	animeGroup.GET("/search", a.search)
	animeGroup.GET("/:source/:slug", a.detail)
	animeGroup.GET("/:source/:slug/episodes", a.episodes)
	animeGroup.GET("/:source/:slug/episodes/:number/sources", a.episodeSources)

	router.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "route not found")
	})
	return router
}

func (a *API) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		a.tel.ReportBroken(report_panic, c.Request.URL.Path, recovered)
		fail(c, http.StatusInternalServerError, "internal error")
	})
}

func (a *API) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := a.clock.Now()
		c.Next()
		a.tel.ReportDebug(
			report_request,
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			a.clock.Now().Sub(start).Round(time.Millisecond).String(),
		)
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: message})
}
