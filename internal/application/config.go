package application

import (
	"animeagg/internal/anime"
	"animeagg/internal/components/db"
	"animeagg/internal/engine"
	"animeagg/internal/fetch"
	"animeagg/internal/httpapi"
	"animeagg/internal/jobs"
	"animeagg/lib/configutil"
	"fmt"
	"time"
)

const ConfigName = "config.json5"

type CacheConfig struct {
	// Backend is one of sqlite, badger or memory.
	Backend             string `json:"backend"`
	BadgerDir           string `json:"badger_dir"`
	MemorySize          int    `json:"memory_size"`
	MemoryMaxTTLSeconds int    `json:"memory_max_ttl_seconds"`
}

type FetchConfig struct {
	// Retries of -1 disables retrying.
	Retries   int               `json:"retries"`
	BackoffMs int               `json:"backoff_ms"`
	TimeoutMs int               `json:"timeout_ms"`
	Headers   map[string]string `json:"headers"`
	// DumpDir keeps a copy of every upstream exchange, for fixing selectors.
	DumpDir   string            `json:"dump_dir"`
}

type ProxyConfig struct {
	Addresses      []string `json:"addresses"`
	ProbeURL       string   `json:"probe_url"`
	ProbeTimeoutMs int      `json:"probe_timeout_ms"`
	Concurrency    int      `json:"concurrency"`
	CheckOnStart   bool     `json:"check_on_start"`
}

type TTLConfig struct {
	TrendingSeconds int `json:"trending_seconds"`
	SearchSeconds   int `json:"search_seconds"`
	DetailSeconds   int `json:"detail_seconds"`
	EpisodesSeconds int `json:"episodes_seconds"`
	SourcesSeconds  int `json:"sources_seconds"`
}

type EngineConfig struct {
	SpacingMs            int       `json:"spacing_ms"`
	MaxInFlight          int       `json:"max_in_flight"`
	SourceTimeoutSeconds int       `json:"source_timeout_seconds"`
	EnrichConcurrency    int       `json:"enrich_concurrency"`
	TTL                  TTLConfig `json:"ttl"`
}

type SourcesConfig struct {
	// Enabled lists the sources in merge order.
	Enabled  []string          `json:"enabled"`
	BaseURLs map[string]string `json:"base_urls"`
}

type AdminConfig struct {
	// Secret signs admin tokens, the admin service is not mounted without it.
	Secret          string `json:"secret"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
	// Url is where the admin CLI commands reach a running server.
	Url string `json:"url"`
}

type SchedulerConfig struct {
	Disabled  bool                `json:"disabled"`
	BatchSize int                 `json:"batch_size"`
	Schedule  jobs.ScheduleConfig `json:"schedule"`
}

type Config struct {
	Listen    string          `json:"listen"`
	Database  db.Config       `json:"database"`
	Cache     CacheConfig     `json:"cache"`
	Fetch     FetchConfig     `json:"fetch"`
	Proxies   ProxyConfig     `json:"proxies"`
	Engine    EngineConfig    `json:"engine"`
	Sources   SourcesConfig   `json:"sources"`
	Http      httpapi.Config  `json:"http"`
	Admin     AdminConfig     `json:"admin"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Smtp      jobs.SmtpConfig `json:"smtp"`
}

func DefaultConfig() Config {
	fetchDefaults := fetch.DefaultConfig()
	engineDefaults := engine.DefaultConfig()

	sources := make([]string, len(anime.AllSources))
	for i, s := range anime.AllSources {
		sources[i] = string(s)
	}

	return Config{
		Listen:   ":8080",
		Database: db.Config{File: "data/animeagg.db"},
		Cache: CacheConfig{
			Backend:             "sqlite",
			BadgerDir:           "data/cache",
			MemorySize:          4096,
			MemoryMaxTTLSeconds: 3600,
		},
		Fetch: FetchConfig{
			Retries:   fetchDefaults.Retries,
			BackoffMs: int(fetchDefaults.Backoff / time.Millisecond),
			TimeoutMs: int(fetchDefaults.Timeout / time.Millisecond),
		},
		Proxies: ProxyConfig{
			ProbeURL:       "http://example.com",
			ProbeTimeoutMs: 5000,
			Concurrency:    8,
		},
		Engine: EngineConfig{
			SpacingMs:            int(engineDefaults.Spacing / time.Millisecond),
			MaxInFlight:          int(engineDefaults.MaxInFlight),
			SourceTimeoutSeconds: int(engineDefaults.SourceTimeout / time.Second),
			EnrichConcurrency:    engineDefaults.EnrichConcurrency,
			TTL: TTLConfig{
				TrendingSeconds: int(engineDefaults.TTL.Trending / time.Second),
				SearchSeconds:   int(engineDefaults.TTL.Search / time.Second),
				DetailSeconds:   int(engineDefaults.TTL.Detail / time.Second),
				EpisodesSeconds: int(engineDefaults.TTL.Episodes / time.Second),
				SourcesSeconds:  int(engineDefaults.TTL.Sources / time.Second),
			},
		},
		Sources: SourcesConfig{Enabled: sources},
		Http:    httpapi.DefaultConfig(),
		Admin: AdminConfig{
			TokenTTLMinutes: 60,
			Url:             "http://localhost:8080",
		},
		Scheduler: SchedulerConfig{
			BatchSize: jobs.DefaultBatchSize,
			Schedule:  jobs.DefaultScheduleConfig(),
		},
	}
}

// ReadConfig reads config.json5 (and config.local.json5) over the defaults.
func ReadConfig() (Config, error) {
	return configutil.ReadWithDefaults(ConfigName, DefaultConfig())
}

func (c FetchConfig) client() fetch.Config {
	return fetch.Config{
		Retries: c.Retries,
		Backoff: time.Duration(c.BackoffMs) * time.Millisecond,
		Timeout: time.Duration(c.TimeoutMs) * time.Millisecond,
		Headers: c.Headers,
		DumpDir: c.DumpDir,
	}
}

func (c EngineConfig) engine() engine.Config {
	return engine.Config{
		Spacing:           time.Duration(c.SpacingMs) * time.Millisecond,
		MaxInFlight:       int64(c.MaxInFlight),
		SourceTimeout:     time.Duration(c.SourceTimeoutSeconds) * time.Second,
		EnrichConcurrency: c.EnrichConcurrency,
		TTL: engine.TTLConfig{
			Trending: time.Duration(c.TTL.TrendingSeconds) * time.Second,
			Search:   time.Duration(c.TTL.SearchSeconds) * time.Second,
			Detail:   time.Duration(c.TTL.DetailSeconds) * time.Second,
			Episodes: time.Duration(c.TTL.EpisodesSeconds) * time.Second,
			Sources:  time.Duration(c.TTL.SourcesSeconds) * time.Second,
		},
	}
}

func (c SourcesConfig) parse() ([]anime.Source, map[anime.Source]string, error) {
	order := make([]anime.Source, 0, len(c.Enabled))
	seen := map[anime.Source]bool{}
	for _, name := range c.Enabled {
		source, err := anime.ParseSource(name)
		if err != nil {
			return nil, nil, fmt.Errorf("sources.enabled: %w", err)
		}
		if seen[source] {
			continue
		}
		seen[source] = true
		order = append(order, source)
	}
	if len(order) == 0 {
		return nil, nil, fmt.Errorf("sources.enabled: no sources enabled")
	}

	baseURLs := make(map[anime.Source]string, len(c.BaseURLs))
	for name, base := range c.BaseURLs {
		source, err := anime.ParseSource(name)
		if err != nil {
			return nil, nil, fmt.Errorf("sources.base_urls: %w", err)
		}
		baseURLs[source] = base
	}
	return order, baseURLs, nil
}
