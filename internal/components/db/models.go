package db

import (
	"database/sql"
)

type CacheEntry struct {
	Key       string
	Payload   []byte
	ExpiresAt int64
}

type Anime struct {
	Source        string
	Slug          string
	Title         string
	ImageUrl      string
	LatestEpisode int64
	Description   string
	Genres        string
	Status        string
	ReleaseYear   int64
	Rating        float64
	HasDetail     bool
	LastScraped   int64
}

type Episode struct {
	Source      string
	AnimeSlug   string
	Number      int64
	Slug        string
	Sources     string
	LastScraped int64
}

type ScrapeJob struct {
	ID          string
	Type        string
	Target      string
	Status      string
	Priority    int64
	Attempts    int64
	Result      string
	Error       string
	CreatedAt   int64
	StartedAt   sql.NullInt64
	CompletedAt sql.NullInt64
}
