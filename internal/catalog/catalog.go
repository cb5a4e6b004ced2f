package catalog

import (
	"animeagg/internal/anime"
	"animeagg/internal/components/assert"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/db"
	"animeagg/internal/components/telemetry"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/catalog")

const (
	report_db_query = "db.query"
	report_decode   = "catalog.decode"
)

// Catalog is the document store of every record scraped live.
type Catalog struct {
	qry    *db.Queries
	inTx   db.Transactor
	clock  chrono.TimeAPI
	tel    telemetry.API
}

func New(qry *db.Queries, inTx db.Transactor, clock chrono.TimeAPI, tel telemetry.API) Catalog {
	assert.NotNil(qry, "queries")
	assert.NotNil(inTx, "transactor")
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "telemetry")

	return Catalog{
		qry:    qry,
		inTx:   inTx,
		clock:  clock,
		tel:    telemetry.NewScopedAPI("catalog", tel),
	}
}

func (c Catalog) now() int64 {
	return c.clock.Now().Unix()
}

func (c Catalog) SaveListings(ctx context.Context, listings []anime.Listing) error {
	ctx, span := tracer.Start(ctx, "catalog:SaveListings")
	defer span.End()

	if len(listings) == 0 {
		return nil
	}

	now := c.now()
	err := c.inTx(ctx, func(tx *db.Queries) error {
		for _, l := range listings {
			param := db.UpsertListingParams{
				Source:        string(l.Source),
				Slug:          l.Slug,
				Title:         l.Title,
				ImageUrl:      l.ImageURL,
				LatestEpisode: int64(l.LatestEpisode),
				LastScraped:   now,
			}
			err := tx.UpsertListing(ctx, param)
			if err != nil {
				c.tel.ReportBroken(report_db_query, err, "UpsertListing", param)
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save listings failed")
	}
	return err
}

// SaveDetail upserts the anime with its detail fields and replaces its
// episodes.
func (c Catalog) SaveDetail(ctx context.Context, detail anime.Detail) error {
	ctx, span := tracer.Start(ctx, "catalog:SaveDetail")
	defer span.End()

	genres, err := json.Marshal(anime.UniqueStrings(detail.Genres))
	if err != nil {
		return err
	}

	now := c.now()
	param := db.UpsertDetailParams{
		Source:        string(detail.Source),
		Slug:          detail.Slug,
		Title:         detail.Title,
		ImageUrl:      detail.ImageURL,
		LatestEpisode: int64(detail.LatestEpisode),
		Description:   detail.Description,
		Genres:        string(genres),
		Status:        detail.Status,
		ReleaseYear:   int64(detail.ReleaseYear),
		Rating:        detail.Rating,
		LastScraped:   now,
	}
	err = c.inTx(ctx, func(tx *db.Queries) error {
		err := tx.UpsertDetail(ctx, param)
		if err != nil {
			c.tel.ReportBroken(report_db_query, err, "UpsertDetail", param)
			return err
		}

		paramDelete := db.DeleteEpisodesForAnimeParams{
			Source:    string(detail.Source),
			AnimeSlug: detail.Slug,
		}
		err = tx.DeleteEpisodesForAnime(ctx, paramDelete)
		if err != nil {
			c.tel.ReportBroken(report_db_query, err, "DeleteEpisodesForAnime", paramDelete)
			return err
		}
		err = upsertEpisodes(ctx, tx, detail.Source, detail.Slug, detail.Episodes, now)
		if err != nil {
			c.tel.ReportBroken(report_db_query, err, "UpsertEpisode")
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save detail failed")
	}
	return err
}

func upsertEpisodes(ctx context.Context, tx *db.Queries, source anime.Source, slug string, episodes []anime.Episode, now int64) error {
	for _, e := range anime.NormalizeEpisodes(episodes) {
		err := tx.UpsertEpisode(ctx, db.UpsertEpisodeParams{
			Source:      string(source),
			AnimeSlug:   slug,
			Number:      int64(e.Number),
			Slug:        e.Slug,
			LastScraped: now,
		})
		if err != nil {
			return fmt.Errorf("episode %d: %w", e.Number, err)
		}
	}
	return nil
}

func (c Catalog) SaveEpisodes(ctx context.Context, source anime.Source, slug string, episodes []anime.Episode) error {
	ctx, span := tracer.Start(ctx, "catalog:SaveEpisodes")
	defer span.End()

	now := c.now()
	err := c.inTx(ctx, func(tx *db.Queries) error {
		return upsertEpisodes(ctx, tx, source, slug, episodes, now)
	})
	if err != nil {
		c.tel.ReportBroken(report_db_query, err, "UpsertEpisode", source, slug)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert episodes failed")
	}
	return err
}

func (c Catalog) SaveEpisodeSources(ctx context.Context, source anime.Source, slug string, episode int, list []anime.EpisodeSource) error {
	ctx, span := tracer.Start(ctx, "catalog:SaveEpisodeSources")
	defer span.End()

	if list == nil {
		list = []anime.EpisodeSource{}
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return err
	}
	param := db.SetEpisodeSourcesParams{
		Source:      string(source),
		AnimeSlug:   slug,
		Number:      int64(episode),
		Sources:     string(encoded),
		LastScraped: c.now(),
	}
	err = c.qry.SetEpisodeSources(ctx, param)
	if err != nil {
		c.tel.ReportBroken(report_db_query, err, "SetEpisodeSources", source, slug, episode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "set episode sources failed")
		return err
	}
	return nil
}

// Get returns the stored record of an anime. Anime only seen in listings
// come back with an empty description and no episodes.
func (c Catalog) Get(ctx context.Context, source anime.Source, slug string) (anime.Detail, bool, error) {
	ctx, span := tracer.Start(ctx, "catalog:Get")
	defer span.End()

	row, err := c.qry.GetAnime(ctx, db.GetAnimeParams{Source: string(source), Slug: slug})
	if errors.Is(err, sql.ErrNoRows) {
		return anime.Detail{}, false, nil
	}
	if err != nil {
		c.tel.ReportBroken(report_db_query, err, "GetAnime", source, slug)
		span.RecordError(err)
		span.SetStatus(codes.Error, "get anime failed")
		return anime.Detail{}, false, err
	}

	detail := anime.Detail{
		Listing:     anime.NewListing(source, row.Slug, row.Title, row.ImageUrl, int(row.LatestEpisode)),
		Description: row.Description,
		Status:      row.Status,
		ReleaseYear: int(row.ReleaseYear),
		Rating:      row.Rating,
	}
	err = json.Unmarshal([]byte(row.Genres), &detail.Genres)
	if err != nil {
		c.tel.ReportWarning(report_decode, "genres", source, slug, err)
	}

	episodes, err := c.qry.ListEpisodesForAnime(ctx, db.ListEpisodesForAnimeParams{
		Source:    string(source),
		AnimeSlug: slug,
	})
	if err != nil {
		c.tel.ReportBroken(report_db_query, err, "ListEpisodesForAnime", source, slug)
		return anime.Detail{}, false, err
	}
	for _, e := range episodes {
		// rows created by SetEpisodeSources alone have no slug
		if e.Slug == "" {
			continue
		}
		detail.Episodes = append(detail.Episodes, anime.Episode{Number: int(e.Number), Slug: e.Slug})
	}
	detail.Normalize()
	if detail.Episodes == nil {
		detail.Episodes = []anime.Episode{}
	}
	return detail, true, nil
}

// EpisodeSources returns the stored source list of one episode.
func (c Catalog) EpisodeSources(ctx context.Context, source anime.Source, slug string, episode int) ([]anime.EpisodeSource, bool, error) {
	episodes, err := c.qry.ListEpisodesForAnime(ctx, db.ListEpisodesForAnimeParams{
		Source:    string(source),
		AnimeSlug: slug,
	})
	if err != nil {
		c.tel.ReportBroken(report_db_query, err, "ListEpisodesForAnime", source, slug)
		return nil, false, err
	}
	for _, e := range episodes {
		if e.Number != int64(episode) {
			continue
		}
		var list []anime.EpisodeSource
		err = json.Unmarshal([]byte(e.Sources), &list)
		if err != nil {
			c.tel.ReportWarning(report_decode, "sources", source, slug, episode, err)
			return nil, false, err
		}
		return list, true, nil
	}
	return nil, false, nil
}

type Stats struct {
	Anime    int64 `json:"anime"`
	Episodes int64 `json:"episodes"`
}

func (c Catalog) Stats(ctx context.Context) (Stats, error) {
	animeCount, err := c.qry.CountAnime(ctx)
	if err != nil {
		c.tel.ReportBroken(report_db_query, err, "CountAnime")
		return Stats{}, err
	}
	episodeCount, err := c.qry.CountEpisodes(ctx)
	if err != nil {
		c.tel.ReportBroken(report_db_query, err, "CountEpisodes")
		return Stats{}, err
	}
	return Stats{Anime: animeCount, Episodes: episodeCount}, nil
}
