package db

import (
	"context"
)

const upsertListing = `-- name: UpsertListing :exec
insert into anime(source, slug, title, image_url, latest_episode, last_scraped)
values (?, ?, ?, ?, ?, ?)
on conflict (source, slug) do update set
    title = excluded.title,
    image_url = excluded.image_url,
    latest_episode = excluded.latest_episode,
    last_scraped = excluded.last_scraped
`

type UpsertListingParams struct {
	Source        string
	Slug          string
	Title         string
	ImageUrl      string
	LatestEpisode int64
	LastScraped   int64
}

func (q *Queries) UpsertListing(ctx context.Context, arg UpsertListingParams) error {
	_, err := q.db.ExecContext(ctx, upsertListing,
		arg.Source,
		arg.Slug,
		arg.Title,
		arg.ImageUrl,
		arg.LatestEpisode,
		arg.LastScraped,
	)
	return err
}

const upsertDetail = `-- name: UpsertDetail :exec
insert into anime(
    source, slug, title, image_url, latest_episode,
    description, genres, status, release_year, rating,
    has_detail, last_scraped
)
values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
on conflict (source, slug) do update set
    title = excluded.title,
    image_url = excluded.image_url,
    latest_episode = excluded.latest_episode,
    description = excluded.description,
    genres = excluded.genres,
    status = excluded.status,
    release_year = excluded.release_year,
    rating = excluded.rating,
    has_detail = 1,
    last_scraped = excluded.last_scraped
`

type UpsertDetailParams struct {
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
	LastScraped   int64
}

func (q *Queries) UpsertDetail(ctx context.Context, arg UpsertDetailParams) error {
	_, err := q.db.ExecContext(ctx, upsertDetail,
		arg.Source,
		arg.Slug,
		arg.Title,
		arg.ImageUrl,
		arg.LatestEpisode,
		arg.Description,
		arg.Genres,
		arg.Status,
		arg.ReleaseYear,
		arg.Rating,
		arg.LastScraped,
	)
	return err
}

const getAnime = `-- name: GetAnime :one
select
    source, slug, title, image_url, latest_episode,
    description, genres, status, release_year, rating,
    has_detail, last_scraped
from anime
where source = ? and slug = ?
`

type GetAnimeParams struct {
	Source string
	Slug   string
}

func (q *Queries) GetAnime(ctx context.Context, arg GetAnimeParams) (Anime, error) {
	row := q.db.QueryRowContext(ctx, getAnime, arg.Source, arg.Slug)
	var i Anime
	err := row.Scan(
		&i.Source,
		&i.Slug,
		&i.Title,
		&i.ImageUrl,
		&i.LatestEpisode,
		&i.Description,
		&i.Genres,
		&i.Status,
		&i.ReleaseYear,
		&i.Rating,
		&i.HasDetail,
		&i.LastScraped,
	)
	return i, err
}

const countAnime = `-- name: CountAnime :one
select count(*) from anime
`

func (q *Queries) CountAnime(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAnime)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const upsertEpisode = `-- name: UpsertEpisode :exec
insert into episode(source, anime_slug, number, slug, last_scraped)
values (?, ?, ?, ?, ?)
on conflict (source, anime_slug, number) do update set
    slug = excluded.slug,
    last_scraped = excluded.last_scraped
`

type UpsertEpisodeParams struct {
	Source      string
	AnimeSlug   string
	Number      int64
	Slug        string
	LastScraped int64
}

func (q *Queries) UpsertEpisode(ctx context.Context, arg UpsertEpisodeParams) error {
	_, err := q.db.ExecContext(ctx, upsertEpisode,
		arg.Source,
		arg.AnimeSlug,
		arg.Number,
		arg.Slug,
		arg.LastScraped,
	)
	return err
}

const setEpisodeSources = `-- name: SetEpisodeSources :exec
insert into episode(source, anime_slug, number, slug, sources, last_scraped)
values (?, ?, ?, '', ?, ?)
on conflict (source, anime_slug, number) do update set
    sources = excluded.sources,
    last_scraped = excluded.last_scraped
`

type SetEpisodeSourcesParams struct {
	Source      string
	AnimeSlug   string
	Number      int64
	Sources     string
	LastScraped int64
}

func (q *Queries) SetEpisodeSources(ctx context.Context, arg SetEpisodeSourcesParams) error {
	_, err := q.db.ExecContext(ctx, setEpisodeSources,
		arg.Source,
		arg.AnimeSlug,
		arg.Number,
		arg.Sources,
		arg.LastScraped,
	)
	return err
}

const deleteEpisodesForAnime = `-- name: DeleteEpisodesForAnime :exec
delete from episode
where source = ? and anime_slug = ?
`

type DeleteEpisodesForAnimeParams struct {
	Source    string
	AnimeSlug string
}

func (q *Queries) DeleteEpisodesForAnime(ctx context.Context, arg DeleteEpisodesForAnimeParams) error {
	_, err := q.db.ExecContext(ctx, deleteEpisodesForAnime, arg.Source, arg.AnimeSlug)
	return err
}

const listEpisodesForAnime = `-- name: ListEpisodesForAnime :many
select source, anime_slug, number, slug, sources, last_scraped from episode
where source = ? and anime_slug = ?
order by number asc
`

type ListEpisodesForAnimeParams struct {
	Source    string
	AnimeSlug string
}

func (q *Queries) ListEpisodesForAnime(ctx context.Context, arg ListEpisodesForAnimeParams) ([]Episode, error) {
	rows, err := q.db.QueryContext(ctx, listEpisodesForAnime, arg.Source, arg.AnimeSlug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Episode
	for rows.Next() {
		var i Episode
		if err := rows.Scan(
			&i.Source,
			&i.AnimeSlug,
			&i.Number,
			&i.Slug,
			&i.Sources,
			&i.LastScraped,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countEpisodes = `-- name: CountEpisodes :one
select count(*) from episode
`

func (q *Queries) CountEpisodes(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countEpisodes)
	var count int64
	err := row.Scan(&count)
	return count, err
}
