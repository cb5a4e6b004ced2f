package db

import (
	"context"
)

const scrapeJobColumns = `id, type, target, status, priority, attempts, result, error, created_at, started_at, completed_at`

func scanScrapeJob(row interface{ Scan(...any) error }) (ScrapeJob, error) {
	var i ScrapeJob
	err := row.Scan(
		&i.ID,
		&i.Type,
		&i.Target,
		&i.Status,
		&i.Priority,
		&i.Attempts,
		&i.Result,
		&i.Error,
		&i.CreatedAt,
		&i.StartedAt,
		&i.CompletedAt,
	)
	return i, err
}

const createScrapeJob = `-- name: CreateScrapeJob :exec
insert into scrape_job(id, type, target, status, priority, created_at)
values (?, ?, ?, 'pending', ?, ?)
`

type CreateScrapeJobParams struct {
	ID        string
	Type      string
	Target    string
	Priority  int64
	CreatedAt int64
}

func (q *Queries) CreateScrapeJob(ctx context.Context, arg CreateScrapeJobParams) error {
	_, err := q.db.ExecContext(ctx, createScrapeJob,
		arg.ID,
		arg.Type,
		arg.Target,
		arg.Priority,
		arg.CreatedAt,
	)
	return err
}

const getScrapeJob = `-- name: GetScrapeJob :one
select ` + scrapeJobColumns + ` from scrape_job
where id = ?
`

func (q *Queries) GetScrapeJob(ctx context.Context, id string) (ScrapeJob, error) {
	row := q.db.QueryRowContext(ctx, getScrapeJob, id)
	return scanScrapeJob(row)
}

const listPendingScrapeJobs = `-- name: ListPendingScrapeJobs :many
select ` + scrapeJobColumns + ` from scrape_job
where status = 'pending'
order by priority desc, created_at asc, rowid asc
limit ?
`

func (q *Queries) ListPendingScrapeJobs(ctx context.Context, limit int64) ([]ScrapeJob, error) {
	return q.listScrapeJobs(ctx, listPendingScrapeJobs, limit)
}

const listRecentScrapeJobs = `-- name: ListRecentScrapeJobs :many
select ` + scrapeJobColumns + ` from scrape_job
order by created_at desc, rowid desc
limit ?
`

func (q *Queries) ListRecentScrapeJobs(ctx context.Context, limit int64) ([]ScrapeJob, error) {
	return q.listScrapeJobs(ctx, listRecentScrapeJobs, limit)
}

func (q *Queries) listScrapeJobs(ctx context.Context, query string, limit int64) ([]ScrapeJob, error) {
	rows, err := q.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ScrapeJob
	for rows.Next() {
		i, err := scanScrapeJob(rows)
		if err != nil {
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

const startScrapeJob = `-- name: StartScrapeJob :execrows
update scrape_job set
    status = 'processing',
    attempts = attempts + 1,
    started_at = ?
where id = ? and status = 'pending'
`

type StartScrapeJobParams struct {
	StartedAt int64
	ID        string
}

func (q *Queries) StartScrapeJob(ctx context.Context, arg StartScrapeJobParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, startScrapeJob, arg.StartedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const completeScrapeJob = `-- name: CompleteScrapeJob :exec
update scrape_job set
    status = 'completed',
    result = ?,
    error = '',
    completed_at = ?
where id = ?
`

type CompleteScrapeJobParams struct {
	Result      string
	CompletedAt int64
	ID          string
}

func (q *Queries) CompleteScrapeJob(ctx context.Context, arg CompleteScrapeJobParams) error {
	_, err := q.db.ExecContext(ctx, completeScrapeJob, arg.Result, arg.CompletedAt, arg.ID)
	return err
}

const failScrapeJob = `-- name: FailScrapeJob :exec
update scrape_job set
    status = 'failed',
    error = ?,
    completed_at = ?
where id = ?
`

type FailScrapeJobParams struct {
	Error       string
	CompletedAt int64
	ID          string
}

func (q *Queries) FailScrapeJob(ctx context.Context, arg FailScrapeJobParams) error {
	_, err := q.db.ExecContext(ctx, failScrapeJob, arg.Error, arg.CompletedAt, arg.ID)
	return err
}
