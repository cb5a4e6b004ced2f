package jobs

import (
	"animeagg/internal/components/assert"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/db"
	"animeagg/internal/components/telemetry"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	report_db_query = "db.query"
	report_queue    = "queue"
)

var ErrNotFound = errors.New("job not found")

// Queue is the persistent scrape job queue.
type Queue struct {
	qry   *db.Queries
	clock chrono.TimeAPI
	tel   telemetry.API
}

func NewQueue(qry *db.Queries, clock chrono.TimeAPI, tel telemetry.API) Queue {
	assert.NotNil(qry, "queries")
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "telemetry")

	return Queue{
		qry:   qry,
		clock: clock,
		tel:   telemetry.NewScopedAPI("jobs_queue", tel),
	}
}

// Enqueue validates the target and stores a new pending job.
func (q Queue) Enqueue(ctx context.Context, t Type, target string, priority Priority) (Job, error) {
	_, err := ParseTarget(t, target)
	if err != nil {
		return Job{}, err
	}
	if priority < PriorityLow || priority > PriorityCritical {
		return Job{}, fmt.Errorf("invalid priority %d", priority)
	}

	now := q.clock.Now()
	param := db.CreateScrapeJobParams{
		ID:        uuid.NewString(),
		Type:      string(t),
		Target:    target,
		Priority:  int64(priority),
		CreatedAt: now.UnixMilli(),
	}
	err = q.qry.CreateScrapeJob(ctx, param)
	if err != nil {
		q.tel.ReportBroken(report_db_query, err, "CreateScrapeJob", param)
		return Job{}, err
	}
	q.tel.ReportDebug("enqueued", param.ID, param.Type, param.Target, priority.String())

	return Job{
		ID:        param.ID,
		Type:      t,
		Target:    target,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: time.UnixMilli(param.CreatedAt),
	}, nil
}

func (q Queue) Get(ctx context.Context, id string) (Job, error) {
	row, err := q.qry.GetScrapeJob(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		q.tel.ReportBroken(report_db_query, err, "GetScrapeJob", id)
		return Job{}, err
	}
	return fromRow(row), nil
}

// Pending returns up to limit pending jobs, highest priority first and
// oldest first within a priority.
func (q Queue) Pending(ctx context.Context, limit int) ([]Job, error) {
	rows, err := q.qry.ListPendingScrapeJobs(ctx, int64(limit))
	if err != nil {
		q.tel.ReportBroken(report_db_query, err, "ListPendingScrapeJobs", limit)
		return nil, err
	}
	return fromRows(rows), nil
}

// Recent returns the last limit jobs created, newest first.
func (q Queue) Recent(ctx context.Context, limit int) ([]Job, error) {
	rows, err := q.qry.ListRecentScrapeJobs(ctx, int64(limit))
	if err != nil {
		q.tel.ReportBroken(report_db_query, err, "ListRecentScrapeJobs", limit)
		return nil, err
	}
	return fromRows(rows), nil
}

// Start moves a pending job to processing and counts the attempt. It returns
// false if the job was not pending anymore.
func (q Queue) Start(ctx context.Context, id string) (bool, error) {
	affected, err := q.qry.StartScrapeJob(ctx, db.StartScrapeJobParams{
		StartedAt: q.clock.Now().UnixMilli(),
		ID:        id,
	})
	if err != nil {
		q.tel.ReportBroken(report_db_query, err, "StartScrapeJob", id)
		return false, err
	}
	return affected > 0, nil
}

func (q Queue) Complete(ctx context.Context, id string, result any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		q.tel.ReportBroken(report_queue, fmt.Errorf("encode result: %w", err), id)
		return err
	}
	err = q.qry.CompleteScrapeJob(ctx, db.CompleteScrapeJobParams{
		Result:      string(encoded),
		CompletedAt: q.clock.Now().UnixMilli(),
		ID:          id,
	})
	if err != nil {
		q.tel.ReportBroken(report_db_query, err, "CompleteScrapeJob", id)
	}
	return err
}

func (q Queue) Fail(ctx context.Context, id string, cause error) error {
	err := q.qry.FailScrapeJob(ctx, db.FailScrapeJobParams{
		Error:       cause.Error(),
		CompletedAt: q.clock.Now().UnixMilli(),
		ID:          id,
	})
	if err != nil {
		q.tel.ReportBroken(report_db_query, err, "FailScrapeJob", id)
	}
	return err
}

func fromRows(rows []db.ScrapeJob) []Job {
	out := make([]Job, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out
}

func fromRow(row db.ScrapeJob) Job {
	job := Job{
		ID:        row.ID,
		Type:      Type(row.Type),
		Target:    row.Target,
		Status:    Status(row.Status),
		Priority:  Priority(row.Priority),
		Attempts:  int(row.Attempts),
		Error:     row.Error,
		CreatedAt: time.UnixMilli(row.CreatedAt),
	}
	if row.Result != "" {
		job.Result = json.RawMessage(row.Result)
	}
	if row.StartedAt.Valid {
		started := time.UnixMilli(row.StartedAt.Int64)
		job.StartedAt = &started
	}
	if row.CompletedAt.Valid {
		completed := time.UnixMilli(row.CompletedAt.Int64)
		job.CompletedAt = &completed
	}
	return job
}
