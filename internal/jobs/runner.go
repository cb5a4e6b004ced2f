package jobs

import (
	"animeagg/internal/anime"
	"animeagg/internal/components/assert"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/engine"
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/jobs")

const (
	report_runner_execute = "runner.execute"
	report_runner_notify  = "runner.notify"
)

// Aggregator is the part of the engine jobs run against.
type Aggregator interface {
	Trending(ctx context.Context, opts engine.TrendingOptions) ([]anime.Listing, error)
	Search(ctx context.Context, opts engine.SearchOptions) ([]anime.Listing, error)
	Detail(ctx context.Context, source anime.Source, slug string) (anime.Detail, error)
	Episodes(ctx context.Context, source anime.Source, slug string) ([]anime.Episode, error)
	EpisodeSources(ctx context.Context, source anime.Source, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error)
}

const DefaultBatchSize = 10

type Runner struct {
	queue    Queue
	engine   Aggregator
	notifier Notifier
	batch    int
	tel      telemetry.API
}

func NewRunner(queue Queue, engine Aggregator, notifier Notifier, batch int, tel telemetry.API) Runner {
	assert.NotNil(engine, "engine")
	assert.NotNil(tel, "telemetry")
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return Runner{
		queue:    queue,
		engine:   engine,
		notifier: notifier,
		batch:    batch,
		tel:      telemetry.NewScopedAPI("jobs_runner", tel),
	}
}

// Summary is the result stored with a completed job.
type Summary struct {
	Count    int    `json:"count"`
	Title    string `json:"title,omitempty"`
	Episodes int    `json:"episodes,omitempty"`
}

// ProcessPending runs one batch of pending jobs in priority order and
// returns how many were run. Job failures are recorded on the job, the
// returned error is only about the queue itself.
func (r Runner) ProcessPending(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "runner:ProcessPending")
	defer span.End()

	pending, err := r.queue.Pending(ctx, r.batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list pending jobs")
		return 0, err
	}

	processed := 0
	for _, job := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		started, err := r.queue.Start(ctx, job.ID)
		if err != nil {
			return processed, err
		}
		if !started {
			continue
		}
		job.Status = StatusProcessing
		job.Attempts++
		processed++

		summary, err := r.execute(ctx, job)
		if err != nil {
			r.tel.ReportWarning(report_runner_execute, job.ID, string(job.Type), job.Target, err)
			ferr := r.queue.Fail(ctx, job.ID, err)
			if ferr != nil {
				return processed, ferr
			}
			nerr := r.notifier.JobFailed(ctx, job, err)
			if nerr != nil {
				r.tel.ReportWarning(report_runner_notify, job.ID, nerr)
			}
			continue
		}
		err = r.queue.Complete(ctx, job.ID, summary)
		if err != nil {
			return processed, err
		}
	}

	span.SetAttributes(attribute.Int("processed", processed))
	return processed, nil
}

func (r Runner) execute(ctx context.Context, job Job) (Summary, error) {
	ctx, span := tracer.Start(ctx, "runner:execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("type", string(job.Type)),
		attribute.String("target", job.Target),
	)

	target, err := ParseTarget(job.Type, job.Target)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	switch job.Type {
	case TypeTrending:
		listings, err := r.engine.Trending(ctx, engine.TrendingOptions{Limit: target.Limit})
		if err != nil {
			return Summary{}, err
		}
		summary.Count = len(listings)
	case TypeSearch:
		listings, err := r.engine.Search(ctx, engine.SearchOptions{Query: target.Query})
		if err != nil {
			return Summary{}, err
		}
		summary.Count = len(listings)
	case TypeDetails:
		detail, err := r.engine.Detail(ctx, target.Source, target.Slug)
		if err != nil {
			return Summary{}, err
		}
		summary.Count = 1
		summary.Title = detail.Title
		summary.Episodes = len(detail.Episodes)
	case TypeEpisodes:
		episodes, err := r.engine.Episodes(ctx, target.Source, target.Slug)
		if err != nil {
			return Summary{}, err
		}
		summary.Count = len(episodes)
	case TypeSources:
		list, err := r.engine.EpisodeSources(ctx, target.Source, target.Slug, target.Episode, target.Server)
		if err != nil {
			return Summary{}, err
		}
		summary.Count = len(list)
	default:
		return Summary{}, fmt.Errorf("unknown job type %q", job.Type)
	}
	return summary, nil
}
