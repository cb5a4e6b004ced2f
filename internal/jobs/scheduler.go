package jobs

import (
	"animeagg/internal/components/assert"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/proxy"
	"context"
	"time"
)

const (
	report_scheduler_trending = "scheduler.trending"
	report_scheduler_process  = "scheduler.process"
	report_scheduler_proxies  = "scheduler.proxies"
)

type ScheduleConfig struct {
	Trending string `json:"trending"`
	Process  string `json:"process"`
	Proxies  string `json:"proxies"`
	// TimeoutSeconds bounds a single scheduled run.
	TimeoutSeconds int `json:"timeout_seconds"`
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Trending:       "0 */6 * * *",
		Process:        "*/30 * * * *",
		Proxies:        "*/15 * * * *",
		TimeoutSeconds: 600,
	}
}

// ProxyRefresher re-checks the proxy pool.
type ProxyRefresher interface {
	Refresh(ctx context.Context) []proxy.Record
}

// Scheduler enqueues the periodic trending scrape, drains the queue and
// refreshes the proxy pool on cron schedules.
type Scheduler struct {
	cron    chrono.CronAPI
	queue   Queue
	runner  Runner
	proxies ProxyRefresher
	config  ScheduleConfig
	tel     telemetry.API
}

func NewScheduler(
	cron chrono.CronAPI,
	queue Queue,
	runner Runner,
	proxies ProxyRefresher,
	config ScheduleConfig,
	tel telemetry.API,
) Scheduler {
	assert.NotNil(cron, "cron")
	assert.NotNil(tel, "telemetry")

	defaults := DefaultScheduleConfig()
	if config.Trending == "" {
		config.Trending = defaults.Trending
	}
	if config.Process == "" {
		config.Process = defaults.Process
	}
	if config.Proxies == "" {
		config.Proxies = defaults.Proxies
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = defaults.TimeoutSeconds
	}

	return Scheduler{
		cron:    cron,
		queue:   queue,
		runner:  runner,
		proxies: proxies,
		config:  config,
		tel:     telemetry.NewScopedAPI("jobs_scheduler", tel),
	}
}

// Register adds the schedules to cron, the proxy refresh is skipped when
// there is no proxy service.
func (s Scheduler) Register() error {
	err := s.cron.Cron(s.config.Trending, s.EnqueueTrending)
	if err != nil {
		return err
	}
	err = s.cron.Cron(s.config.Process, s.ProcessPending)
	if err != nil {
		return err
	}
	if s.proxies != nil {
		err = s.cron.Cron(s.config.Proxies, s.RefreshProxies)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s Scheduler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(s.config.TimeoutSeconds)*time.Second)
}

func (s Scheduler) EnqueueTrending() {
	ctx, cancel := s.context()
	defer cancel()

	job, err := s.queue.Enqueue(ctx, TypeTrending, "", PriorityHigh)
	if err != nil {
		s.tel.ReportBroken(report_scheduler_trending, err)
		return
	}
	s.tel.ReportDebug("scheduled trending scrape", job.ID)
}

func (s Scheduler) ProcessPending() {
	ctx, cancel := s.context()
	defer cancel()

	processed, err := s.runner.ProcessPending(ctx)
	if err != nil {
		s.tel.ReportBroken(report_scheduler_process, err)
		return
	}
	s.tel.ReportCount(report_scheduler_process, int64(processed))
}

func (s Scheduler) RefreshProxies() {
	ctx, cancel := s.context()
	defer cancel()

	pool := s.proxies.Refresh(ctx)
	s.tel.ReportCount(report_scheduler_proxies, int64(len(pool)))
}
