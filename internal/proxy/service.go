package proxy

import (
	"animeagg/internal/components/assert"
	"animeagg/internal/components/telemetry"
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("internal/proxy")

const (
	report_service_health_check = "service.health-check"
	report_service_pool_size    = "service.pool-size"
)

// Strategy picks the record to use for the given turn, turn increases by
// one for every call to NextProxy on the same pool.
type Strategy interface {
	Pick(records []Record, turn uint64) Record
}

type RoundRobin struct{}

func (RoundRobin) Pick(records []Record, turn uint64) Record {
	return records[turn%uint64(len(records))]
}

// Prober checks that a proxy can carry a request.
type Prober interface {
	Probe(ctx context.Context, record Record) error
}

type poolState struct {
	records []Record
	cursor  atomic.Uint64
}

// Service holds the current proxy pool. The pool is only ever replaced as a
// whole so readers never observe a partially updated pool.
type Service struct {
	state       atomic.Pointer[poolState]
	strategy    Strategy
	prober      Prober
	concurrency int
	tel         telemetry.API
}

type Options struct {
	Strategy Strategy
	// Concurrency bounds how many proxies are probed at once, defaults to 8.
	Concurrency int
}

func NewService(initial []Record, prober Prober, opts Options, tel telemetry.API) *Service {
	assert.NotNil(prober, "prober")
	assert.NotNil(tel, "telemetry")

	if opts.Strategy == nil {
		opts.Strategy = RoundRobin{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	s := &Service{
		strategy:    opts.Strategy,
		prober:      prober,
		concurrency: opts.Concurrency,
		tel:         telemetry.NewScopedAPI("proxy", tel),
	}
	s.SetPool(initial)
	return s
}

// NextProxy returns the next proxy to use, ok is false when the pool is
// empty and requests should go out directly.
func (s *Service) NextProxy() (Record, bool) {
	state := s.state.Load()
	if len(state.records) == 0 {
		return Record{}, false
	}
	turn := state.cursor.Add(1) - 1
	return s.strategy.Pick(state.records, turn), true
}

// SetPool atomically replaces the pool and resets rotation.
func (s *Service) SetPool(records []Record) {
	pool := make([]Record, len(records))
	copy(pool, records)
	s.state.Store(&poolState{records: pool})
	s.tel.ReportCount(report_service_pool_size, int64(len(pool)))
}

// Pool returns a copy of the current pool.
func (s *Service) Pool() []Record {
	state := s.state.Load()
	out := make([]Record, len(state.records))
	copy(out, state.records)
	return out
}

// HealthCheck probes every candidate concurrently and installs the healthy
// ones as the new pool. When none are healthy the current pool is kept.
// The healthy candidates are returned in their original order.
func (s *Service) HealthCheck(ctx context.Context, candidates []Record) []Record {
	ctx, span := tracer.Start(ctx, "proxy:HealthCheck")
	defer span.End()

	ok := make([]bool, len(candidates))
	group := errgroup.Group{}
	group.SetLimit(s.concurrency)
	for i, record := range candidates {
		group.Go(func() error {
			err := s.prober.Probe(ctx, record)
			if err != nil {
				s.tel.ReportDebug("proxy probe failed", record.Address, err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	group.Wait()

	healthy := make([]Record, 0, len(candidates))
	for i, record := range candidates {
		if ok[i] {
			record.Healthy = true
			healthy = append(healthy, record)
		}
	}

	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("healthy", len(healthy)),
	)

	if len(healthy) == 0 {
		if len(candidates) > 0 {
			s.tel.ReportWarning(
				report_service_health_check,
				"no healthy proxies, keeping the previous pool",
				len(candidates),
			)
		}
		return healthy
	}
	s.SetPool(healthy)
	return healthy
}

// Refresh health checks the current pool.
func (s *Service) Refresh(ctx context.Context) []Record {
	return s.HealthCheck(ctx, s.Pool())
}
