package admin

import (
	"animeagg/internal/anime"
	"animeagg/internal/catalog"
	"animeagg/internal/components/assert"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/engine"
	"animeagg/internal/jobs"
	"animeagg/internal/proxy"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/admin")

const report_admin = "admin"

const ServicePath = "/animeagg.admin.v1.AdminService/"

const (
	ProxyStatusProcedure     = ServicePath + "ProxyStatus"
	RotateProxiesProcedure   = ServicePath + "RotateProxies"
	CheckProxiesProcedure    = ServicePath + "CheckProxies"
	InvalidateCacheProcedure = ServicePath + "InvalidateCache"
	SystemStatusProcedure    = ServicePath + "SystemStatus"
	EnqueueJobProcedure      = ServicePath + "EnqueueJob"
	ListJobsProcedure        = ServicePath + "ListJobs"
)

type Empty struct{}

type ProxyStatusResponse struct {
	Proxies []proxy.Record `json:"proxies"`
}

type RotateProxiesRequest struct {
	Addresses []string `json:"addresses"`
	// Check health checks the new pool before installing it.
	Check bool `json:"check"`
}

type CheckProxiesResponse struct {
	Healthy int            `json:"healthy"`
	Checked int            `json:"checked"`
	Proxies []proxy.Record `json:"proxies"`
}

type InvalidateCacheRequest struct {
	Pattern string `json:"pattern"`
}

type InvalidateCacheResponse struct {
	Removed int `json:"removed"`
}

type SystemStatusResponse struct {
	Sources       []anime.Source `json:"sources"`
	ProxyPoolSize int            `json:"proxyPoolSize"`
	Catalog       catalog.Stats  `json:"catalog"`
	Engine        engine.Stats   `json:"engine"`
	RecentJobs    []jobs.Job     `json:"recentJobs"`
}

type EnqueueJobRequest struct {
	Type     string `json:"type"`
	Target   string `json:"target"`
	Priority string `json:"priority"`
}

type ListJobsRequest struct {
	Limit int `json:"limit"`
}

type ListJobsResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

type Proxies interface {
	Pool() []proxy.Record
	SetPool(records []proxy.Record)
	HealthCheck(ctx context.Context, candidates []proxy.Record) []proxy.Record
}

type Engine interface {
	InvalidateCache(ctx context.Context, pattern string) (int, error)
	Sources() []anime.Source
	Stats() engine.Stats
}

type Catalog interface {
	Stats(ctx context.Context) (catalog.Stats, error)
}

type Queue interface {
	Enqueue(ctx context.Context, t jobs.Type, target string, priority jobs.Priority) (jobs.Job, error)
	Recent(ctx context.Context, limit int) ([]jobs.Job, error)
}

type Service struct {
	proxies Proxies
	engine  Engine
	catalog Catalog
	queue   Queue
	tel     telemetry.API
}

func NewService(proxies Proxies, engine Engine, catalog Catalog, queue Queue, tel telemetry.API) Service {
	assert.NotNil(proxies, "proxies")
	assert.NotNil(engine, "engine")
	assert.NotNil(catalog, "catalog")
	assert.NotNil(queue, "queue")
	assert.NotNil(tel, "telemetry")

	return Service{
		proxies: proxies,
		engine:  engine,
		catalog: catalog,
		queue:   queue,
		tel:     telemetry.NewScopedAPI("admin", tel),
	}
}

// NewHandler mounts every procedure of the service, the returned path is
// meant for http.ServeMux.Handle.
func NewHandler(s Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ProxyStatusProcedure, connect.NewUnaryHandler(ProxyStatusProcedure, s.ProxyStatus, opts...))
	mux.Handle(RotateProxiesProcedure, connect.NewUnaryHandler(RotateProxiesProcedure, s.RotateProxies, opts...))
	mux.Handle(CheckProxiesProcedure, connect.NewUnaryHandler(CheckProxiesProcedure, s.CheckProxies, opts...))
	mux.Handle(InvalidateCacheProcedure, connect.NewUnaryHandler(InvalidateCacheProcedure, s.InvalidateCache, opts...))
	mux.Handle(SystemStatusProcedure, connect.NewUnaryHandler(SystemStatusProcedure, s.SystemStatus, opts...))
	mux.Handle(EnqueueJobProcedure, connect.NewUnaryHandler(EnqueueJobProcedure, s.EnqueueJob, opts...))
	mux.Handle(ListJobsProcedure, connect.NewUnaryHandler(ListJobsProcedure, s.ListJobs, opts...))
	return ServicePath, mux
}

func (s Service) internal(err error, msg string) error {
	s.tel.ReportBroken(report_admin, fmt.Errorf("%s: %w", msg, err))
	return connect.NewError(connect.CodeInternal, err)
}

func (s Service) ProxyStatus(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ProxyStatusResponse], error) {
	return connect.NewResponse(&ProxyStatusResponse{Proxies: s.proxies.Pool()}), nil
}

func (s Service) RotateProxies(ctx context.Context, req *connect.Request[RotateProxiesRequest]) (*connect.Response[ProxyStatusResponse], error) {
	ctx, span := tracer.Start(ctx, "admin:RotateProxies")
	defer span.End()

	var addresses []string
	for _, a := range req.Msg.Addresses {
		a = strings.TrimSpace(a)
		if a != "" {
			addresses = append(addresses, a)
		}
	}
	if len(addresses) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("at least one proxy address is required"))
	}
	records := proxy.NewRecords(addresses)
	for _, r := range records {
		_, err := r.URL()
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
	}

	if req.Msg.Check {
		// installs the healthy subset, or keeps the old pool if none are
		s.proxies.HealthCheck(ctx, records)
	} else {
		s.proxies.SetPool(records)
	}
	pool := s.proxies.Pool()
	s.tel.ReportDebug("proxies rotated", len(records), len(pool))
	return connect.NewResponse(&ProxyStatusResponse{Proxies: pool}), nil
}

func (s Service) CheckProxies(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[CheckProxiesResponse], error) {
	ctx, span := tracer.Start(ctx, "admin:CheckProxies")
	defer span.End()

	candidates := s.proxies.Pool()
	healthy := s.proxies.HealthCheck(ctx, candidates)
	return connect.NewResponse(&CheckProxiesResponse{
		Healthy: len(healthy),
		Checked: len(candidates),
		Proxies: s.proxies.Pool(),
	}), nil
}

func (s Service) InvalidateCache(ctx context.Context, req *connect.Request[InvalidateCacheRequest]) (*connect.Response[InvalidateCacheResponse], error) {
	ctx, span := tracer.Start(ctx, "admin:InvalidateCache")
	defer span.End()

	removed, err := s.engine.InvalidateCache(ctx, req.Msg.Pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to invalidate cache")
		return nil, s.internal(err, "invalidate cache")
	}
	return connect.NewResponse(&InvalidateCacheResponse{Removed: removed}), nil
}

func (s Service) SystemStatus(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SystemStatusResponse], error) {
	ctx, span := tracer.Start(ctx, "admin:SystemStatus")
	defer span.End()

	stats, err := s.catalog.Stats(ctx)
	if err != nil {
		return nil, s.internal(err, "catalog stats")
	}
	recent, err := s.queue.Recent(ctx, 10)
	if err != nil {
		return nil, s.internal(err, "recent jobs")
	}
	if recent == nil {
		recent = []jobs.Job{}
	}
	return connect.NewResponse(&SystemStatusResponse{
		Sources:       s.engine.Sources(),
		ProxyPoolSize: len(s.proxies.Pool()),
		Catalog:       stats,
		Engine:        s.engine.Stats(),
		RecentJobs:    recent,
	}), nil
}

func (s Service) EnqueueJob(ctx context.Context, req *connect.Request[EnqueueJobRequest]) (*connect.Response[jobs.Job], error) {
	t, err := jobs.ParseType(req.Msg.Type)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	priority, err := jobs.ParsePriority(req.Msg.Priority)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if _, err := jobs.ParseTarget(t, req.Msg.Target); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	job, err := s.queue.Enqueue(ctx, t, req.Msg.Target, priority)
	if err != nil {
		return nil, s.internal(err, "enqueue")
	}
	return connect.NewResponse(&job), nil
}

func (s Service) ListJobs(ctx context.Context, req *connect.Request[ListJobsRequest]) (*connect.Response[ListJobsResponse], error) {
	limit := req.Msg.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	list, err := s.queue.Recent(ctx, limit)
	if err != nil {
		return nil, s.internal(err, "list jobs")
	}
	if list == nil {
		list = []jobs.Job{}
	}
	return connect.NewResponse(&ListJobsResponse{Jobs: list}), nil
}
