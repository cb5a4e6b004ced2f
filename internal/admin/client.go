package admin

import (
	"animeagg/internal/jobs"
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the admin service of a running server.
type Client struct {
	proxyStatus     *connect.Client[Empty, ProxyStatusResponse]
	rotateProxies   *connect.Client[RotateProxiesRequest, ProxyStatusResponse]
	checkProxies    *connect.Client[Empty, CheckProxiesResponse]
	invalidateCache *connect.Client[InvalidateCacheRequest, InvalidateCacheResponse]
	systemStatus    *connect.Client[Empty, SystemStatusResponse]
	enqueueJob      *connect.Client[EnqueueJobRequest, jobs.Job]
	listJobs        *connect.Client[ListJobsRequest, ListJobsResponse]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return Client{
		proxyStatus:     connect.NewClient[Empty, ProxyStatusResponse](httpClient, baseURL+ProxyStatusProcedure, opts...),
		rotateProxies:   connect.NewClient[RotateProxiesRequest, ProxyStatusResponse](httpClient, baseURL+RotateProxiesProcedure, opts...),
		checkProxies:    connect.NewClient[Empty, CheckProxiesResponse](httpClient, baseURL+CheckProxiesProcedure, opts...),
		invalidateCache: connect.NewClient[InvalidateCacheRequest, InvalidateCacheResponse](httpClient, baseURL+InvalidateCacheProcedure, opts...),
		systemStatus:    connect.NewClient[Empty, SystemStatusResponse](httpClient, baseURL+SystemStatusProcedure, opts...),
		enqueueJob:      connect.NewClient[EnqueueJobRequest, jobs.Job](httpClient, baseURL+EnqueueJobProcedure, opts...),
		listJobs:        connect.NewClient[ListJobsRequest, ListJobsResponse](httpClient, baseURL+ListJobsProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, client *connect.Client[Req, Res], msg *Req) (*Res, error) {
	res, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c Client) ProxyStatus(ctx context.Context) (*ProxyStatusResponse, error) {
	return call(ctx, c.proxyStatus, &Empty{})
}

func (c Client) RotateProxies(ctx context.Context, req RotateProxiesRequest) (*ProxyStatusResponse, error) {
	return call(ctx, c.rotateProxies, &req)
}

func (c Client) CheckProxies(ctx context.Context) (*CheckProxiesResponse, error) {
	return call(ctx, c.checkProxies, &Empty{})
}

func (c Client) InvalidateCache(ctx context.Context, pattern string) (*InvalidateCacheResponse, error) {
	return call(ctx, c.invalidateCache, &InvalidateCacheRequest{Pattern: pattern})
}

func (c Client) SystemStatus(ctx context.Context) (*SystemStatusResponse, error) {
	return call(ctx, c.systemStatus, &Empty{})
}

func (c Client) EnqueueJob(ctx context.Context, req EnqueueJobRequest) (*jobs.Job, error) {
	return call(ctx, c.enqueueJob, &req)
}

func (c Client) ListJobs(ctx context.Context, limit int) (*ListJobsResponse, error) {
	return call(ctx, c.listJobs, &ListJobsRequest{Limit: limit})
}
