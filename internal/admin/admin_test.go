package admin

import (
	"animeagg/internal/anime"
	"animeagg/internal/catalog"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/db"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/engine"
	"animeagg/internal/jobs"
	"animeagg/internal/proxy"
	"animeagg/internal/testutil"
	"animeagg/lib/serviceutil"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	healthy map[string]bool
}

func (p fakeProber) Probe(ctx context.Context, record proxy.Record) error {
	if p.healthy[record.Address] {
		return nil
	}
	return errors.New("connection refused")
}

type fakeEngine struct {
	pattern string
}

func (f *fakeEngine) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	f.pattern = pattern
	return 3, nil
}

func (f *fakeEngine) Sources() []anime.Source {
	return []anime.Source{anime.Gogoanime, anime.Zoro}
}

func (f *fakeEngine) Stats() engine.Stats {
	return engine.Stats{CacheHits: 5, CacheMisses: 2}
}

type fixture struct {
	url     string
	client  Client
	tokens  Tokens
	proxies *proxy.Service
	engine  *fakeEngine
	catalog catalog.Catalog
}

func setup(t *testing.T) fixture {
	conn := testutil.SetupService(t, "admin")
	tel := telemetry.NewRecordingAPI()
	clock := chrono.NewManualClock(time.Now())
	qry := db.New(conn)

	prober := fakeProber{healthy: map[string]bool{"10.0.0.1:8080": true}}
	proxies := proxy.NewService(proxy.NewRecords([]string{"10.0.0.1:8080", "10.0.0.2:8080"}), prober, proxy.Options{}, tel)
	fake := &fakeEngine{}
	store := catalog.New(qry, db.NewTransactor(conn), clock, tel)
	queue := jobs.NewQueue(qry, clock, tel)
	tokens := NewTokens("test-secret", clock)

	service := NewService(proxies, fake, store, queue, tel)
	path, handler := NewHandler(
		service,
		connect.WithInterceptors(serviceutil.NewConnectOtelInterceptor(), NewAuthInterceptor(tokens)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	token, _, err := tokens.Issue("tester", RoleAdmin, time.Hour)
	require.NoError(t, err)
	client := NewClient(
		server.Client(),
		server.URL,
		connect.WithInterceptors(serviceutil.ProvideAccessTokenInterceptor(token)),
	)

	return fixture{
		url:     server.URL,
		client:  client,
		tokens:  tokens,
		proxies: proxies,
		engine:  fake,
		catalog: store,
	}
}

func TestProxies(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	status, err := f.client.ProxyStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status.Proxies, 2)

	checked, err := f.client.CheckProxies(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, checked.Checked)
	require.Equal(t, 1, checked.Healthy)
	require.Equal(t, []proxy.Record{{Address: "10.0.0.1:8080", Healthy: true}}, checked.Proxies)

	_, err = f.client.RotateProxies(ctx, RotateProxiesRequest{Addresses: []string{" ", ""}})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = f.client.RotateProxies(ctx, RotateProxiesRequest{Addresses: []string{"ftp://10.0.0.9:21"}})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	rotated, err := f.client.RotateProxies(ctx, RotateProxiesRequest{Addresses: []string{"10.0.0.3:3128", "socks5://10.0.0.4:1080"}})
	require.NoError(t, err)
	require.Len(t, rotated.Proxies, 2)
	require.Len(t, f.proxies.Pool(), 2)

	// none of them are healthy so the pool is kept
	rotated, err = f.client.RotateProxies(ctx, RotateProxiesRequest{Addresses: []string{"10.0.0.5:3128"}, Check: true})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.3:3128", rotated.Proxies[0].Address)
}

func TestStatusAndJobs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	err := f.catalog.SaveListings(ctx, []anime.Listing{anime.NewListing(anime.Zoro, "bleach-806", "Bleach", "", 366)})
	require.NoError(t, err)

	removed, err := f.client.InvalidateCache(ctx, "trending:*")
	require.NoError(t, err)
	require.Equal(t, 3, removed.Removed)
	require.Equal(t, "trending:*", f.engine.pattern)

	_, err = f.client.EnqueueJob(ctx, EnqueueJobRequest{Type: "scrape-everything"})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	_, err = f.client.EnqueueJob(ctx, EnqueueJobRequest{Type: "details", Target: "zoro"})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	job, err := f.client.EnqueueJob(ctx, EnqueueJobRequest{Type: "details", Target: "zoro/bleach-806", Priority: "high"})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusPending, job.Status)
	require.Equal(t, jobs.PriorityHigh, job.Priority)

	list, err := f.client.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list.Jobs, 1)
	require.Equal(t, job.ID, list.Jobs[0].ID)

	status, err := f.client.SystemStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, []anime.Source{anime.Gogoanime, anime.Zoro}, status.Sources)
	require.Equal(t, 2, status.ProxyPoolSize)
	require.Equal(t, catalog.Stats{Anime: 1}, status.Catalog)
	require.EqualValues(t, 5, status.Engine.CacheHits)
	require.Len(t, status.RecentJobs, 1)
}

func TestAuthentication(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	call := func(token string) error {
		opts := []connect.ClientOption{}
		if token != "" {
			opts = append(opts, connect.WithInterceptors(serviceutil.ProvideAccessTokenInterceptor(token)))
		}
		_, err := NewClient(http.DefaultClient, f.url, opts...).ProxyStatus(ctx)
		return err
	}

	require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(call("")))
	require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(call("not-a-jwt")))

	other := NewTokens("other-secret", chrono.StandardImpl{})
	forged, _, err := other.Issue("mallory", RoleAdmin, time.Hour)
	require.NoError(t, err)
	require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(call(forged)))

	viewer, _, err := f.tokens.Issue("viewer", "viewer", time.Hour)
	require.NoError(t, err)
	require.Equal(t, connect.CodePermissionDenied, connect.CodeOf(call(viewer)))

	expired, _, err := f.tokens.Issue("tester", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(call(expired)))

	valid, _, err := f.tokens.Issue("tester", RoleAdmin, time.Minute)
	require.NoError(t, err)
	require.NoError(t, call(valid))
}

func TestTokens(t *testing.T) {
	clock := chrono.NewManualClock(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	tokens := NewTokens("secret", clock)

	token, expires, err := tokens.Issue("ops", RoleAdmin, time.Hour)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(time.Hour), expires)

	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)
	require.Equal(t, RoleAdmin, claims.Role)

	clock.Advance(time.Hour * 2)
	_, err = tokens.Verify(token)
	require.Error(t, err)

	_, _, err = NewTokens("", clock).Issue("ops", RoleAdmin, time.Hour)
	require.Error(t, err)
}
