package application

import (
	"animeagg/internal/admin"
	"animeagg/internal/cache"
	"animeagg/internal/catalog"
	"animeagg/internal/components/chrono"
	"animeagg/internal/components/db"
	"animeagg/internal/components/telemetry"
	"animeagg/internal/engine"
	"animeagg/internal/fetch"
	"animeagg/internal/httpapi"
	"animeagg/internal/jobs"
	"animeagg/internal/proxy"
	"animeagg/internal/sources"
	"animeagg/lib/serviceutil"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
)

// App owns every long lived component of the process.
type App struct {
	Config  Config
	DB      *sql.DB
	Clock   chrono.TimeAPI
	Tel     telemetry.API
	Proxies *proxy.Service
	Engine  *engine.Engine
	Catalog catalog.Catalog
	Queue   jobs.Queue
	Runner  jobs.Runner
	Tokens  admin.Tokens

	closers []func() error
}

// New opens the database and cache and builds the components, nothing is
// started.
func New(ctx context.Context, config Config, tel telemetry.API) (*App, error) {
	app := &App{
		Config: config,
		Clock:  chrono.StandardImpl{},
		Tel:    tel,
	}

	conn, err := db.Open(ctx, config.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.DB = conn
	app.closers = append(app.closers, conn.Close)
	qry := db.New(conn)

	store, err := app.openCache(qry)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	app.Proxies = proxy.NewService(
		proxy.NewRecords(config.Proxies.Addresses),
		proxy.NewHTTPProber(config.Proxies.ProbeURL, time.Duration(config.Proxies.ProbeTimeoutMs)*time.Millisecond),
		proxy.Options{Concurrency: config.Proxies.Concurrency},
		tel,
	)
	client := fetch.NewClient(config.Fetch.client(), app.Proxies, tel)

	order, baseURLs, err := config.Sources.parse()
	if err != nil {
		app.Close()
		return nil, err
	}
	adapters, err := sources.New(client, order, baseURLs)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Catalog = catalog.New(qry, db.NewTransactor(conn), app.Clock, tel)
	app.Engine = engine.New(adapters, store, app.Catalog, config.Engine.engine(), tel)
	app.Queue = jobs.NewQueue(qry, app.Clock, tel)

	var notifier jobs.Notifier = jobs.NopNotifier{}
	if config.Smtp.Enabled() {
		notifier = jobs.NewEmailNotifier(config.Smtp)
	}
	app.Runner = jobs.NewRunner(app.Queue, app.Engine, notifier, config.Scheduler.BatchSize, tel)
	app.Tokens = admin.NewTokens(config.Admin.Secret, app.Clock)

	return app, nil
}

func (a *App) openCache(qry *db.Queries) (cache.Store, error) {
	switch a.Config.Cache.Backend {
	case "", "sqlite":
		return cache.NewSqliteStore(qry, a.Clock), nil
	case "badger":
		kv, err := cache.OpenBadger(a.Config.Cache.BadgerDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kv.Close)
		return cache.NewBadgerStore(kv, a.Clock), nil
	case "memory":
		return cache.NewMemoryStore(
			a.Config.Cache.MemorySize,
			time.Duration(a.Config.Cache.MemoryMaxTTLSeconds)*time.Second,
			a.Clock,
		), nil
	}
	return nil, fmt.Errorf("unknown cache backend '%s'", a.Config.Cache.Backend)
}

// Close releases the database and cache in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Handler serves the public api and, when an admin secret is configured,
// the admin service.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", httpapi.New(a.Engine, a.Config.Http, a.Clock, a.Tel).Handler())

	if a.Config.Admin.Secret != "" {
		service := admin.NewService(a.Proxies, a.Engine, a.Catalog, a.Queue, a.Tel)
		mux.Handle(admin.NewHandler(
			service,
			connect.WithInterceptors(
				serviceutil.NewConnectOtelInterceptor(),
				admin.NewAuthInterceptor(a.Tokens),
			),
		))
	} else {
		a.Tel.ReportDebug("no admin secret configured, admin service disabled")
	}
	return mux
}

// Serve runs the scheduler and the http server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if a.Config.Proxies.CheckOnStart {
		healthy := a.Proxies.Refresh(ctx)
		a.Tel.ReportDebug("initial proxy check", len(healthy), len(a.Proxies.Pool()))
	}

	if !a.Config.Scheduler.Disabled {
		cron := chrono.NewStandardCron(a.Tel)
		scheduler := jobs.NewScheduler(cron, a.Queue, a.Runner, a.Proxies, a.Config.Scheduler.Schedule, a.Tel)
		err := scheduler.Register()
		if err != nil {
			return fmt.Errorf("register schedules: %w", err)
		}
		cron.Start()
		defer cron.Stop()
	}

	return serviceutil.StartHttpServer(ctx, a.Config.Listen, a.Handler())
}
