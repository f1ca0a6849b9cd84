package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"onboarding/internal/onboarding/cache"
	"onboarding/internal/onboarding/extract"
	"onboarding/internal/onboarding/handler"
	"onboarding/internal/onboarding/notify"
	"onboarding/internal/onboarding/registrar"
	"onboarding/internal/onboarding/service"
	"onboarding/internal/onboarding/stage"
	"onboarding/internal/onboarding/statestore"
	"onboarding/internal/onboarding/store"
	"onboarding/internal/onboarding/supervisor"
	"onboarding/internal/onboarding/validation"
	"onboarding/internal/platform/config"
	"onboarding/internal/platform/metrics"
	platformmw "onboarding/internal/platform/middleware"
	"onboarding/internal/platform/postgres"
	platformredis "onboarding/internal/platform/redis"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/platform/middleware/metadata"
	"onboarding/pkg/platform/middleware/requesttime"
)

// app is the wired service: its router, the goroutines to run beside the
// HTTP server, and what to release on exit.
type app struct {
	router     http.Handler
	background []func(ctx context.Context) error
	closers    []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	durable, err := openDurable(ctx, cfg.Database, log, m, a)
	if err != nil {
		return nil, err
	}

	var sinks []notify.Sink
	stateOpts := []statestore.Option{statestore.WithLogger(log), statestore.WithMetrics(m)}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		stateOpts = append(stateOpts, statestore.WithCache(cache.NewRedis(redisClient.Client,
			cache.WithTTL(cfg.Workflow.CacheTTL),
			cache.WithMetrics(m),
		)))
		sinks = append(sinks, notify.NewRedisSink(redisClient.Client))

		checker := platformredis.NewHealthChecker(redisClient, cfg.Redis.HealthCheckInterval,
			platformredis.WithHealthLogger(log),
			platformredis.WithHealthMetrics(m),
		)
		a.background = append(a.background, checker.Run)
	} else {
		log.InfoContext(ctx, "redis not configured; session cache and pub/sub disabled")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := notify.DialKafka(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.CreateTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kafkaSink.Close)
		sinks = append(sinks, kafkaSink)
	}

	dispatcher := notify.NewDispatcher(sinks,
		notify.WithLogger(log),
		notify.WithMetrics(m),
		notify.WithAsyncBuffer(cfg.Workflow.EventBuffer),
		notify.WithBreaker(cfg.Workflow.BreakerFailure, cfg.Workflow.BreakerCool),
	)
	a.closers = append(a.closers, dispatcher.Close)
	stateOpts = append(stateOpts, statestore.WithNotifier(dispatcher))

	state := statestore.New(ctx, durable, stateOpts...)
	reg := registrar.New(cfg.Registrar,
		registrar.WithCallLogger(state),
		registrar.WithLogger(log),
		registrar.WithMetrics(m),
	)
	processors := stage.NewSet(validation.NewEngine(), reg, state, log, m)
	sup := supervisor.New(
		supervisor.WithMaxSteps(cfg.Workflow.MaxSteps),
		supervisor.WithLogger(log),
		supervisor.WithMetrics(m),
	)
	svc, err := service.New(state, service.Processors(processors), extract.New(),
		service.WithSupervisor(sup),
		service.WithLogger(log),
		service.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	a.router = newRouter(handler.New(svc, log), log, m, gatherer)
	return a, nil
}

func openDurable(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger, m *metrics.Metrics, a *app) (statestore.DurableStore, error) {
	if cfg.URL == "" {
		log.WarnContext(ctx, "DATABASE_URL not set; sessions are kept in memory")
		return store.NewInMemory(), nil
	}
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.URL, "up"); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	return store.NewPostgres(db, m), nil
}

func newRouter(h *handler.Handler, log *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(platformmw.Recover(log))
	r.Use(platformmw.Observe(log, m))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	h.Register(r)
	return r
}
