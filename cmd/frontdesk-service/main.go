package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/bizdate"
	"qms/frontdesk-service/internal/config"
	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/docstore/memory"
	"qms/frontdesk-service/internal/docstore/postgres"
	"qms/frontdesk-service/internal/docstore/redisfeed"
	"qms/frontdesk-service/internal/httpapi"
	"qms/frontdesk-service/internal/lifecycle"
	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/metrics"
	"qms/frontdesk-service/internal/reconcile"
	"qms/frontdesk-service/internal/store"
	"qms/frontdesk-service/internal/telemetry"
)

const serviceName = "frontdesk-service"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Init(serviceName, cfg.Env, cfg.LogLevel)

	shutdownTelemetry := telemetry.Setup(telemetry.Options{
		ServiceName:    serviceName,
		Environment:    cfg.Env,
		ClinicTimezone: cfg.ClinicTimezone,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, closeDocs, err := openDocStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open document store")
	}
	defer closeDocs()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	clock := bizdate.SystemClock{}
	dates := bizdate.NewPartitioner(bizdate.LoadLocation(cfg.ClinicTimezone), clock)
	repo := store.NewRepository(docs)
	emitter := audit.NewEmitter(repo, clock)
	manager := lifecycle.NewManager(repo, dates, emitter, m)
	scheduler := reconcile.New(repo, dates, emitter, m, reconcile.Options{
		SweepInterval:    cfg.SweepInterval,
		RolloverInterval: cfg.RolloverCheckInterval,
		SweepTimeout:     cfg.SweepTimeout,
	})

	handler := httpapi.NewHandler(manager, repo, scheduler, httpapi.Options{
		BookingLimiter: httpapi.NewRateLimiter(httpapi.RateLimitConfig{
			PerMinute: cfg.BookingRateLimitPerMin,
			Burst:     cfg.BookingRateLimitBurst,
		}),
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/realtime/queue/", httpapi.NewQueueStream(manager).Handler("/realtime/queue"))
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(m, mux), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Initialize(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Str("timezone", dates.Location().String()).Msg("frontdesk-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

// openDocStore picks Postgres when DB_DSN is set and the in-memory store
// otherwise. Change notifications go through Redis when REDIS_ADDR is set so
// several instances see each other's writes.
func openDocStore(ctx context.Context, cfg config.Config) (docstore.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DB_DSN not set, using in-memory document store")
		return memory.New(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){pool.Close}

	var feed docstore.ChangeFeed = docstore.NewLocalFeed()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			pool.Close()
			return nil, nil, err
		}
		feed = redisfeed.New(client, "frontdesk:")
		closers = append(closers, func() { _ = client.Close() })
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return postgres.NewStore(pool, postgres.Options{Feed: feed}), closeAll, nil
}
