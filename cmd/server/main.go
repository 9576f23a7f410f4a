package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"tagconsent/internal/audit"
	"tagconsent/internal/consent/handler"
	"tagconsent/internal/consent/metrics"
	"tagconsent/internal/consent/models"
	"tagconsent/internal/consent/service"
	"tagconsent/internal/consent/session"
	"tagconsent/internal/consent/store"
	"tagconsent/internal/consent/synchronizer"
	"tagconsent/internal/platform/config"
	"tagconsent/internal/platform/database"
	"tagconsent/internal/platform/health"
	"tagconsent/internal/platform/kafka"
	"tagconsent/internal/platform/logger"
	platformredis "tagconsent/internal/platform/redis"
	"tagconsent/internal/platform/tracer"
	"tagconsent/internal/tagmanager"
	httptransport "tagconsent/internal/transport/http"
	"tagconsent/internal/visitor"
	"tagconsent/pkg/platform/circuit"
	"tagconsent/pkg/platform/middleware/request"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	log.Info("initializing tagconsent",
		"addr", cfg.Addr,
		"storage", cfg.Storage,
		"runtime", cfg.TagManager.Runtime,
	)

	g, ctx := errgroup.WithContext(ctx)
	m := metrics.New(prometheus.DefaultRegisterer)
	checks := health.New(cfg.Storage)

	backend, closeBackend, err := buildBackend(ctx, g, cfg, checks, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	publisher := buildAuditPublisher(cfg, log)
	defer publisher.Close()

	gate := tagmanager.NewGate()
	rt, err := buildRuntime(cfg, checks, log)
	if err != nil {
		return err
	}
	defer rt.close()

	sync := synchronizer.New(rt.runtime, gate, log,
		synchronizer.WithMetrics(m),
		synchronizer.WithTracer(tracer.NewOTel()),
	)
	gate.Subscribe(sync.Flush)
	watcher := tagmanager.NewWatcher(gate, rt.probe, cfg.TagManager.ProbeInterval, log)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	svc := service.NewService(backend, log,
		service.WithMetrics(m),
		service.WithAuditor(publisher),
	)
	manager := session.NewManager(svc, sync, log, session.WithMetrics(m))

	handlerOpts := []handler.Option{
		handler.WithEraser(svc),
		handler.WithSecureCookies(cfg.SecureCookies),
	}
	if rt.dataLayer != nil {
		handlerOpts = append(handlerOpts, handler.WithDataLayer(rt.dataLayer))
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Consent:        handler.New(manager, log, handlerOpts...),
		Visitors:       visitor.NewMiddleware(visitor.NewTokens(cfg.VisitorSigningKey, models.RetentionPeriod), cfg.SecureCookies, log),
		Health:         checks,
		Gatherer:       prometheus.DefaultGatherer,
		RequestMetrics: request.NewMetrics(prometheus.DefaultRegisterer),
		RequestTimeout: cfg.RequestTimeout,
		TrustedProxies: cfg.TrustedProxyPrefixes(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildBackend opens the configured consent storage and registers its
// health check and background maintenance with g.
func buildBackend(ctx context.Context, g *errgroup.Group, cfg config.Server, checks *health.Handler, log *slog.Logger) (service.Store, func(), error) {
	switch cfg.Storage {
	case config.StorageRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		checks.RegisterCheck("redis", client.Health)
		g.Go(func() error {
			client.RunPoolStats(ctx, cfg.Redis.StatsInterval)
			return nil
		})
		return store.NewRedis(client.Client), func() {
			if err := client.Close(); err != nil {
				log.Warn("failed to close redis client", "error", err)
			}
		}, nil

	case config.StoragePostgres:
		pool, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		checks.RegisterCheck("postgres", pool.Health)
		pg := store.NewPostgres(pool.DB())
		g.Go(func() error {
			purgeExpired(ctx, pg, cfg.Database.PurgeInterval, log)
			return nil
		})
		return pg, func() {
			if err := pool.Close(); err != nil {
				log.Warn("failed to close database pool", "error", err)
			}
		}, nil

	default:
		return store.NewInMemory(), func() {}, nil
	}
}

// purgeExpired deletes decisions past their retention window every interval
// until ctx is done.
func purgeExpired(ctx context.Context, pg *store.PostgresStore, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.PurgeExpired(ctx)
			if err != nil {
				log.WarnContext(ctx, "failed to purge expired consent records", "error", err)
				continue
			}
			if n > 0 {
				log.InfoContext(ctx, "purged expired consent records", "count", n)
			}
		}
	}
}

func buildAuditPublisher(cfg config.Server, log *slog.Logger) *audit.Publisher {
	opts := []audit.PublisherOption{audit.WithPublisherLogger(log)}
	if cfg.Audit.Async {
		opts = append(opts, audit.WithAsyncBuffer(cfg.Audit.BufferSize))
	}
	return audit.NewPublisher(audit.NewLogStore(log), opts...)
}

type runtimeDeps struct {
	runtime   tagmanager.Runtime
	probe     tagmanager.Probe
	dataLayer *tagmanager.DataLayer
	close     func()
}

// buildRuntime selects the tag runtime and the probe that drives its
// readiness gate.
func buildRuntime(cfg config.Server, checks *health.Handler, log *slog.Logger) (runtimeDeps, error) {
	switch cfg.TagManager.Runtime {
	case config.RuntimeKafka:
		producer, err := kafka.New(kafka.Config{Brokers: cfg.Kafka.Brokers}, log)
		if err != nil {
			return runtimeDeps{}, err
		}
		checks.RegisterCheck("kafka", producer.Health)

		dataLayer := tagmanager.NewDataLayer()
		breaker := circuit.New("kafka-runtime", circuit.WithFailureThreshold(cfg.Kafka.FailureThreshold))

		var probeOpts []tagmanager.KafkaProbeOption
		if cfg.Kafka.CreateTopic {
			probeOpts = append(probeOpts, tagmanager.WithTopicCreation(cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor))
		}
		return runtimeDeps{
			runtime:   tagmanager.NewFallback(tagmanager.NewKafkaRuntime(producer, cfg.Kafka.Topic), dataLayer, breaker, log),
			probe:     tagmanager.NewKafkaTopicProbe(producer.Client(), cfg.Kafka.Topic, probeOpts...),
			dataLayer: dataLayer,
			close: func() {
				if err := producer.Close(); err != nil {
					log.Warn("failed to close kafka producer", "error", err)
				}
			},
		}, nil

	case config.RuntimeDataLayer:
		dataLayer := tagmanager.NewDataLayer()
		return runtimeDeps{
			runtime:   dataLayer,
			probe:     tagmanager.AlwaysReady,
			dataLayer: dataLayer,
			close:     func() {},
		}, nil

	default:
		return runtimeDeps{
			runtime: tagmanager.Noop{},
			probe:   tagmanager.AlwaysReady,
			close:   func() {},
		}, nil
	}
}
