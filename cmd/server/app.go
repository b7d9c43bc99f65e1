package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"

	"intake/internal/contact/transform"
	"intake/internal/downstream"
	"intake/internal/health"
	"intake/internal/index"
	"intake/internal/notification"
	"intake/internal/pipeline"
	"intake/internal/platform/config"
	"intake/internal/platform/kafka"
	"intake/internal/platform/logger"
	"intake/internal/platform/metrics"
	"intake/internal/platform/postgres"
	"intake/internal/platform/redis"
	"intake/internal/ratelimit"
	"intake/internal/vcs"
)

// app holds every wired collaborator. Commands build one, use what they need
// and Close it.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store        index.Store
	vcs          *vcs.Client
	downstream   *downstream.Client
	emitter      *notification.Emitter
	orchestrator *pipeline.Orchestrator
	deduper      pipeline.DeliveryDeduper
	limiter      *ratelimit.Limiter
	health       *health.Service

	db       *sql.DB
	redis    *redis.Client
	producer *kgo.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.FromEnv()
	a := &app{
		cfg:      cfg,
		log:      logger.New(cfg.Server.LogLevel),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Index.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.Index)
		if err != nil {
			return fmt.Errorf("open index database: %w", err)
		}
		a.db = db
		a.store = index.NewPostgresStore(db)
	} else {
		a.log.Warn("DATABASE_URL not set, using in-memory index")
		a.store = index.NewMemoryStore()
	}

	var err error
	a.vcs, err = vcs.New(cfg.GitHub, vcs.WithLogger(a.log))
	if err != nil {
		return fmt.Errorf("configure github: %w", err)
	}
	a.downstream, err = downstream.New(cfg.Downstream,
		downstream.WithLogger(a.log),
		downstream.WithMetrics(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("configure downstream: %w", err)
	}

	a.producer, err = kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	if a.producer != nil {
		if err := kafka.EnsureTopic(ctx, a.producer, cfg.Kafka.Topic, 1, 1); err != nil {
			a.log.Warn("kafka topic not provisioned", "topic", cfg.Kafka.Topic, "error", err)
		}
	}
	channels, err := notification.ChannelsFromConfig(cfg, a.log, a.producer, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return fmt.Errorf("configure notification channels: %w", err)
	}
	a.emitter = notification.New(a.store, channels,
		notification.WithLogger(a.log),
		notification.WithMetrics(a.metrics),
	)

	a.orchestrator = pipeline.New(transform.New(), a.vcs, a.store, a.downstream, a.emitter,
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithConfig(cfg.Pipeline),
	)

	a.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var limitStore ratelimit.Store
	if a.redis != nil {
		a.deduper = pipeline.NewRedisDeduper(a.redis.Client, cfg.Redis.DedupeTTL)
		limitStore = ratelimit.NewRedisStore(a.redis.Client)
	} else {
		a.deduper = pipeline.NewMemoryDeduper(cfg.Redis.DedupeTTL)
		limitStore = ratelimit.NewMemoryStore()
	}
	a.limiter = ratelimit.New(limitStore, cfg.RateLimit.Submissions, cfg.RateLimit.Window, a.log, a.metrics)

	components := []health.Component{
		{Name: "github", Critical: true, Checker: a.vcs},
		{Name: "index", Critical: true, Checker: a.store},
		{Name: "downstream", Checker: a.downstream},
	}
	if a.redis != nil {
		components = append(components, health.Component{Name: "redis", Checker: a.redis})
	}
	if a.producer != nil {
		components = append(components, health.Component{Name: "kafka", Checker: health.CheckerFunc(a.producer.Ping)})
	}
	a.health = health.NewService(5*time.Second, a.log, components...)
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.producer != nil {
		a.producer.Close()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("failed to close resources", "error", err)
	}
}
