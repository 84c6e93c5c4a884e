package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloudproof/internal/configuration"
	"cloudproof/internal/history"
	"cloudproof/internal/ingest"
	"cloudproof/internal/journal"
	"cloudproof/internal/metrics"
	"cloudproof/internal/publish"
	"cloudproof/internal/score"
	"cloudproof/internal/source"
	"cloudproof/internal/storage"
	"cloudproof/internal/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the wired components shared by all commands.
type app struct {
	config   *configuration.AppConfig
	repo     storage.Repository
	registry *prometheus.Registry
	history  *history.Repository
	pipeline *ingest.Pipeline
	driver   *ingest.Driver
	closers  []func(context.Context) error
}

func newApp(ctx context.Context, config *configuration.AppConfig) (*app, error) {
	a := &app{config: config}

	shutdownTracing, err := tracing.Init(ctx, config.Tracing.Endpoint, config.Tracing.ServiceName, config.Tracing.Insecure)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	if a.repo, err = a.openRepository(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	tableConfig, err := score.LoadTableConfig(config.Scoring.Table)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	table, err := score.NewTable(tableConfig)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	m := metrics.NewMetrics()
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(a.registry); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.pipeline = ingest.NewPipeline(ingest.PipelineConfig{
		Store:    a.repo,
		Scorer:   table,
		Limits:   score.Limits{Daily: config.Scoring.DailyCap, Service: config.Scoring.ServiceCap},
		Lookback: config.Ingestion.Lookback,
		Sinks:    a.sinks(),
		Metrics:  m,
		Logger:   slog.Default(),
	})
	a.history = history.NewRepository(config.Ingestion.HistoryLength, config.Ingestion.HistoryTTL)

	a.driver = ingest.NewDriver(a.repo, a.s3Sources(), "s3", a.pipeline, a.history, slog.Default())

	slog.Info("Scoring table loaded", "pairs", table.Len(), "daily_cap", config.Scoring.DailyCap, "service_cap", config.Scoring.ServiceCap)
	return a, nil
}

func (a *app) openRepository(ctx context.Context) (storage.Repository, error) {
	cfg := a.config.Database
	if cfg.DSN == "" {
		slog.Warn("No database configured, using in-memory storage")
		return storage.NewMemoryRepository(), nil
	}

	db, err := storage.Open(ctx, storage.Config{
		DSN:             cfg.DSN,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectBackoff:  cfg.ConnectBackoff,
		MaxOpenConns:    cfg.MaxOpenConns,
	}, slog.Default())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	repo := storage.NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	slog.Info("Database initialized")
	return repo, nil
}

func (a *app) sinks() []ingest.ActivitySink {
	sinks := make([]ingest.ActivitySink, 0, 2)

	if cfg := a.config.Journal; cfg.File != "" {
		j := journal.New(cfg.File, cfg.MaxSize, cfg.MaxBackups, cfg.MaxAge)
		a.closers = append(a.closers, func(context.Context) error { return j.Close() })
		sinks = append(sinks, j)
		slog.Info("Activity journal enabled", "file", cfg.File)
	}

	if cfg := a.config.Kafka; len(cfg.Brokers) > 0 {
		k := publish.NewKafkaSink(cfg.Brokers, cfg.Topic)
		a.closers = append(a.closers, func(context.Context) error { return k.Close() })
		sinks = append(sinks, k)
		slog.Info("Kafka publishing enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}

	return sinks
}

// s3Sources opens the bucket of each user. Users with a role ARN read through an
// assumed-role session signed by the static credentials; users without one use the
// static credentials directly. Without credentials scheduled runs fail per user while
// local runs keep working.
func (a *app) s3Sources() ingest.SourceFactory {
	cfg := a.config.S3
	clientConfig := source.S3Config{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		UsePathStyle:    cfg.UsePathStyle,
	}

	base, err := source.NewS3Client(clientConfig)
	if err != nil {
		slog.Warn("S3 source unavailable", "error", err)
		return func(ingest.User) (source.Source, error) {
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
	}
	stsClient, err := source.NewSTSClient(clientConfig)
	if err != nil {
		return func(ingest.User) (source.Source, error) {
			return nil, fmt.Errorf("create sts client: %w", err)
		}
	}

	return s3SourceFactory(cfg, source.NewClientPool(clientConfig, base, stsClient))
}

func s3SourceFactory(cfg configuration.S3Config, clients *source.ClientPool) ingest.SourceFactory {
	return func(user ingest.User) (source.Source, error) {
		client, err := clients.Client(user.RoleARN)
		if err != nil {
			return nil, fmt.Errorf("s3 client of user %d: %w", user.ID, err)
		}
		return source.NewS3Source(client, cfg.Bucket(user.ID), cfg.Prefix)
	}
}

// localUser resolves the user of a local run. Unknown users are allowed so sample
// files can be processed against an empty in-memory store.
func (a *app) localUser(ctx context.Context, id int64) (ingest.User, error) {
	user, err := a.repo.GetUser(ctx, id)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		slog.Warn("User not registered, processing anyway", "user_id", id)
		return ingest.User{ID: id}, nil
	case err != nil:
		return ingest.User{}, err
	}
	return user, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("Unable to release resource", "error", err)
		}
	}
	a.closers = nil
}
