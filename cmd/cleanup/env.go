package main

import (
	"context"
	"fmt"

	"github.com/SegaraRai/streamist-sub001/internal/cleanup"
	"github.com/SegaraRai/streamist-sub001/internal/config"
	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/metrics"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
	"github.com/SegaraRai/streamist-sub001/internal/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
)

const version = "1.0.0"

// env holds the connections a sweep needs.
type env struct {
	pool     *pgxpool.Pool
	cleaner  *cleanup.Cleaner
	shutdown func(context.Context) error
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	regions, err := config.LoadRegions(cfg.RegionsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load regions: %w", err)
	}

	e := &env{shutdown: func(context.Context) error { return nil }}
	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(ctx, &tracing.Config{
			ServiceName:    "cleanup",
			ServiceVersion: version,
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			Enabled:        true,
			SampleRate:     cfg.TraceSampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		e.shutdown = shutdown
	}

	log.Info("connecting to database")
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = e.shutdown(context.Background())
		return nil, err
	}
	e.pool = pool
	log.Info("database connected")

	gateway := storage.NewGateway()
	for _, reg := range regions.Regions {
		s, err := storage.NewMinIOStorage(&storage.Config{
			Endpoint:  reg.Storage.Endpoint,
			AccessKey: reg.Storage.AccessKey,
			SecretKey: reg.Storage.SecretKey,
			Bucket:    reg.Storage.Bucket,
			UseSSL:    reg.Storage.UseSSL,
			Region:    reg.Storage.Region,
		})
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to create storage for %s: %w", reg.Name, err)
		}
		if err := gateway.Register(reg.Name, metrics.NewInstrumentedStorage(s)); err != nil {
			e.Close()
			return nil, err
		}
	}
	log.Info("object storage connected", "regions", gateway.Regions())

	metrics.SetAppInfo(version, cfg.Environment, "cleanup")

	store := db.NewPostgresStore(pool)
	e.cleaner = cleanup.New(cleanup.Dependencies{
		Queries: store,
		Machine: lifecycle.New(store, gateway),
		Blobs:   gateway,
	}, cleanup.Config{
		UploadWindow:       cfg.UploadWindow,
		PresignExpiry:      cfg.UploadURLExpiry,
		TranscodeDeadline:  cfg.StaleTranscodeDeadline,
		ClosedAccountGrace: cfg.ClosedAccountGrace,
		BatchSize:          int32(cfg.CleanupBatchSize),
	})
	return e, nil
}

func (e *env) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	_ = e.shutdown(context.Background())
}
