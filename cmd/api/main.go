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

	"github.com/SegaraRai/streamist-sub001/internal/api"
	"github.com/SegaraRai/streamist-sub001/internal/config"
	"github.com/SegaraRai/streamist-sub001/internal/db"
	"github.com/SegaraRai/streamist-sub001/internal/health"
	"github.com/SegaraRai/streamist-sub001/internal/lifecycle"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/metrics"
	"github.com/SegaraRai/streamist-sub001/internal/storage"
	"github.com/SegaraRai/streamist-sub001/internal/tracing"
	"github.com/SegaraRai/streamist-sub001/internal/transcoder"
	"github.com/SegaraRai/streamist-sub001/internal/upload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	regions, err := config.LoadRegions(cfg.RegionsFile)
	if err != nil {
		return fmt.Errorf("failed to load regions: %w", err)
	}
	log.Info("configuration loaded", "regions", regions.Names())

	ctx := context.Background()

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
			ServiceName:    "api",
			ServiceVersion: version,
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			Enabled:        true,
			SampleRate:     cfg.TraceSampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(ctx) }()
		log.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.TraceSampleRate)
	}

	log.Info("connecting to database")
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	store := db.NewPostgresStore(pool)
	log.Info("database connected")

	log.Info("connecting to object storage")
	gateway, err := openGateway(ctx, regions)
	if err != nil {
		return err
	}
	log.Info("object storage connected", "regions", gateway.Regions())

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpt)
		defer func() { _ = redisClient.Close() }()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("redis connected")
	}

	dispatcherCfg, err := runners(ctx, cfg, regions, redisClient)
	if err != nil {
		return err
	}

	machine := lifecycle.New(store, gateway)
	dispatcher := transcoder.NewDispatcher(store, machine, dispatcherCfg)
	callbacks := transcoder.NewCallbackHandler(machine, gateway)
	uploads := upload.NewService(store, gateway, machine, dispatcher, upload.Config{
		PresignExpiry: cfg.UploadURLExpiry,
		UploadWindow:  cfg.UploadWindow,
	})

	metrics.SetAppInfo(version, cfg.Environment, "api")

	apiCfg := &api.Config{
		Uploads:        uploads,
		Callbacks:      callbacks,
		Health:         health.NewChecker(store, redisClient).WithStorage(gateway),
		JWTSecret:      cfg.JWTSecret,
		CallbackSecret: cfg.TranscoderCallbackSecret,
	}
	if redisClient != nil {
		apiCfg.RateLimiter = api.NewRedisRateLimiter(redisClient, cfg.UploadRateLimit, cfg.UploadRateWindow)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.NewRouter(apiCfg))

	handler := api.SecurityHeaders(metrics.HTTPMetricsMiddleware(api.Recovery(api.RequestID(api.RequestLogger(mux)))))
	if cfg.TracingEnabled {
		handler = tracing.HTTPMiddleware("api")(handler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			_ = server.Close()
			return fmt.Errorf("forced shutdown: %w", err)
		}
	}

	log.Info("server stopped gracefully")
	return nil
}

// openGateway connects every configured region's bucket once.
func openGateway(ctx context.Context, regions *config.Regions) (*storage.Gateway, error) {
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
			return nil, fmt.Errorf("failed to create storage for %s: %w", reg.Name, err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket for %s: %w", reg.Name, err)
		}
		if err := gateway.Register(reg.Name, metrics.NewInstrumentedStorage(s)); err != nil {
			return nil, err
		}
	}
	return gateway, nil
}

// runners builds the transcoder runner of every region. A development
// transcoder URL replaces them all.
func runners(ctx context.Context, cfg *config.Config, regions *config.Regions, redisClient *redis.Client) (transcoder.DispatcherConfig, error) {
	dc := transcoder.DispatcherConfig{
		CallbackURL:    cfg.TranscoderCallbackURL,
		CallbackSecret: cfg.TranscoderCallbackSecret,
		Runners:        make(map[string]transcoder.Runner),
	}

	if cfg.DevTranscoderURL != "" {
		dc.Default = transcoder.NewHTTPRunner(cfg.DevTranscoderURL, nil).WithSecret(cfg.TranscoderCallbackSecret)
		return dc, nil
	}

	var broker transcoder.Broker
	for _, reg := range regions.Regions {
		switch reg.Runner {
		case config.RunnerLambda:
			r, err := transcoder.NewLambdaRunnerForRegion(ctx, reg.Name, reg.Lambda)
			if err != nil {
				return dc, fmt.Errorf("failed to create lambda runner for %s: %w", reg.Name, err)
			}
			dc.Runners[reg.Name] = r
		case config.RunnerGCR:
			if redisClient == nil {
				return dc, fmt.Errorf("region %s uses the gcr runner, which requires REDIS_URL", reg.Name)
			}
			if broker == nil {
				broker = transcoder.NewRedisBroker(redisClient)
			}
			dc.Runners[reg.Name] = transcoder.NewQueueRunner(broker, reg.Queue)
		}
	}
	return dc, nil
}
