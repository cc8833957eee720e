// Command worker runs the extraction and generation stage workers.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/swastik-shetty-85/docpipe/internal/artifact"
	"github.com/swastik-shetty-85/docpipe/internal/config"
	"github.com/swastik-shetty-85/docpipe/internal/extract"
	"github.com/swastik-shetty-85/docpipe/internal/metrics"
	"github.com/swastik-shetty-85/docpipe/internal/queue"
	"github.com/swastik-shetty-85/docpipe/internal/render"
	"github.com/swastik-shetty-85/docpipe/internal/retry"
	"github.com/swastik-shetty-85/docpipe/internal/stage"
	"github.com/swastik-shetty-85/docpipe/internal/statusbus"
	"github.com/swastik-shetty-85/docpipe/internal/storage"
	"github.com/swastik-shetty-85/docpipe/internal/tracing"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	shutdownTracer, err := tracing.Init(ctx, "docpipe-worker", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTracer(ctx)
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("parse postgres config", zap.Error(err))
	}
	pgConfig.MaxConns = 25
	pgConfig.MinConns = 5
	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		PoolSize:     50,
		MinIdleConns: 10,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("load aws config", zap.Error(err))
	}

	jobs := storage.NewPostgresJobRepository(pool, logger)
	artifacts := artifact.NewS3Gateway(s3.NewFromConfig(awsCfg), cfg.S3Bucket)

	queueOpts := queue.DefaultOptions()
	queueOpts.VisibilityTimeout = cfg.VisibilityTimeout
	queueOpts.DeliveryCeiling = cfg.DeliveryCeiling
	extractQ := queue.NewRedisQueue(rdb, "extract", queueOpts, logger)
	generateQ := queue.NewRedisQueue(rdb, "generate", queueOpts, logger)

	bus := statusbus.NewRedisBus(rdb, logger)
	m := metrics.New()

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.MaxAttempts

	model, err := extract.NewModel(cfg.LLMProvider, cfg.LLMModel, cfg.LLMAPIKey, cfg.LLMServerURL)
	if err != nil {
		logger.Fatal("create llm model", zap.Error(err))
	}
	extractor := extract.NewLLMExtractor(model, logger)
	renderer := render.NewHTTPRenderer(cfg.RendererURL)

	workerCfg := stage.DefaultConfig()
	workerCfg.CallTimeout = cfg.CallTimeout

	extraction := stage.NewExtraction(jobs, artifacts, extractor, extractQ, generateQ, bus, policy, m, logger, workerCfg)
	generation := stage.NewGeneration(jobs, artifacts, renderer, generateQ, bus, policy, m, logger, workerCfg)

	// Queue gauges and worker state are scraped off the worker directly.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- extraction.Run(ctx) }()
	go func() { errCh <- generation.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down workers")
	case err := <-errCh:
		if err != nil {
			logger.Error("worker exited", zap.Error(err))
		}
		cancel()
	}

	// Let the second worker loop drain.
	<-errCh
	logger.Info("workers stopped")
}
