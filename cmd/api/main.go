// Command api starts the HTTP API server for the document pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/swastik-shetty-85/docpipe/internal/artifact"
	"github.com/swastik-shetty-85/docpipe/internal/config"
	"github.com/swastik-shetty-85/docpipe/internal/ingest"
	"github.com/swastik-shetty-85/docpipe/internal/job"
	"github.com/swastik-shetty-85/docpipe/internal/metrics"
	"github.com/swastik-shetty-85/docpipe/internal/queue"
	"github.com/swastik-shetty-85/docpipe/internal/statusbus"
	"github.com/swastik-shetty-85/docpipe/internal/storage"
	"github.com/swastik-shetty-85/docpipe/internal/tracing"
)

// maxUploadBytes bounds a single multipart submission.
const maxUploadBytes = 64 << 20

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	shutdownTracer, err := tracing.Init(ctx, "docpipe-api", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTracer(ctx)
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("parse postgres config", zap.Error(err))
	}
	pgConfig.MaxConns = 50
	pgConfig.MinConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		PoolSize:     100,
		MinIdleConns: 20,
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

	bus := statusbus.NewRedisBus(rdb, logger)
	m := metrics.New()
	ingestSvc := ingest.NewService(jobs, artifacts, extractQ, bus, m, logger)

	handler := &apiHandler{
		jobs:      jobs,
		artifacts: artifacts,
		ingest:    ingestSvc,
		bus:       bus,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.UploadRate), cfg.UploadBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", handler.health).Methods("GET")
	r.HandleFunc("/api/v1/documents", handler.submit).Methods("POST")
	r.HandleFunc("/api/v1/documents", handler.list).Methods("GET")
	r.HandleFunc("/api/v1/documents/{id}", handler.get).Methods("GET")
	r.HandleFunc("/api/v1/documents/{id}/output", handler.output).Methods("GET")
	r.HandleFunc("/api/v1/documents/{id}/cancel", handler.cancel).Methods("POST")
	r.HandleFunc("/api/v1/documents/{id}/events", handler.events).Methods("GET")
	r.HandleFunc("/api/v1/dlq", handler.deadLettered).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("api server starting", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
}

type apiHandler struct {
	jobs      job.Repository
	artifacts artifact.Gateway
	ingest    *ingest.Service
	bus       statusbus.Bus
	logger    *zap.Logger
	limiter   *rate.Limiter
	upgrader  websocket.Upgrader
}

func (h *apiHandler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// submit accepts a multipart upload with document, spec, and template parts.
func (h *apiHandler) submit(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, `{"error":"too many uploads, slow down"}`, http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, `{"error":"invalid multipart form"}`, http.StatusBadRequest)
		return
	}

	owner := r.FormValue("owner")
	if owner == "" {
		http.Error(w, `{"error":"owner is required"}`, http.StatusBadRequest)
		return
	}

	document, err := formFile(r, "document")
	if err != nil {
		http.Error(w, `{"error":"document file is required"}`, http.StatusBadRequest)
		return
	}
	spec, err := formFile(r, "spec")
	if err != nil {
		http.Error(w, `{"error":"spec file is required"}`, http.StatusBadRequest)
		return
	}
	template, err := formFile(r, "template")
	if err != nil {
		http.Error(w, `{"error":"template file is required"}`, http.StatusBadRequest)
		return
	}

	j, err := h.ingest.Submit(r.Context(), owner, document, spec, template)
	if err != nil {
		h.logger.Error("submit failed", zap.Error(err))
		status := http.StatusServiceUnavailable // Retryable by the caller.
		if errors.Is(err, ingest.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(j)
}

func (h *apiHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(j)
}

func (h *apiHandler) list(w http.ResponseWriter, r *http.Request) {
	stage := r.URL.Query().Get("stage")
	if stage == "" {
		stage = string(job.StageQueued)
	}

	jobs, err := h.jobs.ListByStage(r.Context(), job.Stage(stage), 100, 0)
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		http.Error(w, `{"error":"failed to list jobs"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

func (h *apiHandler) deadLettered(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListByStage(r.Context(), job.StageDeadLettered, 100, 0)
	if err != nil {
		h.logger.Error("list dlq failed", zap.Error(err))
		http.Error(w, `{"error":"failed to list dead-lettered jobs"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// output streams the rendered document of a completed job.
func (h *apiHandler) output(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusNotFound)
		return
	}
	if j.Stage != job.StageComplete {
		http.Error(w, fmt.Sprintf(`{"error":"job is %s, not complete"}`, j.Stage), http.StatusConflict)
		return
	}

	data, err := h.artifacts.Get(r.Context(), j.OutputRef)
	if err != nil {
		h.logger.Error("load output failed", zap.Error(err))
		http.Error(w, `{"error":"failed to load output"}`, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Write(data)
}

func (h *apiHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.Cancel(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusNotFound)
		return
	}
	if j.Stage == job.StageCancelled {
		if err := h.bus.Publish(r.Context(), statusbus.NewEvent(j)); err != nil {
			h.logger.Warn("publish cancel event failed", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(j)
}

// events upgrades to a WebSocket and streams the job's status events. The
// current state is sent first so clients need not race the subscription.
func (h *apiHandler) events(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	// Subscribe before the snapshot read; an event landing between the two
	// is then delivered rather than missed (a duplicate is fine).
	ch, cancelSub, err := h.bus.Subscribe(r.Context(), id)
	if err != nil {
		http.Error(w, `{"error":"subscribe failed"}`, http.StatusServiceUnavailable)
		return
	}
	defer cancelSub()

	j, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Detect client disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	snapshot := statusbus.NewEvent(j)
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if snapshot.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
