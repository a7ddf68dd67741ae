package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/WilliamAGH/java-chat-sub001/internal/audit"
	"github.com/WilliamAGH/java-chat-sub001/internal/chunk"
	"github.com/WilliamAGH/java-chat-sub001/internal/chunkstore"
	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/embedding"
	"github.com/WilliamAGH/java-chat-sub001/internal/health"
	"github.com/WilliamAGH/java-chat-sub001/internal/ingest"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
	"github.com/WilliamAGH/java-chat-sub001/internal/queue"
	"github.com/WilliamAGH/java-chat-sub001/internal/schedule"
	"github.com/WilliamAGH/java-chat-sub001/internal/telemetry"
	"github.com/WilliamAGH/java-chat-sub001/internal/vectorstore"
)

const (
	cacheFlushThreshold = 256
	cacheFlushInterval  = 2 * time.Minute
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}
	logger.InitLogger(cfg.Log.Level)

	shutdownTracer, err := telemetry.InitTracer("java-chat-worker")
	if err != nil {
		log.Fatal("Failed to init tracer: ", err)
	}
	defer shutdownTracer()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	store, err := vectorstore.NewClient(cfg.App.Qdrant)
	if err != nil {
		log.Fatal("Failed to connect to qdrant: ", err)
	}
	defer store.Close()

	rest := vectorstore.NewRESTClient(cfg.App.Qdrant)
	discovery := vectorstore.NewDiscovery(rest, vectorstore.DefaultRepoPrefix, 0)

	if err := health.VerifyCollections(context.Background(), rest, cfg.App.Qdrant.Collections.All()); err != nil {
		// Tasks retry, so a store that is still coming up is not fatal here.
		logger.Warn("Collection verification failed", "error", err)
	}

	chunks, err := chunkstore.NewStore(cfg.App.Docs.ParsedDir, cfg.App.Docs.IndexDir)
	if err != nil {
		log.Fatal("Failed to open chunk store: ", err)
	}

	enc, err := chunk.NewCL100KEncoding()
	if err != nil {
		log.Fatal("Failed to load tokenizer: ", err)
	}

	cache := embedding.NewCache(cfg.Data.EmbeddingsCachePath(), cacheFlushThreshold)
	if err := cache.Load(); err != nil {
		logger.Warn("Embedding cache load failed, starting empty", "error", err)
	}
	embedder := embedding.NewClient(cfg.App.Embedding, cache, metrics)

	pipeline, err := ingest.NewPipeline(
		enc,
		chunks,
		embedder,
		store,
		vectorstore.NewRouter(cfg.App.Qdrant.Collections),
		ingest.NewPDFExtractor(),
		metrics,
	)
	if err != nil {
		log.Fatal("Failed to build ingest pipeline: ", err)
	}

	auditor := audit.NewService(chunks, rest, discovery, cfg.App.Qdrant, metrics)
	processor := queue.NewTaskProcessor(pipeline, auditor)

	sched := schedule.NewScheduler()
	if err := sched.Every("embeddings-flush", cacheFlushInterval, cache.Flush); err != nil {
		log.Fatal("Failed to schedule cache flush: ", err)
	}
	sched.Start()
	defer sched.Stop()

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 20,
			Queues: map[string]int{
				"critical": 6, // ingest
				"default":  3,
				"low":      1, // audits
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestSource, processor.HandleIngestSource)
	mux.HandleFunc(queue.TaskAuditURL, processor.HandleAuditURL)

	logger.Info("Starting ingest worker",
		"redis", cfg.Redis.Addr,
		"concurrency", 20,
		"queues", "critical(6) default(3) low(1)")

	if err := server.Run(mux); err != nil {
		log.Fatal("Worker exited: ", err)
	}

	if err := cache.Flush(); err != nil {
		logger.Warn("Final cache flush failed", "error", err)
	}
}
