package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/WilliamAGH/java-chat-sub001/internal/audit"
	"github.com/WilliamAGH/java-chat-sub001/internal/chunk"
	"github.com/WilliamAGH/java-chat-sub001/internal/chunkstore"
	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/embedding"
	"github.com/WilliamAGH/java-chat-sub001/internal/health"
	"github.com/WilliamAGH/java-chat-sub001/internal/history"
	"github.com/WilliamAGH/java-chat-sub001/internal/ingest"
	"github.com/WilliamAGH/java-chat-sub001/internal/llm"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
	"github.com/WilliamAGH/java-chat-sub001/internal/queue"
	"github.com/WilliamAGH/java-chat-sub001/internal/ratelimit"
	"github.com/WilliamAGH/java-chat-sub001/internal/rerank"
	"github.com/WilliamAGH/java-chat-sub001/internal/retrieval"
	"github.com/WilliamAGH/java-chat-sub001/internal/schedule"
	"github.com/WilliamAGH/java-chat-sub001/internal/search"
	"github.com/WilliamAGH/java-chat-sub001/internal/telemetry"
	"github.com/WilliamAGH/java-chat-sub001/internal/vectorstore"
)

const (
	cacheFlushThreshold      = 256
	rateLimitPersistInterval = 5 * time.Minute

	// askContextDocs and askContextTokensPerDoc shape the retrieved context
	// so the prompt stays inside the smallest provider input budget.
	askContextDocs         = 8
	askContextTokensPerDoc = 700
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "javachat",
		Short:        "Ingest, search, and chat over Java documentation",
		SilenceUsage: true,
	}
	root.AddCommand(
		newIngestCmd(),
		newAskCmd(),
		newAuditCmd(),
		newHealthCmd(),
		newInitCollectionsCmd(),
	)
	return root
}

// boot loads configuration and initializes logging, tracing, and metrics.
// The returned shutdown must run before exit so spans flush.
func boot(service string) (*config.Config, *telemetry.Metrics, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger.InitLogger(cfg.Log.Level)

	shutdownTracer, err := telemetry.InitTracer(service)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing tracer: %w", err)
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}
	return cfg, metrics, shutdownTracer, nil
}

type ingestOptions struct {
	url     string
	title   string
	pkg     string
	docSet  string
	docType string
	pdf     bool
	force   bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions
	var async bool

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Chunk, embed, and store a parsed file, PDF, or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, metrics, shutdown, err := boot("java-chat-ingest")
			if err != nil {
				return err
			}
			defer shutdown()

			payloads, err := collectPayloads(args[0], opts)
			if err != nil {
				return err
			}
			if len(payloads) == 0 {
				return fmt.Errorf("no ingestable files under %s", args[0])
			}

			if async {
				return enqueueIngests(cmd, cfg, payloads)
			}
			return runIngests(cmd, cfg, metrics, payloads)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "canonical source url (file urls derived when empty)")
	cmd.Flags().StringVar(&opts.title, "title", "", "document title (file name when empty)")
	cmd.Flags().StringVar(&opts.pkg, "package", "", "java package the source documents")
	cmd.Flags().StringVar(&opts.docSet, "doc-set", "", "documentation set, e.g. api or tutorial")
	cmd.Flags().StringVar(&opts.docType, "doc-type", "", "document type stored in the payload")
	cmd.Flags().BoolVar(&opts.pdf, "pdf", false, "treat the file as a PDF regardless of extension")
	cmd.Flags().BoolVar(&opts.force, "force", false, "delete stored points for each url and re-ingest")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue ingest tasks instead of running inline")
	return cmd
}

// collectPayloads expands path into one ingest payload per file. Directories
// are walked for parsed text and PDFs; everything else is skipped.
func collectPayloads(path string, opts ingestOptions) ([]queue.IngestSourcePayload, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if !info.IsDir() {
		return []queue.IngestSourcePayload{buildPayload(abs, "", opts)}, nil
	}

	var payloads []queue.IngestSourcePayload
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".txt", ".md", ".html", ".pdf":
		default:
			return nil
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		payloads = append(payloads, buildPayload(p, rel, opts))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", path, err)
	}
	return payloads, nil
}

func buildPayload(path, rel string, opts ingestOptions) queue.IngestSourcePayload {
	isPDF := opts.pdf || strings.EqualFold(filepath.Ext(path), ".pdf")

	url := opts.url
	switch {
	case url == "":
		url = "file://" + path
	case rel != "":
		url = strings.TrimRight(url, "/") + "/" + filepath.ToSlash(rel)
	}

	title := opts.title
	if title == "" || rel != "" {
		base := filepath.Base(path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	docType := opts.docType
	if docType == "" && isPDF {
		docType = "pdf"
	}

	return queue.IngestSourcePayload{
		URL:     url,
		Path:    path,
		Title:   title,
		Package: opts.pkg,
		DocSet:  opts.docSet,
		DocType: docType,
		PDF:     isPDF,
		Force:   opts.force,
	}
}

// runIngests processes payloads inline through the same path the worker
// uses, so queued and direct ingests cannot drift apart.
func runIngests(cmd *cobra.Command, cfg *config.Config, metrics *telemetry.Metrics, payloads []queue.IngestSourcePayload) error {
	ctx := cmd.Context()

	store, err := vectorstore.NewClient(cfg.App.Qdrant)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer store.Close()

	chunks, err := chunkstore.NewStore(cfg.App.Docs.ParsedDir, cfg.App.Docs.IndexDir)
	if err != nil {
		return fmt.Errorf("opening chunk store: %w", err)
	}

	enc, err := chunk.NewCL100KEncoding()
	if err != nil {
		return fmt.Errorf("loading tokenizer: %w", err)
	}

	cache := embedding.NewCache(cfg.Data.EmbeddingsCachePath(), cacheFlushThreshold)
	if err := cache.Load(); err != nil {
		logger.Warn("Embedding cache load failed, starting empty", "error", err)
	}
	defer func() {
		if err := cache.Flush(); err != nil {
			logger.Warn("Embedding cache flush failed", "error", err)
		}
	}()
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
		return fmt.Errorf("building ingest pipeline: %w", err)
	}
	processor := queue.NewTaskProcessor(pipeline, nil)

	var failures []error
	for _, payload := range payloads {
		res, err := processor.Ingest(ctx, payload)
		if err != nil {
			failures = append(failures, err)
			fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", payload.URL, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %s: %d chunks (%d already stored)\n",
			payload.URL, res.TotalChunks, res.SkippedChunks)
	}
	return errors.Join(failures...)
}

func enqueueIngests(cmd *cobra.Command, cfg *config.Config, payloads []queue.IngestSourcePayload) error {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	for _, payload := range payloads {
		task, err := queue.NewIngestSourceTask(payload)
		if err != nil {
			return fmt.Errorf("building task for %s: %w", payload.URL, err)
		}
		info, err := client.EnqueueContext(cmd.Context(), task)
		if err != nil {
			return fmt.Errorf("enqueueing %s: %w", payload.URL, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s: task %s on %s\n", payload.URL, info.ID, info.Queue)
	}
	return nil
}

func newAskCmd() *cobra.Command {
	var (
		session     string
		temperature float64
	)

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer a question from the indexed docs, streaming the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, metrics, shutdown, err := boot("java-chat")
			if err != nil {
				return err
			}
			defer shutdown()
			return runAsk(cmd, cfg, metrics, strings.Join(args, " "), session, temperature)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id for conversation history")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature (ignored by models that pin it)")
	return cmd
}

func runAsk(cmd *cobra.Command, cfg *config.Config, metrics *telemetry.Metrics, question, session string, temperature float64) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := vectorstore.NewClient(cfg.App.Qdrant)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer store.Close()

	rest := vectorstore.NewRESTClient(cfg.App.Qdrant)
	discovery := vectorstore.NewDiscovery(rest, vectorstore.DefaultRepoPrefix, 0)

	cache := embedding.NewCache(cfg.Data.EmbeddingsCachePath(), cacheFlushThreshold)
	if err := cache.Load(); err != nil {
		logger.Warn("Embedding cache load failed, starting empty", "error", err)
	}
	defer func() {
		if err := cache.Flush(); err != nil {
			logger.Warn("Embedding cache flush failed", "error", err)
		}
	}()
	embedder := embedding.NewClient(cfg.App.Embedding, cache, metrics)

	searcher := search.NewService(store, embedder, discovery, cfg.App.Qdrant, metrics)
	retriever := retrieval.NewService(searcher, rerank.NewLexical(), cfg.App.RAG)

	limits, err := ratelimit.NewStore(cfg.Data.RateLimitStatePath())
	if err != nil {
		return fmt.Errorf("opening rate limit state: %w", err)
	}

	// Mutations persist write-through; the timer covers streams that outlive
	// the persist interval.
	sched := schedule.NewScheduler()
	if err := sched.Every("rate-limit-persist", rateLimitPersistInterval, limits.Persist); err != nil {
		return fmt.Errorf("scheduling rate limit persistence: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	enc, err := chunk.NewCL100KEncoding()
	if err != nil {
		return fmt.Errorf("loading tokenizer: %w", err)
	}

	clients := llm.NewClients(cfg.LLM)
	if len(clients) == 0 {
		return fmt.Errorf("no chat providers configured; set GITHUB_TOKEN, OPENAI_API_KEY, or LLM_LOCAL_BASE_URL")
	}
	router := llm.NewRouter(llm.Provider(cfg.LLM.PrimaryProvider), clients, limits, cfg.LLM.PrimaryBackoff())
	engine := llm.NewEngine(router, llm.NewFactory(enc, cfg.LLM), limits, cfg.LLM, metrics)

	var sessions *history.Store
	if session != "" {
		rdb, err := config.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Session history disabled", "error", err)
		} else {
			defer rdb.Close()
			sessions = history.NewStore(rdb, 0, 0)
		}
	}

	docs, err := retriever.RetrieveWithLimit(ctx, question, askContextDocs, askContextTokensPerDoc)
	if err != nil {
		return fmt.Errorf("retrieving context: %w", err)
	}

	var past string
	if sessions != nil {
		msgs, err := sessions.Snapshot(ctx, session)
		if err != nil {
			logger.Warn("History read failed", "session", session, "error", err)
		}
		past = history.Format(msgs)
	}

	stream, err := engine.Stream(ctx, buildPrompt(question, docs, past), temperature)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	var answer strings.Builder
	for ev := range stream {
		switch ev.Kind {
		case llm.KindText:
			fmt.Fprint(out, ev.Text)
			answer.WriteString(ev.Text)
		case llm.KindNotice:
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[%s] %s\n", ev.Notice.Code, ev.Notice.Summary)
		case llm.KindError:
			fmt.Fprintln(out)
			return ev.Err
		case llm.KindEnd:
		}
	}
	fmt.Fprintln(out)

	if citations := retrieval.Citations(docs); len(citations) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for i, c := range citations {
			if c.Title != "" {
				fmt.Fprintf(out, "  %d. %s - %s\n", i+1, c.Title, c.URL)
			} else {
				fmt.Fprintf(out, "  %d. %s\n", i+1, c.URL)
			}
		}
	}

	if sessions != nil && answer.Len() > 0 {
		if err := sessions.Append(ctx, session, history.Message{Role: "user", Text: question}); err != nil {
			logger.Warn("History write failed", "session", session, "error", err)
		} else if err := sessions.Append(ctx, session, history.Message{Role: "assistant", Text: answer.String()}); err != nil {
			logger.Warn("History write failed", "session", session, "error", err)
		}
	}
	return nil
}

// buildPrompt frames the question with retrieved context and any prior
// conversation turns.
func buildPrompt(question string, docs []search.Document, past string) string {
	var b strings.Builder
	if past != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(past)
		b.WriteString("\n")
	}
	if len(docs) == 0 {
		b.WriteString(question)
		return b.String()
	}

	b.WriteString("Based on the following context:\n\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "Context %d", i+1)
		if d.Payload.URL != "" {
			fmt.Fprintf(&b, " (%s)", d.Payload.URL)
		}
		b.WriteString(":\n")
		b.WriteString(d.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Please answer this question: ")
	b.WriteString(question)
	return b.String()
}

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <url>",
		Short: "Reconcile stored points against the local chunk files for a url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, metrics, shutdown, err := boot("java-chat-audit")
			if err != nil {
				return err
			}
			defer shutdown()

			chunks, err := chunkstore.NewStore(cfg.App.Docs.ParsedDir, cfg.App.Docs.IndexDir)
			if err != nil {
				return fmt.Errorf("opening chunk store: %w", err)
			}
			rest := vectorstore.NewRESTClient(cfg.App.Qdrant)
			discovery := vectorstore.NewDiscovery(rest, vectorstore.DefaultRepoPrefix, 0)
			auditor := audit.NewService(chunks, rest, discovery, cfg.App.Qdrant, metrics)

			report, err := auditor.AuditByURL(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("auditing %s: %w", args[0], err)
			}

			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

			if !report.OK {
				return fmt.Errorf("store does not match chunk files for %s", args[0])
			}
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe qdrant, redis, the embedding service, and the collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, shutdown, err := boot("java-chat-health")
			if err != nil {
				return err
			}
			defer shutdown()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rest := vectorstore.NewRESTClient(cfg.App.Qdrant)

			monitor := health.NewMonitor()
			monitor.Register("qdrant", health.NewHTTPProbe(rest.BaseURL()+"/healthz"))
			monitor.Register("embeddings", health.NewHTTPProbe(strings.TrimRight(cfg.App.Embedding.BaseURL, "/")+"/models"))
			monitor.Register("redis", func(ctx context.Context) error {
				rdb, err := config.NewRedisClient(cfg)
				if err != nil {
					return err
				}
				defer rdb.Close()
				return rdb.Ping(ctx).Err()
			})

			failed := 0
			for _, name := range []string{"qdrant", "embeddings", "redis"} {
				if err := monitor.Check(ctx, name); err != nil {
					failed++
					fmt.Fprintf(out, "%-12s FAIL  %v\n", name, err)
					continue
				}
				fmt.Fprintf(out, "%-12s ok\n", name)
			}

			collections := cfg.App.Qdrant.Collections.All()
			if err := health.VerifyCollections(ctx, rest, collections); err != nil {
				failed++
				fmt.Fprintf(out, "%-12s FAIL  %v\n", "collections", err)
			} else {
				fmt.Fprintf(out, "%-12s ok    (%d verified)\n", "collections", len(collections))
			}

			if failed > 0 {
				return fmt.Errorf("%d health checks failed", failed)
			}
			return nil
		},
	}
}

func newInitCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-collections",
		Short: "Create any missing collections with the hybrid vector schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, shutdown, err := boot("java-chat-init")
			if err != nil {
				return err
			}
			defer shutdown()

			store, err := vectorstore.NewClient(cfg.App.Qdrant)
			if err != nil {
				return fmt.Errorf("connecting to qdrant: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()
			if err := store.EnsureCollections(ctx, cfg.App.Qdrant.Collections.All(), cfg.App.Embedding.Dimensions); err != nil {
				return fmt.Errorf("ensuring collections: %w", err)
			}

			names, err := store.ListCollections(ctx)
			if err != nil {
				return fmt.Errorf("listing collections: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collections ready: %s\n", strings.Join(names, ", "))
			return nil
		},
	}
}
