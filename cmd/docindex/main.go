package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/conexus-oss/docindex/internal/circuitbreaker"
	"github.com/conexus-oss/docindex/internal/chunker"
	"github.com/conexus-oss/docindex/internal/config"
	"github.com/conexus-oss/docindex/internal/contextgen"
	"github.com/conexus-oss/docindex/internal/doctype"
	"github.com/conexus-oss/docindex/internal/embedding"
	"github.com/conexus-oss/docindex/internal/observability"
	"github.com/conexus-oss/docindex/internal/ratelimit"
	"github.com/conexus-oss/docindex/internal/reposync"
	"github.com/conexus-oss/docindex/internal/resourcemonitor"
	"github.com/conexus-oss/docindex/internal/vectorindex"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel/trace"
)

const Version = "0.1.0"

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Output:        os.Stderr,
		AddSource:     true,
		SentryEnabled: cfg.Observability.Sentry.Enabled,
	})

	logger.Info("docindex starting",
		"version", Version,
		"root_path", cfg.Indexer.RootPath,
		"repositories", len(cfg.Repositories),
		"vector_store", cfg.VectorStore.Type,
		"embedding_provider", cfg.Embedding.Provider,
	)

	var metrics *observability.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector("docindex")
		metrics.SetSystemStartTime(time.Now())
		go startMetricsServer(cfg.Observability.Metrics, logger)
	} else {
		logger.Info("metrics collection disabled")
	}

	var tracerProvider *observability.TracerProvider
	if cfg.Observability.Tracing.Enabled {
		tracerProvider, err = observability.NewTracerProvider(observability.TracerConfig{
			ServiceName:    "docindex",
			ServiceVersion: Version,
			Environment:    cfg.Observability.Sentry.Environment,
			OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SampleRate,
			Enabled:        true,
		})
		if err != nil {
			logger.Error("failed to initialize tracing provider", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown tracer provider", "error", err)
			}
		}()
	} else {
		logger.Info("tracing disabled")
	}

	if cfg.Observability.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.Sentry.DSN,
			Environment:      cfg.Observability.Sentry.Environment,
			Release:          cfg.Observability.Sentry.Release,
			TracesSampleRate: cfg.Observability.Sentry.SampleRate,
		}); err != nil {
			logger.Error("failed to initialize sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	errorHandler := observability.NewErrorHandler(logger, metrics, cfg.Observability.Sentry.Enabled)

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		logger.Error("failed to create embedder", "provider", cfg.Embedding.Provider, "error", err)
		os.Exit(1)
	}
	logger.Info("embedder initialized", "provider", cfg.Embedding.Provider, "model", embedder.Model(), "dimensions", embedder.Dimensions())

	limiter, err := ratelimit.New(ratelimit.Config{
		Enabled:         cfg.RateLimit.Enabled,
		Redis:           ratelimit.RedisConfig(cfg.RateLimit.Redis),
		UpsertLimit:     ratelimit.LimitConfig{Requests: cfg.RateLimit.UpsertPerMinute, Window: time.Minute},
		SearchLimit:     ratelimit.LimitConfig{Requests: cfg.RateLimit.SearchPerMinute, Window: time.Minute},
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	})
	if err != nil {
		logger.Error("failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	monitor := resourcemonitor.New(resourcemonitor.Thresholds{
		LightHeapBytes:  512 << 20,
		HeavyHeapBytes:  1 << 30,
		LightGoroutines: 500,
		HeavyGoroutines: 2000,
	}, 15*time.Second)
	monitor.Start()
	defer monitor.Stop()

	store, err := vectorindex.NewQdrantStore(cfg.VectorStore.Qdrant)
	if err != nil {
		logger.Error("failed to initialize vector store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	dimensions := cfg.Embedding.Dimensions
	if dimensions <= 0 {
		dimensions = embedder.Dimensions()
	}
	coordinator := vectorindex.New(store, limiter, breaker, monitor, dimensions, logger, metrics)

	sync, err := reposync.New(cfg.Indexer.RootPath)
	if err != nil {
		logger.Error("failed to initialize repository synchronizer", "error", err)
		os.Exit(1)
	}

	repos := make([]doctype.Repository, 0, len(cfg.Repositories))
	for _, r := range cfg.Repositories {
		repos = append(repos, repositoryFromConfig(r))
	}

	if err := reconcileRemovedRepositories(ctx, cfg.Indexer.RootPath, repos, coordinator, logger); err != nil {
		logger.Error("failed to reconcile removed repositories", "error", err)
	}

	chunk := chunker.New(chunker.Config{MaxFragmentSize: cfg.Indexer.ChunkSize, OverlapSize: cfg.Indexer.ChunkOverlap})

	embeddingProvider := cfg.Embedding.Provider
	if embeddingProvider == "" {
		embeddingProvider = "mock"
	}
	pipeline := &indexPipeline{
		sync:        sync,
		chunker:     chunk,
		embedder:    embedder,
		provider:    embeddingProvider,
		coordinator: coordinator,
		logger:      logger,
		metrics:     metrics,
		errors:      errorHandler,
		maxBytes:    cfg.Indexer.MaxFileBytes,
	}

	for _, repo := range repos {
		if err := pipeline.syncAndIndex(ctx, repo); err != nil {
			logger.Error("initial sync and index failed", "repository", repo.Name, "error", err)
		}
	}

	scheduler := reposync.NewScheduler(sync, logger)
	go scheduler.Start(ctx, repos)
	defer scheduler.Stop()

	generatorConfig := contextgen.DefaultConfig()
	generatorConfig.DefaultLimit = cfg.ContextGeneration.MaxChunks
	generatorConfig.PriorityWeights = cfg.ContextGeneration.PriorityWeighting
	generatorConfig.FrameworkPrompts = cfg.ContextGeneration.CustomPrompts
	generator := contextgen.New(coordinator, embedder, coordinator, generatorConfig)

	runQueryServer(ctx, cfg, generator, logger, metrics, tracerProvider)
}

// repositoryFromConfig converts a configured repository entry into the
// synchronizer's domain type.
func repositoryFromConfig(r config.RepositoryConfig) doctype.Repository {
	authType := doctype.AuthNone
	switch r.AuthType {
	case "token":
		authType = doctype.AuthToken
	case "ssh":
		authType = doctype.AuthSSH
	}
	priority := doctype.PriorityMedium
	switch r.Priority {
	case "high":
		priority = doctype.PriorityHigh
	case "low":
		priority = doctype.PriorityLow
	}
	interval := time.Duration(r.SyncInterval) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return doctype.Repository{
		Name:         r.Name,
		URL:          r.URL,
		Branch:       r.Branch,
		AuthType:     authType,
		Credentials:  r.Credentials,
		Paths:        r.Paths,
		Exclude:      r.Exclude,
		SyncInterval: interval,
		Priority:     priority,
		Category:     r.Category,
		Metadata:     r.Metadata,
	}
}

// reconcileRemovedRepositories compares the currently configured
// repositories against the set persisted from the previous run and purges
// vector records for any repository no longer present, so a repository
// removed from configuration doesn't leave its fragments searchable
// forever. The known-repository set is tracked in a small manifest file
// under rootPath since the synchronizer itself only tracks repositories it
// was asked to sync, not ones that disappeared from config entirely.
func reconcileRemovedRepositories(ctx context.Context, rootPath string, repos []doctype.Repository, coordinator *vectorindex.Coordinator, logger *observability.Logger) error {
	manifestPath := filepath.Join(rootPath, "known_repositories.json")

	var previous []string
	if data, err := os.ReadFile(manifestPath); err == nil {
		if err := json.Unmarshal(data, &previous); err != nil {
			logger.Warn("failed to parse known-repositories manifest", "path", manifestPath, "error", err)
		}
	}

	current := make(map[string]bool, len(repos))
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		current[r.Name] = true
		names = append(names, r.Name)
	}

	for _, name := range previous {
		if current[name] {
			continue
		}
		if err := coordinator.DeleteByRepository(ctx, name); err != nil {
			logger.Error("failed to purge removed repository", "repository", name, "error", err)
			continue
		}
		logger.Info("purged fragments for repository removed from configuration", "repository", name)
	}

	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("marshal known repositories manifest: %w", err)
	}
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return fmt.Errorf("create indexer root path: %w", err)
	}
	return os.WriteFile(manifestPath, data, 0o644)
}

// newEmbedder constructs the configured embedding provider. "mock" (and an
// empty provider name) is built directly with the configured dimensions,
// or config.DefaultEmbeddingDimensions when none are set, instead of going
// through the registry's mock provider.
func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Provider == "mock" || cfg.Provider == "" {
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = config.DefaultEmbeddingDimensions
		}
		return embedding.NewMock(dims), nil
	}

	provider, err := embedding.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	providerConfig := make(map[string]interface{}, len(cfg.Config)+2)
	for k, v := range cfg.Config {
		providerConfig[k] = v
	}
	providerConfig["model"] = cfg.Model
	providerConfig["dimensions"] = cfg.Dimensions

	return provider.Create(providerConfig)
}

// indexPipeline wires a sync pass to the chunk/embed/upsert sequence that
// keeps the vector index current with a repository's working tree.
type indexPipeline struct {
	sync        *reposync.Synchronizer
	chunker     *chunker.Chunker
	embedder    embedding.Embedder
	provider    string
	coordinator *vectorindex.Coordinator
	logger      *observability.Logger
	metrics     *observability.MetricsCollector
	errors      *observability.ErrorHandler
	maxBytes    int
}

// syncAndIndex pulls the repository's latest content and reindexes only
// the files the sync reported as changed: a fresh clone reports its full
// scoped file list, an up-to-date pull reports none, and an ordinary pull
// reports the paths that actually differ. Each changed file's prior
// fragments are deleted before re-chunking, since a content edit that
// shifts line boundaries produces different fragment IDs and would
// otherwise leave the old ones orphaned in the vector store.
func (p *indexPipeline) syncAndIndex(ctx context.Context, repo doctype.Repository) error {
	status, err := p.sync.Sync(ctx, repo)
	if err != nil {
		return fmt.Errorf("sync %s: %w", repo.Name, err)
	}
	p.logger.Info("repository synced", "repository", repo.Name, "head_commit", status.HeadCommit, "changed_files", len(status.ChangedFiles))

	if len(status.ChangedFiles) == 0 {
		p.logger.Info("repository unchanged since last sync, skipping reindex", "repository", repo.Name)
		return nil
	}

	workdir, err := p.sync.WorkDir(repo.Name)
	if err != nil {
		return fmt.Errorf("resolve workdir for %s: %w", repo.Name, err)
	}

	var indexed, skipped int
	for _, rel := range status.ChangedFiles {
		docID := documentID(repo.Name, rel)
		if err := p.coordinator.DeleteByDocument(ctx, docID); err != nil {
			p.logger.Warn("failed to clear stale fragments before reindex", "repository", repo.Name, "path", rel, "error", err)
		}

		doc, err := p.loadDocument(repo, workdir, rel)
		if err != nil {
			// covers deleted files too: the delete above already
			// dropped their fragments, so there's nothing left to index.
			p.logger.Warn("skipping file", "repository", repo.Name, "path", rel, "error", err)
			skipped++
			continue
		}
		if doc == nil {
			skipped++
			continue
		}

		chunkStart := time.Now()
		if _, err := p.chunker.Chunk(ctx, doc); err != nil {
			p.errors.HandleError(ctx, err, observability.ErrorContext{Method: "chunk", ErrorType: "chunk_failed"})
			if p.metrics != nil {
				p.metrics.RecordIndexerOperation("chunk", "error", time.Since(chunkStart))
				p.metrics.RecordIndexerError("chunk_failed")
			}
			skipped++
			continue
		}
		p.logger.LogIndexerOperation(ctx, "chunk", rel, time.Since(chunkStart))
		if p.metrics != nil {
			p.metrics.RecordIndexerOperation("chunk", "success", time.Since(chunkStart))
			p.metrics.RecordIndexedChunks(len(doc.Fragments))
		}

		if err := p.embedAndUpsert(ctx, repo, doc); err != nil {
			p.errors.HandleError(ctx, err, observability.ErrorContext{Method: "embed_and_upsert", ErrorType: "index_failed"})
			if p.metrics != nil {
				p.metrics.RecordIndexerError("index_failed")
			}
			skipped++
			continue
		}
		indexed++
	}

	if p.metrics != nil && indexed > 0 {
		p.metrics.RecordIndexedFiles(indexed)
	}

	p.logger.Info("repository indexed", "repository", repo.Name, "files_indexed", indexed, "files_skipped", skipped)
	return nil
}

// loadDocument reads a tracked file's content and builds the document the
// chunker expects. Files over the configured byte cap are skipped rather
// than truncated, since a truncated source file produces misleading
// fragments.
func (p *indexPipeline) loadDocument(repo doctype.Repository, workdir, rel string) (*doctype.Document, error) {
	full := filepath.Join(workdir, rel)
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if p.maxBytes > 0 && info.Size() > int64(p.maxBytes) {
		return nil, fmt.Errorf("file exceeds max size: %d bytes", info.Size())
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}

	return &doctype.Document{
		ID:             documentID(repo.Name, rel),
		RepositoryName: repo.Name,
		FilePath:       rel,
		Content:        string(content),
		LastModified:   info.ModTime(),
		Metadata: map[string]interface{}{
			"repository": repo.Name,
			"priority":   string(repo.Priority),
			"category":   repo.Category,
		},
	}, nil
}

// documentID derives a stable identifier from the repository name and file
// path so reindexing the same file produces the same document ID.
func documentID(repository, path string) string {
	sum := sha256.Sum256([]byte(repository + ":" + path))
	return hex.EncodeToString(sum[:])
}

// embedAndUpsert generates an embedding for each fragment and upserts the
// batch into the vector index coordinator.
func (p *indexPipeline) embedAndUpsert(ctx context.Context, repo doctype.Repository, doc *doctype.Document) error {
	if len(doc.Fragments) == 0 {
		return nil
	}

	texts := make([]string, len(doc.Fragments))
	for i, f := range doc.Fragments {
		texts[i] = f.Content
	}

	embedStart := time.Now()
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	embedDuration := time.Since(embedStart)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordEmbedding(p.provider, "error", embedDuration)
			p.metrics.RecordEmbeddingError(p.provider, "embed_failed")
		}
		return fmt.Errorf("embed fragments: %w", err)
	}
	p.logger.LogEmbedding(ctx, p.provider, len(texts), embedDuration)
	if p.metrics != nil {
		p.metrics.RecordEmbedding(p.provider, "success", embedDuration)
	}
	if len(embeddings) != len(doc.Fragments) {
		return fmt.Errorf("embedding count mismatch: got %d for %d fragments", len(embeddings), len(doc.Fragments))
	}
	for i, f := range doc.Fragments {
		f.Embedding = embeddings[i].Vector
		if f.Metadata == nil {
			f.Metadata = map[string]interface{}{}
		}
		f.Metadata["repository"] = repo.Name
		f.Metadata["category"] = repo.Category
	}

	_, err = p.coordinator.Upsert(ctx, doc.Fragments, repo.Name, string(repo.Priority))
	if err != nil {
		return fmt.Errorf("upsert fragments: %w", err)
	}
	return nil
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(cfg config.MetricsConfig, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"healthy","component":"metrics"}`)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("starting metrics server", "addr", addr, "path", cfg.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}

// runQueryServer exposes the context generator over HTTP and blocks until
// an interrupt signal is received.
func runQueryServer(
	ctx context.Context,
	cfg *config.Config,
	generator *contextgen.Generator,
	logger *observability.Logger,
	metrics *observability.MetricsCollector,
	tracerProvider *observability.TracerProvider,
) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, Version)
	})

	const contextMethod = "context.generate"
	mux.HandleFunc("/context", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		requestCtx := r.Context()
		if tracerProvider != nil {
			var span trace.Span
			requestCtx, span = observability.InstrumentRequest(requestCtx, tracerProvider.Tracer(), contextMethod)
			defer span.End()
		}

		if metrics != nil {
			metrics.TrackRequestInFlight(contextMethod, 1)
			defer metrics.TrackRequestInFlight(contextMethod, -1)
		}

		var query contextgen.Query
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		logger.LogRequest(requestCtx, contextMethod, query, 0)

		start := time.Now()
		resp, err := generator.Generate(requestCtx, query)
		duration := time.Since(start)

		if err != nil {
			logger.LogRequestError(requestCtx, contextMethod, err, duration)
			if metrics != nil {
				metrics.RecordRequest(contextMethod, "error", duration)
				metrics.RecordRequestError(contextMethod, "generate_failed")
			}
			observability.SetSpanError(requestCtx, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		logger.LogResponse(requestCtx, contextMethod, true, duration)
		if metrics != nil {
			metrics.RecordRequest(contextMethod, "success", duration)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode response", "error", err)
		}
	})

	addr := fmt.Sprintf(":%d", 8090)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("query server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("query server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	logger.Info("stopped")
}
