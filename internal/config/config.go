// Package config provides configuration management for the indexing engine.
// It supports loading configuration from environment variables, a JSON or
// YAML file, and defaults, with a clear precedence order: env > file >
// defaults.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration, matching the schema
// documented for the configuration file plus the ambient sections every
// deployment carries regardless of which features are in scope.
type Config struct {
	Project           ProjectConfig           `json:"project" yaml:"project"`
	Repositories      []RepositoryConfig      `json:"repositories" yaml:"repositories"`
	ContextGeneration ContextGenerationConfig `json:"contextGeneration" yaml:"contextGeneration"`
	VectorStore       VectorStoreConfig       `json:"vectorStore" yaml:"vectorStore"`
	Indexer           IndexerConfig           `json:"indexer" yaml:"indexer"`
	Embedding         EmbeddingConfig         `json:"embedding" yaml:"embedding"`
	Logging           LoggingConfig           `json:"logging" yaml:"logging"`
	RateLimit         RateLimitConfig         `json:"rateLimit" yaml:"rateLimit"`
	Observability     ObservabilityConfig     `json:"observability" yaml:"observability"`
}

// ProjectConfig identifies the deployment.
type ProjectConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
}

// RepositoryConfig describes one repository to synchronize and index.
type RepositoryConfig struct {
	Name         string                 `json:"name" yaml:"name"`
	URL          string                 `json:"url" yaml:"url"`
	Branch       string                 `json:"branch,omitempty" yaml:"branch,omitempty"`
	AuthType     string                 `json:"authType,omitempty" yaml:"authType,omitempty"` // none | token | ssh
	Credentials  string                 `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	Paths        []string               `json:"paths,omitempty" yaml:"paths,omitempty"`
	Exclude      []string               `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	SyncInterval int                    `json:"syncInterval,omitempty" yaml:"syncInterval,omitempty"` // minutes
	Priority     string                 `json:"priority,omitempty" yaml:"priority,omitempty"`         // high | medium | low
	Category     string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ContextGenerationConfig tunes the context generator's strategy selection
// and ranking.
type ContextGenerationConfig struct {
	Strategies        []string           `json:"strategies,omitempty" yaml:"strategies,omitempty"`
	MaxChunks         int                `json:"maxChunks,omitempty" yaml:"maxChunks,omitempty"`
	PriorityWeighting map[string]float64 `json:"priorityWeighting,omitempty" yaml:"priorityWeighting,omitempty"`
	CustomPrompts     map[string]string  `json:"customPrompts,omitempty" yaml:"customPrompts,omitempty"`
}

// VectorStoreConfig selects and configures the external vector store.
type VectorStoreConfig struct {
	Type   string       `json:"type" yaml:"type"`
	Qdrant QdrantConfig `json:"qdrant,omitempty" yaml:"qdrant,omitempty"`
}

// QdrantConfig configures the Qdrant-backed vector index coordinator.
type QdrantConfig struct {
	URL            string `json:"url" yaml:"url"`
	CollectionName string `json:"collectionName" yaml:"collectionName"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// IndexerConfig holds document-chunking configuration.
type IndexerConfig struct {
	RootPath     string `json:"rootPath" yaml:"rootPath"`
	ChunkSize    int    `json:"chunkSize" yaml:"chunkSize"`
	ChunkOverlap int    `json:"chunkOverlap" yaml:"chunkOverlap"`
	MaxFileBytes int    `json:"maxFileBytes" yaml:"maxFileBytes"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string                 `json:"provider" yaml:"provider"`
	Model      string                 `json:"model" yaml:"model"`
	Dimensions int                    `json:"dimensions" yaml:"dimensions"`
	Config     map[string]interface{} `json:"config" yaml:"config"`
}

// LoggingConfig holds structured-logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ObservabilityConfig holds metrics/tracing/error-reporting configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Sentry  SentryConfig  `json:"sentry" yaml:"sentry"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	SampleRate float64 `json:"sampleRate" yaml:"sampleRate"`
}

// SentryConfig holds Sentry error-monitoring configuration.
type SentryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	DSN         string  `json:"dsn" yaml:"dsn"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRate  float64 `json:"sampleRate" yaml:"sampleRate"`
	Release     string  `json:"release" yaml:"release"`
}

// RateLimitConfig holds the coordinator's rate-limit bucket configuration.
type RateLimitConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Redis           RedisConfig   `json:"redis" yaml:"redis"`
	UpsertPerMinute int           `json:"upsertPerMinute" yaml:"upsertPerMinute"`
	SearchPerMinute int           `json:"searchPerMinute" yaml:"searchPerMinute"`
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanupInterval"`
}

// RedisConfig configures the optional distributed rate-limit backend.
type RedisConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

// Default values.
const (
	DefaultRootPath            = "./data/repositories"
	DefaultChunkSize           = 1500
	DefaultChunkOverlap        = 200
	DefaultMaxFileBytes        = 1 << 20 // one megabyte
	DefaultEmbeddingProvider   = "mock"
	DefaultEmbeddingModel      = "mock-768"
	DefaultEmbeddingDimensions = 768
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultQdrantURL           = "http://localhost:6334"
	DefaultQdrantCollection    = "docindex"
	DefaultMetricsEnabled      = false
	DefaultMetricsPort         = 9091
	DefaultMetricsPath         = "/metrics"
	DefaultTracingEnabled      = false
	DefaultTracingEndpoint     = "http://localhost:4318"
	DefaultSampleRate          = 0.1
	DefaultSentryEnabled       = false
	DefaultSentryEnv           = "development"
	DefaultSentrySampleRate    = 1.0
	DefaultUpsertPerMinute     = 100
	DefaultSearchPerMinute     = 30
	DefaultMaxChunks           = 20
)

var (
	// ValidLogLevels enumerates the accepted logging levels.
	ValidLogLevels = []string{"debug", "info", "warn", "error"}
	// ValidLogFormats enumerates the accepted logging formats.
	ValidLogFormats = []string{"json", "text"}
	// ValidPriorities enumerates the accepted repository priority tags.
	ValidPriorities = []string{"high", "medium", "low"}
	// ValidAuthTypes enumerates the accepted repository auth modes.
	ValidAuthTypes = []string{"", "none", "token", "ssh"}
)

// Load loads configuration from environment variables and an optional
// config file. Precedence: env vars > config file > defaults.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	if configFile := os.Getenv("DOCINDEX_CONFIG_FILE"); configFile != "" {
		fileCfg, err := loadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg = loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Project: ProjectConfig{Name: "docindex"},
		ContextGeneration: ContextGenerationConfig{
			Strategies:        []string{"keyword", "semantic", "hybrid"},
			MaxChunks:         DefaultMaxChunks,
			PriorityWeighting: map[string]float64{"high": 1.5, "medium": 1.0, "low": 0.5},
		},
		VectorStore: VectorStoreConfig{
			Type: "qdrant",
			Qdrant: QdrantConfig{
				URL:            DefaultQdrantURL,
				CollectionName: DefaultQdrantCollection,
				Dimensions:     DefaultEmbeddingDimensions,
			},
		},
		Indexer: IndexerConfig{
			RootPath:     DefaultRootPath,
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
			MaxFileBytes: DefaultMaxFileBytes,
		},
		Embedding: EmbeddingConfig{
			Provider:   DefaultEmbeddingProvider,
			Model:      DefaultEmbeddingModel,
			Dimensions: DefaultEmbeddingDimensions,
			Config:     make(map[string]interface{}),
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			UpsertPerMinute: DefaultUpsertPerMinute,
			SearchPerMinute: DefaultSearchPerMinute,
			CleanupInterval: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
				Port:    DefaultMetricsPort,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				Enabled:    DefaultTracingEnabled,
				Endpoint:   DefaultTracingEndpoint,
				SampleRate: DefaultSampleRate,
			},
			Sentry: SentryConfig{
				Enabled:     DefaultSentryEnabled,
				Environment: DefaultSentryEnv,
				SampleRate:  DefaultSentrySampleRate,
			},
		},
	}
}

// loadFile loads configuration from a YAML or JSON file.
func loadFile(path string) (*Config, error) {
	safePath := filepath.Clean(path)

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(safePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", ext)
	}

	return cfg, nil
}

// loadEnv overrides configuration from recognized environment variables,
// plus the ambient ones every deployment needs.
func loadEnv(cfg *Config) *Config {
	if token := os.Getenv("DOCINDEX_REPO_TOKEN"); token != "" {
		for i := range cfg.Repositories {
			if cfg.Repositories[i].AuthType == "token" && cfg.Repositories[i].Credentials == "" {
				cfg.Repositories[i].Credentials = token
			}
		}
	}
	if url := os.Getenv("DOCINDEX_VECTOR_STORE_URL"); url != "" {
		cfg.VectorStore.Qdrant.URL = url
	}
	if apiKey := os.Getenv("DOCINDEX_VECTOR_STORE_API_KEY"); apiKey != "" {
		cfg.VectorStore.Qdrant.APIKey = apiKey
	}
	if level := os.Getenv("DOCINDEX_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if chunkSize := os.Getenv("DOCINDEX_MAX_CHUNK_SIZE"); chunkSize != "" {
		if cs, err := strconv.Atoi(chunkSize); err == nil {
			cfg.Indexer.ChunkSize = cs
		}
	}
	if upsertLimit := os.Getenv("DOCINDEX_UPSERT_PER_MINUTE"); upsertLimit != "" {
		if n, err := strconv.Atoi(upsertLimit); err == nil {
			cfg.RateLimit.UpsertPerMinute = n
		}
	}
	if searchLimit := os.Getenv("DOCINDEX_SEARCH_PER_MINUTE"); searchLimit != "" {
		if n, err := strconv.Atoi(searchLimit); err == nil {
			cfg.RateLimit.SearchPerMinute = n
		}
	}
	if metricsEnabled := os.Getenv("DOCINDEX_METRICS_ENABLED"); metricsEnabled != "" {
		if enabled, err := strconv.ParseBool(metricsEnabled); err == nil {
			cfg.Observability.Metrics.Enabled = enabled
		}
	}
	if tracingEnabled := os.Getenv("DOCINDEX_TRACING_ENABLED"); tracingEnabled != "" {
		if enabled, err := strconv.ParseBool(tracingEnabled); err == nil {
			cfg.Observability.Tracing.Enabled = enabled
		}
	}
	if sentryDSN := os.Getenv("DOCINDEX_SENTRY_DSN"); sentryDSN != "" {
		cfg.Observability.Sentry.DSN = sentryDSN
		cfg.Observability.Sentry.Enabled = true
	}
	if redisAddr := os.Getenv("DOCINDEX_RATE_LIMIT_REDIS_ADDR"); redisAddr != "" {
		cfg.RateLimit.Redis.Enabled = true
		cfg.RateLimit.Redis.Addr = redisAddr
	}
	return cfg
}

// merge merges two configs, preferring non-zero values from override.
func merge(base, override *Config) *Config {
	result := *base

	if override.Project.Name != "" {
		result.Project = override.Project
	}
	if len(override.Repositories) > 0 {
		result.Repositories = override.Repositories
	}
	if len(override.ContextGeneration.Strategies) > 0 {
		result.ContextGeneration.Strategies = override.ContextGeneration.Strategies
	}
	if override.ContextGeneration.MaxChunks != 0 {
		result.ContextGeneration.MaxChunks = override.ContextGeneration.MaxChunks
	}
	if len(override.ContextGeneration.PriorityWeighting) > 0 {
		result.ContextGeneration.PriorityWeighting = override.ContextGeneration.PriorityWeighting
	}
	if len(override.ContextGeneration.CustomPrompts) > 0 {
		result.ContextGeneration.CustomPrompts = override.ContextGeneration.CustomPrompts
	}
	if override.VectorStore.Type != "" {
		result.VectorStore.Type = override.VectorStore.Type
	}
	if override.VectorStore.Qdrant.URL != "" {
		result.VectorStore.Qdrant.URL = override.VectorStore.Qdrant.URL
	}
	if override.VectorStore.Qdrant.CollectionName != "" {
		result.VectorStore.Qdrant.CollectionName = override.VectorStore.Qdrant.CollectionName
	}
	if override.VectorStore.Qdrant.APIKey != "" {
		result.VectorStore.Qdrant.APIKey = override.VectorStore.Qdrant.APIKey
	}
	if override.VectorStore.Qdrant.Dimensions != 0 {
		result.VectorStore.Qdrant.Dimensions = override.VectorStore.Qdrant.Dimensions
	}
	if override.Indexer.RootPath != "" {
		result.Indexer.RootPath = override.Indexer.RootPath
	}
	if override.Indexer.ChunkSize != 0 {
		result.Indexer.ChunkSize = override.Indexer.ChunkSize
	}
	if override.Indexer.ChunkOverlap != 0 {
		result.Indexer.ChunkOverlap = override.Indexer.ChunkOverlap
	}
	if override.Indexer.MaxFileBytes != 0 {
		result.Indexer.MaxFileBytes = override.Indexer.MaxFileBytes
	}
	if override.Embedding.Provider != "" {
		result.Embedding.Provider = override.Embedding.Provider
	}
	if override.Embedding.Model != "" {
		result.Embedding.Model = override.Embedding.Model
	}
	if override.Embedding.Dimensions != 0 {
		result.Embedding.Dimensions = override.Embedding.Dimensions
	}
	if override.Embedding.Config != nil {
		result.Embedding.Config = override.Embedding.Config
	}
	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}
	if override.RateLimit.UpsertPerMinute != 0 {
		result.RateLimit.UpsertPerMinute = override.RateLimit.UpsertPerMinute
	}
	if override.RateLimit.SearchPerMinute != 0 {
		result.RateLimit.SearchPerMinute = override.RateLimit.SearchPerMinute
	}
	if override.RateLimit.Redis.Enabled {
		result.RateLimit.Redis = override.RateLimit.Redis
	}
	if override.Observability.Metrics.Port != 0 {
		result.Observability.Metrics = override.Observability.Metrics
	}
	if override.Observability.Tracing.Endpoint != "" {
		result.Observability.Tracing = override.Observability.Tracing
	}
	if override.Observability.Sentry.DSN != "" {
		result.Observability.Sentry = override.Observability.Sentry
	}

	return &result
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Indexer.RootPath == "" {
		return fmt.Errorf("indexer root path cannot be empty")
	}
	if c.Indexer.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be positive: %d", c.Indexer.ChunkSize)
	}
	if c.Indexer.ChunkOverlap < 0 {
		return fmt.Errorf("chunk overlap cannot be negative: %d", c.Indexer.ChunkOverlap)
	}
	if c.Indexer.ChunkOverlap >= c.Indexer.ChunkSize {
		return fmt.Errorf("chunk overlap (%d) must be less than chunk size (%d)",
			c.Indexer.ChunkOverlap, c.Indexer.ChunkSize)
	}
	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if !contains(ValidLogFormats, c.Logging.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidLogFormats)
	}
	if c.VectorStore.Qdrant.CollectionName == "" {
		return fmt.Errorf("vector store collection name cannot be empty")
	}
	if c.RateLimit.UpsertPerMinute < 1 {
		return fmt.Errorf("upsert rate limit must be positive: %d", c.RateLimit.UpsertPerMinute)
	}
	if c.RateLimit.SearchPerMinute < 1 {
		return fmt.Errorf("search rate limit must be positive: %d", c.RateLimit.SearchPerMinute)
	}
	for _, repo := range c.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("repository name cannot be empty")
		}
		if repo.URL == "" {
			return fmt.Errorf("repository %s: url cannot be empty", repo.Name)
		}
		if repo.Priority != "" && !contains(ValidPriorities, repo.Priority) {
			return fmt.Errorf("repository %s: invalid priority %q", repo.Name, repo.Priority)
		}
		if !contains(ValidAuthTypes, repo.AuthType) {
			return fmt.Errorf("repository %s: invalid auth type %q", repo.Name, repo.AuthType)
		}
	}
	if c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint cannot be empty when tracing enabled")
		}
		if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample rate must be between 0 and 1: %f", c.Observability.Tracing.SampleRate)
		}
	}
	if c.Observability.Sentry.Enabled && c.Observability.Sentry.DSN == "" {
		return fmt.Errorf("sentry DSN cannot be empty when sentry enabled")
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Default returns a default configuration, useful for tests.
func Default() *Config {
	return defaults()
}
