package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration. The app.* and llm.* trees
// mirror application.yaml keys exactly; environment variables override file
// values (dots and dashes become underscores, uppercased: app.rag.search-top-k
// becomes APP_RAG_SEARCH_TOP_K).
type Config struct {
	App   AppConfig   `yaml:"app"`
	LLM   LLMConfig   `yaml:"llm"`
	Redis RedisConfig `yaml:"redis"`
	Log   LogConfig   `yaml:"log"`
	Data  DataConfig  `yaml:"data"`
}

type AppConfig struct {
	Docs      DocsConfig      `yaml:"docs"`
	RAG       RAGConfig       `yaml:"rag"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type DocsConfig struct {
	ParsedDir  string `yaml:"parsed-dir"`
	IndexDir   string `yaml:"index-dir"`
	JDKVersion string `yaml:"jdk-version"`
}

type RAGConfig struct {
	SearchTopK    int `yaml:"search-top-k"`
	SearchReturnK int `yaml:"search-return-k"`
}

type QdrantConfig struct {
	Host                     string            `yaml:"host"`
	Port                     int               `yaml:"port"`
	UseTLS                   bool              `yaml:"use-tls"`
	APIKey                   string            `yaml:"api-key"`
	Collections              CollectionsConfig `yaml:"collections"`
	DenseVectorName          string            `yaml:"dense-vector-name"`
	SparseVectorName         string            `yaml:"sparse-vector-name"`
	PrefetchLimit            int               `yaml:"prefetch-limit"`
	RRFK                     int               `yaml:"rrf-k"`
	QueryTimeoutSeconds      int               `yaml:"query-timeout"`
	FailOnPartialSearchError bool              `yaml:"fail-on-partial-search-error"`
}

type CollectionsConfig struct {
	Docs     string `yaml:"docs"`
	PDFs     string `yaml:"pdfs"`
	Books    string `yaml:"books"`
	Articles string `yaml:"articles"`
}

// All returns the four core collections in fan-out order.
func (c CollectionsConfig) All() []string {
	return []string{c.Docs, c.PDFs, c.Books, c.Articles}
}

type EmbeddingConfig struct {
	BaseURL    string `yaml:"base-url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch-size"`

	// APIKey comes from the environment only, like the LLM credentials.
	APIKey string `yaml:"-"`
}

type LLMConfig struct {
	PrimaryProvider                string `yaml:"primary-provider"`
	PrimaryBackoffSeconds          int    `yaml:"primary-backoff-seconds"`
	StreamingRequestTimeoutSeconds int    `yaml:"streaming-request-timeout-seconds"`
	StreamingReadTimeoutSeconds    int    `yaml:"streaming-read-timeout-seconds"`
	ReasoningEffort                string `yaml:"reasoning-effort"`
	MaxOutputTokens                int    `yaml:"max-output-tokens"`

	// Provider credentials, endpoints, and model ids come from the
	// environment only; they are never written to application.yaml.
	GitHubToken   string `yaml:"-"`
	GitHubBaseURL string `yaml:"-"`
	GitHubModel   string `yaml:"-"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"-"`
	OpenAIModel   string `yaml:"-"`
	LocalBaseURL  string `yaml:"-"`
	LocalModel    string `yaml:"-"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DataConfig struct {
	Dir string `yaml:"dir"`
}

// RateLimitStatePath is where persistent provider rate-limit state lives.
func (d DataConfig) RateLimitStatePath() string {
	return filepath.Join(d.Dir, "rate-limit-state.json")
}

// EmbeddingsCachePath is the gzip JSON embedding cache file.
func (d DataConfig) EmbeddingsCachePath() string {
	return filepath.Join(d.Dir, "embeddings-cache", "embeddings_cache.gz")
}

func (q QdrantConfig) QueryTimeout() time.Duration {
	return time.Duration(q.QueryTimeoutSeconds) * time.Second
}

func (l LLMConfig) PrimaryBackoff() time.Duration {
	return time.Duration(l.PrimaryBackoffSeconds) * time.Second
}

func (l LLMConfig) StreamingRequestTimeout() time.Duration {
	return time.Duration(l.StreamingRequestTimeoutSeconds) * time.Second
}

func (l LLMConfig) StreamingReadTimeout() time.Duration {
	return time.Duration(l.StreamingReadTimeoutSeconds) * time.Second
}

func defaults() *Config {
	return &Config{
		App: AppConfig{
			Docs: DocsConfig{
				ParsedDir:  "parsed",
				IndexDir:   "ingested",
				JDKVersion: "21",
			},
			RAG: RAGConfig{
				SearchTopK:    30,
				SearchReturnK: 10,
			},
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
				Collections: CollectionsConfig{
					Docs:     "java-docs",
					PDFs:     "java-pdfs",
					Books:    "java-books",
					Articles: "java-articles",
				},
				DenseVectorName:     "dense",
				SparseVectorName:    "sparse",
				PrefetchLimit:       50,
				RRFK:                60,
				QueryTimeoutSeconds: 5,
			},
			Embedding: EmbeddingConfig{
				BaseURL:    "http://localhost:8086/v1",
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
				BatchSize:  32,
			},
		},
		LLM: LLMConfig{
			PrimaryProvider:                "github_models",
			PrimaryBackoffSeconds:          600,
			StreamingRequestTimeoutSeconds: 600,
			StreamingReadTimeoutSeconds:    75,
			MaxOutputTokens:                4000,
			GitHubBaseURL:                  "https://models.github.ai/inference",
			GitHubModel:                    "openai/gpt-5-mini",
			OpenAIModel:                    "gpt-5-mini",
			LocalModel:                     "llama3.2",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: LogConfig{
			Level: "info",
		},
		Data: DataConfig{
			Dir: "data",
		},
	}
}

// LoadConfig builds configuration from defaults, an optional application.yaml
// (path overridable via APP_CONFIG_FILE), and environment variables, then
// validates the result.
func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := defaults()

	path := getEnv("APP_CONFIG_FILE", "application.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.App.Docs.ParsedDir = getEnv("APP_DOCS_PARSED_DIR", cfg.App.Docs.ParsedDir)
	cfg.App.Docs.IndexDir = getEnv("APP_DOCS_INDEX_DIR", cfg.App.Docs.IndexDir)
	cfg.App.Docs.JDKVersion = getEnv("APP_DOCS_JDK_VERSION", cfg.App.Docs.JDKVersion)

	cfg.App.RAG.SearchTopK = getEnvInt("APP_RAG_SEARCH_TOP_K", cfg.App.RAG.SearchTopK)
	cfg.App.RAG.SearchReturnK = getEnvInt("APP_RAG_SEARCH_RETURN_K", cfg.App.RAG.SearchReturnK)

	cfg.App.Qdrant.Host = getEnv("APP_QDRANT_HOST", cfg.App.Qdrant.Host)
	cfg.App.Qdrant.Port = getEnvInt("APP_QDRANT_PORT", cfg.App.Qdrant.Port)
	cfg.App.Qdrant.UseTLS = getEnvBool("APP_QDRANT_USE_TLS", cfg.App.Qdrant.UseTLS)
	cfg.App.Qdrant.APIKey = getEnv("APP_QDRANT_API_KEY", cfg.App.Qdrant.APIKey)
	cfg.App.Qdrant.Collections.Docs = getEnv("APP_QDRANT_COLLECTIONS_DOCS", cfg.App.Qdrant.Collections.Docs)
	cfg.App.Qdrant.Collections.PDFs = getEnv("APP_QDRANT_COLLECTIONS_PDFS", cfg.App.Qdrant.Collections.PDFs)
	cfg.App.Qdrant.Collections.Books = getEnv("APP_QDRANT_COLLECTIONS_BOOKS", cfg.App.Qdrant.Collections.Books)
	cfg.App.Qdrant.Collections.Articles = getEnv("APP_QDRANT_COLLECTIONS_ARTICLES", cfg.App.Qdrant.Collections.Articles)
	cfg.App.Qdrant.DenseVectorName = getEnv("APP_QDRANT_DENSE_VECTOR_NAME", cfg.App.Qdrant.DenseVectorName)
	cfg.App.Qdrant.SparseVectorName = getEnv("APP_QDRANT_SPARSE_VECTOR_NAME", cfg.App.Qdrant.SparseVectorName)
	cfg.App.Qdrant.PrefetchLimit = getEnvInt("APP_QDRANT_PREFETCH_LIMIT", cfg.App.Qdrant.PrefetchLimit)
	cfg.App.Qdrant.RRFK = getEnvInt("APP_QDRANT_RRF_K", cfg.App.Qdrant.RRFK)
	cfg.App.Qdrant.QueryTimeoutSeconds = getEnvInt("APP_QDRANT_QUERY_TIMEOUT", cfg.App.Qdrant.QueryTimeoutSeconds)
	cfg.App.Qdrant.FailOnPartialSearchError = getEnvBool("APP_QDRANT_FAIL_ON_PARTIAL_SEARCH_ERROR", cfg.App.Qdrant.FailOnPartialSearchError)

	cfg.App.Embedding.BaseURL = getEnv("APP_EMBEDDING_BASE_URL", cfg.App.Embedding.BaseURL)
	cfg.App.Embedding.Model = getEnv("APP_EMBEDDING_MODEL", cfg.App.Embedding.Model)
	cfg.App.Embedding.Dimensions = getEnvInt("APP_EMBEDDING_DIMENSIONS", cfg.App.Embedding.Dimensions)
	cfg.App.Embedding.BatchSize = getEnvInt("APP_EMBEDDING_BATCH_SIZE", cfg.App.Embedding.BatchSize)
	cfg.App.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", cfg.App.Embedding.APIKey)

	cfg.LLM.PrimaryProvider = getEnv("LLM_PRIMARY_PROVIDER", cfg.LLM.PrimaryProvider)
	cfg.LLM.PrimaryBackoffSeconds = getEnvInt("LLM_PRIMARY_BACKOFF_SECONDS", cfg.LLM.PrimaryBackoffSeconds)
	cfg.LLM.StreamingRequestTimeoutSeconds = getEnvInt("LLM_STREAMING_REQUEST_TIMEOUT_SECONDS", cfg.LLM.StreamingRequestTimeoutSeconds)
	cfg.LLM.StreamingReadTimeoutSeconds = getEnvInt("LLM_STREAMING_READ_TIMEOUT_SECONDS", cfg.LLM.StreamingReadTimeoutSeconds)
	cfg.LLM.ReasoningEffort = getEnv("LLM_REASONING_EFFORT", cfg.LLM.ReasoningEffort)
	cfg.LLM.MaxOutputTokens = getEnvInt("LLM_MAX_OUTPUT_TOKENS", cfg.LLM.MaxOutputTokens)

	cfg.LLM.GitHubToken = getEnv("GITHUB_TOKEN", cfg.LLM.GitHubToken)
	cfg.LLM.GitHubBaseURL = getEnv("GITHUB_MODELS_BASE_URL", cfg.LLM.GitHubBaseURL)
	cfg.LLM.GitHubModel = getEnv("GITHUB_MODELS_MODEL", cfg.LLM.GitHubModel)
	cfg.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.LLM.OpenAIBaseURL)
	cfg.LLM.OpenAIModel = getEnv("OPENAI_MODEL", cfg.LLM.OpenAIModel)
	cfg.LLM.LocalBaseURL = getEnv("LLM_LOCAL_BASE_URL", cfg.LLM.LocalBaseURL)
	cfg.LLM.LocalModel = getEnv("LLM_LOCAL_MODEL", cfg.LLM.LocalModel)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Data.Dir = getEnv("DATA_DIR", cfg.Data.Dir)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.App.Docs.ParsedDir == "" {
		return fmt.Errorf("app.docs.parsed-dir is required")
	}
	if c.App.Docs.IndexDir == "" {
		return fmt.Errorf("app.docs.index-dir is required")
	}
	if c.App.RAG.SearchTopK <= 0 {
		return fmt.Errorf("app.rag.search-top-k must be positive")
	}
	if c.App.RAG.SearchReturnK <= 0 {
		return fmt.Errorf("app.rag.search-return-k must be positive")
	}
	if c.App.Qdrant.Host == "" {
		return fmt.Errorf("app.qdrant.host is required")
	}
	if c.App.Qdrant.Port <= 0 {
		return fmt.Errorf("app.qdrant.port must be positive")
	}
	for _, col := range c.App.Qdrant.Collections.All() {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("app.qdrant.collections must name all four buckets")
		}
	}
	if c.App.Qdrant.DenseVectorName == "" || c.App.Qdrant.SparseVectorName == "" {
		return fmt.Errorf("app.qdrant vector names are required")
	}
	if c.App.Qdrant.PrefetchLimit <= 0 {
		return fmt.Errorf("app.qdrant.prefetch-limit must be positive")
	}
	if c.App.Qdrant.RRFK <= 0 {
		return fmt.Errorf("app.qdrant.rrf-k must be positive")
	}
	if c.App.Qdrant.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("app.qdrant.query-timeout must be positive")
	}
	if c.App.Embedding.BaseURL == "" {
		return fmt.Errorf("app.embedding.base-url is required")
	}
	if c.App.Embedding.Model == "" {
		return fmt.Errorf("app.embedding.model is required")
	}
	if c.App.Embedding.Dimensions <= 0 {
		return fmt.Errorf("app.embedding.dimensions must be positive")
	}
	if c.App.Embedding.BatchSize <= 0 {
		return fmt.Errorf("app.embedding.batch-size must be positive")
	}
	switch c.LLM.PrimaryProvider {
	case "github_models", "openai":
	default:
		return fmt.Errorf("llm.primary-provider must be github_models or openai, got %q", c.LLM.PrimaryProvider)
	}
	if c.LLM.PrimaryBackoffSeconds <= 0 {
		return fmt.Errorf("llm.primary-backoff-seconds must be positive")
	}
	if c.LLM.MaxOutputTokens <= 0 {
		return fmt.Errorf("llm.max-output-tokens must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
