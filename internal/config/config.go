// Package config provides unified configuration loading for docsift.
// Supports YAML files, environment variables, and programmatic overrides.
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

// Config holds all configuration for the docsift services.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Blob          BlobConfig          `yaml:"blob_store"`
	Vector        VectorConfig        `yaml:"vector_index"`
	Broker        BrokerConfig        `yaml:"broker"`
	Worker        WorkerConfig        `yaml:"worker"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Reranker      RerankerConfig      `yaml:"reranker"`
	Generator     GeneratorConfig     `yaml:"generator"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Cache         CacheConfig         `yaml:"cache"`
	Chunking      ChunkingConfig      `yaml:"chunk"`
	Device        DeviceConfig        `yaml:"device"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BlobConfig holds source document storage settings.
type BlobConfig struct {
	Kind  string      `yaml:"kind"` // local or s3
	Local LocalConfig `yaml:"local"`
	S3    S3Config    `yaml:"s3"`
}

// LocalConfig holds filesystem blob store settings.
type LocalConfig struct {
	Dir string `yaml:"dir"`
}

// S3Config holds S3-compatible blob store settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	Adapter    string       `yaml:"adapter"` // qdrant or memory
	Collection string       `yaml:"collection"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant-specific settings.
type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BrokerConfig holds task queue settings.
type BrokerConfig struct {
	URL         string        `yaml:"url"`
	Queue       string        `yaml:"queue"`
	MaxRetries  int           `yaml:"max_retries"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	// ShutdownTimeout is how long in-flight ingestion jobs get to
	// finish after SIGTERM before they are requeued.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension"`
	Instruction string        `yaml:"instruction"`
	BatchSize   int           `yaml:"batch_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RerankerConfig holds reranker model settings.
type RerankerConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Instruction string        `yaml:"instruction"`
	BatchSize   int           `yaml:"batch_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// GeneratorConfig holds answer generation model settings.
type GeneratorConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxNewTokens int           `yaml:"max_new_tokens"`
	Temperature  float32       `yaml:"temperature"`
	TopP         float32       `yaml:"top_p"`
	Stop         []string      `yaml:"stop"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds retrieval pipeline settings.
type RetrievalConfig struct {
	RecallSize   int    `yaml:"k_recall"`
	FinalSize    int    `yaml:"k_final"`
	NoAnswerText string `yaml:"no_answer_text"`
}

// CacheConfig holds query embedding cache settings. Without a Redis
// address the cache lives in process memory.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RedisAddr  string        `yaml:"redis_addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ChunkingConfig holds text splitting settings.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// DeviceConfig holds model placement settings.
type DeviceConfig struct {
	GPUMemoryThresholdGB float64 `yaml:"gpu_memory_threshold_gb"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/docsift.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Blob: BlobConfig{
			Kind: "local",
			Local: LocalConfig{
				Dir: "source_documents",
			},
			S3: S3Config{
				Endpoint: "localhost:9000",
				Bucket:   "docsift",
				UseSSL:   false,
			},
		},
		Vector: VectorConfig{
			Adapter:    "qdrant",
			Collection: "docsift_chunks",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Broker: BrokerConfig{
			URL:         "redis://localhost:6379/0",
			Queue:       "ingestion",
			MaxRetries:  3,
			TaskTimeout: 30 * time.Minute,
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			ShutdownTimeout: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Endpoint:    "http://localhost:9101/v1",
			Model:       "qwen3-embedding-0.6b",
			Dimension:   1024,
			Instruction: "为这个句子生成表示以用于检索相关文章",
			BatchSize:   32,
			Timeout:     60 * time.Second,
		},
		Reranker: RerankerConfig{
			Endpoint:    "http://localhost:9102/v1",
			Model:       "qwen3-reranker-0.6b",
			Instruction: "给定一个网页搜索查询，检索回答该查询的相关段落",
			BatchSize:   16,
			Timeout:     60 * time.Second,
		},
		Generator: GeneratorConfig{
			Endpoint:     "http://localhost:9103/v1",
			Model:        "qwen3-1.7b",
			SystemPrompt: "You are a helpful assistant.",
			MaxNewTokens: 512,
			Temperature:  0.7,
			TopP:         0.9,
			Timeout:      120 * time.Second,
		},
		Retrieval: RetrievalConfig{
			RecallSize:   50,
			FinalSize:    5,
			NoAnswerText: "No relevant context was found for this question.",
		},
		Cache: CacheConfig{
			Enabled:    true,
			KeyPrefix:  "docsift:",
			TTL:        15 * time.Minute,
			MaxEntries: 4096,
		},
		Chunking: ChunkingConfig{
			Size:    1024,
			Overlap: 100,
		},
		Device: DeviceConfig{
			GPUMemoryThresholdGB: 6,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "docsift",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	if c.Blob.Kind != "local" && c.Blob.Kind != "s3" {
		return fmt.Errorf("invalid blob store kind: %s", c.Blob.Kind)
	}

	if c.Vector.Adapter != "qdrant" && c.Vector.Adapter != "memory" {
		return fmt.Errorf("invalid vector adapter: %s", c.Vector.Adapter)
	}

	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}

	if c.Chunking.Size < 1 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size)
	}

	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunk overlap must be in [0, size), got %d for size %d", c.Chunking.Overlap, c.Chunking.Size)
	}

	if c.Retrieval.RecallSize < 1 {
		return fmt.Errorf("recall size must be positive, got %d", c.Retrieval.RecallSize)
	}

	if c.Retrieval.FinalSize < 1 || c.Retrieval.FinalSize > c.Retrieval.RecallSize {
		return fmt.Errorf("final size must be in [1, k_recall], got %d for recall %d", c.Retrieval.FinalSize, c.Retrieval.RecallSize)
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Store.Driver = "sqlite"
			cfg.Store.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Store.Driver = "postgres"
			cfg.Store.Postgres.DSN = v
		}
	}

	if v := os.Getenv("BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}

	if v := os.Getenv("BLOB_KIND"); v != "" {
		cfg.Blob.Kind = v
	}

	if v := os.Getenv("BLOB_DIR"); v != "" {
		cfg.Blob.Local.Dir = v
	}

	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Blob.S3.Endpoint = v
	}

	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.Blob.S3.AccessKey = v
	}

	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.Blob.S3.SecretKey = v
	}

	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Blob.S3.Bucket = v
	}

	if v := os.Getenv("VECTOR_ADAPTER"); v != "" {
		cfg.Vector.Adapter = v
	}

	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.Vector.Qdrant.Host = v
	}

	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Vector.Qdrant.Port = port
		}
	}

	if v := os.Getenv("VECTOR_COLLECTION"); v != "" {
		cfg.Vector.Collection = v
	}

	if v := os.Getenv("EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("RERANKER_ENDPOINT"); v != "" {
		cfg.Reranker.Endpoint = v
	}

	if v := os.Getenv("RERANKER_MODEL"); v != "" {
		cfg.Reranker.Model = v
	}

	if v := os.Getenv("GENERATOR_ENDPOINT"); v != "" {
		cfg.Generator.Endpoint = v
	}

	if v := os.Getenv("GENERATOR_MODEL"); v != "" {
		cfg.Generator.Model = v
	}

	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = enabled
		}
	}

	if v := os.Getenv("CACHE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
