// Package config provides configuration management for the knowledge base
// server: environment variables (with .env support), one nested struct per
// subsystem, and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the top-level process configuration.
type Config struct {
	Server      ServerConfig
	RootPath    string
	Postgres    PostgresConfig
	Qdrant      QdrantConfig
	Bleve       BleveConfig
	Embedder    EmbedderConfig
	Chunking    ChunkingConfig
	FSObserver  FSObserverConfig
	Indexer     IndexerConfig
	Sync        SyncConfig
	Search      SearchConfig
	Logging     LoggingConfig
	WebSocket   WebSocketConfig
	MCP         MCPConfig
	Redis       RedisConfig
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	DownloadSecret string // signs get_file_uri tokens; generated at startup when empty
}

// PostgresConfig configures the relational state store.
type PostgresConfig struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the libpq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// QdrantConfig configures the dense vector store.
type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	Collection     string
	VectorSize     int
	TimeoutSeconds int
}

// BleveConfig configures the sparse/BM25 index.
type BleveConfig struct {
	IndexPath string // empty = in-memory index
}

// RedisConfig configures the L2 embedding cache and the distributed sync lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EmbedderConfig configures the embedding capability.
type EmbedderConfig struct {
	Provider          string // "openai", "mock"
	APIKey            string
	Model             string
	Dimensions        int
	BatchSize         int
	RequestTimeout    time.Duration
	MaxRetries        int
	RateLimitRPM      int
	EmbeddingVersion  int
	LocalCacheSize    int
	CacheTTL          time.Duration
}

// ChunkingConfig configures the token-window chunker.
type ChunkingConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// FSObserverConfig configures the filesystem observer.
type FSObserverConfig struct {
	DebounceWindow time.Duration
	IgnorePatterns []string
}

// IndexerConfig configures the worker pool.
type IndexerConfig struct {
	Workers         int
	EmbedBatchSize  int
	PollInterval    time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
}

// SyncConfig configures the remote-sync engine.
type SyncConfig struct {
	RequestTimeout     time.Duration
	OverallDeadline    time.Duration
	PollInterval       time.Duration // 0 disables scheduled syncs; on-demand triggers still work
	UseDistributedLock bool
}

// SearchConfig configures the hybrid search engine.
type SearchConfig struct {
	Alpha        float64
	DefaultLimit int
	MaxLimit     int
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string
	JSON  bool
}

// WebSocketConfig configures the UI event fan-out hub.
type WebSocketConfig struct {
	SubscriberBuffer int
	PingInterval     time.Duration
}

// MCPConfig configures the MCP tool-surface transport.
type MCPConfig struct {
	Port      int
	Transport string // "http"; any other value runs the stdio transport
}

// Default returns the configuration with every default value set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		// DownloadSecret left empty: when unset, di.New generates a random
		// per-process secret, which is fine since download tokens only need
		// to outlive a single get_file_uri -> download round trip.
		RootPath: "./data/root",
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "knowledgebase",
			User:            "knowledgebase",
			Password:        "",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			Collection:     "kb_chunks",
			VectorSize:     1536,
			TimeoutSeconds: 30,
		},
		Bleve: BleveConfig{
			IndexPath: "",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Embedder: EmbedderConfig{
			Provider:         "openai",
			Model:            "text-embedding-3-small",
			Dimensions:       1536,
			BatchSize:        32,
			RequestTimeout:   30 * time.Second,
			MaxRetries:       3,
			RateLimitRPM:     3000,
			EmbeddingVersion: 1,
			LocalCacheSize:   10000,
			CacheTTL:         24 * time.Hour,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    512,
			ChunkOverlap: 50,
		},
		FSObserver: FSObserverConfig{
			DebounceWindow: 500 * time.Millisecond,
			IgnorePatterns: []string{".git", ".venv", "node_modules", ".DS_Store", "Thumbs.db"},
		},
		Indexer: IndexerConfig{
			Workers:        2,
			EmbedBatchSize: 32,
			PollInterval:   time.Minute,
			MaxRetries:     6,
			BackoffBase:    time.Second,
			BackoffCap:     60 * time.Second,
		},
		Sync: SyncConfig{
			RequestTimeout:     30 * time.Second,
			OverallDeadline:    15 * time.Minute,
			PollInterval:       5 * time.Minute,
			UseDistributedLock: false,
		},
		Search: SearchConfig{
			Alpha:        0.6,
			DefaultLimit: 10,
			MaxLimit:     100,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
		WebSocket: WebSocketConfig{
			SubscriberBuffer: 256,
			PingInterval:     30 * time.Second,
		},
		MCP: MCPConfig{
			Port:      8081,
			Transport: "stdio",
		},
	}
}

// Load builds the configuration from .env + environment variables, then
// validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := Default()
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	cfg.RootPath = strEnv("ROOT_PATH", cfg.RootPath)

	cfg.Server.Port = intEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = strEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.DownloadSecret = strEnv("DOWNLOAD_SECRET", cfg.Server.DownloadSecret)

	cfg.Postgres.Host = strEnv("DB_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = intEnv("DB_PORT", cfg.Postgres.Port)
	cfg.Postgres.Name = strEnv("DB_NAME", cfg.Postgres.Name)
	cfg.Postgres.User = strEnv("DB_USER", cfg.Postgres.User)
	cfg.Postgres.Password = strEnv("DB_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.SSLMode = strEnv("DB_SSLMODE", cfg.Postgres.SSLMode)
	cfg.Postgres.MaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", cfg.Postgres.MaxOpenConns)
	cfg.Postgres.MaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", cfg.Postgres.MaxIdleConns)

	cfg.Qdrant.Host = strEnv("VECTOR_HOST", cfg.Qdrant.Host)
	cfg.Qdrant.Port = intEnv("VECTOR_PORT", cfg.Qdrant.Port)
	cfg.Qdrant.APIKey = strEnv("VECTOR_API_KEY", cfg.Qdrant.APIKey)
	cfg.Qdrant.Collection = strEnv("VECTOR_COLLECTION", cfg.Qdrant.Collection)
	cfg.Qdrant.UseTLS = boolEnv("VECTOR_USE_TLS", cfg.Qdrant.UseTLS)

	cfg.Bleve.IndexPath = strEnv("BLEVE_INDEX_PATH", cfg.Bleve.IndexPath)

	cfg.Redis.Addr = strEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = strEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = intEnv("REDIS_DB", cfg.Redis.DB)

	cfg.Embedder.Provider = strEnv("EMBEDDING_PROVIDER", cfg.Embedder.Provider)
	cfg.Embedder.APIKey = strEnv("EMBEDDING_API_KEY", cfg.Embedder.APIKey)
	cfg.Embedder.Model = strEnv("EMBEDDING_MODEL", cfg.Embedder.Model)
	cfg.Embedder.Dimensions = intEnv("EMBEDDING_DIMENSIONS", cfg.Embedder.Dimensions)
	cfg.Embedder.EmbeddingVersion = intEnv("EMBEDDING_VERSION", cfg.Embedder.EmbeddingVersion)

	cfg.Chunking.ChunkSize = intEnv("CHUNK_SIZE", cfg.Chunking.ChunkSize)
	cfg.Chunking.ChunkOverlap = intEnv("CHUNK_OVERLAP", cfg.Chunking.ChunkOverlap)

	cfg.Indexer.Workers = intEnv("INDEXER_WORKERS", cfg.Indexer.Workers)
	cfg.Indexer.PollInterval = durEnv("INDEXING_POLL_INTERVAL", cfg.Indexer.PollInterval)
	cfg.Sync.PollInterval = durEnv("SYNC_POLL_INTERVAL", cfg.Sync.PollInterval)

	cfg.MCP.Port = intEnv("MCP_PORT", cfg.MCP.Port)
	cfg.MCP.Transport = strEnv("MCP_TRANSPORT", cfg.MCP.Transport)

	cfg.Logging.Level = strEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSON = boolEnv("LOG_JSON", cfg.Logging.JSON)
}

// Validate rejects configurations that cannot possibly serve the pipeline.
func (c *Config) Validate() error {
	if c.RootPath == "" {
		return fmt.Errorf("ROOT_PATH must not be empty")
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search alpha must be within [0,1], got %f", c.Search.Alpha)
	}
	if c.Indexer.Workers < 1 {
		return fmt.Errorf("INDEXER_WORKERS must be >= 1")
	}
	return nil
}

func strEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func durEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
