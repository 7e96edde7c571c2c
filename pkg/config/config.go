// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Auth, RateLimit, Chunking, Index, Retrieval, LLM, Redis,
// Kafka, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// AuthConfig selects where API keys are looked up. With Store "static" the
// Keys map (raw key -> caller name) is authoritative; with "postgres" keys
// are read from the api_keys table.
type AuthConfig struct {
	Store string            `yaml:"store"`
	Keys  map[string]string `yaml:"keys"`
}

// RateLimitConfig is the process-wide token bucket shape applied per key.
type RateLimitConfig struct {
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refillRate"`
}

// ChunkingConfig controls the sliding window over page text.
type ChunkingConfig struct {
	ChunkSize int `yaml:"chunkSize"`
	Overlap   int `yaml:"overlap"`
}

// IndexConfig locates the persisted index snapshot and uploaded files.
type IndexConfig struct {
	DataDir   string `yaml:"dataDir"`
	UploadDir string `yaml:"uploadDir"`
}

// RetrievalConfig controls query defaults and per-chunk generation fan-out.
type RetrievalConfig struct {
	DefaultTopK          int `yaml:"defaultTopK"`
	MaxTopK              int `yaml:"maxTopK"`
	DefaultMaxLength     int `yaml:"defaultMaxLength"`
	ShortAnswerMaxLength int `yaml:"shortAnswerMaxLength"`
	Concurrency          int `yaml:"concurrency"`
}

// LLMConfig selects the embedding and generation providers.
type LLMConfig struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Bedrock    BedrockConfig    `yaml:"bedrock"`
}

// EmbeddingConfig selects the embedder. Provider is "openai" or "hash".
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batchSize"`
}

// GenerationConfig selects the generator and its guard rails. Provider is
// "openai" or "bedrock". A zero Timeout disables the per-call deadline.
type GenerationConfig struct {
	Provider         string        `yaml:"provider"`
	Model            string        `yaml:"model"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// OpenAIConfig holds connection settings for OpenAI-compatible endpoints.
// The API key is read from the environment variable named by APIKeyEnv.
type OpenAIConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
}

// APIKey resolves the configured key from the environment.
func (o OpenAIConfig) APIKey() string {
	return os.Getenv(o.APIKeyEnv)
}

// BedrockConfig holds AWS Bedrock settings.
type BedrockConfig struct {
	Region string `yaml:"region"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and answer-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Topics        KafkaTopics   `yaml:"topics"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging of pipeline stages.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for local development: static keys,
// the offline hash embedder and OpenAI for generation.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			QueryTimeout:    110 * time.Second,
			MaxUploadBytes:  50 << 20,
			CORSOrigins:     []string{"*"},
		},
		Auth: AuthConfig{
			Store: "static",
			Keys:  map[string]string{"demo-key-123": "demo"},
		},
		RateLimit: RateLimitConfig{
			Capacity:   10,
			RefillRate: 1.0,
		},
		Chunking: ChunkingConfig{
			ChunkSize: 900,
			Overlap:   200,
		},
		Index: IndexConfig{
			DataDir:   "index_store",
			UploadDir: "uploads",
		},
		Retrieval: RetrievalConfig{
			DefaultTopK:          4,
			MaxTopK:              8,
			DefaultMaxLength:     256,
			ShortAnswerMaxLength: 128,
			Concurrency:          4,
		},
		LLM: LLMConfig{
			Embedding: EmbeddingConfig{
				Provider:  "hash",
				Model:     "text-embedding-3-small",
				Dimension: 384,
				BatchSize: 64,
			},
			Generation: GenerationConfig{
				Provider:         "openai",
				Model:            "gpt-4o-mini",
				Timeout:          60 * time.Second,
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
			OpenAI: OpenAIConfig{
				APIKeyEnv: "OPENAI_API_KEY",
			},
			Bedrock: BedrockConfig{
				Region: "us-east-1",
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ragqa",
			User:            "ragqa",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "ragqa-analytics",
			Topics: KafkaTopics{
				AnalyticsEvents: "ragqa-analytics-events",
			},
			BatchSize:     100,
			FlushInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunking.chunkSize must be positive"))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		errs = append(errs, errors.New("chunking.overlap must be in [0, chunkSize)"))
	}
	if c.RateLimit.Capacity < 1 {
		errs = append(errs, errors.New("rateLimit.capacity must be at least 1"))
	}
	if c.RateLimit.RefillRate <= 0 {
		errs = append(errs, errors.New("rateLimit.refillRate must be positive"))
	}
	if c.Retrieval.DefaultTopK < 1 || c.Retrieval.MaxTopK < c.Retrieval.DefaultTopK {
		errs = append(errs, errors.New("retrieval.defaultTopK must be in [1, maxTopK]"))
	}
	if c.Retrieval.Concurrency < 1 {
		errs = append(errs, errors.New("retrieval.concurrency must be at least 1"))
	}
	switch c.Auth.Store {
	case "static", "postgres":
	default:
		errs = append(errs, fmt.Errorf("auth.store %q is not one of static, postgres", c.Auth.Store))
	}
	switch c.LLM.Embedding.Provider {
	case "hash", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.embedding.provider %q is not one of hash, openai", c.LLM.Embedding.Provider))
	}
	switch c.LLM.Generation.Provider {
	case "openai", "bedrock":
	default:
		errs = append(errs, fmt.Errorf("llm.generation.provider %q is not one of openai, bedrock", c.LLM.Generation.Provider))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnvOverrides reads RAG_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RAG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RAG_AUTH_STORE"); v != "" {
		cfg.Auth.Store = v
	}
	// RAG_API_KEYS is a comma separated list of key=name pairs.
	if v := os.Getenv("RAG_API_KEYS"); v != "" {
		keys := make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			key, name, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				name = key
			}
			if key != "" {
				keys[key] = name
			}
		}
		cfg.Auth.Keys = keys
	}
	if v := os.Getenv("RAG_RATE_LIMIT_CAPACITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.Capacity = f
		}
	}
	if v := os.Getenv("RAG_RATE_LIMIT_REFILL_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.RefillRate = f
		}
	}
	if v := os.Getenv("RAG_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("RAG_INDEX_UPLOAD_DIR"); v != "" {
		cfg.Index.UploadDir = v
	}
	if v := os.Getenv("RAG_EMBEDDING_PROVIDER"); v != "" {
		cfg.LLM.Embedding.Provider = v
	}
	if v := os.Getenv("RAG_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.Embedding.Model = v
	}
	if v := os.Getenv("RAG_GENERATION_PROVIDER"); v != "" {
		cfg.LLM.Generation.Provider = v
	}
	if v := os.Getenv("RAG_GENERATION_MODEL"); v != "" {
		cfg.LLM.Generation.Model = v
	}
	if v := os.Getenv("RAG_OPENAI_BASE_URL"); v != "" {
		cfg.LLM.OpenAI.BaseURL = v
	}
	if v := os.Getenv("RAG_BEDROCK_REGION"); v != "" {
		cfg.LLM.Bedrock.Region = v
	}
	if v := os.Getenv("RAG_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RAG_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RAG_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RAG_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RAG_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RAG_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RAG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RAG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RAG_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RAG_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RAG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RAG_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
