package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"rag-assistant/internal/models"
)

var (
	ErrMissingDatabaseURL = errors.New("database.url is required for the supabase store")
	ErrMissingEmbedModel  = errors.New("embedding.model is required")
	ErrUnknownBackend     = errors.New("unknown store backend")
)

const (
	BackendSupabase = "supabase"
	BackendChromem  = "chromem"
	BackendQdrant   = "qdrant"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Store     StoreConfig     `yaml:"store"`
	Chromem   ChromemConfig   `yaml:"chromem"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Inference LLMConfig       `yaml:"inference"`
	RAG       RAGConfig       `yaml:"rag"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type DatabaseConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	Driver     string `yaml:"driver"`
	Debug      bool   `yaml:"debug"`
	VectorSize int    `yaml:"vector_size"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Key         string        `yaml:"key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type LLMConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Key            string  `yaml:"key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	ContactAddress string  `yaml:"contact_address"`
}

type RAGConfig struct {
	DocumentsDir string            `yaml:"documents_dir"`
	MaxTokens    int               `yaml:"max_tokens"`
	BatchSize    int               `yaml:"batch_size"`
	BatchPause   time.Duration     `yaml:"batch_pause"`
	Threshold    float64           `yaml:"threshold"`
	TopK         int               `yaml:"top_k"`
	Formats      map[string]string `yaml:"formats"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// LoadConfig reads the yaml file at path, expanding ${VAR} references from the environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes data over Default, so keys absent from the file keep their
// default while explicit zeros such as temperature: 0 are kept.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used for every key a config file omits.
func Default() Config {
	var c Config
	c.Inference.Temperature = 0.1
	c.RAG.Threshold = models.DefaultMatchThreshold
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values that are never valid settings. Temperature
// and threshold are left alone since zero is a legitimate value for both.
func (c *Config) ApplyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSupabase
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
	if c.Database.VectorSize == 0 {
		c.Database.VectorSize = models.DefaultVectorSize
	}
	if c.Chromem.Path == "" {
		c.Chromem.Path = "./chromemdb"
	}
	if c.Chromem.Collection == "" {
		c.Chromem.Collection = "embeddings"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "embeddings"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = models.DefaultEmbeddingModel
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.MaxAttempts == 0 {
		c.Embedding.MaxAttempts = 3
	}
	if c.Embedding.Backoff == 0 {
		c.Embedding.Backoff = time.Second
	}
	if c.Inference.Model == "" {
		c.Inference.Model = models.DefaultInferenceModel
	}
	if c.Inference.MaxTokens == 0 {
		c.Inference.MaxTokens = 1000
	}
	if c.Inference.ContactAddress == "" {
		c.Inference.ContactAddress = models.DefaultContactAddress
	}
	if c.RAG.DocumentsDir == "" {
		c.RAG.DocumentsDir = "./documents"
	}
	if c.RAG.MaxTokens == 0 {
		c.RAG.MaxTokens = models.DefaultMaxTokens
	}
	if c.RAG.BatchSize == 0 {
		c.RAG.BatchSize = models.DefaultBatchSize
	}
	if c.RAG.BatchPause == 0 {
		c.RAG.BatchPause = models.DefaultBatchPause
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = models.DefaultMatchCount
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":3001"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSupabase:
		if c.Database.URL == "" {
			return ErrMissingDatabaseURL
		}
	case BackendChromem, BackendQdrant:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}
	if c.Embedding.Model == "" {
		return ErrMissingEmbedModel
	}
	return nil
}
