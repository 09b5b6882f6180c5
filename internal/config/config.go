package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	StoreChromem  = "chromem"
	StorePostgres = "postgres"
)

// LLMConfig describes one remote model endpoint.
type LLMConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	Key      string        `yaml:"key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	// BatchSize only applies to embedding requests.
	BatchSize int `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
	TopK                int     `yaml:"top_k"`
	SolveTemperature    float64 `yaml:"solve_temperature"`
	GenerateTemperature float64 `yaml:"generate_temperature"`
	// Dedup keys chunks by content hash so re-ingestion overwrites instead of appending.
	Dedup         bool   `yaml:"dedup"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type VectorStoreConfig struct {
	Type       string         `yaml:"type"`
	Path       string         `yaml:"path"`
	Collection string         `yaml:"collection"`
	Compress   bool           `yaml:"compress"`
	Database   DatabaseConfig `yaml:"database"`
}

type IngestConfig struct {
	SourceDir string `yaml:"source_dir"`
}

type RetryConfig struct {
	MaxAttempts     uint          `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	Mode         string        `yaml:"mode"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	ChatLLM     LLMConfig         `yaml:"chat_llm"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	RAG         RAGConfig         `yaml:"rag"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Retry       RetryConfig       `yaml:"retry"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the configuration used when neither a file nor the environment says otherwise.
func Default() *Config {
	return &Config{
		ChatLLM: LLMConfig{
			Provider: ProviderOpenAI,
			BaseURL:  "https://openrouter.ai/api/v1",
			Model:    "openrouter/auto",
			Timeout:  60 * time.Second,
		},
		EmbedLLM: LLMConfig{
			Provider:  ProviderOpenAI,
			BaseURL:   "https://openrouter.ai/api/v1",
			Model:     "text-embedding-3-small",
			Timeout:   60 * time.Second,
			BatchSize: 64,
		},
		RAG: RAGConfig{
			ChunkSize:           1200,
			ChunkOverlap:        150,
			TopK:                5,
			SolveTemperature:    0.2,
			GenerateTemperature: 0.4,
		},
		VectorStore: VectorStoreConfig{
			Type:       StoreChromem,
			Path:       "vectorstore",
			Collection: "utbk",
		},
		Ingest: IngestConfig{SourceDir: "data"},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			Mode:         "release",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 3 * time.Minute,
		},
		Log: LogConfig{Level: "info", Pretty: true},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and the process environment, in
// that order of precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.ChatLLM.Key, "OPENAI_API_KEY")
	setString(&cfg.ChatLLM.BaseURL, "OPENAI_API_BASE")
	setString(&cfg.ChatLLM.Model, "CHAT_MODEL")
	setString(&cfg.ChatLLM.Provider, "CHAT_PROVIDER")

	// Embeddings share the chat credentials unless configured separately.
	if cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = cfg.ChatLLM.Key
	}
	if os.Getenv("OPENAI_API_BASE") != "" {
		cfg.EmbedLLM.BaseURL = cfg.ChatLLM.BaseURL
	}
	setString(&cfg.EmbedLLM.BaseURL, "EMBEDDING_API_BASE")
	setString(&cfg.EmbedLLM.Key, "EMBEDDING_API_KEY")
	setString(&cfg.EmbedLLM.Model, "EMBEDDING_MODEL")
	setString(&cfg.EmbedLLM.Provider, "EMBEDDING_PROVIDER")

	setString(&cfg.VectorStore.Type, "VECTOR_STORE")
	setString(&cfg.VectorStore.Path, "VECTORSTORE_DIR")
	setString(&cfg.VectorStore.Collection, "VECTORSTORE_COLLECTION")
	setString(&cfg.VectorStore.Database.DSN, "DATABASE_DSN")
	setString(&cfg.Ingest.SourceDir, "DATA_DIR")
	setString(&cfg.RAG.EncryptionKey, "INDEX_ENCRYPTION_KEY")
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	var errs []error
	errs = append(errs,
		setInt(&cfg.RAG.ChunkSize, "CHUNK_SIZE"),
		setInt(&cfg.RAG.ChunkOverlap, "CHUNK_OVERLAP"),
		setInt(&cfg.RAG.TopK, "RETRIEVAL_K"),
		setFloat(&cfg.RAG.SolveTemperature, "SOLVE_TEMPERATURE"),
		setFloat(&cfg.RAG.GenerateTemperature, "GENERATE_TEMPERATURE"),
		setBool(&cfg.RAG.Dedup, "INDEX_DEDUP"),
	)

	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LLM_TIMEOUT: %w", err))
		} else {
			cfg.ChatLLM.Timeout = d
			cfg.EmbedLLM.Timeout = d
		}
	}
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS: %w", err))
		} else {
			cfg.Retry.MaxAttempts = uint(n)
		}
	}
	return errors.Join(errs...)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap))
	}
	if c.RAG.TopK < 1 {
		errs = append(errs, fmt.Errorf("top_k must be at least 1, got %d", c.RAG.TopK))
	}
	for name, t := range map[string]float64{
		"solve_temperature":    c.RAG.SolveTemperature,
		"generate_temperature": c.RAG.GenerateTemperature,
	} {
		if t < 0 || t > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1], got %v", name, t))
		}
	}
	for name, p := range map[string]string{"chat_llm": c.ChatLLM.Provider, "embed_llm": c.EmbedLLM.Provider} {
		if p != ProviderOpenAI && p != ProviderOllama {
			errs = append(errs, fmt.Errorf("%s.provider: unknown provider %q", name, p))
		}
	}
	switch c.VectorStore.Type {
	case StoreChromem:
		if c.VectorStore.Collection == "" {
			errs = append(errs, errors.New("vector_store.collection is required"))
		}
	case StorePostgres:
		if c.VectorStore.Database.DSN == "" {
			errs = append(errs, errors.New("vector_store.database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("vector_store.type: unknown store %q", c.VectorStore.Type))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
