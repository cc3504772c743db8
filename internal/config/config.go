package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

// ChunkConfig configures the recursive chunker.
type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// OpenAIEmbeddingConfig holds the OpenAI-compatible embeddings endpoint.
type OpenAIEmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	DocumentPrefix string `yaml:"document_prefix"`
	QueryPrefix    string `yaml:"query_prefix"`
	TimeoutSecs    int    `yaml:"timeout_secs"`
}

// RetryConfig controls retries of failed embedding requests. An absent
// max_retries takes the backend default; 0 turns retries off.
type RetryConfig struct {
	MaxRetries        *int `yaml:"max_retries,omitempty"`
	InitialIntervalMS int  `yaml:"initial_interval_ms"`
	MaxIntervalMS     int  `yaml:"max_interval_ms"`
}

// Retries returns the configured retry count, 0 when unset.
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil {
		return 0
	}
	return *r.MaxRetries
}

// EmbeddingConfig selects and configures the embedding model and gateway.
type EmbeddingConfig struct {
	Type              string                 `yaml:"type"`
	Dim               int                    `yaml:"dim"`
	BatchSize         int                    `yaml:"batch_size"`
	Workers           int                    `yaml:"workers"`
	RequestsPerSecond float64                `yaml:"requests_per_second"`
	Retry             RetryConfig            `yaml:"retry"`
	OpenAI            *OpenAIEmbeddingConfig `yaml:"openai,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	APIKey           string `yaml:"api_key"`
	UseTLS           bool   `yaml:"use_tls"`
	CollectionPrefix string `yaml:"collection_prefix"`
	BatchSize        int    `yaml:"batch_size"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// OpenAIAnswerConfig holds the chat completion endpoint.
type OpenAIAnswerConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// AnswerConfig selects the answer generator.
type AnswerConfig struct {
	Type         string              `yaml:"type"`
	MaxSentences int                 `yaml:"max_sentences"`
	OpenAI       *OpenAIAnswerConfig `yaml:"openai,omitempty"`
}

// RetrievalConfig controls how many passages are retrieved and how they are
// joined into the answer context.
type RetrievalConfig struct {
	K         int    `yaml:"k"`
	Separator string `yaml:"separator"`
}

// SummarizerConfig configures the document overview.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
	MaxSessions     int    `yaml:"max_sessions"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_secs"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export. Spans are exported only
// when OTLPEndpoint is set.
type TracingConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	Environment  string  `yaml:"environment"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunk       ChunkConfig       `yaml:"chunk"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Answer      AnswerConfig      `yaml:"answer"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings no component could be built from.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chunk.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		errs = append(errs, fmt.Errorf("chunk.overlap must be in [0, chunk.size), got %d", c.Chunk.Overlap))
	}
	switch c.Embedding.Type {
	case "hashing":
		if c.Embedding.Dim <= 0 {
			errs = append(errs, fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim))
		}
	case "openai":
		if c.Embedding.OpenAI == nil {
			errs = append(errs, errors.New("embedding.openai section is required for type openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.type %q", c.Embedding.Type))
	}
	if c.Embedding.Retry.Retries() < 0 {
		errs = append(errs, errors.New("embedding.retry.max_retries must not be negative"))
	}
	if c.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("embedding.requests_per_second must not be negative"))
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.Host == "" {
			errs = append(errs, errors.New("vector_store.qdrant.host is required for type qdrant"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector_store.type %q", c.VectorStore.Type))
	}
	switch c.Answer.Type {
	case "extractive":
	case "openai":
		if c.Answer.OpenAI == nil {
			errs = append(errs, errors.New("answer.openai section is required for type openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown answer.type %q", c.Answer.Type))
	}
	if c.Retrieval.K < 0 {
		errs = append(errs, fmt.Errorf("retrieval.k must not be negative, got %d", c.Retrieval.K))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

// Default returns the built-in configuration: offline hashing embeddings,
// an in-memory index and extractive answers.
func Default() *AppConfig {
	cfg := &AppConfig{
		Chunk:       ChunkConfig{Size: 500, Overlap: 30},
		Embedding:   EmbeddingConfig{Type: "hashing", Dim: 384},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Answer:      AnswerConfig{Type: "extractive"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunk.Size == 0 {
		cfg.Chunk.Size = 500
		if cfg.Chunk.Overlap == 0 {
			cfg.Chunk.Overlap = 30
		}
	}
	if cfg.Embedding.Type == "" {
		cfg.Embedding.Type = "hashing"
	}
	if cfg.Embedding.Type == "hashing" && cfg.Embedding.Dim == 0 {
		cfg.Embedding.Dim = 384
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.Embedding.Type == "openai" {
		if cfg.Embedding.OpenAI == nil {
			cfg.Embedding.OpenAI = &OpenAIEmbeddingConfig{}
		}
		o := cfg.Embedding.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if cfg.Embedding.Retry.MaxRetries == nil {
			retries := 3
			cfg.Embedding.Retry.MaxRetries = &retries
		}
	}
	if cfg.Embedding.Retry.InitialIntervalMS == 0 {
		cfg.Embedding.Retry.InitialIntervalMS = 200
	}
	if cfg.Embedding.Retry.MaxIntervalMS == 0 {
		cfg.Embedding.Retry.MaxIntervalMS = 5000
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if q.Port == 0 {
			q.Port = 6334
		}
		if q.CollectionPrefix == "" {
			q.CollectionPrefix = "docqa_"
		}
		if q.BatchSize == 0 {
			q.BatchSize = 256
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if cfg.Answer.Type == "" {
		cfg.Answer.Type = "extractive"
	}
	if cfg.Answer.MaxSentences == 0 {
		cfg.Answer.MaxSentences = 3
	}
	if cfg.Answer.Type == "openai" {
		if cfg.Answer.OpenAI == nil {
			cfg.Answer.OpenAI = &OpenAIAnswerConfig{}
		}
		o := cfg.Answer.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-4o-mini"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 60
		}
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 5
	}
	if cfg.Retrieval.Separator == "" {
		cfg.Retrieval.Separator = "\n\n"
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 5
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if cfg.Server.MaxSessions == 0 {
		cfg.Server.MaxSessions = 100
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = "development"
	}
}
