// Package openai provides an embedding.Model backed by any
// OpenAI-compatible embeddings endpoint (OpenAI, Ollama, vLLM).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
	defaultTimeout = 30 * time.Second
)

// Config configures the embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// Dimensions asks models that support it for shortened vectors.
	Dimensions int
	// DocumentPrefix and QueryPrefix are prepended to passages and queries
	// for models trained with task instructions.
	DocumentPrefix string
	QueryPrefix    string
}

// Client is an OpenAI-compatible embeddings model.
type Client struct {
	api        *goopenai.Client
	model      string
	dimensions int
	docPrefix  string
	qPrefix    string
}

var _ embedding.Model = (*Client)(nil)

// NewClient creates a client. The API key is mandatory only for the
// hosted OpenAI endpoint; local servers usually accept any token.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Dimensions < 0 {
		return nil, fmt.Errorf("%w: negative embedding dimensions %d", domain.ErrInvalidConfiguration, cfg.Dimensions)
	}

	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && cfg.BaseURL == DefaultBaseURL {
		return nil, fmt.Errorf("%w: missing API key in env %q", domain.ErrInvalidConfiguration, cfg.APIKeyEnv)
	}

	oc := goopenai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:        goopenai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		docPrefix:  cfg.DocumentPrefix,
		qPrefix:    cfg.QueryPrefix,
	}, nil
}

// Name returns the identifier of this model.
func (c *Client) Name() string { return "openai:" + c.model }

// Embed sends texts in a single request and returns the vectors in input
// order.
func (c *Client) Embed(ctx context.Context, texts []string, role embedding.Role) ([][]float32, error) {
	prefix := c.docPrefix
	if role == embedding.RoleQuery {
		prefix = c.qPrefix
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = prefix + t
	}

	resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      input,
		Model:      goopenai.EmbeddingModel(c.model),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d items for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// classify marks client errors other than rate limiting as permanent so
// the retry layer gives up on them immediately.
func classify(err error) error {
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return embedding.Permanent(err)
	}
	return err
}
