package answer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
	"docqa/internal/observability"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// SystemPrompt restricts the model to the supplied context.
var SystemPrompt = `You are an assistant that answers questions about documents.

Rules:
- Use ONLY the provided context
- Do not add outside knowledge
- If the context does not contain the answer, reply exactly:
  "` + NotFoundAnswer + `"
- Be brief, structured and to the point`

// OpenAIConfig configures the chat generator.
type OpenAIConfig struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAI generates answers with an OpenAI-compatible chat completion
// endpoint (OpenAI, Ollama, vLLM).
type OpenAI struct {
	api         *goopenai.Client
	model       string
	temperature float32
}

var _ domain.Answerer = (*OpenAI)(nil)

// NewOpenAI creates a chat generator. The API key is required only for
// the hosted OpenAI endpoint.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
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
	return &OpenAI{
		api:         goopenai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Answer implements domain.Answerer.
func (o *OpenAI) Answer(ctx context.Context, question, passages string) (answer string, err error) {
	if NotFound(passages) {
		return NotFoundAnswer, nil
	}
	ctx, span := observability.StartAnswerSpan(ctx, "openai:"+o.model)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	resp, err := o.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: userMessage(question, passages)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func userMessage(question, passages string) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nContext:\n")
	b.WriteString(passages)
	b.WriteString("\n\nAnswer the question using ONLY the context above.")
	return b.String()
}
