package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"docqa/internal/answer"
	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/embedding/hashing"
	"docqa/internal/embedding/openai"
	"docqa/internal/ingest"
	"docqa/internal/service"
	"docqa/internal/summarizer"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
)

// app holds the components assembled from the configuration.
type app struct {
	extractor *ingest.Extractor
	service   *service.Service
	builder   domain.IndexBuilder
}

// Close releases every session before the index backend connection.
func (a *app) Close() error {
	err := a.service.Close()
	if c, ok := a.builder.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

// newApp assembles components via interfaces according to cfg.
func newApp(cfg *config.AppConfig, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ch, err := chunker.New(cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		return nil, err
	}

	model, err := newEmbeddingModel(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding model: %w", err)
	}
	model = embedding.WithRetry(model, embedding.RetryConfig{
		MaxRetries:      cfg.Embedding.Retry.Retries(),
		InitialInterval: time.Duration(cfg.Embedding.Retry.InitialIntervalMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Embedding.Retry.MaxIntervalMS) * time.Millisecond,
	})
	gateway := embedding.NewGateway(model,
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithWorkers(cfg.Embedding.Workers),
		embedding.WithRateLimit(cfg.Embedding.RequestsPerSecond, cfg.Embedding.Workers),
		embedding.WithLogger(logger),
	)

	var builder domain.IndexBuilder
	switch cfg.VectorStore.Type {
	case "memory":
		builder = memory.NewBuilder(logger)
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		builder, err = qdrant.NewBuilder(qdrant.Config{
			Host:             q.Host,
			Port:             q.Port,
			APIKey:           q.APIKey,
			UseTLS:           q.UseTLS,
			CollectionPrefix: q.CollectionPrefix,
			BatchSize:        q.BatchSize,
			Timeout:          time.Duration(q.TimeoutSecs) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
	}

	var answerer domain.Answerer
	switch cfg.Answer.Type {
	case "extractive":
		answerer = answer.NewExtractive(cfg.Answer.MaxSentences)
	case "openai":
		o := cfg.Answer.OpenAI
		answerer, err = answer.NewOpenAI(answer.OpenAIConfig{
			BaseURL:     o.BaseURL,
			APIKeyEnv:   o.APIKeyEnv,
			Model:       o.Model,
			Temperature: o.Temperature,
			Timeout:     time.Duration(o.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("answer generator: %w", err)
		}
	}

	svc, err := service.New(ch, gateway, builder, answerer, summarizer.NewFrequencySummarizer(), service.Options{
		K:                cfg.Retrieval.K,
		Separator:        cfg.Retrieval.Separator,
		MaxSessions:      cfg.Server.MaxSessions,
		SummarySentences: cfg.Summarizer.MaxSentences,
	}, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("components ready",
		"embedding", gateway.ModelName(),
		"vector_store", cfg.VectorStore.Type,
		"answer", cfg.Answer.Type,
		"chunk_size", cfg.Chunk.Size,
		"chunk_overlap", cfg.Chunk.Overlap,
	)
	return &app{
		extractor: ingest.New(cfg.Server.MaxUploadBytes, logger),
		service:   svc,
		builder:   builder,
	}, nil
}

func newEmbeddingModel(cfg config.EmbeddingConfig) (embedding.Model, error) {
	switch cfg.Type {
	case "hashing":
		return hashing.New(cfg.Dim), nil
	case "openai":
		o := cfg.OpenAI
		return openai.NewClient(openai.Config{
			BaseURL:        o.BaseURL,
			APIKeyEnv:      o.APIKeyEnv,
			Model:          o.Model,
			Timeout:        time.Duration(o.TimeoutSecs) * time.Second,
			Dimensions:     o.Dimensions,
			DocumentPrefix: o.DocumentPrefix,
			QueryPrefix:    o.QueryPrefix,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embedding type %q", domain.ErrInvalidConfiguration, cfg.Type)
	}
}
