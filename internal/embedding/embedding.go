package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"utbk-tutor/internal/config"
	"utbk-tutor/internal/helper"
	"utbk-tutor/internal/models"
)

// Embedder turns chunk and query text into vectors through a remote model.
// Ingestion and retrieval must share one instance so both sides use the same model.
type Embedder struct {
	embedder embeddings.Embedder
	retry    *helper.Retrier
}

func New(e embeddings.Embedder, retry *helper.Retrier) *Embedder {
	return &Embedder{embedder: e, retry: retry}
}

// NewEmbedder builds an embedder for the configured provider.
func NewEmbedder(llmConfig *config.LLMConfig, retry *helper.Retrier) (*Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	httpClient := &http.Client{Timeout: llmConfig.Timeout}

	var client embeddings.EmbedderClient
	switch llmConfig.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
			ollama.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: init ollama: %w", models.ErrEmbeddingProvider, err)
		}
		client = llm
	default:
		llm, err := openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithEmbeddingModel(llmConfig.Model),
			openai.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: init openai: %w", models.ErrEmbeddingProvider, err)
		}
		client = llm
	}

	opts := []embeddings.Option{}
	if llmConfig.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(llmConfig.BatchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingProvider, err)
	}
	return New(embedder, retry), nil
}

// EmbedChunks embeds all chunk texts in one batched call, preserving order.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := helper.Retry(ctx, e.retry, "embed_documents", func() ([][]float32, error) {
		return e.embedder.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embed %d chunks: %w", models.ErrEmbeddingProvider, len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", models.ErrEmbeddingProvider, len(chunks), len(vectors))
	}

	out := make([]models.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("%w: empty vector for %s p.%d", models.ErrEmbeddingProvider, c.Source, c.Page)
		}
		out[i] = models.EmbeddedChunk{Chunk: c, Embedding: vectors[i]}
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := helper.Retry(ctx, e.retry, "embed_query", func() ([]float32, error) {
		return e.embedder.EmbedQuery(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", models.ErrEmbeddingProvider, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", models.ErrEmbeddingProvider)
	}
	return vector, nil
}

// ChromemFunc adapts the embedder to chromem-go's embedding function type.
func (e *Embedder) ChromemFunc() func(ctx context.Context, text string) ([]float32, error) {
	return e.EmbedQuery
}
