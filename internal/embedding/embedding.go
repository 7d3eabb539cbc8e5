package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"session-rag/internal/config"

	"github.com/tmc/langchaingo/embeddings"
	hfembed "github.com/tmc/langchaingo/embeddings/huggingface"
	hfllm "github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrDimensionMismatch is returned when the model produces vectors whose size
// differs from the configured index dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// NewEmbedder creates the embedder selected by cfg.Provider. Every vector it
// returns is checked against cfg.Dimension.
func NewEmbedder(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]any{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
		"dimension":       cfg.Dimension,
	}).Msg("Creating embedder")

	var (
		embedder embeddings.Embedder
		err      error
	)
	switch cfg.Provider {
	case config.ProviderHuggingFace:
		embedder, err = NewHuggingFaceEmbedder(cfg)
	case config.ProviderOllama:
		embedder, err = NewOllamaEmbedder(cfg)
	case config.ProviderOpenAI:
		embedder, err = NewOpenAIEmbedder(cfg)
	case config.ProviderHashing:
		embedder = NewHashingEmbedder(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithDimension(embedder, cfg.Dimension), nil
}

// sentence-transformers models through the HuggingFace inference API
func NewHuggingFaceEmbedder(cfg *config.LLMConfig) (*hfembed.Huggingface, error) {
	opts := []hfllm.Option{hfllm.WithModel(cfg.Model)}
	if cfg.Key != "" {
		opts = append(opts, hfllm.WithToken(cfg.Key))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, hfllm.WithURL(cfg.BaseURL))
	}
	client, err := hfllm.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create huggingface client: %w", err)
	}
	return hfembed.NewHuggingface(
		hfembed.WithClient(*client),
		hfembed.WithModel(cfg.Model),
	)
}

// new ollama embedder
func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

func NewOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

// WithDimension wraps e so that every returned vector must have exactly dim
// components.
func WithDimension(e embeddings.Embedder, dim int) embeddings.Embedder {
	return &dimensionChecked{Embedder: e, dim: dim}
}

type dimensionChecked struct {
	embeddings.Embedder
	dim int
}

func (d *dimensionChecked) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := d.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != d.dim {
			return nil, fmt.Errorf("%w: chunk %d has %d, index expects %d", ErrDimensionMismatch, i, len(v), d.dim)
		}
	}
	return vectors, nil
}

func (d *dimensionChecked) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := d.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) != d.dim {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(v), d.dim)
	}
	return v, nil
}
