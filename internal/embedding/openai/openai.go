package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/resilience"
)

// Embedder uses the OpenAI embeddings API, asking for vectors shortened to
// the collection dimension.
type Embedder struct {
	client *openai.Client
	model  string
	dim    int
	guard  *resilience.Guard
}

// Config configures the OpenAI embedder.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Dimension int
	Timeout   time.Duration
	Guard     *resilience.Guard
}

// NewEmbedder creates an OpenAI embedder.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = domain.VectorDimension
	}
	if cfg.Guard == nil {
		cfg.Guard = resilience.NewGuard("openai-embeddings", cfg.Timeout, resilience.BreakerConfig{}, nil)
	}
	return &Embedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		dim:    cfg.Dimension,
		guard:  cfg.Guard,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "openai:" + e.model }

// Dimension returns the embedding dimension.
func (e *Embedder) Dimension() int { return e.dim }

// Embed generates an embedding for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) == 0 {
		return nil, &domain.EmbeddingError{Err: errors.New("cannot embed empty text")}
	}

	var resp openai.EmbeddingResponse
	err := e.guard.Call(ctx, "embed", func(ctx context.Context) error {
		var err error
		resp, err = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(e.model),
			Input:      []string{text},
			Dimensions: e.dim,
		})
		return err
	})
	if err != nil {
		var te *domain.TimeoutError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &domain.EmbeddingError{Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &domain.EmbeddingError{Err: errors.New("no embedding data returned from API")}
	}

	raw := resp.Data[0].Embedding
	if len(raw) != e.dim {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("got %d dimensions, want %d", len(raw), e.dim)}
	}
	v := make([]float32, len(raw))
	for i := range raw {
		v[i] = float32(raw[i])
	}
	return embedding.Normalize(v), nil
}

var _ domain.Embedder = (*Embedder)(nil)
