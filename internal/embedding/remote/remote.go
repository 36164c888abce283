package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/resilience"
)

// Client talks to a self-hosted sentence-transformers server. It accepts
// the text-embeddings-inference `/embed` response, the OpenAI
// `data[].embedding` response and the Ollama `embedding` response.
type Client struct {
	url        string
	apiKey     string
	model      string
	dimension  int
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

// Config configures the remote embeddings client.
type Config struct {
	BaseURL    string
	Path       string
	APIKeyEnv  string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// NewClient creates a new embeddings client using the provided configuration.
// The API key is optional; local inference servers usually run without one.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote embedder: base_url is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/embed"
	}
	if cfg.Model == "" {
		cfg.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = domain.VectorDimension
	}
	t := cfg.Timeout
	if t == 0 {
		t = resilience.DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return &Client{
		url:        strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"),
		apiKey:     key,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: t},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "remote:" + c.model }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for the given text. 429 and 5xx
// responses are retried with exponential backoff.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	type reqBody struct {
		Inputs string `json:"inputs"`
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model,omitempty"`
	}
	data, err := json.Marshal(reqBody{Inputs: text, Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, &domain.EmbeddingError{Err: err}
	}

	var vec []float32
	err = resilience.Retry(ctx, c.maxRetries, c.backoff, func() error {
		v, err := c.do(ctx, data)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		if domain.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{Op: "embed", Err: err}
		}
		return nil, &domain.EmbeddingError{Err: err}
	}
	if len(vec) != c.dimension {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("got %d dimensions, want %d", len(vec), c.dimension)}
	}
	return embedding.Normalize(vec), nil
}

func (c *Client) do(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("embeddings failed: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, resilience.Permanent(fmt.Errorf("embeddings failed: %s", resp.Status))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	v, err := decode(payload)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	return v, nil
}

// decode accepts the three response shapes in turn.
func decode(payload []byte) ([]float32, error) {
	// text-embeddings-inference: [[...]]
	var teiOut [][]float64
	if err := json.Unmarshal(payload, &teiOut); err == nil {
		if len(teiOut) > 0 && len(teiOut[0]) > 0 {
			return embedding.ToFloat32(teiOut[0]), nil
		}
	}
	// OpenAI-compatible: {"data":[{"embedding":[...]}]}
	var openaiOut struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return embedding.ToFloat32(openaiOut.Data[0].Embedding), nil
		}
	}
	// Ollama-native: {"embedding":[...]}
	var ollamaOut struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil {
		if len(ollamaOut.Embedding) > 0 {
			return embedding.ToFloat32(ollamaOut.Embedding), nil
		}
	}
	return nil, errors.New("no embedding returned")
}

var _ domain.Embedder = (*Client)(nil)
