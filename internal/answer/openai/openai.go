// Package openai answers questions with the OpenAI chat-completion API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
	"docqa/internal/observability"
	"docqa/internal/resilience"
)

// Prompt text sent with every request.
const (
	SystemPrompt   = "You are an AI assistant that answers questions based on provided context."
	userPromptTmpl = "Context: %s\n\nQuestion: %s\n\nAnswer based on the context:"
)

// Config configures the chat-completion synthesizer.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Guard     *resilience.Guard
	Logger    observability.Logger
}

// Synthesizer implements domain.Synthesizer. Failures are rendered into
// the answer text and logged; Answer never returns an error.
type Synthesizer struct {
	client    *openai.Client
	keyEnv    string
	hasKey    bool
	model     string
	maxTokens int
	guard     *resilience.Guard
	logger    observability.Logger
}

// NewSynthesizer creates a synthesizer. A missing API key is reported by
// each Answer call rather than here.
func NewSynthesizer(cfg Config) *Synthesizer {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNop()
	}
	if cfg.Guard == nil {
		cfg.Guard = resilience.NewGuard("openai-chat", cfg.Timeout, resilience.BreakerConfig{}, cfg.Logger)
	}
	key := os.Getenv(cfg.APIKeyEnv)
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Synthesizer{
		client:    openai.NewClientWithConfig(clientCfg),
		keyEnv:    cfg.APIKeyEnv,
		hasKey:    key != "",
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		guard:     cfg.Guard,
		logger:    cfg.Logger.WithPrefix("answer"),
	}
}

// Answer asks the model to answer query from the retrieved passages.
func (s *Synthesizer) Answer(ctx context.Context, query, passages string) string {
	answer, err := s.complete(ctx, query, passages)
	if err != nil {
		s.logger.Error("Answer generation failed", map[string]interface{}{
			"model": s.model,
			"error": err.Error(),
		})
		return domain.AnswerErrorPrefix + reason(err)
	}
	return answer
}

func (s *Synthesizer) complete(ctx context.Context, query, promptContext string) (string, error) {
	if !s.hasKey {
		return "", &domain.CompletionAPIError{Err: fmt.Errorf("missing API key in env %s", s.keyEnv)}
	}
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPromptTmpl, promptContext, query)},
		},
		// Zero is dropped by omitempty; the smallest float32 serialises as
		// an effectively zero temperature.
		Temperature: math.SmallestNonzeroFloat32,
		MaxTokens:   s.maxTokens,
	}

	var resp openai.ChatCompletionResponse
	err := s.guard.Call(ctx, "chat completion", func(ctx context.Context) error {
		var err error
		resp, err = s.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		if domain.IsTimeout(err) {
			return "", err
		}
		return "", &domain.CompletionAPIError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &domain.CompletionAPIError{Err: errors.New("no choices returned")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// reason is a single-line description of err for end users.
func reason(err error) string {
	var apiErr *openai.APIError
	msg := err.Error()
	switch {
	case errors.As(err, &apiErr):
		msg = apiErr.Message
	case domain.IsTimeout(err):
		msg = "request timed out"
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}

var _ domain.Synthesizer = (*Synthesizer)(nil)
