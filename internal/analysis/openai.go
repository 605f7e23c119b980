package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const DefaultModel = "gpt-4o"

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxElapsed time.Duration // total retry budget for one call
	Logger     *slog.Logger
}

// OpenAIAnalyzer sends the prompt and frames to an OpenAI-compatible chat
// model in JSON mode.
type OpenAIAnalyzer struct {
	llm        llms.Model
	model      string
	maxTokens  int
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

var _ Analyzer = (*OpenAIAnalyzer)(nil)

func NewOpenAIAnalyzer(cfg OpenAIConfig) (*OpenAIAnalyzer, error) {
	model, err := NewOpenAIModel(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return newAnalyzer(model, cfg), nil
}

// NewOpenAIModel builds the langchaingo chat model shared by the analyzer
// and the snippet ranker.
func NewOpenAIModel(cfg OpenAIConfig) (llms.Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return model, nil
}

func newAnalyzer(model llms.Model, cfg OpenAIConfig) *OpenAIAnalyzer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 45 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxElapsed := cfg.MaxElapsed
	return &OpenAIAnalyzer{
		llm:       model,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = maxElapsed
			return bo
		},
		logger: cfg.Logger,
	}
}

// Analyze retries transport failures with exponential backoff. Output that
// does not parse is not retried.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (*Response, error) {
	parts := make([]llms.ContentPart, 0, len(req.Images)+1)
	parts = append(parts, llms.TextPart(req.Prompt))
	for _, img := range req.Images {
		parts = append(parts, llms.ImageURLPart(img.DataURL()))
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt),
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}

	start := time.Now()
	text, attempt, err := generateJSON(ctx, a.llm, messages, a.maxTokens, a.newBackOff(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("generate analysis: %w", err)
	}

	a.logger.Debug("analysis provider responded",
		"model", a.model,
		"attempts", attempt,
		"images", len(req.Images),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	out, err := ParseResponse(text)
	if err != nil {
		return &Response{Raw: text}, err
	}
	return out, nil
}

// generateJSON runs one JSON-mode chat call and returns the first choice.
// Transport failures are retried with bo; cancellation and empty answers
// are not.
func generateJSON(ctx context.Context, model llms.Model, messages []llms.MessageContent, maxTokens int, bo backoff.BackOff, logger *slog.Logger) (string, int, error) {
	var text string
	attempt := 0
	op := func() error {
		attempt++
		resp, err := model.GenerateContent(ctx, messages,
			llms.WithJSONMode(),
			llms.WithMaxTokens(maxTokens),
		)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logger.Warn("model request failed", "attempt", attempt, "error", err)
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("no response choices"))
		}
		text = resp.Choices[0].Content
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", attempt, err
	}
	return text, attempt, nil
}
