package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snuttify/snuttify-agent/internal/library"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = openai.Whisper1
)

// ProviderError is a non-2xx answer from the transcription endpoint. Body is
// kept for debug logging only.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("transcription request failed: HTTP %d", e.StatusCode)
}

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ Transcriber = (*WhisperClient)(nil)

func NewWhisperClient(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) *WhisperClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/")
	config.HTTPClient = &http.Client{Timeout: timeout}

	return &WhisperClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger,
	}
}

func (c *WhisperClient) Transcribe(ctx context.Context, audioPath string) (*Transcript, error) {
	start := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return nil, c.providerError(err)
	}

	segs := make([]library.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, library.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}

	c.logger.Debug("transcription provider responded",
		"segments", len(segs),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Transcript{
		Language: resp.Language,
		Duration: resp.Duration,
		Segments: segs,
	}, nil
}

// providerError maps the client's error types onto ErrRateLimited and
// ProviderError. Transport and file errors pass through wrapped.
func (c *WhisperClient) providerError(err error) error {
	var (
		code int
		body string
	)
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code, body = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		code, body = reqErr.HTTPStatusCode, reqErr.Error()
	default:
		return fmt.Errorf("transcription request failed: %w", err)
	}

	c.logger.Debug("transcription provider error", "status", code, "body", body)
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, code)
	}
	return &ProviderError{StatusCode: code, Body: body}
}
