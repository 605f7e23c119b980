package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	calls    atomic.Int32
	messages []llms.MessageContent
	fn       func(n int32) (*llms.ContentResponse, error)
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	n := f.calls.Add(1)
	f.messages = messages
	return f.fn(n)
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func choice(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}
}

func testAnalyzer(model llms.Model) *OpenAIAnalyzer {
	a := newAnalyzer(model, OpenAIConfig{Model: "test-model", Logger: testLogger()})
	a.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return a
}

func TestOpenAIAnalyzer_SendsImagesAndParses(t *testing.T) {
	model := &fakeModel{fn: func(n int32) (*llms.ContentResponse, error) {
		return choice(`{"snippets":[{"title":"Drill","segments":[0,1]}]}`), nil
	}}
	a := testAnalyzer(model)

	resp, err := a.Analyze(context.Background(), Request{
		SystemPrompt: "sys",
		Prompt:       "0. hi\n",
		Images:       []Image{{Data: []byte{0xff, 0xd8}}, {Data: []byte{0xff, 0xd9}}},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(resp.Snippets) != 1 || resp.Snippets[0].Title != "Drill" {
		t.Errorf("Snippets = %+v", resp.Snippets)
	}

	if len(model.messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(model.messages))
	}
	if model.messages[0].Role != llms.ChatMessageTypeSystem {
		t.Errorf("first role = %s", model.messages[0].Role)
	}
	human := model.messages[1]
	if len(human.Parts) != 3 {
		t.Fatalf("human parts = %d, want text + 2 images", len(human.Parts))
	}
	img, ok := human.Parts[1].(llms.ImageURLContent)
	if !ok || img.URL != "data:image/jpeg;base64,/9g=" {
		t.Errorf("image part = %#v", human.Parts[1])
	}
}

func TestOpenAIAnalyzer_RetriesTransientFailure(t *testing.T) {
	model := &fakeModel{fn: func(n int32) (*llms.ContentResponse, error) {
		if n == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return choice(`{"snippets":[]}`), nil
	}}

	if _, err := testAnalyzer(model).Analyze(context.Background(), Request{}); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if model.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", model.calls.Load())
	}
}

func TestOpenAIAnalyzer_GivesUpAfterRetries(t *testing.T) {
	model := &fakeModel{fn: func(n int32) (*llms.ContentResponse, error) {
		return nil, errors.New("503 service unavailable")
	}}

	if _, err := testAnalyzer(model).Analyze(context.Background(), Request{}); err == nil {
		t.Fatal("Analyze() error = nil, want failure")
	}
	if model.calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", model.calls.Load())
	}
}

func TestOpenAIAnalyzer_UnparsableOutputNotRetried(t *testing.T) {
	model := &fakeModel{fn: func(n int32) (*llms.ContentResponse, error) {
		return choice("I cannot help with that"), nil
	}}

	resp, err := testAnalyzer(model).Analyze(context.Background(), Request{})
	if err == nil {
		t.Fatal("Analyze() error = nil, want parse error")
	}
	if resp == nil || resp.Raw != "I cannot help with that" {
		t.Errorf("resp = %+v, want raw output kept", resp)
	}
	if model.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", model.calls.Load())
	}
}

func TestOpenAIAnalyzer_NoChoices(t *testing.T) {
	model := &fakeModel{fn: func(n int32) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{}, nil
	}}

	if _, err := testAnalyzer(model).Analyze(context.Background(), Request{}); err == nil {
		t.Fatal("Analyze() error = nil, want no choices error")
	}
	if model.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", model.calls.Load())
	}
}

func TestNewOpenAIAnalyzer_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIAnalyzer(OpenAIConfig{}); err == nil {
		t.Fatal("NewOpenAIAnalyzer() error = nil without API key")
	}
}
