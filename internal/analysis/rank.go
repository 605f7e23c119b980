package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"

	"github.com/snuttify/snuttify-agent/internal/library"
)

const rankSystemPrompt = `You find the video snippets that answer a shopper's question.
Each candidate has an id, a title, a description and the words spoken while it plays.
Respond with a JSON object {"relevant_snippets": ["<id>", ...]} listing only the ids
of relevant candidates, most relevant first. Use an empty list when nothing fits.
Never invent ids.`

// Candidate is one library snippet offered to the ranker.
type Candidate struct {
	ID          string  `json:"id"`
	VideoID     string  `json:"-"`
	SourceName  string  `json:"-"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Transcript  string  `json:"transcript"`
}

// Candidates flattens the snippets of records into ranker candidates, in
// record order, skipping repeated snippet ids. At most limit are returned
// when limit is positive.
func Candidates(records []*library.Record, limit int) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	for _, rec := range records {
		for _, sn := range rec.Snippets {
			if seen[sn.ID] {
				continue
			}
			if limit > 0 && len(out) >= limit {
				return out
			}
			seen[sn.ID] = true
			out = append(out, Candidate{
				ID:          sn.ID,
				VideoID:     rec.VideoID,
				SourceName:  rec.SourceName,
				Title:       sn.Title,
				Description: sn.Description,
				Start:       sn.Start,
				End:         sn.End,
				Transcript:  strings.TrimSpace(rec.SpanText(sn)),
			})
		}
	}
	return out
}

// Ranker asks a chat model which candidates answer a question.
type Ranker struct {
	llm        llms.Model
	maxTokens  int
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

func NewRanker(model llms.Model, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{
		llm:       model,
		maxTokens: 1024,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 30 * time.Second
			return bo
		},
		logger: logger,
	}
}

type rankResponse struct {
	RelevantSnippets []string `json:"relevant_snippets"`
}

// Rank returns the candidates the model picked, in the model's order. Ids
// the model made up or repeated are dropped.
func (r *Ranker) Rank(ctx context.Context, question string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return []Candidate{}, nil
	}

	listing, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}
	prompt := fmt.Sprintf("Candidates:\n%s\n\nQuestion: %s", listing, strings.TrimSpace(question))
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, rankSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	text, attempts, err := generateJSON(ctx, r.llm, messages, r.maxTokens, r.newBackOff(), r.logger)
	if err != nil {
		return nil, fmt.Errorf("rank snippets: %w", err)
	}

	var resp rankResponse
	if err := json.Unmarshal([]byte(stripFence(text)), &resp); err != nil {
		r.logger.Debug("unparsable ranking", "raw", text)
		return nil, fmt.Errorf("cannot parse ranking: %w", err)
	}

	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	picked := make([]Candidate, 0, len(resp.RelevantSnippets))
	for _, id := range resp.RelevantSnippets {
		c, ok := byID[strings.TrimSpace(id)]
		if !ok {
			r.logger.Debug("ranking named unknown snippet", "snippet_id", id)
			continue
		}
		delete(byID, c.ID)
		picked = append(picked, c)
	}

	r.logger.Debug("snippets ranked",
		"candidates", len(candidates),
		"picked", len(picked),
		"attempts", attempts,
	)
	return picked, nil
}

func stripFence(text string) string {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	return strings.TrimSpace(body)
}
