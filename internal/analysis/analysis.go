// Package analysis associates frames with transcript segments and turns a
// vision/text model's proposals into validated library snippets.
package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/stage"
)

// PromptArtifact is the audit file written next to each record.
const PromptArtifact = "analysis_prompt.md"

// ErrNoValidRun is returned by RepairRun when nothing of a proposal's
// segment list survives.
var ErrNoValidRun = errors.New("no valid segment run")

// Analyzer is the vision/text collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

type Request struct {
	SystemPrompt string
	Prompt       string
	Images       []Image
}

// Image is one still sent with the prompt.
type Image struct {
	Timestamp float64
	Path      string
	Data      []byte
}

func (img Image) DataURL() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img.Data)
}

type Response struct {
	Snippets []Proposal `json:"snippets"`
	// Raw is the unparsed model output, kept for the audit artifact.
	Raw string `json:"-"`
}

// Proposal is a snippet as suggested by the model, before validation.
type Proposal struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Segments      []int    `json:"segments"`
	ProductType   string   `json:"product_type"`
	Condition     string   `json:"condition"`
	Brand         string   `json:"brand"`
	Compatibility string   `json:"compatibility"`
	IntendedUse   string   `json:"intended_use"`
	Modifications []string `json:"modifications"`
	MissingParts  []string `json:"missing_parts"`
}

// ArtifactWriter persists audit files for a video.
type ArtifactWriter interface {
	WriteArtifact(videoID, name string, data []byte) error
}

type Options struct {
	MaxFrames    int
	SystemPrompt string
}

type Input struct {
	VideoID  string
	Dir      string // video directory frame paths are relative to
	Language string
	Frames   []library.Frame
	Segments []library.Segment
}

// Result is always populated, even when analysis degrades.
type Result struct {
	Associations map[int]int
	Snippets     []library.Snippet
	Rejected     int
}

type Stage struct {
	analyzer  Analyzer
	artifacts ArtifactWriter
	opts      Options
	logger    *slog.Logger
}

// New builds the stage. analyzer may be nil, in which case every run
// degrades to zero snippets.
func New(analyzer Analyzer, artifacts ArtifactWriter, opts Options, logger *slog.Logger) *Stage {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 8
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &Stage{analyzer: analyzer, artifacts: artifacts, opts: opts, logger: logger}
}

// Run returns a fatal error only when ctx is done. Any other non-nil error
// is a degraded stage.Error; the returned Result then carries the
// associations and an empty snippet list.
func (s *Stage) Run(ctx context.Context, in Input) (*Result, error) {
	res := &Result{
		Associations: Associate(in.Frames, in.Segments),
		Snippets:     []library.Snippet{},
	}

	if len(in.Segments) == 0 {
		return res, degraded("no transcript segments to analyze", nil)
	}
	if s.analyzer == nil {
		return res, degraded("analysis provider not configured", nil)
	}

	req := Request{
		SystemPrompt: SystemPrompt(s.opts.SystemPrompt, in.Language),
		Prompt:       BuildPrompt(in.Segments),
		Images:       s.loadImages(in.Dir, ThinFrames(in.Frames, s.opts.MaxFrames)),
	}

	resp, err := s.analyzer.Analyze(ctx, req)
	s.writeArtifact(in.VideoID, req, resp)
	if err != nil {
		if ctx.Err() != nil {
			return res, stage.New(stage.Analysis, stage.KindCancelled, "cancelled", err)
		}
		s.logger.Warn("analysis provider failed", "error", err)
		return res, degraded("provider unavailable or returned unusable output", err)
	}

	res.Snippets, res.Rejected = s.assemble(in, resp.Snippets)
	if len(res.Snippets) == 0 {
		return res, degraded("no usable snippets proposed", nil)
	}

	s.logger.Info("analysis complete",
		"snippets", len(res.Snippets),
		"rejected", res.Rejected,
		"associated_frames", len(res.Associations),
	)
	return res, nil
}

func (s *Stage) assemble(in Input, proposals []Proposal) ([]library.Snippet, int) {
	out := make([]library.Snippet, 0, len(proposals))
	taken := make(map[string]bool)
	rejected := 0

	for i, p := range proposals {
		run, err := RepairRun(p.Segments, len(in.Segments))
		if err != nil {
			rejected++
			s.logger.Warn("snippet proposal rejected",
				"proposal", i,
				"segments", p.Segments,
				"kind", stage.KindValidation,
			)
			continue
		}
		if len(run) != len(p.Segments) {
			s.logger.Debug("snippet run trimmed", "proposal", i, "from", p.Segments, "to", run)
		}

		title := strings.TrimSpace(p.Title)
		if title == "" {
			title = strings.TrimSpace(in.Segments[run[0]].Text)
		}
		if title == "" {
			title = fmt.Sprintf("Snippet %d", len(out)+1)
		}

		out = append(out, library.Snippet{
			ID:          library.SnippetID(in.VideoID, title, taken),
			VideoID:     in.VideoID,
			Title:       title,
			Description: strings.TrimSpace(p.Description),
			Metadata: library.Metadata{
				ProductType:   optional(p.ProductType),
				Condition:     optional(p.Condition),
				Brand:         optional(p.Brand),
				Compatibility: optional(p.Compatibility),
				IntendedUse:   optional(p.IntendedUse),
				Modifications: optionalList(p.Modifications),
				MissingParts:  optionalList(p.MissingParts),
			},
			Segments: run,
			Start:    in.Segments[run[0]].Start,
			End:      in.Segments[run[len(run)-1]].End,
		})
	}
	return out, rejected
}

func (s *Stage) loadImages(dir string, frames []library.Frame) []Image {
	images := make([]Image, 0, len(frames))
	for _, f := range frames {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f.Path)))
		if err != nil {
			s.logger.Warn("frame unreadable, skipping", "path", f.Path, "error", err)
			continue
		}
		images = append(images, Image{Timestamp: f.Timestamp, Path: f.Path, Data: data})
	}
	return images
}

func (s *Stage) writeArtifact(videoID string, req Request, resp *Response) {
	if s.artifacts == nil {
		return
	}
	if err := s.artifacts.WriteArtifact(videoID, PromptArtifact, []byte(RenderArtifact(req, resp))); err != nil {
		s.logger.Warn("failed to write analysis artifact", "error", err)
	}
}

// Associate maps frame index to the index of the segment whose [start, end)
// contains the frame's timestamp. Frames outside every segment are absent.
func Associate(frames []library.Frame, segs []library.Segment) map[int]int {
	assoc := make(map[int]int)
	for fi, f := range frames {
		// first segment ending after the timestamp
		si := sort.Search(len(segs), func(i int) bool { return segs[i].End > f.Timestamp })
		if si < len(segs) && segs[si].Start <= f.Timestamp {
			assoc[fi] = si
		}
	}
	return assoc
}

// RepairRun drops out-of-range indices and keeps the longest run of
// consecutive ascending indices, preferring the earliest on ties.
func RepairRun(indices []int, n int) ([]int, error) {
	bestStart, bestLen := -1, 0
	curStart, curLen := -1, 0
	prev := -2

	valid := make([]int, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < n {
			valid = append(valid, idx)
		}
	}

	for i, idx := range valid {
		if curLen > 0 && idx == prev+1 {
			curLen++
		} else {
			curStart, curLen = i, 1
		}
		if curLen > bestLen {
			bestStart, bestLen = curStart, curLen
		}
		prev = idx
	}

	if bestLen == 0 {
		return nil, ErrNoValidRun
	}
	return append([]int(nil), valid[bestStart:bestStart+bestLen]...), nil
}

// ThinFrames picks at most max frames spread evenly across frames.
func ThinFrames(frames []library.Frame, max int) []library.Frame {
	if max <= 0 || len(frames) <= max {
		return frames
	}
	out := make([]library.Frame, max)
	for i := range out {
		out[i] = frames[i*len(frames)/max]
	}
	return out
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalList(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func degraded(msg string, err error) error {
	return stage.New(stage.Analysis, stage.KindAnalysisDegraded, msg, err)
}
