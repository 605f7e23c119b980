// Package transcribe turns a video's audio track into timestamped transcript
// segments using a speech-to-text provider.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/stage"
)

// ErrRateLimited is returned by providers that refuse a request due to quota.
var ErrRateLimited = errors.New("transcription provider rate limited")

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
}

type Transcript struct {
	Language string
	Duration float64
	Segments []library.Segment
}

type Stage struct {
	transcriber Transcriber
	logger      *slog.Logger
}

func New(transcriber Transcriber, logger *slog.Logger) *Stage {
	return &Stage{transcriber: transcriber, logger: logger}
}

// Run transcribes audioPath and returns the provider's segments unchanged.
// The segments are only checked, never merged or renumbered.
func (s *Stage) Run(ctx context.Context, audioPath string) (*Transcript, error) {
	tr, err := s.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, stage.New(stage.Transcription, stage.KindTranscription, providerMessage(err), err)
	}
	if tr == nil {
		return nil, stage.New(stage.Transcription, stage.KindTranscription, "provider returned no transcript", nil)
	}

	if err := ValidateSegments(tr.Segments); err != nil {
		s.logger.Warn("transcript rejected", "error", err, "segments", len(tr.Segments))
		return nil, stage.New(stage.Transcription, stage.KindValidation, "provider returned empty, overlapping or unordered segments", err)
	}
	if tr.Segments == nil {
		tr.Segments = []library.Segment{}
	}

	s.logger.Info("transcription complete",
		"segments", len(tr.Segments),
		"language", tr.Language,
		"duration_s", tr.Duration,
	)
	return tr, nil
}

// ValidateSegments checks that every segment has a non-negative start, ends
// strictly after it starts, and does not overlap its predecessor.
func ValidateSegments(segs []library.Segment) error {
	for i, seg := range segs {
		if seg.Start < 0 || seg.End <= seg.Start {
			return fmt.Errorf("segment %d has invalid bounds [%.3f, %.3f)", i, seg.Start, seg.End)
		}
		if i > 0 && segs[i-1].End > seg.Start {
			return fmt.Errorf("segment %d starts at %.3f before segment %d ends at %.3f",
				i, seg.Start, i-1, segs[i-1].End)
		}
	}
	return nil
}

func providerMessage(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "provider rate limit reached"
	case errors.Is(err, context.DeadlineExceeded):
		return "provider timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "provider unavailable"
	}
}
