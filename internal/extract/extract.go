// Package extract turns a source video into an audio track and a set of
// still frames stored in the video's library directory.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/media"
	"github.com/snuttify/snuttify-agent/internal/stage"
)

type Policy string

const (
	PolicyCadence    Policy = "cadence"
	PolicyKeyMoments Policy = "keymoments"
)

func (p Policy) Valid() bool {
	return p == PolicyCadence || p == PolicyKeyMoments
}

// Options selects the frame sampling policy.
type Options struct {
	Policy         Policy
	Cadence        float64 // seconds between frames for PolicyCadence
	KeyMoments     int     // frame count for PolicyKeyMoments
	SceneThreshold float64 // scene-change score for PolicyKeyMoments
}

func DefaultOptions() Options {
	return Options{
		Policy:         PolicyCadence,
		Cadence:        5,
		KeyMoments:     12,
		SceneThreshold: 0.3,
	}
}

type Result struct {
	Audio  library.Audio
	Frames []library.Frame
	Probe  *media.ProbeResult
}

type Stage struct {
	ffmpeg media.FFmpeg
	opts   Options
	logger *slog.Logger
}

func New(ffmpeg media.FFmpeg, opts Options, logger *slog.Logger) *Stage {
	def := DefaultOptions()
	if !opts.Policy.Valid() {
		opts.Policy = def.Policy
	}
	if opts.Cadence <= 0 {
		opts.Cadence = def.Cadence
	}
	if opts.KeyMoments <= 0 {
		opts.KeyMoments = def.KeyMoments
	}
	if opts.SceneThreshold <= 0 {
		opts.SceneThreshold = def.SceneThreshold
	}
	return &Stage{ffmpeg: ffmpeg, opts: opts, logger: logger}
}

// Run decodes sourcePath into outDir. Frame paths in the result are
// relative to outDir. Every frame is on disk before Run returns; on failure
// the frames written so far are removed.
func (s *Stage) Run(ctx context.Context, sourcePath, outDir string) (*Result, error) {
	probe, err := s.ffmpeg.Probe(ctx, sourcePath)
	if err != nil {
		return nil, decodeError("could not read media container", err)
	}
	if !probe.HasVideo || probe.Duration <= 0 {
		return nil, decodeError("no decodable video stream", nil)
	}
	if !probe.HasAudio {
		return nil, decodeError("no audio track", nil)
	}

	audioPath := filepath.Join(outDir, library.AudioFile)
	if err := s.ffmpeg.ExtractAudio(ctx, sourcePath, audioPath); err != nil {
		return nil, decodeError("audio extraction failed", err)
	}

	times := s.timestamps(ctx, sourcePath, probe.Duration)

	frames := make([]library.Frame, 0, len(times))
	for i, ts := range times {
		rel := path.Join(library.FramesDir, fmt.Sprintf("frame_%03d_%.2fs.jpg", i, ts))
		full := filepath.Join(outDir, filepath.FromSlash(rel))
		if err := s.ffmpeg.ExtractFrame(ctx, sourcePath, full, ts); err != nil {
			os.Remove(full)
			removeFrames(outDir, frames)
			return nil, decodeError(fmt.Sprintf("frame extraction failed at %.2fs", ts), err)
		}
		frames = append(frames, library.Frame{Timestamp: ts, Path: rel})
	}

	s.logger.Info("extraction complete",
		"duration_s", probe.Duration,
		"frames", len(frames),
		"policy", s.opts.Policy,
	)

	return &Result{
		Audio:  library.Audio{Path: library.AudioFile, Duration: probe.Duration},
		Frames: frames,
		Probe:  probe,
	}, nil
}

func (s *Stage) timestamps(ctx context.Context, sourcePath string, duration float64) []float64 {
	if s.opts.Policy == PolicyKeyMoments {
		scenes, err := s.ffmpeg.DetectScenes(ctx, sourcePath, s.opts.SceneThreshold)
		if err != nil {
			s.logger.Warn("scene detection failed, using even spacing", "error", err)
		}
		return KeyMomentTimes(scenes, duration, s.opts.KeyMoments)
	}
	return CadenceTimes(duration, s.opts.Cadence)
}

// CadenceTimes samples every cadence seconds starting at cadence/2.
func CadenceTimes(duration, cadence float64) []float64 {
	if duration <= 0 || cadence <= 0 {
		return nil
	}
	var times []float64
	for t := cadence / 2; t < duration; t += cadence {
		times = append(times, round3(t))
	}
	// rounding can push the last sample onto the end of the clip
	times = dedupe(times, duration)
	if len(times) == 0 {
		times = append(times, round3(duration/2))
	}
	return times
}

// KeyMomentTimes picks up to n of the detected scene changes, spread
// across the list. With no usable scenes it falls back to n evenly spaced
// instants.
func KeyMomentTimes(scenes []float64, duration float64, n int) []float64 {
	if duration <= 0 || n <= 0 {
		return nil
	}

	var inBounds []float64
	for _, t := range scenes {
		if t >= 0 && t < duration {
			inBounds = append(inBounds, t)
		}
	}

	sort.Float64s(inBounds)

	if len(inBounds) == 0 {
		times := make([]float64, n)
		for i := range times {
			times[i] = round3(duration * (float64(i) + 0.5) / float64(n))
		}
		return dedupe(times, duration)
	}

	if len(inBounds) <= n {
		return dedupe(roundAll(inBounds), duration)
	}

	times := make([]float64, n)
	step := float64(len(inBounds)) / float64(n)
	for i := range times {
		times[i] = round3(inBounds[int(float64(i)*step)])
	}
	return dedupe(times, duration)
}

func dedupe(times []float64, duration float64) []float64 {
	out := times[:0]
	for _, t := range times {
		if t >= duration {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == t {
			continue
		}
		out = append(out, t)
	}
	return out
}

func roundAll(ts []float64) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = round3(t)
	}
	return out
}

func round3(t float64) float64 {
	return math.Round(t*1000) / 1000
}

func removeFrames(outDir string, frames []library.Frame) {
	for _, f := range frames {
		os.Remove(filepath.Join(outDir, filepath.FromSlash(f.Path)))
	}
}

func decodeError(msg string, err error) error {
	if errors.Is(err, context.Canceled) {
		msg = "cancelled"
	}
	return stage.New(stage.Extraction, stage.KindDecode, msg, err)
}
