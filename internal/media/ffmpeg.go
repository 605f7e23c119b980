// Package media wraps the ffmpeg and ffprobe binaries used to decode
// uploaded videos into an audio track and still frames.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FFmpeg is the media decoding collaborator.
type FFmpeg interface {
	Probe(ctx context.Context, filePath string) (*ProbeResult, error)
	ExtractAudio(ctx context.Context, filePath, outputPath string) error
	ExtractFrame(ctx context.Context, filePath, outputPath string, at float64) error
	// DetectScenes returns timestamps where the scene score exceeds threshold.
	DetectScenes(ctx context.Context, filePath string, threshold float64) ([]float64, error)
}

type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	AudioCodec string
	HasVideo   bool
	HasAudio   bool
}

type Config struct {
	FFmpegPath  string        // default "ffmpeg"
	FFprobePath string        // default "ffprobe"
	Timeout     time.Duration // per command
	Logger      *slog.Logger
}

// RealFFmpeg shells out to the ffmpeg binaries.
type RealFFmpeg struct {
	cfg Config
	run commandRunner
}

var _ FFmpeg = (*RealFFmpeg)(nil)

func NewRealFFmpeg(cfg Config) *RealFFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RealFFmpeg{cfg: cfg, run: execCommand}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

func (f *RealFFmpeg) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	res, err := f.exec(ctx, f.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	if err != nil {
		return nil, err
	}

	var out probeOutput
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	result.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if result.HasVideo {
				continue
			}
			result.HasVideo = true
			result.Codec = s.CodecName
			result.Width = s.Width
			result.Height = s.Height
			result.FrameRate = parseRate(s.RFrameRate)
			if result.Duration == 0 {
				result.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if !result.HasAudio {
				result.HasAudio = true
				result.AudioCodec = s.CodecName
			}
		}
	}
	return result, nil
}

func (f *RealFFmpeg) ExtractAudio(ctx context.Context, filePath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("cannot create audio dir: %w", err)
	}
	_, err := f.exec(ctx, f.cfg.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", filePath,
		"-vn", "-acodec", "libmp3lame", "-q:a", "2",
		outputPath,
	)
	return err
}

func (f *RealFFmpeg) ExtractFrame(ctx context.Context, filePath, outputPath string, at float64) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("cannot create frame dir: %w", err)
	}
	_, err := f.exec(ctx, f.cfg.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", filePath,
		"-frames:v", "1", "-q:v", "2",
		outputPath,
	)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(outputPath); statErr != nil {
		return fmt.Errorf("ffmpeg produced no frame at %.3fs: %w", at, statErr)
	}
	return nil
}

func (f *RealFFmpeg) DetectScenes(ctx context.Context, filePath string, threshold float64) ([]float64, error) {
	filter := fmt.Sprintf("select='gt(scene,%s)',metadata=print:file=-", strconv.FormatFloat(threshold, 'f', 2, 64))
	res, err := f.exec(ctx, f.cfg.FFmpegPath,
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-i", filePath,
		"-vf", filter,
		"-an", "-f", "null", "-",
	)
	if err != nil {
		return nil, err
	}
	return parseSceneTimes(string(res.Stdout)), nil
}

func (f *RealFFmpeg) exec(ctx context.Context, name string, args ...string) (runResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	res, err := f.run(ctx, name, args...)
	if err != nil {
		f.cfg.Logger.Warn("media command failed",
			"tool", filepath.Base(name),
			"exit_code", res.ExitCode,
			"duration_ms", res.Duration.Milliseconds(),
			"stderr_tail", truncate(res.StderrTail, 512),
		)
		return res, err
	}
	f.cfg.Logger.Debug("media command succeeded",
		"tool", filepath.Base(name),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

var ptsTimePattern = regexp.MustCompile(`pts_time:([0-9]+(?:\.[0-9]+)?)`)

func parseSceneTimes(out string) []float64 {
	seen := make(map[float64]bool)
	var times []float64
	for _, m := range ptsTimePattern.FindAllStringSubmatch(out, -1) {
		t, err := strconv.ParseFloat(m[1], 64)
		if err != nil || seen[t] {
			continue
		}
		seen[t] = true
		times = append(times, t)
	}
	sort.Float64s(times)
	return times
}

// parseRate parses ffprobe rates such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
