package media

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultCacheTTL = 5 * time.Minute
	probeTimeout    = 10 * time.Second

	// AudioEncoder is the encoder ExtractAudio asks ffmpeg for.
	AudioEncoder = "libmp3lame"
)

// Capabilities reports which media binaries are usable.
type Capabilities struct {
	FFmpeg       DepInfo   `json:"ffmpeg"`
	FFprobe      DepInfo   `json:"ffprobe"`
	AudioEncoder bool      `json:"audio_encoder"`
	ProbedAt     time.Time `json:"probed_at"`
}

// Ready reports whether extraction can run end to end.
func (c *Capabilities) Ready() bool {
	return c.FFmpeg.Available && c.FFprobe.Available && c.AudioEncoder
}

type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Prober interface {
	Doctor(ctx context.Context) (*Capabilities, error)
}

// Doctor checks both binaries and the mp3 encoder. Missing tools are
// reported in the result, not as an error.
func (f *RealFFmpeg) Doctor(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		FFmpeg:   f.versionOf(ctx, f.cfg.FFmpegPath),
		FFprobe:  f.versionOf(ctx, f.cfg.FFprobePath),
		ProbedAt: time.Now(),
	}
	if caps.FFmpeg.Available {
		caps.AudioEncoder = f.hasEncoder(ctx, AudioEncoder)
	}
	return caps, nil
}

func (f *RealFFmpeg) versionOf(ctx context.Context, bin string) DepInfo {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	res, err := f.run(ctx, bin, "-version")
	if err != nil {
		return DepInfo{Error: err.Error()}
	}
	return DepInfo{Available: true, Version: parseVersion(string(res.Stdout))}
}

func (f *RealFFmpeg) hasEncoder(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	res, err := f.run(ctx, f.cfg.FFmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// parseVersion pulls "6.1.1" out of "ffmpeg version 6.1.1-3ubuntu5 Copyright ...".
// Unrecognized banners are returned as their first line.
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	line = strings.TrimSpace(line)
	_, rest, ok := strings.Cut(line, " version ")
	if !ok {
		return line
	}
	v, _, _ := strings.Cut(rest, " ")
	if i := strings.IndexAny(v, "-+~"); i > 0 {
		v = v[:i]
	}
	return v
}

// CachedDoctor caches probe results for a TTL so /health does not spawn
// processes on every request. Reads never wait on a running probe.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	refresh sync.Mutex
	cached  atomic.Pointer[Capabilities]
}

func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedDoctor{prober: prober, ttl: defaultCacheTTL, logger: logger}
}

func (d *CachedDoctor) fresh() *Capabilities {
	if caps := d.cached.Load(); caps != nil && time.Since(caps.ProbedAt) < d.ttl {
		return caps
	}
	return nil
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	if caps := d.fresh(); caps != nil {
		return caps, nil
	}
	d.refresh.Lock()
	defer d.refresh.Unlock()
	// another caller may have probed while we waited
	if caps := d.fresh(); caps != nil {
		return caps, nil
	}
	return d.probe(ctx)
}

// Refresh forces a new probe. On failure the previous result, if any, is
// returned instead of the error.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.refresh.Lock()
	defer d.refresh.Unlock()
	return d.probe(ctx)
}

func (d *CachedDoctor) probe(ctx context.Context) (*Capabilities, error) {
	caps, err := d.prober.Doctor(ctx)
	if err != nil {
		d.logger.Warn("media probe failed", "error", err)
		if stale := d.cached.Load(); stale != nil {
			return stale, nil
		}
		return nil, err
	}
	d.cached.Store(caps)
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.cached.Store(nil)
}
