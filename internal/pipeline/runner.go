// Package pipeline sequences the processing stages for each uploaded video
// and runs them on a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/snuttify/snuttify-agent/internal/analysis"
	"github.com/snuttify/snuttify-agent/internal/extract"
	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/logging"
	"github.com/snuttify/snuttify-agent/internal/stage"
	"github.com/snuttify/snuttify-agent/internal/status"
	"github.com/snuttify/snuttify-agent/internal/transcribe"
	"github.com/snuttify/snuttify-agent/internal/webhook"
)

type Extractor interface {
	Run(ctx context.Context, sourcePath, outDir string) (*extract.Result, error)
}

type Transcriber interface {
	Run(ctx context.Context, audioPath string) (*transcribe.Transcript, error)
}

type Analyzer interface {
	Run(ctx context.Context, in analysis.Input) (*analysis.Result, error)
}

// Store is the subset of the library store the pipeline writes to.
type Store interface {
	Dir(videoID string) string
	CreateRecord(ctx context.Context, videoID, source string) (*library.Record, error)
	AppendAudio(ctx context.Context, videoID string, audio library.Audio) error
	AppendFrames(ctx context.Context, videoID string, frames []library.Frame) error
	AppendSegments(ctx context.Context, videoID string, segments []library.Segment, language string) error
	AppendAssociations(ctx context.Context, videoID string, assoc map[int]int) error
	AppendSnippets(ctx context.Context, videoID string, snippets []library.Snippet) error
	SetStatus(ctx context.Context, videoID, status, detail string) error
}

type Notifier interface {
	Notify(ctx context.Context, ev webhook.Event)
}

type Stages struct {
	Extract    Extractor
	Transcribe Transcriber
	Analyze    Analyzer
}

// Runner executes one video's pipeline. It is safe to call Run for
// different videos concurrently.
type Runner struct {
	stages   Stages
	store    Store
	tracker  *status.Tracker
	notifier Notifier
	logger   *slog.Logger
}

func NewRunner(stages Stages, store Store, tracker *status.Tracker, notifier Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		stages:   stages,
		store:    store,
		tracker:  tracker,
		notifier: notifier,
		logger:   logger,
	}
}

// Run processes source into videoID's library record. Stage failures are
// recorded on the tracker and the record and also returned. A panic is
// recovered and recorded as this video's failure.
func (r *Runner) Run(ctx context.Context, videoID, source string) (err error) {
	log := logging.WithVideoID(r.logger, videoID)
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panic", "panic", p, "stack", string(debug.Stack()))
			r.fail(ctx, log, videoID, "pipeline failed: internal error")
			err = fmt.Errorf("pipeline panic: %v", p)
		}
	}()

	if _, err := r.store.CreateRecord(ctx, videoID, source); err != nil {
		r.fail(ctx, log, videoID, "pipeline failed: could not create library record")
		return fmt.Errorf("create record: %w", err)
	}
	dir := r.store.Dir(videoID)

	r.advance(ctx, log, videoID, status.StatusExtracting, status.ProgressExtracting, "extracting audio and frames")
	ext, err := r.stages.Extract.Run(ctx, source, dir)
	if err != nil {
		return r.abort(ctx, log, videoID, stage.Extraction, err)
	}
	if err := r.store.AppendAudio(ctx, videoID, ext.Audio); err != nil {
		return r.abort(ctx, log, videoID, stage.Extraction, err)
	}
	if err := r.store.AppendFrames(ctx, videoID, ext.Frames); err != nil {
		return r.abort(ctx, log, videoID, stage.Extraction, err)
	}

	r.advance(ctx, log, videoID, status.StatusTranscribing, status.ProgressTranscribing, "transcribing audio")
	tr, err := r.stages.Transcribe.Run(ctx, filepath.Join(dir, filepath.FromSlash(ext.Audio.Path)))
	if err != nil {
		return r.abort(ctx, log, videoID, stage.Transcription, err)
	}
	if err := r.store.AppendSegments(ctx, videoID, tr.Segments, tr.Language); err != nil {
		return r.abort(ctx, log, videoID, stage.Transcription, err)
	}

	r.advance(ctx, log, videoID, status.StatusAnalyzing, status.ProgressAnalyzing, "analyzing frames and transcript")
	res, err := r.stages.Analyze.Run(ctx, analysis.Input{
		VideoID:  videoID,
		Dir:      dir,
		Language: tr.Language,
		Frames:   ext.Frames,
		Segments: tr.Segments,
	})
	message := "done"
	if err != nil {
		// a cancelled run never completes, whatever the stage reported
		if kind, ok := stage.KindOf(err); !ok || kind.Fatal() || ctx.Err() != nil {
			return r.abort(ctx, log, videoID, stage.Analysis, err)
		}
		message = stage.Detail(stage.Analysis, err)
		log.Warn("analysis degraded", "error", err)
	}
	if res == nil {
		res = &analysis.Result{}
	}
	if res.Snippets == nil {
		res.Snippets = []library.Snippet{}
	}
	if err := r.store.AppendAssociations(ctx, videoID, res.Associations); err != nil {
		return r.abort(ctx, log, videoID, stage.Analysis, err)
	}
	if err := r.store.AppendSnippets(ctx, videoID, res.Snippets); err != nil {
		return r.abort(ctx, log, videoID, stage.Analysis, err)
	}

	if err := r.store.SetStatus(ctx, videoID, string(status.StatusComplete), ""); err != nil {
		return r.abort(ctx, log, videoID, stage.Analysis, err)
	}
	r.tracker.Set(videoID, status.StatusComplete, status.ProgressComplete, message)

	log.Info("pipeline complete",
		"frames", len(ext.Frames),
		"segments", len(tr.Segments),
		"snippets", len(res.Snippets),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	r.notify(ctx, webhook.Event{
		VideoID:      videoID,
		Status:       string(status.StatusComplete),
		SnippetCount: len(res.Snippets),
		Message:      message,
	})
	return nil
}

func (r *Runner) advance(ctx context.Context, log *slog.Logger, videoID string, s status.Status, progress int, message string) {
	r.tracker.Set(videoID, s, progress, message)
	if err := r.store.SetStatus(ctx, videoID, string(s), ""); err != nil {
		log.Warn("failed to mirror status to library", "status", s, "error", err)
	}
	log.Info("stage started", "status", s, "progress", progress)
}

func (r *Runner) abort(ctx context.Context, log *slog.Logger, videoID string, name stage.Name, err error) error {
	detail := stage.Detail(name, err)
	log.Error("pipeline stage failed", "stage", name, "error", err)
	r.fail(ctx, log, videoID, detail)
	return err
}

func (r *Runner) fail(ctx context.Context, log *slog.Logger, videoID, detail string) {
	r.tracker.Fail(videoID, detail)

	// Cancellation must not prevent recording the failure.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.SetStatus(ctx, videoID, string(status.StatusError), detail); err != nil {
		log.Warn("failed to mirror error to library", "error", err)
	}
	r.notify(ctx, webhook.Event{
		VideoID:     videoID,
		Status:      string(status.StatusError),
		ErrorDetail: detail,
	})
}

func (r *Runner) notify(ctx context.Context, ev webhook.Event) {
	if r.notifier == nil {
		return
	}
	ev.FinishedAt = time.Now().UTC()
	r.notifier.Notify(context.WithoutCancel(ctx), ev)
}
