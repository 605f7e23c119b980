package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/snuttify/snuttify-agent/internal/analysis"
	"github.com/snuttify/snuttify-agent/internal/config"
	"github.com/snuttify/snuttify-agent/internal/db"
	"github.com/snuttify/snuttify-agent/internal/extract"
	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/logging"
	"github.com/snuttify/snuttify-agent/internal/media"
	"github.com/snuttify/snuttify-agent/internal/pipeline"
	"github.com/snuttify/snuttify-agent/internal/status"
	"github.com/snuttify/snuttify-agent/internal/transcribe"
	"github.com/snuttify/snuttify-agent/internal/webhook"
)

// app holds the components shared by the commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	database *db.DB
	store    *library.Store
	tracker  *status.Tracker
	ffmpeg   *media.RealFFmpeg
}

// openLibrary opens the index and the record store. Commands that only
// read the library stop here.
func openLibrary(c config.Config, l *slog.Logger) (*app, error) {
	if err := os.MkdirAll(c.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	database, err := db.New(c.DBPath(), l)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store, err := library.NewStore(c.LibraryDir(), library.NewIndex(database.Conn()), logging.WithComponent(l, "library"))
	if err != nil {
		database.Close()
		return nil, err
	}

	return &app{
		cfg:      c,
		logger:   l,
		database: database,
		store:    store,
		tracker:  status.NewTracker(),
	}, nil
}

func (a *app) Close() error {
	return a.database.Close()
}

// newRunner builds the three stages and the orchestrator around them.
func (a *app) newRunner() *pipeline.Runner {
	c := a.cfg

	a.ffmpeg = media.NewRealFFmpeg(media.Config{
		FFmpegPath:  c.FFmpegPath(),
		FFprobePath: c.FFprobePath(),
		Timeout:     c.ExtractTimeout(),
		Logger:      logging.WithComponent(a.logger, "ffmpeg"),
	})

	extractor := extract.New(a.ffmpeg, extract.Options{
		Policy:         extract.Policy(c.FramePolicy()),
		Cadence:        c.FrameCadence(),
		KeyMoments:     c.KeyMoments(),
		SceneThreshold: c.SceneThreshold(),
	}, logging.WithComponent(a.logger, "extract"))

	if c.OpenAIAPIKey() == "" {
		a.logger.Warn("no OpenAI API key configured; transcription will fail and analysis will be skipped")
	}

	whisper := transcribe.NewWhisperClient(
		c.OpenAIBaseURL(),
		c.OpenAIAPIKey(),
		c.TranscriptionModel(),
		c.TranscribeTimeout(),
		logging.WithComponent(a.logger, "whisper"),
	)
	transcriber := transcribe.New(whisper, logging.WithComponent(a.logger, "transcribe"))

	// a nil provider makes every analysis degrade to zero snippets
	var provider analysis.Analyzer
	if c.OpenAIAPIKey() != "" {
		oa, err := analysis.NewOpenAIAnalyzer(analysis.OpenAIConfig{
			APIKey:     c.OpenAIAPIKey(),
			BaseURL:    c.OpenAIBaseURL(),
			Model:      c.AnalysisModel(),
			MaxElapsed: c.AnalyzeTimeout(),
			Logger:     logging.WithComponent(a.logger, "openai"),
		})
		if err != nil {
			a.logger.Warn("analysis provider unavailable", "error", err)
		} else {
			provider = oa
		}
	}

	systemPrompt := c.AnalysisSystemPrompt()
	if systemPrompt == "" {
		systemPrompt = analysis.DefaultSystemPrompt
	}
	analyzer := analysis.New(provider, a.store, analysis.Options{
		MaxFrames:    c.AnalysisMaxFrames(),
		SystemPrompt: systemPrompt,
	}, logging.WithComponent(a.logger, "analysis"))

	var notifier pipeline.Notifier
	if c.WebhookURL() != "" {
		notifier = webhook.New(c.WebhookURL(), logging.WithComponent(a.logger, "webhook"))
	}

	return pipeline.NewRunner(pipeline.Stages{
		Extract:    extractor,
		Transcribe: transcriber,
		Analyze:    analyzer,
	}, a.store, a.tracker, notifier, logging.WithComponent(a.logger, "pipeline"))
}

// recoverLibrary marks records left mid-pipeline by a previous process and
// rebuilds the index from disk.
func (a *app) recoverLibrary(ctx context.Context) {
	if n, err := a.store.Recover(ctx, library.InterruptedDetail); err != nil {
		a.logger.Warn("failed to recover interrupted videos", "error", err)
	} else if n > 0 {
		a.logger.Info("marked interrupted videos", "count", n)
	}

	if n, err := a.store.Reindex(ctx); err != nil {
		a.logger.Warn("failed to rebuild search index", "error", err)
	} else {
		a.logger.Info("search index rebuilt", "videos", n)
	}
}
