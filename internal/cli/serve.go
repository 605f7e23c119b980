package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify-agent/internal/api"
	"github.com/snuttify/snuttify-agent/internal/config"
	"github.com/snuttify/snuttify-agent/internal/logging"
	"github.com/snuttify/snuttify-agent/internal/media"
	"github.com/snuttify/snuttify-agent/internal/pipeline"
	"github.com/snuttify/snuttify-agent/internal/playback"
)

const shutdownTimeout = 10 * time.Second

var serveHost string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the processing workers",
	Long: `Start the HTTP API and the background worker pool.

Uploads are accepted at POST /api/upload and processed in the background;
clients poll GET /api/status/{video_id} for progress.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "address to listen on")
	rootCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	a, err := openLibrary(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("starting snuttify agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"workers", cfg.Workers(),
		"openai_key", logging.SanitizeToken(cfg.OpenAIAPIKey()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.recoverLibrary(ctx)

	runner := a.newRunner()

	doctor := media.NewCachedDoctor(a.ffmpeg, logging.WithComponent(logger, "doctor"))
	probeCtx, probeCancel := context.WithTimeout(ctx, 30*time.Second)
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial media probe failed", "error", err)
	} else if !caps.Ready() {
		logger.Warn("media tools incomplete; uploads will fail extraction",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
			"audio_encoder", caps.AudioEncoder,
		)
	}
	probeCancel()

	queue := pipeline.NewQueue(runner, a.tracker, logging.WithComponent(logger, "queue"), cfg.QueueCapacity(), cfg.Workers())
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Host:           serveHost,
		Port:           cfg.Port(),
		Library:        a.store,
		Tracker:        a.tracker,
		Queue:          queue,
		PlaybackServer: playback.NewServer(a.store, logging.WithComponent(logger, "playback")),
		Doctor:         doctor,
		UploadsDir:     cfg.UploadsDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logging.WithComponent(logger, "api"),
		StartTime:      startTime,
		Version:        config.Version,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("HTTP server error", "error", serveErr)
		}
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	// interrupted runs are recorded as errors by their runners
	queue.Shutdown(shutdownTimeout)
	cancel()

	logger.Info("shutdown complete")
	return serveErr
}
