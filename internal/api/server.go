package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/media"
	"github.com/snuttify/snuttify-agent/internal/playback"
	"github.com/snuttify/snuttify-agent/internal/status"
)

// Library is the part of the library store the HTTP layer reads and seeds.
type Library interface {
	CreateRecord(ctx context.Context, videoID, source string) (*library.Record, error)
	SetStatus(ctx context.Context, videoID, status, detail string) error
	Load(videoID string) (*library.Record, error)
	List(ctx context.Context) ([]*library.Record, error)
	Search(ctx context.Context, raw string) ([]*library.Record, error)
	Path(videoID, rel string) (string, error)
	IndexStale() bool
}

// Queue accepts videos for background processing.
type Queue interface {
	Submit(videoID, source string) error
	Pending() int
}

type Doctor interface {
	Get(ctx context.Context) (*media.Capabilities, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Host           string
	Port           int
	Library        Library
	Tracker        *status.Tracker
	Queue          Queue
	PlaybackServer *playback.Server
	Doctor         Doctor
	UploadsDir     string
	MaxUploadBytes int64
	AllowedOrigins []string
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// uploads and range playback are long-lived
			ReadTimeout:  0,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
