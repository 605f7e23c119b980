package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/status"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins))

	r.Get("/health", healthHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", uploadHandler(cfg))

		r.Get("/status", listStatusHandler(cfg))
		r.Get("/status/{videoID}", getStatusHandler(cfg))

		r.Get("/library", listLibraryHandler(cfg))
		r.Route("/library/{videoID}", func(r chi.Router) {
			r.Get("/", getVideoHandler(cfg))
			r.Get("/transcription", transcriptionHandler(cfg))
			r.Get("/snippets/{snippetID}", getSnippetHandler(cfg))
			r.Get("/frames/{name}", frameHandler(cfg))
			r.Get("/audio", audioHandler(cfg))
			r.Get("/video", videoHandler(cfg))
			r.Get("/export.edl", exportEDLHandler(cfg))
		})

		r.Get("/export.xlsx", exportXLSXHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}
		if cfg.Queue != nil {
			resp.QueuePending = cfg.Queue.Pending()
		}
		resp.Jobs = make(map[string]int)
		for s, n := range cfg.Tracker.Counts() {
			resp.Jobs[string(s)] = n
		}
		if cfg.Library.IndexStale() {
			resp.IndexStale = true
			resp.Status = "degraded"
		}
		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			if err == nil && caps != nil {
				resp.Media = caps
				if !caps.Ready() {
					resp.Status = "degraded"
				}
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := cfg.Tracker.List()
		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "videoID")

		job, err := cfg.Tracker.Get(videoID)
		if err == nil {
			WriteJSON(w, http.StatusOK, JobToResponse(job))
			return
		}
		if !errors.Is(err, status.ErrNotFound) {
			WriteError(w, http.StatusInternalServerError, "failed to read status", "INTERNAL_ERROR")
			return
		}

		rec, ok := loadRecord(w, cfg, videoID)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, RecordToJob(rec))
	}
}

func listLibraryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")

		records, err := cfg.Library.Search(r.Context(), q)
		if err != nil {
			cfg.Logger.Error("library search failed", "error", err, "query", q)
			WriteError(w, http.StatusInternalServerError, "failed to search library", "INTERNAL_ERROR")
			return
		}

		resp := LibraryResponse{Query: q, Videos: make([]VideoSummary, len(records))}
		for i, rec := range records {
			resp.Videos[i] = RecordToSummary(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadRecord(w, cfg, chi.URLParam(r, "videoID"))
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, RecordToResponse(rec))
	}
}

func transcriptionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadRecord(w, cfg, chi.URLParam(r, "videoID"))
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, TranscriptionResponse{
			VideoID:  rec.VideoID,
			Status:   rec.Status,
			Language: rec.Language,
			Segments: segmentsToResponse(rec.Segments),
		})
	}
}

func getSnippetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadRecord(w, cfg, chi.URLParam(r, "videoID"))
		if !ok {
			return
		}
		sn := rec.Snippet(chi.URLParam(r, "snippetID"))
		if sn == nil {
			WriteError(w, http.StatusNotFound, "snippet not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, SnippetToResponse(rec, *sn))
	}
}

func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "videoID")
		name := chi.URLParam(r, "name")
		if err := cfg.PlaybackServer.ServeAsset(w, r, videoID, library.FramesDir+"/"+name); err != nil {
			cfg.Logger.Error("frame serve error", "error", err, "video_id", videoID)
		}
	}
}

func audioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadRecord(w, cfg, chi.URLParam(r, "videoID"))
		if !ok {
			return
		}
		if rec.Audio == nil {
			WriteError(w, http.StatusNotFound, "audio not extracted yet", "NOT_FOUND")
			return
		}
		if err := cfg.PlaybackServer.ServeAsset(w, r, rec.VideoID, rec.Audio.Path); err != nil {
			cfg.Logger.Error("audio serve error", "error", err, "video_id", rec.VideoID)
		}
	}
}

func videoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadRecord(w, cfg, chi.URLParam(r, "videoID"))
		if !ok {
			return
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, rec.Source); err != nil {
			cfg.Logger.Error("playback error", "error", err, "video_id", rec.VideoID)
		}
	}
}

// loadRecord writes a 404 or 500 and returns false when the record cannot
// be loaded.
func loadRecord(w http.ResponseWriter, cfg ServerConfig, videoID string) (*library.Record, bool) {
	rec, err := cfg.Library.Load(videoID)
	if err == nil {
		return rec, true
	}
	if errors.Is(err, library.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
		return nil, false
	}
	cfg.Logger.Error("failed to load record", "error", err, "video_id", videoID)
	WriteError(w, http.StatusInternalServerError, "failed to load video", "INTERNAL_ERROR")
	return nil, false
}
