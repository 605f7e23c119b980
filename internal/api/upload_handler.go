package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/logging"
	"github.com/snuttify/snuttify-agent/internal/pipeline"
)

// UploadField is the multipart field carrying the video.
const UploadField = "video"

const queueFullDetail = "upload rejected: processing queue is full"

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

// uploadHandler stores the video, creates its record and schedules it. It
// returns as soon as the run is queued.
func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		}

		file, header, err := r.FormFile(UploadField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "multipart field \"video\" is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !videoExtensions[ext] {
			WriteError(w, http.StatusUnsupportedMediaType, "unsupported video type "+ext, "UNSUPPORTED_MEDIA")
			return
		}

		videoID := library.NewVideoID(header.Filename)
		log := logging.WithVideoID(cfg.Logger, videoID)
		dst := filepath.Join(cfg.UploadsDir, videoID+ext)

		if err := saveUpload(file, dst); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "TOO_LARGE")
				return
			}
			log.Error("failed to store upload", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}

		if _, err := cfg.Library.CreateRecord(r.Context(), videoID, dst); err != nil {
			log.Error("failed to create record", "error", err)
			os.Remove(dst)
			WriteError(w, http.StatusInternalServerError, "failed to create library record", "INTERNAL_ERROR")
			return
		}

		if err := cfg.Queue.Submit(videoID, dst); err != nil {
			log.Warn("upload not scheduled", "error", err)
			if serr := cfg.Library.SetStatus(context.WithoutCancel(r.Context()), videoID, library.StatusError, queueFullDetail); serr != nil {
				log.Error("failed to record rejected upload", "error", serr)
			}
			if errors.Is(err, pipeline.ErrQueueFull) {
				WriteError(w, http.StatusServiceUnavailable, "processing queue is full, try again later", "QUEUE_FULL")
				return
			}
			WriteError(w, http.StatusServiceUnavailable, "processing is not available", "UNAVAILABLE")
			return
		}

		log.Info("upload accepted", "source_name", header.Filename, "size", header.Size)
		WriteJSON(w, http.StatusAccepted, UploadResponse{
			VideoID:   videoID,
			StatusURL: "/api/status/" + videoID,
		})
	}
}

// saveUpload copies src to dst via a temp file in the same directory.
func saveUpload(src io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move upload into place: %w", err)
	}
	return nil
}
