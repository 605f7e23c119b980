package api

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/snuttify/snuttify-agent/internal/export"
	"github.com/snuttify/snuttify-agent/internal/library"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadRecord(w, cfg, chi.URLParam(r, "videoID"))
		if !ok {
			return
		}
		if rec.Status != library.StatusComplete {
			WriteError(w, http.StatusConflict, "video has not finished processing", "NOT_READY")
			return
		}

		frameRate := 30.0
		if v := r.URL.Query().Get("fps"); v != "" {
			fps, err := strconv.ParseFloat(v, 64)
			if err != nil || fps <= 0 || fps > 240 {
				WriteError(w, http.StatusBadRequest, "fps must be a positive number", "BAD_REQUEST")
				return
			}
			frameRate = fps
		}

		clips := export.ClipsFromRecord(rec, rec.Source)
		if len(clips) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "video has no snippets to export", "NO_SNIPPETS")
			return
		}

		stem := strings.TrimSuffix(rec.SourceName, filepath.Ext(rec.SourceName))
		title := export.SanitizeName(stem, 120)
		if title == "" {
			title = rec.VideoID
		}

		edl := export.GenerateEDL(clips, title, frameRate)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.VideoID+".edl"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(edl))
	}
}

func exportXLSXHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		records, err := cfg.Library.Search(r.Context(), q)
		if err != nil {
			cfg.Logger.Error("library search failed", "error", err, "query", q)
			WriteError(w, http.StatusInternalServerError, "failed to search library", "INTERNAL_ERROR")
			return
		}

		var buf bytes.Buffer
		if err := export.WriteWorkbook(&buf, records); err != nil {
			cfg.Logger.Error("failed to build workbook", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to build export", "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="snippets.xlsx"`)
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}
