// Package playback serves library media files with HTTP byte-range support
// so browsers can seek within source videos and audio tracks.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// mediaTypes covers the library's files independently of the host's
// mime.types.
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".json": "application/json",
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// etag is derived from size and mtime; library files are replaced, never
// edited in place.
func etag(info os.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().UnixNano())
}

func notModified(r *http.Request, tag string, mod time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		for _, t := range strings.Split(inm, ",") {
			if t = strings.TrimSpace(t); t == tag || t == "*" {
				return true
			}
		}
		return false
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil {
			return !mod.Truncate(time.Second).After(t)
		}
	}
	return false
}

// Resolver maps a video-relative asset path to a file on disk.
type Resolver interface {
	Path(videoID, rel string) (string, error)
}

type Server struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewServer(resolver Resolver, logger *slog.Logger) *Server {
	return &Server{resolver: resolver, logger: logger}
}

// ServeAsset serves rel from videoID's library directory.
func (s *Server) ServeAsset(w http.ResponseWriter, r *http.Request, videoID, rel string) error {
	path, err := s.resolver.Path(videoID, rel)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	return s.ServeFile(w, r, path)
}

// ServeFile writes filePath to w, honouring a Range header. Errors after
// the response has started are returned for logging only.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	tag := etag(stat)

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType(filePath))
	h.Set("ETag", tag)
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))

	if notModified(r, tag, stat.ModTime()) {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	rangeHeader := r.Header.Get("Range")
	// a stale If-Range validator means the client's partial copy is outdated
	if ir := r.Header.Get("If-Range"); ir != "" && ir != tag {
		rangeHeader = ""
	}

	rng, ok, err := ParseRange(rangeHeader, size)
	if errors.Is(err, ErrUnsatisfiable) {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	// malformed ranges are ignored and the whole file is sent
	if err != nil || !ok {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.Copy(w, file)
		return err
	}

	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	h.Set("Content-Range", rng.Header(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = io.CopyN(w, file, rng.Length())
	return err
}
