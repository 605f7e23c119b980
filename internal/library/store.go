// Package library persists one directory per video holding its audio, its
// frames, and a single JSON record with transcript segments and snippets.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	recordFile = "record.json"
	FramesDir  = "frames"
	AudioFile  = "audio.mp3"
)

var (
	ErrNotFound  = errors.New("library record not found")
	ErrInvalidID = errors.New("invalid video id")
	ErrBadPath   = errors.New("path escapes video directory")
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidID reports whether id is usable as a directory name.
func ValidID(id string) bool {
	return videoIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// Store is the filesystem library. Writes replace record.json atomically so
// concurrent readers always see a complete record.
type Store struct {
	root   string
	index  *Index
	logger *slog.Logger
	locks  sync.Map
	now    func() time.Time

	// set when a record reached disk but not the index
	indexStale atomic.Bool
}

func NewStore(root string, index *Index, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create library dir: %w", err)
	}
	return &Store{
		root:   root,
		index:  index,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Dir returns the directory holding videoID's assets.
func (s *Store) Dir(videoID string) string {
	return filepath.Join(s.root, videoID)
}

// Path resolves rel inside videoID's directory, rejecting traversal.
func (s *Store) Path(videoID, rel string) (string, error) {
	if !ValidID(videoID) {
		return "", ErrInvalidID
	}
	dir := s.Dir(videoID)
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if full != dir && !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return "", ErrBadPath
	}
	return full, nil
}

// CreateRecord starts a record in status queued. It is a no-op returning
// the existing record if one is already present.
func (s *Store) CreateRecord(ctx context.Context, videoID, source string) (*Record, error) {
	if !ValidID(videoID) {
		return nil, ErrInvalidID
	}

	unlock := s.lock(videoID)
	defer unlock()

	if rec, err := s.read(videoID); err == nil {
		return rec, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := os.MkdirAll(s.Dir(videoID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create video dir: %w", err)
	}

	now := s.now().UTC()
	rec := &Record{
		VideoID:    videoID,
		Source:     source,
		SourceName: filepath.Base(source),
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) AppendAudio(ctx context.Context, videoID string, audio Audio) error {
	return s.update(ctx, videoID, func(rec *Record) error {
		a := audio
		rec.Audio = &a
		if audio.Duration > 0 {
			rec.Duration = audio.Duration
		}
		return nil
	})
}

func (s *Store) AppendFrames(ctx context.Context, videoID string, frames []Frame) error {
	return s.update(ctx, videoID, func(rec *Record) error {
		rec.Frames = append([]Frame{}, frames...)
		return nil
	})
}

func (s *Store) AppendSegments(ctx context.Context, videoID string, segments []Segment, language string) error {
	return s.update(ctx, videoID, func(rec *Record) error {
		rec.Segments = append([]Segment{}, segments...)
		if language != "" {
			rec.Language = language
		}
		return nil
	})
}

// AppendAssociations records which segment each frame falls in, keyed by
// frame index. Frames missing from assoc are left unassociated.
func (s *Store) AppendAssociations(ctx context.Context, videoID string, assoc map[int]int) error {
	return s.update(ctx, videoID, func(rec *Record) error {
		for i := range rec.Frames {
			rec.Frames[i].Segment = nil
			if seg, ok := assoc[i]; ok {
				v := seg
				rec.Frames[i].Segment = &v
			}
		}
		return nil
	})
}

func (s *Store) AppendSnippets(ctx context.Context, videoID string, snippets []Snippet) error {
	return s.update(ctx, videoID, func(rec *Record) error {
		rec.Snippets = append([]Snippet{}, snippets...)
		return nil
	})
}

// SetStatus mirrors the pipeline status onto the record.
func (s *Store) SetStatus(ctx context.Context, videoID, status, detail string) error {
	return s.update(ctx, videoID, func(rec *Record) error {
		rec.Status = status
		rec.ErrorDetail = detail
		return nil
	})
}

// WriteArtifact stores an auxiliary file in the video directory.
func (s *Store) WriteArtifact(videoID, name string, data []byte) error {
	path, err := s.Path(videoID, name)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Load returns the current record for videoID.
func (s *Store) Load(videoID string) (*Record, error) {
	if !ValidID(videoID) {
		return nil, ErrNotFound
	}
	return s.read(videoID)
}

// List returns every indexed record, oldest first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	ids, err := s.index.VideoIDs(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.read(id)
		if err != nil {
			s.logger.Warn("indexed record unreadable", "video_id", id, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Search returns the records with at least one matching snippet, each
// carrying only its matching snippets. An empty query lists everything.
func (s *Store) Search(ctx context.Context, raw string) ([]*Record, error) {
	q := ParseQuery(raw)
	if q.IsEmpty() {
		return s.List(ctx)
	}

	matches, err := s.index.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	var order []string
	hits := make(map[string]map[string]bool)
	for _, m := range matches {
		if hits[m.VideoID] == nil {
			hits[m.VideoID] = make(map[string]bool)
			order = append(order, m.VideoID)
		}
		hits[m.VideoID][m.SnippetID] = true
	}

	results := make([]*Record, 0, len(order))
	for _, id := range order {
		rec, err := s.read(id)
		if err != nil {
			s.logger.Warn("indexed record unreadable", "video_id", id, "error", err)
			continue
		}
		kept := make([]Snippet, 0, len(hits[id]))
		for _, sn := range rec.Snippets {
			if hits[id][sn.ID] {
				kept = append(kept, sn)
			}
		}
		if len(kept) == 0 {
			continue
		}
		rec.Snippets = kept
		results = append(results, rec)
	}
	return results, nil
}

// Reindex rebuilds the search index from the records on disk.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	if err := s.index.Reset(ctx); err != nil {
		return 0, fmt.Errorf("failed to reset index: %w", err)
	}

	ids, err := s.scan()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		rec, err := s.read(id)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "video_id", id, "error", err)
			continue
		}
		if err := s.index.Put(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	s.indexStale.Store(false)
	return n, nil
}

// Recover marks records left mid-pipeline by a previous process as failed.
func (s *Store) Recover(ctx context.Context, detail string) (int, error) {
	ids, err := s.scan()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		rec, err := s.read(id)
		if err != nil || rec.IsTerminal() {
			continue
		}
		if err := s.SetStatus(ctx, id, StatusError, detail); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) scan() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read library dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !ValidID(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), recordFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (s *Store) update(ctx context.Context, videoID string, fn func(*Record) error) error {
	if !ValidID(videoID) {
		return ErrInvalidID
	}

	unlock := s.lock(videoID)
	defer unlock()

	rec, err := s.read(videoID)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = s.now().UTC()
	return s.write(ctx, rec)
}

func (s *Store) read(videoID string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(videoID), recordFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", videoID, err)
	}
	return &rec, nil
}

func (s *Store) write(ctx context.Context, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.Dir(rec.VideoID), recordFile), data); err != nil {
		return err
	}

	if err := s.index.Put(ctx, rec); err != nil {
		s.logger.Warn("failed to update search index, retrying", "video_id", rec.VideoID, "error", err)
		if err := s.index.Put(context.WithoutCancel(ctx), rec); err != nil {
			s.indexStale.Store(true)
			s.logger.Error("search index out of date until reindex", "video_id", rec.VideoID, "error", err)
		}
	}
	return nil
}

// IndexStale reports whether a record write failed to reach the search
// index since the last successful Reindex.
func (s *Store) IndexStale() bool {
	return s.indexStale.Load()
}

func (s *Store) lock(videoID string) func() {
	v, _ := s.locks.LoadOrStore(videoID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}
