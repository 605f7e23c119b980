package library

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/snuttify/snuttify-agent/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.New(filepath.Join(tmpDir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(filepath.Join(tmpDir, "library"), NewIndex(database.Conn()), logger)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func strPtr(s string) *string { return &s }

func seedComplete(t *testing.T, s *Store, videoID string, snippets []Snippet) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.CreateRecord(ctx, videoID, "/uploads/"+videoID+".mp4"); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if err := s.AppendSegments(ctx, videoID, []Segment{
		{Start: 0, End: 2, Text: "Here is a drill"},
		{Start: 2, End: 4, Text: "It has a new battery"},
	}, "en"); err != nil {
		t.Fatalf("AppendSegments() error = %v", err)
	}
	if err := s.AppendSnippets(ctx, videoID, snippets); err != nil {
		t.Fatalf("AppendSnippets() error = %v", err)
	}
	if err := s.SetStatus(ctx, videoID, StatusComplete, ""); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
}

func TestStore_LoadUnknown(t *testing.T) {
	s := setupStore(t)

	if _, err := s.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Load("../etc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() traversal error = %v, want ErrNotFound", err)
	}
}

func TestStore_AbsentSequencesStayNil(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.CreateRecord(ctx, "v1", "/uploads/v1.mp4"); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if err := s.AppendFrames(ctx, "v1", nil); err != nil {
		t.Fatalf("AppendFrames() error = %v", err)
	}

	rec, err := s.Load("v1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.Frames == nil || len(rec.Frames) != 0 {
		t.Errorf("Frames = %#v, want empty non-nil", rec.Frames)
	}
	if rec.Segments != nil {
		t.Errorf("Segments = %#v, want nil before transcription", rec.Segments)
	}
	if rec.Snippets != nil {
		t.Errorf("Snippets = %#v, want nil before analysis", rec.Snippets)
	}
	if rec.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", rec.Status)
	}
}

func TestStore_AppendIsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	s.CreateRecord(ctx, "v1", "/uploads/v1.mp4")

	frames := []Frame{{Timestamp: 1, Path: "frames/frame_000_1.00s.jpg"}}
	for i := 0; i < 2; i++ {
		if err := s.AppendFrames(ctx, "v1", frames); err != nil {
			t.Fatalf("AppendFrames() error = %v", err)
		}
	}

	rec, _ := s.Load("v1")
	if len(rec.Frames) != 1 {
		t.Errorf("len(Frames) = %d, want 1", len(rec.Frames))
	}
}

func TestStore_CreateRecordKeepsExisting(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	s.CreateRecord(ctx, "v1", "/uploads/v1.mp4")
	s.AppendAudio(ctx, "v1", Audio{Path: AudioFile, Duration: 12.5})

	rec, err := s.CreateRecord(ctx, "v1", "/uploads/other.mp4")
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if rec.Audio == nil || rec.Duration != 12.5 {
		t.Errorf("CreateRecord() overwrote existing record: %+v", rec)
	}
}

func TestStore_LoadIsStable(t *testing.T) {
	s := setupStore(t)
	seedComplete(t, s, "v1", []Snippet{{ID: "v1_drill", VideoID: "v1", Title: "Drill", Segments: []int{0, 1}}})

	a, _ := s.Load("v1")
	b, _ := s.Load("v1")

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("Load() not stable:\n%s\n%s", ja, jb)
	}
}

func TestStore_Associations(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	s.CreateRecord(ctx, "v1", "/uploads/v1.mp4")
	s.AppendFrames(ctx, "v1", []Frame{{Timestamp: 1, Path: "a.jpg"}, {Timestamp: 9, Path: "b.jpg"}})

	if err := s.AppendAssociations(ctx, "v1", map[int]int{0: 0}); err != nil {
		t.Fatalf("AppendAssociations() error = %v", err)
	}

	rec, _ := s.Load("v1")
	if rec.Frames[0].Segment == nil || *rec.Frames[0].Segment != 0 {
		t.Errorf("frame 0 segment = %v, want 0", rec.Frames[0].Segment)
	}
	if rec.Frames[1].Segment != nil {
		t.Errorf("frame 1 segment = %v, want nil", *rec.Frames[1].Segment)
	}
}

func TestStore_SearchBrandQualifierMatchesDescription(t *testing.T) {
	s := setupStore(t)
	seedComplete(t, s, "v1", []Snippet{
		{ID: "v1_drill", VideoID: "v1", Title: "Cordless drill", Description: "An ACME drill with charger", Segments: []int{0}},
		{ID: "v1_saw", VideoID: "v1", Title: "Saw", Description: "Hand saw", Segments: []int{1}},
	})

	results, err := s.Search(context.Background(), "brand:acme")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if len(results[0].Snippets) != 1 || results[0].Snippets[0].ID != "v1_drill" {
		t.Errorf("snippets = %+v, want only v1_drill", results[0].Snippets)
	}
}

func TestStore_SearchMetadataAndTranscript(t *testing.T) {
	s := setupStore(t)
	seedComplete(t, s, "v1", []Snippet{
		{ID: "v1_drill", VideoID: "v1", Title: "Drill", Metadata: Metadata{Brand: strPtr("Bosch"), MissingParts: []string{"Chuck key"}}, Segments: []int{0, 1}},
	})

	tests := []struct {
		query string
		want  int
	}{
		{"bosch", 1},
		{"BRAND:BOSCH", 1},
		{"chuck", 1},
		{"new battery", 1},
		{"condition:bosch", 0},
		{"makita", 0},
		{"100%", 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			results, err := s.Search(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if results == nil {
				t.Fatal("Search() returned nil slice")
			}
			if len(results) != tt.want {
				t.Errorf("len(results) = %d, want %d", len(results), tt.want)
			}
		})
	}
}

func TestStore_SearchEmptyQueryListsAll(t *testing.T) {
	s := setupStore(t)
	seedComplete(t, s, "v1", []Snippet{})
	seedComplete(t, s, "v2", []Snippet{{ID: "v2_x", VideoID: "v2", Title: "X", Segments: []int{0}}})

	results, err := s.Search(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("len(results) = %d, want 2", len(results))
	}
}

func TestStore_SearchCaseFoldsNonASCII(t *testing.T) {
	s := setupStore(t)
	seedComplete(t, s, "v1", []Snippet{{ID: "v1_cykel", VideoID: "v1", Title: "Cykel med ÖVERSTOR ram", Segments: []int{0}}})

	results, err := s.Search(context.Background(), "överstor")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}
}

func TestStore_ConcurrentReadersNeverSeeTornRecord(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	s.CreateRecord(ctx, "v1", "/uploads/v1.mp4")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			frames := make([]Frame, i+1)
			for k := range frames {
				frames[k] = Frame{Timestamp: float64(k), Path: "frames/x.jpg"}
			}
			if err := s.AppendFrames(ctx, "v1", frames); err != nil {
				t.Errorf("AppendFrames() error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := s.Load("v1"); err != nil {
				t.Errorf("Load() error = %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestStore_RecoverAndReindex(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedComplete(t, s, "done", []Snippet{{ID: "done_a", VideoID: "done", Title: "Lamp", Segments: []int{0}}})
	s.CreateRecord(ctx, "midrun", "/uploads/midrun.mp4")
	s.SetStatus(ctx, "midrun", "transcribing", "")

	n, err := s.Recover(ctx, InterruptedDetail)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Recover() = %d, want 1", n)
	}
	rec, _ := s.Load("midrun")
	if rec.Status != StatusError || rec.ErrorDetail != "interrupted by restart" {
		t.Errorf("midrun = %s/%q, want error/interrupted", rec.Status, rec.ErrorDetail)
	}

	if err := s.index.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	n, err = s.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Reindex() = %d, want 2", n)
	}
	results, _ := s.Search(ctx, "lamp")
	if len(results) != 1 {
		t.Errorf("search after reindex = %d results, want 1", len(results))
	}
}

func TestStore_IndexFailureMarksStale(t *testing.T) {
	tmpDir := t.TempDir()
	database, err := db.New(filepath.Join(tmpDir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(filepath.Join(tmpDir, "library"), NewIndex(database.Conn()), logger)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	database.Close()

	if _, err := s.CreateRecord(context.Background(), "v1", "/uploads/v1.mp4"); err != nil {
		t.Fatalf("CreateRecord() error = %v, want record written despite index failure", err)
	}
	if _, err := s.Load("v1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !s.IndexStale() {
		t.Error("IndexStale() = false after failed index write")
	}
}

func TestStore_ReindexClearsStale(t *testing.T) {
	s := setupStore(t)
	seedComplete(t, s, "v1", nil)
	s.indexStale.Store(true)

	if _, err := s.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if s.IndexStale() {
		t.Error("IndexStale() = true after successful reindex")
	}
}

func TestStore_PathRejectsTraversal(t *testing.T) {
	s := setupStore(t)

	if _, err := s.Path("v1", "../../etc/passwd"); !errors.Is(err, ErrBadPath) {
		t.Errorf("Path() error = %v, want ErrBadPath", err)
	}
	p, err := s.Path("v1", "frames/frame_000_1.00s.jpg")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if filepath.Dir(p) != filepath.Join(s.Dir("v1"), "frames") {
		t.Errorf("Path() = %s", p)
	}
}

func TestStore_WriteArtifact(t *testing.T) {
	s := setupStore(t)
	s.CreateRecord(context.Background(), "v1", "/uploads/v1.mp4")

	if err := s.WriteArtifact("v1", "analysis_prompt.md", []byte("# prompt")); err != nil {
		t.Fatalf("WriteArtifact() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir("v1"), "analysis_prompt.md"))
	if err != nil || string(data) != "# prompt" {
		t.Errorf("artifact = %q, %v", data, err)
	}
}

func TestSnippetID(t *testing.T) {
	taken := map[string]bool{}

	tests := []struct {
		title string
		want  string
	}{
		{"Bosch Drill (used)", "v1_bosch-drill-used"},
		{"Bosch drill used", "v1_bosch-drill-used-2"},
		{"", "v1_snippet"},
		{"Cykel, blå!", "v1_cykel-blå"},
	}

	for _, tt := range tests {
		if got := SnippetID("v1", tt.title, taken); got != tt.want {
			t.Errorf("SnippetID(%q) = %s, want %s", tt.title, got, tt.want)
		}
	}
}
