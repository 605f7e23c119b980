package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/stage"
)

type fakeAnalyzer struct {
	calls atomic.Int32
	last  Request
	fn    func(req Request) (*Response, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req Request) (*Response, error) {
	f.calls.Add(1)
	f.last = req
	return f.fn(req)
}

type memArtifacts struct {
	mu    sync.Mutex
	files map[string]string
}

func (m *memArtifacts) WriteArtifact(videoID, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string]string)
	}
	m.files[videoID+"/"+name] = string(data)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSegments() []library.Segment {
	return []library.Segment{
		{Start: 0, End: 4, Text: "This is a Bosch drill"},
		{Start: 4, End: 9, Text: "the chuck is worn"},
		{Start: 9, End: 12, Text: "next up a bike saddle"},
		{Start: 12, End: 15, Text: "Brooks leather"},
	}
}

func testInput(t *testing.T) Input {
	t.Helper()
	dir := t.TempDir()
	frames := []library.Frame{
		{Timestamp: 2, Path: "frames/frame_000_2.00s.jpg"},
		{Timestamp: 9, Path: "frames/frame_001_9.00s.jpg"},
		{Timestamp: 20, Path: "frames/frame_002_20.00s.jpg"},
	}
	os.MkdirAll(filepath.Join(dir, "frames"), 0755)
	for _, f := range frames {
		os.WriteFile(filepath.Join(dir, filepath.FromSlash(f.Path)), []byte("jpeg"), 0644)
	}
	return Input{VideoID: "vid-1", Dir: dir, Language: "en", Frames: frames, Segments: testSegments()}
}

func TestRun_BuildsSnippets(t *testing.T) {
	fake := &fakeAnalyzer{fn: func(req Request) (*Response, error) {
		return &Response{Snippets: []Proposal{
			{Title: "Bosch drill", Description: "Cordless drill", Segments: []int{0, 1}, Brand: "Bosch", Condition: " ", Modifications: []string{"", "new battery"}},
			{Title: "", Description: "Saddle", Segments: []int{2, 3}},
		}, Raw: `{"snippets":[]}`}, nil
	}}
	arts := &memArtifacts{}
	st := New(fake, arts, Options{MaxFrames: 2}, testLogger())

	res, err := st.Run(context.Background(), testInput(t))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Snippets) != 2 {
		t.Fatalf("len(Snippets) = %d, want 2", len(res.Snippets))
	}

	drill := res.Snippets[0]
	if drill.ID != "vid-1_bosch-drill" {
		t.Errorf("ID = %q", drill.ID)
	}
	if drill.Start != 0 || drill.End != 9 {
		t.Errorf("span = %v-%v, want 0-9", drill.Start, drill.End)
	}
	if drill.Metadata.Brand == nil || *drill.Metadata.Brand != "Bosch" {
		t.Errorf("Brand = %v", drill.Metadata.Brand)
	}
	if drill.Metadata.Condition != nil {
		t.Errorf("Condition = %q, want nil for blank", *drill.Metadata.Condition)
	}
	if !reflect.DeepEqual(drill.Metadata.Modifications, []string{"new battery"}) {
		t.Errorf("Modifications = %v", drill.Metadata.Modifications)
	}

	if got := res.Snippets[1].Title; got != "next up a bike saddle" {
		t.Errorf("fallback title = %q", got)
	}

	if len(fake.last.Images) != 2 {
		t.Errorf("images sent = %d, want 2", len(fake.last.Images))
	}
	if !strings.Contains(fake.last.Prompt, "1. [4.00s-9.00s] the chuck is worn") {
		t.Errorf("prompt = %q", fake.last.Prompt)
	}
	if _, ok := arts.files["vid-1/"+PromptArtifact]; !ok {
		t.Error("prompt artifact not written")
	}
}

func TestRun_ProviderFailureDegrades(t *testing.T) {
	fake := &fakeAnalyzer{fn: func(req Request) (*Response, error) {
		return nil, errors.New("503 from upstream")
	}}
	st := New(fake, nil, Options{}, testLogger())

	res, err := st.Run(context.Background(), testInput(t))
	var se *stage.Error
	if !errors.As(err, &se) || se.Kind != stage.KindAnalysisDegraded || se.Kind.Fatal() {
		t.Fatalf("error = %v, want non-fatal degraded", err)
	}
	if res == nil || res.Snippets == nil || len(res.Snippets) != 0 {
		t.Fatalf("Snippets = %#v, want empty non-nil", res)
	}
	if len(res.Associations) != 2 {
		t.Errorf("Associations = %v, want 2 entries", res.Associations)
	}
}

func TestRun_AllProposalsInvalidDegrades(t *testing.T) {
	fake := &fakeAnalyzer{fn: func(req Request) (*Response, error) {
		return &Response{Snippets: []Proposal{{Title: "ghost", Segments: []int{17, 42}}}}, nil
	}}
	st := New(fake, nil, Options{}, testLogger())

	res, err := st.Run(context.Background(), testInput(t))
	if kind, _ := stage.KindOf(err); kind != stage.KindAnalysisDegraded {
		t.Fatalf("error = %v, want degraded", err)
	}
	if res.Rejected != 1 || len(res.Snippets) != 0 {
		t.Errorf("Rejected = %d, Snippets = %d", res.Rejected, len(res.Snippets))
	}
}

func TestRun_NoSegmentsSkipsProvider(t *testing.T) {
	fake := &fakeAnalyzer{fn: func(req Request) (*Response, error) {
		return &Response{}, nil
	}}
	in := testInput(t)
	in.Segments = []library.Segment{}

	_, err := New(fake, nil, Options{}, testLogger()).Run(context.Background(), in)
	if kind, _ := stage.KindOf(err); kind != stage.KindAnalysisDegraded {
		t.Fatalf("error = %v, want degraded", err)
	}
	if fake.calls.Load() != 0 {
		t.Errorf("provider called %d times", fake.calls.Load())
	}
}

func TestRun_NilAnalyzerDegrades(t *testing.T) {
	res, err := New(nil, nil, Options{}, testLogger()).Run(context.Background(), testInput(t))
	if kind, _ := stage.KindOf(err); kind != stage.KindAnalysisDegraded {
		t.Fatalf("error = %v, want degraded", err)
	}
	if len(res.Snippets) != 0 {
		t.Errorf("Snippets = %v", res.Snippets)
	}
}

func TestRun_CancelledIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeAnalyzer{fn: func(req Request) (*Response, error) {
		cancel()
		return nil, context.Canceled
	}}

	res, err := New(fake, nil, Options{}, testLogger()).Run(ctx, testInput(t))
	var se *stage.Error
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *stage.Error", err)
	}
	if se.Kind != stage.KindCancelled || !se.Kind.Fatal() {
		t.Errorf("Kind = %s fatal=%v, want fatal cancellation", se.Kind, se.Kind.Fatal())
	}
	if len(res.Snippets) != 0 {
		t.Errorf("Snippets = %v", res.Snippets)
	}
}

func TestAssociate(t *testing.T) {
	frames := []library.Frame{
		{Timestamp: 0},
		{Timestamp: 3.999},
		{Timestamp: 4},
		{Timestamp: 15},
		{Timestamp: 30},
	}
	got := Associate(frames, testSegments())
	want := map[int]int{0: 0, 1: 0, 2: 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Associate() = %v, want %v", got, want)
	}
}

func TestAssociate_Gap(t *testing.T) {
	segs := []library.Segment{{Start: 0, End: 2}, {Start: 5, End: 8}}
	got := Associate([]library.Frame{{Timestamp: 3}, {Timestamp: 6}}, segs)
	if !reflect.DeepEqual(got, map[int]int{1: 1}) {
		t.Errorf("Associate() = %v", got)
	}
}

func TestRepairRun(t *testing.T) {
	tests := []struct {
		name    string
		in      []int
		n       int
		want    []int
		wantErr bool
	}{
		{"already contiguous", []int{2, 3, 4}, 10, []int{2, 3, 4}, false},
		{"gap keeps longest", []int{1, 2, 5, 6, 7}, 10, []int{5, 6, 7}, false},
		{"tie keeps earliest", []int{1, 2, 5, 6}, 10, []int{1, 2}, false},
		{"out of range dropped", []int{-1, 3, 4, 12}, 10, []int{3, 4}, false},
		{"descending", []int{4, 3, 2}, 10, []int{4}, false},
		{"duplicates", []int{2, 2, 3}, 10, []int{2, 3}, false},
		{"nothing valid", []int{10, 11}, 10, nil, true},
		{"empty", nil, 10, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RepairRun(tt.in, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RepairRun() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RepairRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThinFrames(t *testing.T) {
	frames := make([]library.Frame, 10)
	for i := range frames {
		frames[i].Timestamp = float64(i)
	}
	got := ThinFrames(frames, 4)
	var ts []float64
	for _, f := range got {
		ts = append(ts, f.Timestamp)
	}
	if !reflect.DeepEqual(ts, []float64{0, 2, 5, 7}) {
		t.Errorf("ThinFrames() = %v", ts)
	}
	if len(ThinFrames(frames[:3], 4)) != 3 {
		t.Error("ThinFrames() dropped frames below the limit")
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"object", `{"snippets":[{"title":"a","segments":[0]}]}`, 1, false},
		{"fenced", "```json\n{\"snippets\":[{\"title\":\"a\",\"segments\":[0]},{\"title\":\"b\",\"segments\":[1]}]}\n```", 2, false},
		{"bare array", `[{"title":"a","segments":[0]}]`, 1, false},
		{"null brand", `{"snippets":[{"title":"a","brand":null,"segments":[0]}]}`, 1, false},
		{"prose", "Sure! Here are the snippets", 0, true},
		{"empty", "  ", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(got.Snippets) != tt.want {
				t.Errorf("len(Snippets) = %d, want %d", len(got.Snippets), tt.want)
			}
		})
	}
}

func TestRenderArtifact_SummarizesImages(t *testing.T) {
	req := Request{
		SystemPrompt: "sys",
		Prompt:       "0. hello\n",
		Images:       []Image{{Timestamp: 2.5, Path: "frames/frame_000_2.50s.jpg", Data: []byte("jpegdata")}},
	}
	out := RenderArtifact(req, nil)
	if !strings.Contains(out, "frames/frame_000_2.50s.jpg at 2.50s (8 bytes)") {
		t.Errorf("artifact missing image summary:\n%s", out)
	}
	if strings.Contains(out, "base64") {
		t.Error("artifact embeds image data")
	}
	if !strings.Contains(out, "no response") {
		t.Error("artifact should note missing response")
	}
}
