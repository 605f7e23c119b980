package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/logging"
)

func strPtr(s string) *string { return &s }

func sampleRecord() *library.Record {
	return &library.Record{
		VideoID:    "garage-1a2b3c4d",
		Source:     "/data/uploads/garage-1a2b3c4d.mp4",
		SourceName: "garage sale.mp4",
		Status:     library.StatusComplete,
		Segments: []library.Segment{
			{Start: 0, End: 3, Text: "A Bosch drill "},
			{Start: 3, End: 6.5, Text: "with two batteries"},
			{Start: 6.5, End: 9, Text: "and a saddle"},
		},
		Snippets: []library.Snippet{
			{
				ID:       "garage-1a2b3c4d_bosch-drill",
				Title:    "Bosch drill",
				Segments: []int{0, 1},
				Start:    0,
				End:      6.5,
				Metadata: library.Metadata{
					Brand:        strPtr("Bosch"),
					Condition:    strPtr("used"),
					MissingParts: []string{"charger"},
				},
			},
			{
				ID:          "garage-1a2b3c4d_saddle",
				Title:       "Saddle",
				Description: "Leather bike saddle",
				Segments:    []int{2},
				Start:       6.5,
				End:         9,
			},
		},
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []*library.Record{sampleRecord()}, true)
	out := buf.String()

	for _, want := range []string{
		"garage-1a2b3c4d (garage sale.mp4) [complete]",
		"  - garage-1a2b3c4d_bosch-drill  0.00s-6.50s  Bosch drill",
		"brand=Bosch condition=used missing=charger",
		`"A Bosch drill with two batteries"`,
		"      Leather bike saddle",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, nil, false)
	if got := buf.String(); got != "No results found.\n" {
		t.Errorf("printResults(nil) = %q", got)
	}
}

func TestPrintResults_ErrorDetail(t *testing.T) {
	rec := &library.Record{VideoID: "v1", SourceName: "v.mp4", Status: library.StatusError, ErrorDetail: "ffmpeg not found"}

	var buf bytes.Buffer
	printResults(&buf, []*library.Record{rec}, false)
	if !strings.Contains(buf.String(), "  error: ffmpeg not found") {
		t.Errorf("missing error detail:\n%s", buf.String())
	}
}

func TestMetadataTags_Empty(t *testing.T) {
	if got := metadataTags(library.Metadata{ProductType: strPtr("")}); got != "" {
		t.Errorf("metadataTags(empty) = %q, want empty", got)
	}
}

func TestWriteExports(t *testing.T) {
	logger = logging.Discard()
	dir := t.TempDir()

	if err := writeExports(sampleRecord(), dir, 25); err != nil {
		t.Fatalf("writeExports() error = %v", err)
	}

	edl, err := os.ReadFile(filepath.Join(dir, "garage-1a2b3c4d.edl"))
	if err != nil {
		t.Fatalf("read edl: %v", err)
	}
	if !strings.HasPrefix(string(edl), "TITLE: garage sale\n") {
		t.Errorf("edl title: %q", edl)
	}
	if !strings.Contains(string(edl), "* SNIPPET ID:  garage-1a2b3c4d_saddle") {
		t.Errorf("edl missing saddle snippet:\n%s", edl)
	}

	info, err := os.Stat(filepath.Join(dir, "garage-1a2b3c4d.xlsx"))
	if err != nil {
		t.Fatalf("stat xlsx: %v", err)
	}
	if info.Size() == 0 {
		t.Error("xlsx is empty")
	}
}

func TestWriteExports_NoSnippetsSkipsEDL(t *testing.T) {
	logger = logging.Discard()
	dir := t.TempDir()
	rec := &library.Record{VideoID: "v1", SourceName: "v.mp4", Status: library.StatusComplete, Snippets: []library.Snippet{}}

	if err := writeExports(rec, dir, 30); err != nil {
		t.Fatalf("writeExports() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "v1.edl")); !os.IsNotExist(err) {
		t.Errorf("edl should not exist, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "v1.xlsx")); err != nil {
		t.Errorf("xlsx should exist: %v", err)
	}
}
