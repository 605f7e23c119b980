package library

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Record statuses the store itself needs to understand. The full set is
// owned by the pipeline; the store only distinguishes terminal records.
const (
	StatusQueued   = "queued"
	StatusComplete = "complete"
	StatusError    = "error"
)

// InterruptedDetail is recorded on videos that were mid-pipeline when the
// process stopped.
const InterruptedDetail = "interrupted by restart"

// Record is the durable per-video aggregate. A nil sequence means the
// producing stage has not run yet; an empty one means it ran and found
// nothing.
type Record struct {
	VideoID     string    `json:"video_id"`
	Source      string    `json:"source"`
	SourceName  string    `json:"source_name"`
	Status      string    `json:"status"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Language    string    `json:"language,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	Audio       *Audio    `json:"audio"`
	Frames      []Frame   `json:"frames"`
	Segments    []Segment `json:"segments"`
	Snippets    []Snippet `json:"snippets"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *Record) IsTerminal() bool {
	return r.Status == StatusComplete || r.Status == StatusError
}

// Snippet returns the snippet with the given id, or nil.
func (r *Record) Snippet(id string) *Snippet {
	for i := range r.Snippets {
		if r.Snippets[i].ID == id {
			return &r.Snippets[i]
		}
	}
	return nil
}

// SpanText joins the text of the segments a snippet covers.
func (r *Record) SpanText(sn Snippet) string {
	parts := make([]string, 0, len(sn.Segments))
	for _, idx := range sn.Segments {
		if idx >= 0 && idx < len(r.Segments) {
			parts = append(parts, strings.TrimSpace(r.Segments[idx].Text))
		}
	}
	return strings.Join(parts, " ")
}

type Audio struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration,omitempty"`
}

// Frame is an extracted still. Path is relative to the video directory.
type Frame struct {
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"path"`
	Segment   *int    `json:"segment,omitempty"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Metadata holds the structured product fields. Nil means unspecified.
type Metadata struct {
	ProductType   *string  `json:"product_type,omitempty"`
	Condition     *string  `json:"condition,omitempty"`
	Brand         *string  `json:"brand,omitempty"`
	Compatibility *string  `json:"compatibility,omitempty"`
	IntendedUse   *string  `json:"intended_use,omitempty"`
	Modifications []string `json:"modifications,omitempty"`
	MissingParts  []string `json:"missing_parts,omitempty"`
}

// Snippet is a curated sub-clip spanning a contiguous run of segments.
type Snippet struct {
	ID          string   `json:"id"`
	VideoID     string   `json:"video_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Metadata    Metadata `json:"metadata"`
	Segments    []int    `json:"segments"`
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
}

// SnippetID derives a library-unique id from the video id and title.
// taken holds ids already assigned within the same video and is updated.
func SnippetID(videoID, title string, taken map[string]bool) string {
	base := videoID + "_" + Slug(title, 48)
	id := base
	for n := 2; taken[id]; n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	taken[id] = true
	return id
}

// NewVideoID derives a fresh video id from an uploaded file name: the
// slugged stem plus a short random suffix.
func NewVideoID(filename string) string {
	base := filepath.Base(filename)
	stem := slugify(strings.TrimSuffix(base, filepath.Ext(base)), 40)
	if stem == "" {
		stem = "video"
	}
	return stem + "-" + uuid.NewString()[:8]
}

// Slug lowercases s and collapses anything that is not a letter or digit
// into single dashes.
func Slug(s string, maxLen int) string {
	if slug := slugify(s, maxLen); slug != "" {
		return slug
	}
	return "snippet"
}

func slugify(s string, maxLen int) string {
	var b strings.Builder
	dash := false
	n := 0
	for _, r := range strings.ToLower(s) {
		if maxLen > 0 && n >= maxLen {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			n++
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
			n++
		}
	}
	return strings.Trim(b.String(), "-")
}
