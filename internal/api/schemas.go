package api

import (
	"path"
	"time"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/media"
	"github.com/snuttify/snuttify-agent/internal/status"
)

// Unspecified is reported for metadata fields the analysis left empty.
const Unspecified = "unspecified"

type HealthResponse struct {
	Status       string              `json:"status"`
	Version      string              `json:"version"`
	UptimeS      int64               `json:"uptime_s"`
	QueuePending int                 `json:"queue_pending"`
	Jobs         map[string]int      `json:"jobs"`
	IndexStale   bool                `json:"index_stale"`
	Media        *media.Capabilities `json:"media,omitempty"`
}

type UploadResponse struct {
	VideoID   string `json:"video_id"`
	StatusURL string `json:"status_url"`
}

type JobResponse struct {
	VideoID     string `json:"video_id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Message     string `json:"message,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type MetadataResponse struct {
	ProductType   string   `json:"product_type"`
	Condition     string   `json:"condition"`
	Brand         string   `json:"brand"`
	Compatibility string   `json:"compatibility"`
	IntendedUse   string   `json:"intended_use"`
	Modifications []string `json:"modifications"`
	MissingParts  []string `json:"missing_parts"`
}

type SnippetResponse struct {
	ID          string           `json:"id"`
	VideoID     string           `json:"video_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Start       float64          `json:"start"`
	End         float64          `json:"end"`
	Segments    []int            `json:"segments"`
	Transcript  string           `json:"transcript"`
	Metadata    MetadataResponse `json:"metadata"`
}

type SegmentResponse struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type FrameResponse struct {
	Timestamp float64 `json:"timestamp"`
	URL       string  `json:"url"`
	Segment   *int    `json:"segment,omitempty"`
}

// VideoResponse mirrors a library record. Sequences a stage has not
// produced yet are omitted; produced-but-empty ones are [].
type VideoResponse struct {
	VideoID     string             `json:"video_id"`
	SourceName  string             `json:"source_name"`
	Status      string             `json:"status"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	Language    string             `json:"language,omitempty"`
	Duration    float64            `json:"duration,omitempty"`
	VideoURL    string             `json:"video_url"`
	AudioURL    string             `json:"audio_url,omitempty"`
	Frames      *[]FrameResponse   `json:"frames,omitempty"`
	Segments    *[]SegmentResponse `json:"segments,omitempty"`
	Snippets    *[]SnippetResponse `json:"snippets,omitempty"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
}

type VideoSummary struct {
	VideoID      string            `json:"video_id"`
	SourceName   string            `json:"source_name"`
	Status       string            `json:"status"`
	ErrorDetail  string            `json:"error_detail,omitempty"`
	Duration     float64           `json:"duration,omitempty"`
	SnippetCount int               `json:"snippet_count"`
	Snippets     []SnippetResponse `json:"snippets"`
	CreatedAt    string            `json:"created_at"`
}

type LibraryResponse struct {
	Query  string         `json:"query,omitempty"`
	Videos []VideoSummary `json:"videos"`
}

type TranscriptionResponse struct {
	VideoID  string             `json:"video_id"`
	Status   string             `json:"status"`
	Language string             `json:"language,omitempty"`
	Segments *[]SegmentResponse `json:"segments,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j status.Job) JobResponse {
	return JobResponse{
		VideoID:     j.VideoID,
		Status:      string(j.Status),
		Progress:    j.Progress,
		Message:     j.Message,
		ErrorDetail: j.ErrorDetail,
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}

// RecordToJob reports status for a video the tracker no longer holds,
// such as one finished before a restart.
func RecordToJob(rec *library.Record) JobResponse {
	progress := status.ProgressQueued
	if rec.Status == library.StatusComplete {
		progress = status.ProgressComplete
	}
	return JobResponse{
		VideoID:     rec.VideoID,
		Status:      rec.Status,
		Progress:    progress,
		ErrorDetail: rec.ErrorDetail,
		UpdatedAt:   rec.UpdatedAt.Format(time.RFC3339),
	}
}

func MetadataToResponse(m library.Metadata) MetadataResponse {
	return MetadataResponse{
		ProductType:   orUnspecified(m.ProductType),
		Condition:     orUnspecified(m.Condition),
		Brand:         orUnspecified(m.Brand),
		Compatibility: orUnspecified(m.Compatibility),
		IntendedUse:   orUnspecified(m.IntendedUse),
		Modifications: nonNil(m.Modifications),
		MissingParts:  nonNil(m.MissingParts),
	}
}

func SnippetToResponse(rec *library.Record, sn library.Snippet) SnippetResponse {
	return SnippetResponse{
		ID:          sn.ID,
		VideoID:     rec.VideoID,
		Title:       sn.Title,
		Description: sn.Description,
		Start:       sn.Start,
		End:         sn.End,
		Segments:    nonNil(sn.Segments),
		Transcript:  rec.SpanText(sn),
		Metadata:    MetadataToResponse(sn.Metadata),
	}
}

func RecordToResponse(rec *library.Record) VideoResponse {
	base := "/api/library/" + rec.VideoID
	resp := VideoResponse{
		VideoID:     rec.VideoID,
		SourceName:  rec.SourceName,
		Status:      rec.Status,
		ErrorDetail: rec.ErrorDetail,
		Language:    rec.Language,
		Duration:    rec.Duration,
		VideoURL:    base + "/video",
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.Audio != nil {
		resp.AudioURL = base + "/audio"
	}
	if rec.Frames != nil {
		frames := make([]FrameResponse, len(rec.Frames))
		for i, f := range rec.Frames {
			frames[i] = FrameResponse{
				Timestamp: f.Timestamp,
				URL:       base + "/frames/" + path.Base(f.Path),
				Segment:   f.Segment,
			}
		}
		resp.Frames = &frames
	}
	resp.Segments = segmentsToResponse(rec.Segments)
	if rec.Snippets != nil {
		snippets := make([]SnippetResponse, len(rec.Snippets))
		for i, sn := range rec.Snippets {
			snippets[i] = SnippetToResponse(rec, sn)
		}
		resp.Snippets = &snippets
	}
	return resp
}

func RecordToSummary(rec *library.Record) VideoSummary {
	snippets := make([]SnippetResponse, len(rec.Snippets))
	for i, sn := range rec.Snippets {
		snippets[i] = SnippetToResponse(rec, sn)
	}
	return VideoSummary{
		VideoID:      rec.VideoID,
		SourceName:   rec.SourceName,
		Status:       rec.Status,
		ErrorDetail:  rec.ErrorDetail,
		Duration:     rec.Duration,
		SnippetCount: len(rec.Snippets),
		Snippets:     snippets,
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
	}
}

func segmentsToResponse(segs []library.Segment) *[]SegmentResponse {
	if segs == nil {
		return nil
	}
	out := make([]SegmentResponse, len(segs))
	for i, s := range segs {
		out[i] = SegmentResponse{Index: i, Start: s.Start, End: s.End, Text: s.Text}
	}
	return &out
}

func orUnspecified(s *string) string {
	if s == nil || *s == "" {
		return Unspecified
	}
	return *s
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
