package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/pipeline"
)

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload_Accepted(t *testing.T) {
	env := setupEnv(t)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, uploadRequest(t, UploadField, "Garage Sale.MP4", []byte("video")))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp UploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.VideoID, "garage-sale-") {
		t.Errorf("video_id = %q", resp.VideoID)
	}
	if resp.StatusURL != "/api/status/"+resp.VideoID {
		t.Errorf("status_url = %q", resp.StatusURL)
	}

	if len(env.queue.submitted) != 1 || env.queue.submitted[0] != resp.VideoID {
		t.Errorf("submitted = %v", env.queue.submitted)
	}

	rec, err := env.store.Load(resp.VideoID)
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	data, err := os.ReadFile(rec.Source)
	if err != nil || string(data) != "video" {
		t.Errorf("stored upload = %q, %v", data, err)
	}
	if !strings.HasSuffix(rec.Source, ".mp4") {
		t.Errorf("source = %s, want lowercased extension", rec.Source)
	}
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		content  []byte
		want     int
	}{
		{"wrong field", "file", "a.mp4", []byte("x"), http.StatusBadRequest},
		{"unsupported type", UploadField, "notes.txt", []byte("x"), http.StatusUnsupportedMediaType},
		{"too large", UploadField, "big.mp4", bytes.Repeat([]byte("x"), 2<<20), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, uploadRequest(t, tt.field, tt.filename, tt.content))

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
			if len(env.queue.submitted) != 0 {
				t.Errorf("nothing should be submitted, got %v", env.queue.submitted)
			}
		})
	}
}

func TestUpload_QueueFull(t *testing.T) {
	env := setupEnv(t)
	env.queue.err = pipeline.ErrQueueFull

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, uploadRequest(t, UploadField, "clip.mov", []byte("video")))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "QUEUE_FULL" {
		t.Errorf("code = %v", body["code"])
	}

	records, err := env.store.List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != library.StatusError {
		t.Fatalf("records = %+v, want one errored record", records)
	}
}
