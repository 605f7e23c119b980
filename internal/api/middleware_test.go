package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"http://localhost", true},
		{"https://localhost:8443", true},
		{"http://127.0.0.1:8080", true},
		{"http://127.0.0.2", true},
		{"http://[::1]:3000", true},
		{"", false},
		{"null", false},
		{"https://shop.example.com", false},
		{"http://10.0.0.5:8080", false},
		{"http://localhost.example.com", false},
		{"ws://localhost:8080", false},
		{"http://localhost:0", false},
		{"http://localhost:70000", false},
		{"http://localhost:8080/app", false},
		{"http://user@localhost:8080", false},
	}

	for _, tt := range tests {
		if got := isAllowedOrigin(tt.origin); got != tt.want {
			t.Errorf("isAllowedOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestCORSAllowlist(t *testing.T) {
	tests := []struct {
		name       string
		extra      []string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantACAO   string
		wantNext   bool
	}{
		{"loopback get", nil, http.MethodGet, "http://localhost:5173", false, http.StatusOK, "http://localhost:5173", true},
		{"configured origin with trailing slash", []string{"https://shop.example.com/"}, http.MethodGet, "https://shop.example.com", false, http.StatusOK, "https://shop.example.com", true},
		{"wildcard", []string{"*"}, http.MethodGet, "https://anywhere.example", false, http.StatusOK, "https://anywhere.example", true},
		{"denied get still served", nil, http.MethodGet, "https://evil.example", false, http.StatusOK, "", true},
		{"no origin", nil, http.MethodGet, "", false, http.StatusOK, "", true},
		{"allowed preflight", nil, http.MethodOptions, "http://127.0.0.1:3000", true, http.StatusNoContent, "http://127.0.0.1:3000", false},
		{"denied preflight", nil, http.MethodOptions, "https://evil.example", true, http.StatusForbidden, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := CORSAllowlist(tt.extra)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/upload", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantACAO)
			}
			if called != tt.wantNext {
				t.Errorf("next handler called = %v, want %v", called, tt.wantNext)
			}
			if tt.wantACAO != "" && rr.Header().Get("Vary") != "Origin" {
				t.Errorf("Vary = %q, want Origin", rr.Header().Get("Vary"))
			}
			if tt.preflight && tt.wantStatus == http.StatusNoContent {
				if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Range") {
					t.Errorf("preflight must allow the Range header, got %q", rr.Header().Get("Access-Control-Allow-Headers"))
				}
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	handler := RequestIDMiddleware()(RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/library", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if !strings.Contains(logs.String(), `"request_id":"`+rr.Header().Get("X-Request-ID")+`"`) {
		t.Errorf("panic log missing request id: %s", logs.String())
	}
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
	}{
		{"status poll is debug", "/api/status/v1", http.StatusOK, "DEBUG"},
		{"failed status poll is info", "/api/status/v1", http.StatusNotFound, "INFO"},
		{"library read is info", "/api/library", http.StatusOK, "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

			handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("hello"))
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			var entry map[string]any
			if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
				t.Fatalf("decode log line %q: %v", logs.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["bytes"] != float64(5) {
				t.Errorf("bytes = %v, want 5", entry["bytes"])
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 8 {
		t.Errorf("request id = %q, want 8 chars", seen)
	}
	if rr.Header().Get("X-Request-ID") != seen {
		t.Errorf("header = %q, context = %q", rr.Header().Get("X-Request-ID"), seen)
	}
}

func TestWriteJSON_NoStore(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusAccepted, map[string]string{"ok": "yes"})

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}
