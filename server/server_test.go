package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"faceforge/config"
	"faceforge/core"
	"faceforge/stream"
	"faceforge/swap"
)

func newTestServer(t *testing.T) (*Server, *JobStore, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Upload.Dir = t.TempDir()
	cfg.Upload.OutputDir = t.TempDir()
	cfg.Upload.MaxUploadSizeMB = 1

	logger := core.GetLogger()
	registry := stream.NewRegistry(swap.Disabled{}, 85, logger, nil)
	streamHandler := stream.NewHandler(registry, logger)
	store := NewJobStore(nil)

	srv := New(cfg, registry, streamHandler, store, nil, nil, nil, logger)
	return srv, store, cfg
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, srv *Server, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUploadAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doUpload(t, srv, "clip.mp4", []byte("fake video bytes"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to parse upload response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("Expected a job id")
	}
	if resp.Status != StatusUploaded {
		t.Errorf("Expected status uploaded, got %s", resp.Status)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/upload/status/"+resp.JobID, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from status, got %d", rec.Code)
	}
	var job Job
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to parse job: %v", err)
	}
	if job.Filename != "clip.mp4" {
		t.Errorf("Expected filename clip.mp4, got %q", job.Filename)
	}
	if job.FileSize != int64(len("fake video bytes")) {
		t.Errorf("Expected file size recorded, got %d", job.FileSize)
	}
}

func TestUploadRejectsExtension(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doUpload(t, srv, "malware.exe", []byte("nope"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for disallowed extension, got %d", rec.Code)
	}
}

func TestUploadRejectsOversize(t *testing.T) {
	srv, _, _ := newTestServer(t)
	big := bytes.Repeat([]byte("x"), 2*1024*1024)
	rec := doUpload(t, srv, "big.mp4", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413 for oversize upload, got %d", rec.Code)
	}
}

func TestUploadRequiresMultipart(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-multipart body, got %d", rec.Code)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/upload/status/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestProcessLifecycle(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doUpload(t, srv, "clip.mp4", []byte("fake video bytes"))
	var up UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&up); err != nil {
		t.Fatalf("Failed to parse upload response: %v", err)
	}

	body := fmt.Sprintf(`{"job_id":%q}`, up.JobID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/process", strings.NewReader(body))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 starting process, got %d: %s", rec.Code, rec.Body.String())
	}

	// The background copy finishes quickly.
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := store.Get(up.JobID)
		if err != nil {
			t.Fatalf("Job vanished: %v", err)
		}
		if job.Status == StatusCompleted {
			break
		}
		if job.Status == StatusFailed {
			t.Fatalf("Job failed: %s", job.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("Job stuck in status %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/process/result/"+up.JobID, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var result ResultResponse
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", result.Status)
	}
	wantURL := "/outputs/" + up.JobID + "/result.mp4"
	if result.OutputURL != wantURL {
		t.Errorf("Expected output URL %s, got %s", wantURL, result.OutputURL)
	}

	// Re-processing a completed job is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/process", strings.NewReader(body))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 re-processing a completed job, got %d", rec.Code)
	}
}

func TestProcessUnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/process", strings.NewReader(`{"job_id":"ghost"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestProcessAudioWithoutFFmpeg(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doUpload(t, srv, "clip.mp4", []byte("fake video bytes"))
	var up UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&up); err != nil {
		t.Fatalf("Failed to parse upload response: %v", err)
	}

	// The test server has no syncer; audio replacement must fail up front.
	body := fmt.Sprintf(`{"job_id":%q,"audio_path":"/tmp/a.wav"}`, up.JobID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/process", strings.NewReader(body))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for audio replacement without ffmpeg, got %d", rec.Code)
	}
}

func TestJobsListing(t *testing.T) {
	srv, _, _ := newTestServer(t)
	doUpload(t, srv, "a.mp4", []byte("a"))
	doUpload(t, srv, "b.mp4", []byte("b"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/process/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var jobs map[string]Job
	if err := json.NewDecoder(rec.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to parse jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestVoiceUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/voice/presets", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with no voice client, got %d", rec.Code)
	}
}

func TestHealthAndSessions(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/stream/sessions", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /stream/sessions, got %d", rec.Code)
	}
	var sessions struct {
		ActiveSessions int `json:"active_sessions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to parse sessions: %v", err)
	}
	if sessions.ActiveSessions != 0 {
		t.Errorf("Expected 0 active sessions, got %d", sessions.ActiveSessions)
	}
}
