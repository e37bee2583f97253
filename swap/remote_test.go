package swap

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"faceforge/core"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	return img
}

func newTestEngine(t *testing.T, handler http.Handler) *RemoteEngine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	engine, err := NewRemoteEngine(Config{Endpoint: srv.URL, APIKey: "test-key"}, core.GetLogger())
	if err != nil {
		t.Fatalf("NewRemoteEngine failed: %v", err)
	}
	return engine
}

func TestRemoteExtractDescriptor(t *testing.T) {
	engine := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/faces" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth header, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart body: %v", err)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("Expected image part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"face_id":"f-123","embedding":[0.1,0.2],"detected":true}`))
	}))

	desc, ok, err := engine.ExtractDescriptor(context.Background(), testImage())
	if err != nil {
		t.Fatalf("ExtractDescriptor failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected a detected face")
	}
	if desc.ID != "f-123" {
		t.Errorf("Expected face id f-123, got %q", desc.ID)
	}
	if len(desc.Embedding) != 2 {
		t.Errorf("Expected 2 embedding values, got %d", len(desc.Embedding))
	}
}

func TestRemoteExtractNoFace(t *testing.T) {
	engine := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detected":false}`))
	}))

	desc, ok, err := engine.ExtractDescriptor(context.Background(), testImage())
	if err != nil {
		t.Fatalf("ExtractDescriptor failed: %v", err)
	}
	if ok || desc != nil {
		t.Error("Expected no descriptor when backend detects no face")
	}
}

func TestRemoteExtractServerError(t *testing.T) {
	engine := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, _, err := engine.ExtractDescriptor(context.Background(), testImage()); err == nil {
		t.Error("Expected error on backend failure")
	}
}

func TestRemoteSubstitute(t *testing.T) {
	swapped, err := core.EncodeJPEG(testImage(), 85)
	if err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}

	engine := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/swap" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart body: %v", err)
		}
		if got := r.FormValue("face_id"); got != "f-123" {
			t.Errorf("Expected face_id f-123, got %q", got)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(swapped)
	}))

	out, applied, err := engine.Substitute(context.Background(), testImage(), &Descriptor{ID: "f-123"})
	if err != nil {
		t.Fatalf("Substitute failed: %v", err)
	}
	if !applied {
		t.Error("Expected applied true")
	}
	if out == nil {
		t.Fatal("Expected a substituted frame")
	}
}

func TestRemoteSubstituteNoFaceInFrame(t *testing.T) {
	engine := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	frame := testImage()
	out, applied, err := engine.Substitute(context.Background(), frame, &Descriptor{ID: "f-123"})
	if err != nil {
		t.Fatalf("Substitute failed: %v", err)
	}
	if applied {
		t.Error("Expected applied false on 204")
	}
	if out != frame {
		t.Error("Expected the input frame back on passthrough")
	}
}

func TestRemoteSubstituteNilDescriptor(t *testing.T) {
	engine := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Backend must not be called with a nil descriptor")
	}))

	frame := testImage()
	out, applied, err := engine.Substitute(context.Background(), frame, nil)
	if err != nil || applied || out != frame {
		t.Errorf("Expected clean passthrough, got out=%v applied=%v err=%v", out, applied, err)
	}
}

func TestNewEngineSelectsBackend(t *testing.T) {
	engine, err := NewEngine(Config{}, core.GetLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if _, ok := engine.(Disabled); !ok {
		t.Errorf("Expected Disabled engine without endpoint, got %T", engine)
	}

	engine, err = NewEngine(Config{Endpoint: "http://localhost:9000"}, core.GetLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if _, ok := engine.(*RemoteEngine); !ok {
		t.Errorf("Expected RemoteEngine with endpoint, got %T", engine)
	}
}
