package swap

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"faceforge/core"
)

// RemoteEngine talks to a face-substitution inference service over HTTP.
// POST {endpoint}/v1/faces registers a reference face and returns its
// descriptor; POST {endpoint}/v1/swap substitutes the registered identity
// into a frame. A 204 from /v1/swap means no face was found in the frame.
type RemoteEngine struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
	logger     *core.Logger
}

type faceResponse struct {
	FaceID    string    `json:"face_id"`
	Embedding []float32 `json:"embedding,omitempty"`
	Detected  bool      `json:"detected"`
}

// NewRemoteEngine creates a remote engine client. The zero values in cfg are
// replaced with defaults.
func NewRemoteEngine(cfg Config, logger *core.Logger) (*RemoteEngine, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("swap: endpoint cannot be empty")
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = core.DefaultJPEGQuality
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	return &RemoteEngine{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		logger:    logger.With(map[string]any{"component": "swap-engine"}),
	}, nil
}

// ExtractDescriptor registers a reference face with the backend.
func (e *RemoteEngine) ExtractDescriptor(ctx context.Context, img image.Image) (*Descriptor, bool, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, false, err
	}
	defer e.release()

	jpegData, err := core.EncodeJPEG(img, e.config.JPEGQuality)
	if err != nil {
		return nil, false, err
	}

	status, respBody, err := e.postImage(ctx, e.config.Endpoint+"/v1/faces", "image", jpegData, nil)
	if err != nil {
		return nil, false, err
	}
	if status < 200 || status >= 300 {
		return nil, false, fmt.Errorf("swap: register face: HTTP %d: %s", status, respBody)
	}

	var face faceResponse
	if err := sonic.Unmarshal(respBody, &face); err != nil {
		return nil, false, fmt.Errorf("swap: parse face response: %w", err)
	}
	if !face.Detected {
		return nil, false, nil
	}
	return &Descriptor{ID: face.FaceID, Embedding: face.Embedding}, true, nil
}

// Substitute sends a frame to the backend and decodes the substituted result.
func (e *RemoteEngine) Substitute(ctx context.Context, frame image.Image, ref *Descriptor) (image.Image, bool, error) {
	if ref == nil {
		return frame, false, nil
	}
	if err := e.acquire(ctx); err != nil {
		return frame, false, err
	}
	defer e.release()

	jpegData, err := core.EncodeJPEG(frame, e.config.JPEGQuality)
	if err != nil {
		return frame, false, err
	}

	fields := map[string]string{"face_id": ref.ID}
	status, respBody, err := e.postImage(ctx, e.config.Endpoint+"/v1/swap", "frame", jpegData, fields)
	if err != nil {
		return frame, false, err
	}
	if status == http.StatusNoContent {
		// No face in the frame; passthrough.
		return frame, false, nil
	}
	if status < 200 || status >= 300 {
		return frame, false, fmt.Errorf("swap: substitute: HTTP %d: %s", status, respBody)
	}

	out, err := core.DecodeImage(respBody)
	if err != nil {
		return frame, false, fmt.Errorf("swap: decode substituted frame: %w", err)
	}
	return out, true, nil
}

// Close drains in-flight requests.
func (e *RemoteEngine) Close() error {
	for i := 0; i < cap(e.semaphore); i++ {
		e.semaphore <- struct{}{}
	}
	return nil
}

func (e *RemoteEngine) acquire(ctx context.Context) error {
	select {
	case e.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *RemoteEngine) release() {
	<-e.semaphore
}

// postImage performs a multipart POST with one image part plus extra fields
// and returns the raw response.
func (e *RemoteEngine) postImage(ctx context.Context, url, fieldName string, imageData []byte, fields map[string]string) (int, []byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fw, err := writer.CreateFormFile(fieldName, fieldName+".jpg")
	if err != nil {
		return 0, nil, fmt.Errorf("swap: create form file: %w", err)
	}
	if _, err := fw.Write(imageData); err != nil {
		return 0, nil, fmt.Errorf("swap: write image data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return 0, nil, fmt.Errorf("swap: write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return 0, nil, fmt.Errorf("swap: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return 0, nil, fmt.Errorf("swap: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("swap: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("swap: read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
