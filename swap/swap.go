package swap

import (
	"context"
	"image"

	"faceforge/core"
)

// Descriptor identifies a reference face to the substitution backend. The
// contents are owned by the engine that produced it; sessions treat it as an
// opaque, immutable snapshot.
type Descriptor struct {
	// ID is the backend's handle for the registered face.
	ID string
	// Embedding is the face embedding, when the backend returns one inline.
	Embedding []float32
}

// Engine is the face-substitution capability. Implementations must be safe
// for concurrent use by multiple sessions; a single engine handle is built at
// startup and shared.
type Engine interface {
	// ExtractDescriptor derives a reference face descriptor from a still
	// image. ok is false when no face is found in the image.
	ExtractDescriptor(ctx context.Context, img image.Image) (desc *Descriptor, ok bool, err error)

	// Substitute pastes the reference identity onto the first face found in
	// frame. applied is false when no face is found; in that case the
	// returned frame is the input unchanged. Inputs are never mutated.
	Substitute(ctx context.Context, frame image.Image, ref *Descriptor) (out image.Image, applied bool, err error)

	// Close releases backend resources.
	Close() error
}

// Config selects and configures the substitution backend.
type Config struct {
	// Endpoint is the inference service base URL. Empty disables substitution
	// and every frame passes through.
	Endpoint      string `json:"endpoint"`
	APIKey        string `json:"api_key"`
	TimeoutSec    int    `json:"timeout_sec"`
	MaxConcurrent int    `json:"max_concurrent"`
	JPEGQuality   int    `json:"jpeg_quality"`
}

// DefaultConfig returns a Config with substitution disabled.
func DefaultConfig() Config {
	return Config{
		TimeoutSec:    10,
		MaxConcurrent: 8,
		JPEGQuality:   core.DefaultJPEGQuality,
	}
}

// NewEngine builds the engine the config selects: a remote inference client
// when an endpoint is set, otherwise the disabled passthrough engine.
func NewEngine(cfg Config, logger *core.Logger) (Engine, error) {
	if cfg.Endpoint == "" {
		return Disabled{}, nil
	}
	return NewRemoteEngine(cfg, logger)
}

// Disabled is the engine used when no inference backend is configured. It
// never finds a face, so reference-face registration fails cleanly and every
// frame passes through.
type Disabled struct{}

func (Disabled) ExtractDescriptor(ctx context.Context, img image.Image) (*Descriptor, bool, error) {
	return nil, false, nil
}

func (Disabled) Substitute(ctx context.Context, frame image.Image, ref *Descriptor) (image.Image, bool, error) {
	return frame, false, nil
}

func (Disabled) Close() error { return nil }
