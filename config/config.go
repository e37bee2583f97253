package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"faceforge/core"
	"faceforge/swap"
)

// Config is the top-level service configuration, loaded from settings.json
// with environment-variable overrides applied afterwards.
type Config struct {
	Server ServerConfig `json:"server"`
	Upload UploadConfig `json:"upload"`
	Stream StreamConfig `json:"stream"`
	Swap   swap.Config  `json:"swap"`
	Voice  VoiceConfig  `json:"voice"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// UploadConfig configures video upload handling.
type UploadConfig struct {
	Dir                    string   `json:"dir"`
	OutputDir              string   `json:"output_dir"`
	MaxUploadSizeMB        int64    `json:"max_upload_size_mb"`
	AllowedVideoExtensions []string `json:"allowed_video_extensions"`
}

// MaxUploadSizeBytes returns the upload size cap in bytes.
func (u UploadConfig) MaxUploadSizeBytes() int64 {
	return u.MaxUploadSizeMB * 1024 * 1024
}

// StreamConfig configures the realtime stream pipeline.
type StreamConfig struct {
	JPEGQuality int `json:"jpeg_quality"`
}

// VoiceConfig configures the ElevenLabs voice cloning client.
type VoiceConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// Default returns the configuration used when no settings file exists.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Upload: UploadConfig{
			Dir:                    "uploads",
			OutputDir:              "outputs",
			MaxUploadSizeMB:        500,
			AllowedVideoExtensions: []string{".mp4", ".avi", ".mov", ".mkv", ".webm"},
		},
		Stream: StreamConfig{
			JPEGQuality: core.DefaultJPEGQuality,
		},
		Swap: swap.DefaultConfig(),
	}
}

// FromFile reads and parses a Config from a JSON file, starting from
// defaults so partial files are valid.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("config: read %q: %w", path, err)
	}
	return FromJSON(data)
}

// FromJSON parses a JSON blob into a Config over the defaults.
func FromJSON(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. Secrets are expected
// to arrive this way rather than through the settings file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("FACEFORGE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("FACEFORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SWAP_ENDPOINT"); v != "" {
		c.Swap.Endpoint = v
	}
	if v := os.Getenv("SWAP_API_KEY"); v != "" {
		c.Swap.APIKey = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		c.Voice.APIKey = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Upload.MaxUploadSizeMB < 1 {
		return fmt.Errorf("config: max_upload_size_mb must be at least 1, got %d", c.Upload.MaxUploadSizeMB)
	}
	if len(c.Upload.AllowedVideoExtensions) == 0 {
		return fmt.Errorf("config: allowed_video_extensions cannot be empty")
	}
	for _, ext := range c.Upload.AllowedVideoExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("config: video extension %q must start with a dot", ext)
		}
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		return fmt.Errorf("config: jpeg_quality must be between 1 and 100, got %d", c.Stream.JPEGQuality)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
