package elevenlabs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"faceforge/core"

	"github.com/bytedance/sonic"
)

// VoiceClonerConfig holds configuration for the ElevenLabs voice client
type VoiceClonerConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	ModelID string `json:"model_id"`

	// Voice settings
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

// PresetVoice is a built-in voice available without cloning.
type PresetVoice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Gender      string `json:"gender"`
	Age         string `json:"age"`
}

var presetVoices = []PresetVoice{
	{ID: "cgSgspJ2msm6clMCkdW9", Name: "Jessica", Description: "Young American woman, playful and warm", Gender: "female", Age: "young"},
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Sarah", Description: "Mature American woman, professional", Gender: "female", Age: "young"},
	{ID: "FGY2WhTYpPnrIDTdsKH5", Name: "Laura", Description: "American woman, enthusiastic and quirky", Gender: "female", Age: "young"},
	{ID: "Xb7hH8MSUJpSbSDYk0k2", Name: "Alice", Description: "British woman, clear educator voice", Gender: "female", Age: "middle_aged"},
	{ID: "IKne3meq5aSn9XLyUdCD", Name: "Charlie", Description: "Australian man, casual and friendly", Gender: "male", Age: "young"},
	{ID: "ZQe5CZNOzWyzPSCn5a3c", Name: "James", Description: "Australian man, calm narrator", Gender: "male", Age: "middle_aged"},
}

// VoiceCloner clones voices from audio samples and generates speech through
// the ElevenLabs REST API.
type VoiceCloner struct {
	config VoiceClonerConfig
	logger *core.Logger
	client *http.Client
}

// NewVoiceCloner creates a new ElevenLabs voice client with the provided config
func NewVoiceCloner(config VoiceClonerConfig, logger *core.Logger) (*VoiceCloner, error) {
	if config.APIKey == "" {
		return nil, errors.New("ElevenLabs API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.elevenlabs.io"
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_multilingual_v2"
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	if config.Style == 0 {
		config.Style = 0.3
	}

	if logger == nil {
		logger = core.GetLogger()
	}
	return &VoiceCloner{
		config: config,
		logger: logger.With(map[string]any{"service": "elevenlabs"}),
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// ListPresetVoices returns the built-in voices.
func (v *VoiceCloner) ListPresetVoices() []PresetVoice {
	out := make([]PresetVoice, len(presetVoices))
	copy(out, presetVoices)
	return out
}

// GetPresetVoice looks up a preset voice by name, case-insensitively.
func (v *VoiceCloner) GetPresetVoice(name string) (PresetVoice, bool) {
	for _, p := range presetVoices {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return PresetVoice{}, false
}

type cloneResponse struct {
	VoiceID string `json:"voice_id"`
}

// CloneVoice creates a voice from an audio sample (30s-5min recommended) and
// returns its voice ID.
func (v *VoiceCloner) CloneVoice(ctx context.Context, audioPath, voiceName, description string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("audio file not found: %s", audioPath)
	}
	defer f.Close()

	if description == "" {
		description = fmt.Sprintf("Cloned from %s", filepath.Base(audioPath))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", voiceName); err != nil {
		return "", err
	}
	if err := mw.WriteField("description", description); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("files", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read audio sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	v.logger.Info("cloning voice", "name", voiceName, "sample", filepath.Base(audioPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.BaseURL+"/v1/voices/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", v.config.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to clone voice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("clone voice", resp)
	}

	var out cloneResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse clone response: %w", err)
	}
	if out.VoiceID == "" {
		return "", errors.New("clone response missing voice_id")
	}

	v.logger.Info("voice cloned", "name", voiceName, "voice_id", out.VoiceID)
	return out.VoiceID, nil
}

type ttsRequest struct {
	Text          string          `json:"text"`
	ModelID       string          `json:"model_id"`
	VoiceSettings elVoiceSettings `json:"voice_settings"`
}

type elVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// GenerateSpeech converts text to speech and writes the audio to outputPath.
// voiceID may be empty, in which case the first preset voice is used.
func (v *VoiceCloner) GenerateSpeech(ctx context.Context, text, voiceID, outputPath string) error {
	if text == "" {
		return errors.New("text cannot be empty")
	}
	if voiceID == "" {
		voiceID = presetVoices[0].ID
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}

	payload, err := sonic.Marshal(ttsRequest{
		Text:    text,
		ModelID: v.config.ModelID,
		VoiceSettings: elVoiceSettings{
			Stability:       v.config.Stability,
			SimilarityBoost: v.config.SimilarityBoost,
			Style:           v.config.Style,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return err
	}

	v.logger.Info("generating speech", "chars", len(text), "voice_id", voiceID)

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", v.config.BaseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", v.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to generate speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError("generate speech", resp)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(outputPath)
		return fmt.Errorf("failed to write speech output: %w", err)
	}
	return out.Close()
}

// DeleteVoice removes a cloned voice.
func (v *VoiceCloner) DeleteVoice(ctx context.Context, voiceID string) error {
	url := fmt.Sprintf("%s/v1/voices/%s", v.config.BaseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", v.config.APIKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete voice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError("delete voice", resp)
	}
	v.logger.Info("voice deleted", "voice_id", voiceID)
	return nil
}

// apiError builds an error from a non-200 ElevenLabs response.
func apiError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("ElevenLabs %s failed: status %d: %s", op, resp.StatusCode, string(snippet))
}
