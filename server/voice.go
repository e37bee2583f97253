package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"faceforge/config"
	"faceforge/core"
	elevenlabs "faceforge/services/elevenlabs/voice"
)

// VoiceHandler exposes voice cloning and speech generation. All endpoints
// return 503 when no ElevenLabs API key is configured.
type VoiceHandler struct {
	cloner *elevenlabs.VoiceCloner
	upload config.UploadConfig
	logger *core.Logger
}

func NewVoiceHandler(cloner *elevenlabs.VoiceCloner, upload config.UploadConfig, logger *core.Logger) *VoiceHandler {
	return &VoiceHandler{
		cloner: cloner,
		upload: upload,
		logger: logger.With(map[string]any{"component": "voice"}),
	}
}

func (h *VoiceHandler) available(w http.ResponseWriter) bool {
	if h.cloner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "voice cloning not configured",
		})
		return false
	}
	return true
}

// Presets lists the built-in voices.
func (h *VoiceHandler) Presets(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"voices": h.cloner.ListPresetVoices(),
	})
}

// CloneRequest names an uploaded audio sample to clone a voice from.
type CloneRequest struct {
	AudioPath   string `json:"audio_path"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Clone creates a voice from an audio sample.
func (h *VoiceHandler) Clone(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req CloneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, core.NewInvalidFileError("Invalid request body", ""))
		return
	}
	if req.AudioPath == "" || req.Name == "" {
		writeAPIError(w, core.NewInvalidFileError("audio_path and name are required", ""))
		return
	}

	voiceID, err := h.cloner.CloneVoice(r.Context(), req.AudioPath, req.Name, req.Description)
	if err != nil {
		h.logger.Error("voice clone failed", "error", err)
		writeAPIError(w, voiceError("Voice cloning failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"voice_id": voiceID,
		"name":     req.Name,
	})
}

// SpeechRequest asks for text-to-speech with a cloned or preset voice.
type SpeechRequest struct {
	Text      string `json:"text"`
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name"`
}

// Speech generates audio from text and returns the output path.
func (h *VoiceHandler) Speech(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, core.NewInvalidFileError("Invalid request body", ""))
		return
	}
	if req.Text == "" {
		writeAPIError(w, core.NewInvalidFileError("text is required", ""))
		return
	}

	voiceID := req.VoiceID
	if voiceID == "" && req.VoiceName != "" {
		preset, ok := h.cloner.GetPresetVoice(req.VoiceName)
		if !ok {
			writeAPIError(w, core.NewInvalidFileError("Unknown preset voice: "+req.VoiceName, ""))
			return
		}
		voiceID = preset.ID
	}

	outputPath := filepath.Join(h.upload.OutputDir, "speech", uuid.New().String()+".mp3")
	if err := h.cloner.GenerateSpeech(r.Context(), req.Text, voiceID, outputPath); err != nil {
		h.logger.Error("speech generation failed", "error", err)
		writeAPIError(w, voiceError("Speech generation failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"audio_path": outputPath,
	})
}

// Delete removes a cloned voice.
func (h *VoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	voiceID := chi.URLParam(r, "voice_id")
	if err := h.cloner.DeleteVoice(r.Context(), voiceID); err != nil {
		writeAPIError(w, voiceError("Voice deletion failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": voiceID,
	})
}

func voiceError(message string, err error) *core.APIError {
	return &core.APIError{
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Details:    map[string]interface{}{"reason": err.Error()},
	}
}
