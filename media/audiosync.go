package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"faceforge/core"
)

// CheckFFmpeg reports whether the ffmpeg binary is on PATH.
func CheckFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// SyncRequest describes one audio replacement run.
type SyncRequest struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	// AudioOffset delays the audio by N seconds (positive = delay).
	AudioOffset float64
}

// AudioSyncer replaces a video's audio track with FFmpeg. The video stream is
// copied, not re-encoded, so this is fast and quality-preserving; the mouth
// will not match the new audio.
type AudioSyncer struct {
	logger *core.Logger
}

// NewAudioSyncer creates an audio syncer, failing when ffmpeg is missing.
func NewAudioSyncer(logger *core.Logger) (*AudioSyncer, error) {
	if !CheckFFmpeg() {
		return nil, fmt.Errorf("media: ffmpeg not found on PATH")
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &AudioSyncer{
		logger: logger.With(map[string]any{"component": "audiosync"}),
	}, nil
}

// Sync runs the replacement. The output directory is created as needed.
func (a *AudioSyncer) Sync(ctx context.Context, req SyncRequest) error {
	if _, err := os.Stat(req.VideoPath); err != nil {
		return fmt.Errorf("media: video not found: %s", req.VideoPath)
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return fmt.Errorf("media: audio not found: %s", req.AudioPath)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return fmt.Errorf("media: create output directory: %w", err)
	}

	args := []string{
		"-y",
		"-i", req.VideoPath,
		"-i", req.AudioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
	}
	if req.AudioOffset != 0 {
		delayMs := int(req.AudioOffset * 1000)
		args = append(args, "-af", fmt.Sprintf("adelay=%d|%d", delayMs, delayMs))
	}
	args = append(args, req.OutputPath)

	a.logger.Info("replacing audio track",
		"video", req.VideoPath,
		"audio", req.AudioPath,
		"output", req.OutputPath,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("media: ffmpeg failed: %w: %s", err, tail(stderr.String(), 500))
	}
	return nil
}

// tail returns the last n bytes of s; ffmpeg errors are at the end of a long
// stderr stream.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
