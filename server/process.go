package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"faceforge/config"
	"faceforge/core"
	"faceforge/media"
)

// ProcessRequest initiates processing of an uploaded job.
type ProcessRequest struct {
	JobID string `json:"job_id"`
	// AudioPath, when set, points at an audio file whose track replaces the
	// video's audio (quick mode; no lip sync).
	AudioPath string `json:"audio_path,omitempty"`
	// AudioOffset delays the replacement audio by N seconds.
	AudioOffset  float64 `json:"audio_offset,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
}

// ProcessResponse acknowledges a started job.
type ProcessResponse struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// ResultResponse reports the outcome of a processing job.
type ResultResponse struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	OutputURL string    `json:"output_url,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ProcessHandler runs background processing over uploaded jobs.
type ProcessHandler struct {
	store  *JobStore
	upload *UploadHandler
	syncer *media.AudioSyncer
	config config.UploadConfig
	logger *core.Logger
}

// NewProcessHandler creates the processing handler. syncer may be nil when
// FFmpeg is unavailable; audio replacement requests then fail cleanly.
func NewProcessHandler(store *JobStore, upload *UploadHandler, syncer *media.AudioSyncer, cfg config.UploadConfig, logger *core.Logger) *ProcessHandler {
	return &ProcessHandler{
		store:  store,
		upload: upload,
		syncer: syncer,
		config: cfg,
		logger: logger.With(map[string]any{"component": "process"}),
	}
}

// Start handles POST /api/v1/process.
func (h *ProcessHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, core.NewInvalidFileError("Invalid request body", ""))
		return
	}

	job, err := h.store.Get(req.JobID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if job.Status != StatusUploaded {
		writeAPIError(w, &core.APIError{
			Message:    fmt.Sprintf("Job cannot be processed. Current status: %s", job.Status),
			StatusCode: http.StatusBadRequest,
			Details:    map[string]interface{}{"job_id": job.JobID, "status": string(job.Status)},
		})
		return
	}
	if req.AudioPath != "" && h.syncer == nil {
		writeAPIError(w, core.NewProcessingError(job.JobID, "audio replacement unavailable: ffmpeg not found"))
		return
	}

	if _, err := h.store.Update(job.JobID, func(j *Job) {
		j.Status = StatusProcessing
		j.Progress = 0
	}); err != nil {
		writeAPIError(w, err)
		return
	}

	go h.run(job, req)

	writeJSON(w, http.StatusOK, ProcessResponse{
		JobID:   job.JobID,
		Status:  StatusProcessing,
		Message: "Processing started",
	})
}

// Result handles GET /api/v1/process/result/{job_id}.
func (h *ProcessHandler) Result(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	resp := ResultResponse{
		JobID:  job.JobID,
		Status: job.Status,
		Error:  job.Error,
	}
	if job.Status == StatusCompleted {
		resp.OutputURL = "/outputs/" + job.JobID + "/" + h.outputName(job)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Jobs handles GET /api/v1/process/jobs.
func (h *ProcessHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.List())
}

// run executes one processing job in the background. Failures are recorded on
// the job record, never panicked.
func (h *ProcessHandler) run(job Job, req ProcessRequest) {
	logger := h.logger.With(map[string]any{"job_id": job.JobID})

	inputPath := h.upload.UploadPath(job)
	outputDir := filepath.Join(h.config.OutputDir, job.JobID)
	outputPath := filepath.Join(outputDir, h.outputName(job))

	fail := func(reason string) {
		logger.Error("processing failed", "reason", reason)
		if _, err := h.store.Update(job.JobID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = reason
		}); err != nil {
			logger.Warn("failed to record job failure", "error", err)
		}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fail("failed to create output directory")
		return
	}
	h.setProgress(job.JobID, 0.25)

	if req.AudioPath != "" {
		err := h.syncer.Sync(context.Background(), media.SyncRequest{
			VideoPath:   inputPath,
			AudioPath:   req.AudioPath,
			OutputPath:  outputPath,
			AudioOffset: req.AudioOffset,
		})
		if err != nil {
			fail(err.Error())
			return
		}
	} else {
		if err := copyFile(inputPath, outputPath); err != nil {
			fail(err.Error())
			return
		}
	}
	h.setProgress(job.JobID, 0.75)

	if _, err := h.store.Update(job.JobID, func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = 1.0
	}); err != nil {
		logger.Warn("failed to mark job completed", "error", err)
		return
	}
	logger.Info("processing completed", "output", outputPath)
}

func (h *ProcessHandler) setProgress(jobID string, progress float64) {
	if _, err := h.store.Update(jobID, func(j *Job) {
		j.Progress = progress
	}); err != nil {
		h.logger.Warn("failed to update progress", "job_id", jobID, "error", err)
	}
}

func (h *ProcessHandler) outputName(job Job) string {
	ext := strings.TrimPrefix(filepath.Ext(job.Filename), ".")
	if ext == "" {
		ext = "mp4"
	}
	return "result." + ext
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
