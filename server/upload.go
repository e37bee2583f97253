package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"faceforge/config"
	"faceforge/core"
)

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// UploadHandler accepts video uploads and tracks them as jobs.
type UploadHandler struct {
	store  *JobStore
	config config.UploadConfig
	logger *core.Logger
}

// NewUploadHandler creates the upload handler.
func NewUploadHandler(store *JobStore, cfg config.UploadConfig, logger *core.Logger) *UploadHandler {
	return &UploadHandler{
		store:  store,
		config: cfg,
		logger: logger.With(map[string]any{"component": "upload"}),
	}
}

// Upload handles POST /api/v1/upload. The file part is streamed to disk in
// chunks so the size cap applies without buffering the whole upload.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		writeAPIError(w, core.NewInvalidFileError("Expected multipart form data", ""))
		return
	}

	part, err := nextFilePart(reader)
	if err != nil {
		writeAPIError(w, core.NewInvalidFileError("No file provided", ""))
		return
	}

	filename := filepath.Base(part.FileName())
	if filename == "" || filename == "." {
		writeAPIError(w, core.NewInvalidFileError("Filename is required", ""))
		return
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !h.extensionAllowed(ext) {
		writeAPIError(w, core.NewInvalidFileError(
			fmt.Sprintf("Invalid file type. Allowed: %s", strings.Join(h.config.AllowedVideoExtensions, ", ")),
			filename,
		))
		return
	}

	job := h.store.Create(filename)
	logger := h.logger.With(map[string]any{"job_id": job.JobID})

	uploadDir := filepath.Join(h.config.Dir, job.JobID)
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		h.failJob(job.JobID, "failed to create upload directory")
		writeAPIError(w, core.NewProcessingError(job.JobID, "failed to create upload directory"))
		return
	}

	filePath := filepath.Join(uploadDir, filename)
	size, err := h.saveStreaming(part, filePath)
	if err != nil {
		os.Remove(filePath)
		h.failJob(job.JobID, err.Error())
		writeAPIError(w, err)
		return
	}

	updated, err := h.store.Update(job.JobID, func(j *Job) {
		j.Status = StatusUploaded
		j.FileSize = size
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if h.store.metrics != nil {
		h.store.metrics.UploadedBytes.Add(float64(size))
	}

	logger.Info("file uploaded", "filename", filename, "size_bytes", size)
	writeJSON(w, http.StatusOK, UploadResponse{
		JobID:   updated.JobID,
		Status:  updated.Status,
		Message: fmt.Sprintf("File uploaded successfully (%.2fMB)", float64(size)/(1024*1024)),
	})
}

// Status handles GET /api/v1/upload/status/{job_id}.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// UploadPath returns the on-disk path of a job's uploaded file.
func (h *UploadHandler) UploadPath(job Job) string {
	return filepath.Join(h.config.Dir, job.JobID, job.Filename)
}

func (h *UploadHandler) extensionAllowed(ext string) bool {
	for _, allowed := range h.config.AllowedVideoExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// saveStreaming copies the part to path in 1MB chunks, enforcing the size cap
// and cleaning up the partial file on overflow.
func (h *UploadHandler) saveStreaming(part io.Reader, path string) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, core.NewProcessingError(filepath.Base(path), "failed to create file")
	}
	defer out.Close()

	maxBytes := h.config.MaxUploadSizeBytes()
	var total int64
	buf := make([]byte, 1024*1024)

	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				return total, core.NewFileTooLargeError(total, maxBytes)
			}
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return total, fmt.Errorf("write upload: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("read upload: %w", readErr)
		}
	}
}

func (h *UploadHandler) failJob(jobID, reason string) {
	if _, err := h.store.Update(jobID, func(j *Job) {
		j.Status = StatusFailed
		j.Error = reason
	}); err != nil {
		h.logger.Warn("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// nextFilePart advances the multipart reader to the first part that carries a
// file.
func nextFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
	}
}
