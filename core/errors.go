package core

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is an error that maps onto an HTTP response. Handlers return it up
// the stack and the server layer renders it as {"error": ..., "details": ...}.
type APIError struct {
	Message    string
	StatusCode int
	Details    map[string]interface{}
}

func (e *APIError) Error() string {
	return e.Message
}

// AsAPIError unwraps err into an *APIError, or wraps it as an internal error
// so callers always get something renderable.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
		Details:    map[string]interface{}{"message": err.Error()},
	}
}

// NewJobNotFoundError reports an unknown job id.
func NewJobNotFoundError(jobID string) *APIError {
	return &APIError{
		Message:    fmt.Sprintf("Job not found: %s", jobID),
		StatusCode: http.StatusNotFound,
		Details:    map[string]interface{}{"job_id": jobID},
	}
}

// NewInvalidFileError reports an uploaded file that failed validation.
func NewInvalidFileError(message, filename string) *APIError {
	details := map[string]interface{}{}
	if filename != "" {
		details["filename"] = filename
	}
	return &APIError{
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// NewFileTooLargeError reports an upload exceeding the configured size cap.
func NewFileTooLargeError(sizeBytes, maxBytes int64) *APIError {
	return &APIError{
		Message:    fmt.Sprintf("File too large. Maximum size: %.1fMB", float64(maxBytes)/(1024*1024)),
		StatusCode: http.StatusRequestEntityTooLarge,
		Details:    map[string]interface{}{"size_bytes": sizeBytes, "max_bytes": maxBytes},
	}
}

// NewProcessingError reports a failed processing job.
func NewProcessingError(jobID, reason string) *APIError {
	return &APIError{
		Message:    fmt.Sprintf("Processing failed for job %s: %s", jobID, reason),
		StatusCode: http.StatusInternalServerError,
		Details:    map[string]interface{}{"job_id": jobID, "reason": reason},
	}
}
