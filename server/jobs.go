package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"faceforge/core"
	"faceforge/metrics"
)

// JobStatus enumerates the upload/processing job lifecycle.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusUploading  JobStatus = "uploading"
	StatusUploaded   JobStatus = "uploaded"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is a single upload/processing job record.
type Job struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Filename  string    `json:"filename,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	FileSize  int64     `json:"file_size,omitempty"`
	Error     string    `json:"error,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
}

// JobStore is the in-memory job table. Mutations are atomic with respect to
// concurrent requests.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]Job
	metrics *metrics.Metrics
}

// NewJobStore creates an empty job store. m may be nil.
func NewJobStore(m *metrics.Metrics) *JobStore {
	return &JobStore{
		jobs:    make(map[string]Job),
		metrics: m,
	}
}

// Create allocates a new job record with a generated id.
func (s *JobStore) Create(filename string) Job {
	now := time.Now().UTC()
	job := Job{
		JobID:     uuid.New().String(),
		Status:    StatusUploading,
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.JobID] = job
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobsCreated.Inc()
	}
	s.updateStatusGauges()
	return job
}

// Get returns the job for id or a JobNotFoundError.
func (s *JobStore) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return Job{}, core.NewJobNotFoundError(id)
	}
	return job, nil
}

// Update applies fn to the job for id under the store lock and stamps
// UpdatedAt.
func (s *JobStore) Update(id string, fn func(*Job)) (Job, error) {
	s.mu.Lock()
	job, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return Job{}, core.NewJobNotFoundError(id)
	}
	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	s.mu.Unlock()

	s.updateStatusGauges()
	return job, nil
}

// List returns a snapshot of all jobs keyed by id.
func (s *JobStore) List() map[string]Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Job, len(s.jobs))
	for id, job := range s.jobs {
		out[id] = job
	}
	return out
}

func (s *JobStore) updateStatusGauges() {
	if s.metrics == nil {
		return
	}
	counts := map[JobStatus]int{}
	s.mu.RLock()
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	s.mu.RUnlock()
	for _, status := range []JobStatus{StatusPending, StatusUploading, StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed} {
		s.metrics.JobsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
