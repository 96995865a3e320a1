// Package pipeline runs asynchronous extraction jobs: an in-memory store
// with TTL eviction, a bounded queue, and a fixed worker pool.
package pipeline

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/extractd/extractd/internal/extract"
)

// JobStatus represents the state of an extraction job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusAnalyzing  JobStatus = "analyzing"
	StatusExtracting JobStatus = "extracting"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job tracks the state of a single extraction request.
type Job struct {
	mu sync.Mutex

	ID string `json:"job_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	schemaRaw json.RawMessage
	text      string
	fileData  []byte
	result    *extract.DocumentResult
	errors    []string
}

// NewJob builds a queued job carrying the raw request inputs. Exactly one
// of text or fileData should be set.
func NewJob(schemaRaw json.RawMessage, text string, fileData []byte, filename string) *Job {
	now := time.Now()
	return &Job{
		ID:        NewID(),
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
		schemaRaw: schemaRaw,
		text:      text,
		fileData:  fileData,
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.UpdatedAt = time.Now()
}

// SetResult stores the completed extraction outcome.
func (j *Job) SetResult(result *extract.DocumentResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = result
	j.UpdatedAt = time.Now()
}

// Result returns the stored extraction outcome, nil until completion.
func (j *Job) Result() *extract.DocumentResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string                  `json:"job_id"`
	Status    JobStatus               `json:"status"`
	Phase     string                  `json:"phase"`
	Filename  string                  `json:"filename,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Errors    []string                `json:"errors"`
	Result    *extract.DocumentResult `json:"result,omitempty"`
}

// Snapshot returns a JSON-safe copy of the job state, including the result
// once the job has completed.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.errors
	if errs == nil {
		errs = []string{}
	}
	return JobSnapshot{
		ID:        j.ID,
		Status:    j.Status,
		Phase:     j.Phase,
		Filename:  j.Filename,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Errors:    errs,
		Result:    j.result,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
