package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"billsync/internal/books"
	"billsync/internal/model"
	"billsync/internal/service"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job tracks one execute request through the runner.
type Job struct {
	ID        string                   `json:"id"`
	BatchID   string                   `json:"batchId"`
	Status    JobStatus                `json:"status"` // queued, running, completed, failed
	Processed int                      `json:"processed"`
	Total     int                      `json:"total"`
	Results   []model.ProcessingResult `json:"results,omitempty"`
	Error     string                   `json:"error,omitempty"`
	CreatedAt time.Time                `json:"createdAt"`
}

// Registry holds jobs in memory for status polling.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// add records job unless its batch already has a job queued or
// running. The check and the insert share one critical section, so two
// concurrent enqueues for a batch cannot both pass.
func (r *Registry) add(job *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasActiveLocked(job.BatchID) {
		return false
	}
	r.jobs[job.ID] = job
	return true
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Get returns a copy so callers never observe a job mid-update.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (r *Registry) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		fn(job)
	}
}

// HasActive reports whether a batch has a job still queued or running.
func (r *Registry) HasActive(batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasActiveLocked(batchID)
}

func (r *Registry) hasActiveLocked(batchID string) bool {
	for _, job := range r.jobs {
		if job.BatchID == batchID && (job.Status == JobQueued || job.Status == JobRunning) {
			return true
		}
	}
	return false
}

// DialFunc builds a books client for one job's credential and target
// environment.
type DialFunc func(cred books.Credential, env model.Environment) books.API

// ErrQueueFull is returned when the runner cannot accept more work.
var ErrQueueFull = errors.New("execution queue is full")

// ErrBatchActive is returned when a batch already has a job queued or
// running.
var ErrBatchActive = errors.New("batch is already executing")

type task struct {
	jobID    string
	rows     []model.Row
	settings model.Settings
	files    map[string][]byte
	cred     books.Credential
}

// Runner executes queued batches strictly one at a time, so entity
// lookups never race their own creates.
type Runner struct {
	registry     *Registry
	orchestrator *service.Orchestrator
	dial         DialFunc
	tasks        chan task
}

func NewRunner(registry *Registry, orchestrator *service.Orchestrator, dial DialFunc) *Runner {
	return &Runner{
		registry:     registry,
		orchestrator: orchestrator,
		dial:         dial,
		tasks:        make(chan task, 16),
	}
}

// Enqueue registers a queued job and hands it to the runner. A batch
// with a job still queued or running cannot be enqueued again.
func (r *Runner) Enqueue(batchID string, rows []model.Row, settings model.Settings, files map[string][]byte, cred books.Credential) (Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Status:    JobQueued,
		Total:     len(rows),
		CreatedAt: time.Now(),
	}
	if !r.registry.add(job) {
		return Job{}, ErrBatchActive
	}

	select {
	case r.tasks <- task{jobID: job.ID, rows: rows, settings: settings, files: files, cred: cred}:
		return *job, nil
	default:
		r.registry.remove(job.ID)
		return Job{}, ErrQueueFull
	}
}

func (r *Runner) Start(ctx context.Context) {
	slog.Info("starting batch runner")
	for {
		select {
		case <-ctx.Done():
			slog.Info("batch runner stopped")
			return
		case t := <-r.tasks:
			r.run(ctx, t)
		}
	}
}

func (r *Runner) run(ctx context.Context, t task) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("batch run panicked", "job", t.jobID, "panic", rec)
			r.registry.update(t.jobID, func(j *Job) {
				j.Status = JobFailed
				j.Error = fmt.Sprintf("internal failure: %v", rec)
			})
		}
	}()

	r.registry.update(t.jobID, func(j *Job) { j.Status = JobRunning })

	api := r.dial(t.cred, t.settings.Environment)
	progress := func(processed, total int) {
		r.registry.update(t.jobID, func(j *Job) {
			j.Processed = processed
			j.Total = total
		})
	}

	results := r.orchestrator.Execute(ctx, api, t.rows, t.settings, t.files, progress)

	r.registry.update(t.jobID, func(j *Job) {
		j.Status = JobCompleted
		j.Processed = j.Total
		j.Results = results
	})
	slog.Info("batch executed", "job", t.jobID, "rows", len(results))
}
