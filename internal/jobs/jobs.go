// Package jobs tracks import runs in process memory. Running jobs never
// expire; finished jobs are kept for a retention window and then evicted.
package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/florin-systems/finflow/internal/committer"
)

// Status is the lifecycle state of an import job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// retention is how long finished jobs stay queryable.
const retention = time.Hour

// Job is one import run's metadata. Fields are snapshots; mutate only
// through the registry.
type Job struct {
	ID          string          `json:"jobId"`
	UserID      string          `json:"userId"`
	FileName    string          `json:"fileName"`
	Status      Status          `json:"status"`
	Progress    int             `json:"progress"`
	Stats       committer.Stats `json:"stats"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Registry is a concurrency-safe in-memory job store.
type Registry struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// Start registers a new running job and returns its snapshot.
func (r *Registry) Start(userID, fileName string) Job {
	job := Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		FileName:  fileName,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Set(job.ID, job, cache.NoExpiration)
	return job
}

// Update records progress for a running job. Updates after completion are
// dropped.
func (r *Registry) Update(id string, progress int, stats committer.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.get(id)
	if !ok || job.Status != StatusRunning {
		return
	}
	job.Progress = progress
	job.Stats = stats
	r.cache.Set(id, job, cache.NoExpiration)
}

// Complete marks the job finished and starts its retention clock.
func (r *Registry) Complete(id string, stats committer.Stats) {
	r.finish(id, StatusCompleted, stats, "")
}

// Fail marks the job failed with a message and starts its retention clock.
func (r *Registry) Fail(id string, stats committer.Stats, message string) {
	r.finish(id, StatusFailed, stats, message)
}

func (r *Registry) finish(id string, status Status, stats committer.Stats, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.get(id)
	if !ok {
		return
	}
	now := time.Now().UTC()
	job.Status = status
	job.Progress = 100
	job.Stats = stats
	job.CompletedAt = &now
	job.Error = message
	r.cache.Set(id, job, retention)
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

// List returns snapshots of all live jobs for a user, newest first.
func (r *Registry) List(userID string) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Job
	for _, item := range r.cache.Items() {
		job, ok := item.Object.(Job)
		if !ok || job.UserID != userID {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (r *Registry) get(id string) (Job, bool) {
	v, ok := r.cache.Get(id)
	if !ok {
		return Job{}, false
	}
	job, ok := v.(Job)
	return job, ok
}
