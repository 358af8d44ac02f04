package storage

import (
	"context"
	"fetchrelay/types"
	"sync"
)

// MemoryStore keeps everything in process memory. Used by tests and the
// -memory server flag.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*types.Job
	settings map[string]*types.UserSettings
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*types.Job),
		settings: make(map[string]*types.UserSettings),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// ListJobs returns a user's jobs, newest first
func (s *MemoryStore) ListJobs(ctx context.Context, userID string) ([]*types.Job, error) {
	return s.filter(func(j *types.Job) bool { return j.UserID == userID }, sortNewestFirst), nil
}

// ListUploadedArtifacts returns a user's uploaded jobs that still have a
// local file, oldest first
func (s *MemoryStore) ListUploadedArtifacts(ctx context.Context, userID string) ([]*types.Job, error) {
	return s.filter(func(j *types.Job) bool {
		return j.UserID == userID && j.UploadedToRemote && j.FilePath != ""
	}, sortOldestFirst), nil
}

// ListJobsByStatus returns jobs in any of the given states, oldest first
func (s *MemoryStore) ListJobsByStatus(ctx context.Context, statuses ...types.JobStatus) ([]*types.Job, error) {
	return s.filter(func(j *types.Job) bool {
		for _, st := range statuses {
			if j.Status == st {
				return true
			}
		}
		return false
	}, sortOldestFirst), nil
}

func (s *MemoryStore) GetSettings(ctx context.Context, userID string) (*types.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *settings
	if settings.Proxy != nil {
		p := *settings.Proxy
		c.Proxy = &p
	}
	return &c, nil
}

func (s *MemoryStore) SaveSettings(ctx context.Context, settings *types.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *settings
	if settings.Proxy != nil {
		p := *settings.Proxy
		c.Proxy = &p
	}
	s.settings[settings.UserID] = &c
	return nil
}

func (s *MemoryStore) filter(keep func(*types.Job) bool, order func([]*types.Job)) []*types.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*types.Job, 0)
	for _, job := range s.jobs {
		if keep(job) {
			jobs = append(jobs, job.Clone())
		}
	}
	order(jobs)
	return jobs
}
