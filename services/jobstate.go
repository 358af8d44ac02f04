package services

import (
	"context"
	"errors"
	"fetchrelay/storage"
	"fetchrelay/types"
	"fmt"
	"log"
	"os"
	"time"
)

// CancelledMessage is the error message recorded on user cancellation
const CancelledMessage = "cancelled by user"

// validTransitions lists the forward edges of the job lifecycle. A status may
// always be re-applied to itself to raise progress.
var validTransitions = map[types.JobStatus][]types.JobStatus{
	types.JobStatusQueued:      {types.JobStatusDownloading, types.JobStatusFailed},
	types.JobStatusDownloading: {types.JobStatusConverting, types.JobStatusUploading, types.JobStatusCompleted, types.JobStatusFailed},
	types.JobStatusConverting:  {types.JobStatusUploading, types.JobStatusCompleted, types.JobStatusFailed},
	types.JobStatusUploading:   {types.JobStatusCompleted, types.JobStatusFailed},
	types.JobStatusFailed:      {types.JobStatusQueued},
}

func isValidTransition(from, to types.JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine is the only writer of job records. Every write for a job id
// runs under that job's mutex and is published to the owning user.
type StateMachine struct {
	jobs      JobStore
	publisher Publisher
	cache     *ProgressCache
	locks     *keyedMutex
	now       func() time.Time
}

// NewStateMachine creates a state machine over jobs. publisher may be nil.
func NewStateMachine(jobs JobStore, publisher Publisher, cache *ProgressCache) *StateMachine {
	if cache == nil {
		cache = NewProgressCache(0)
	}
	return &StateMachine{
		jobs:      jobs,
		publisher: publisher,
		cache:     cache,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// Cache returns the telemetry cache used for published events
func (m *StateMachine) Cache() *ProgressCache {
	return m.cache
}

// Create persists a new queued job and announces it
func (m *StateMachine) Create(ctx context.Context, job *types.Job) (*types.Job, error) {
	unlock := m.locks.Lock(job.ID)
	defer unlock()

	now := m.now()
	job.Status = types.JobStatusQueued
	job.Progress = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := m.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	m.publish(job)
	return job.Clone(), nil
}

// Get returns the current record for jobID
func (m *StateMachine) Get(ctx context.Context, jobID string) (*types.Job, error) {
	return m.load(ctx, jobID)
}

// Transition moves a job to status with the given progress. Updates for a
// missing or already failed job are dropped. Re-applying the current status
// only ever raises progress; a lower or equal value is a no-op.
func (m *StateMachine) Transition(ctx context.Context, jobID string, status types.JobStatus, progress int, errMsg string) (*types.Job, error) {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	// a cancelled run must not write after the user acted on the job
	if ctx.Err() != nil {
		return nil, ErrJobCancelled
	}

	job, err := m.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == types.JobStatusFailed {
		return nil, ErrJobCancelled
	}

	progress = clampProgress(progress)

	if job.Status == status {
		if progress <= job.Progress {
			return job, nil
		}
		job.Progress = progress
	} else {
		if !isValidTransition(job.Status, status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
		}
		job.Status = status
		job.Progress = progress
		if status == types.JobStatusFailed {
			job.ErrorMessage = errMsg
		}
	}

	if err := m.save(ctx, job); err != nil {
		return nil, err
	}
	if status.IsTerminal() {
		m.cache.Delete(jobID)
	}
	m.publish(job)
	return job, nil
}

// Update applies a field change that is not a status change, such as the
// artifact path or the uploaded flag. Like Transition it is dropped once the
// job has failed.
func (m *StateMachine) Update(ctx context.Context, jobID string, mutate func(job *types.Job)) (*types.Job, error) {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == types.JobStatusFailed {
		return nil, ErrJobCancelled
	}

	status, progress := job.Status, job.Progress
	mutate(job)
	job.Status, job.Progress = status, progress

	if err := m.save(ctx, job); err != nil {
		return nil, err
	}
	m.publish(job)
	return job, nil
}

// Cancel forces an active job to failed with CancelledMessage
func (m *StateMachine) Cancel(ctx context.Context, jobID string) (*types.Job, error) {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}

	job.Status = types.JobStatusFailed
	job.ErrorMessage = CancelledMessage

	if err := m.save(ctx, job); err != nil {
		return nil, err
	}
	m.cache.Delete(jobID)
	m.publish(job)
	return job, nil
}

// Retry resets a failed job to queued. The caller re-enqueues it.
func (m *StateMachine) Retry(ctx context.Context, jobID string) (*types.Job, error) {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusFailed {
		return nil, fmt.Errorf("%w: only failed jobs can be retried, job is %s", ErrInvalidState, job.Status)
	}

	job.Status = types.JobStatusQueued
	job.Progress = 0
	job.ErrorMessage = ""
	job.FilePath = ""
	job.FileSize = 0
	job.UploadedToRemote = false

	if err := m.save(ctx, job); err != nil {
		return nil, err
	}
	m.publish(job)
	return job, nil
}

// Delete removes the record and its local artifact. Jobs that are queued or
// being processed are refused.
func (m *StateMachine) Delete(ctx context.Context, jobID string) error {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsActive() {
		return fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}

	if job.FilePath != "" {
		if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to remove artifact %s of job %s: %v", job.FilePath, jobID, err)
		}
	}

	if err := m.jobs.DeleteJob(ctx, jobID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}

	m.cache.Delete(jobID)
	if m.publisher != nil {
		m.publisher.Publish(job.UserID, types.NewJobDeleted(jobID))
	}
	return nil
}

func (m *StateMachine) load(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (m *StateMachine) save(ctx context.Context, job *types.Job) error {
	job.UpdatedAt = m.now()
	err := m.jobs.UpdateJob(ctx, job)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}

func (m *StateMachine) publish(job *types.Job) {
	if m.publisher == nil {
		return
	}
	var speed, eta string
	if !job.Status.IsTerminal() {
		speed, eta = m.cache.Get(job.ID)
	}
	m.publisher.Publish(job.UserID, types.NewJobUpdate(job.Clone(), speed, eta))
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
