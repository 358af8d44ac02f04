package services

import (
	"context"
	"fetchrelay/types"
	"fmt"
	"log"
	"os"
)

// DefaultReclaimThreshold is the free space the artifact volume should keep
const DefaultReclaimThreshold uint64 = 5_000_000_000

// Reclaimer frees disk space by deleting local copies of artifacts that
// already reached remote storage. Jobs not yet uploaded are never touched.
type Reclaimer struct {
	jobs      JobStore
	machine   *StateMachine
	dir       string
	threshold uint64
	freeSpace func(path string) (uint64, error)
}

// NewReclaimer creates a reclaimer watching the volume of dir
func NewReclaimer(jobs JobStore, machine *StateMachine, dir string, threshold uint64) *Reclaimer {
	if threshold == 0 {
		threshold = DefaultReclaimThreshold
	}
	return &Reclaimer{
		jobs:      jobs,
		machine:   machine,
		dir:       dir,
		threshold: threshold,
		freeSpace: FreeSpace,
	}
}

// Threshold returns the configured headroom in bytes
func (r *Reclaimer) Threshold() uint64 {
	return r.threshold
}

// Free reports the current free space of the artifact volume
func (r *Reclaimer) Free() (uint64, error) {
	return r.freeSpace(r.dir)
}

// Reclaim deletes userID's oldest uploaded artifacts until free space is back
// above the threshold. It returns a *ResourceError when it runs out of
// candidates first.
func (r *Reclaimer) Reclaim(ctx context.Context, userID string) error {
	free, err := r.freeSpace(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read free space of %s: %w", r.dir, err)
	}
	if free >= r.threshold {
		return nil
	}

	candidates, err := r.jobs.ListUploadedArtifacts(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list uploaded artifacts: %w", err)
	}

	for _, job := range candidates {
		// failed records are frozen; their files go with Delete
		if !job.UploadedToRemote || job.FilePath == "" || job.Status != types.JobStatusCompleted {
			continue
		}

		path := job.FilePath
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Reclaim: cannot remove %s of job %s: %v", path, job.ID, err)
			continue
		}

		_, err := r.machine.Update(ctx, job.ID, func(j *types.Job) {
			if j.FilePath == path {
				j.FilePath = ""
			}
		})
		if err != nil {
			log.Printf("Reclaim: removed %s but could not update job %s: %v", path, job.ID, err)
		}
		log.Printf("Reclaim: removed uploaded artifact %s (%d bytes) of job %s", path, job.FileSize, job.ID)

		free, err = r.freeSpace(r.dir)
		if err != nil {
			return fmt.Errorf("failed to read free space of %s: %w", r.dir, err)
		}
		if free >= r.threshold {
			return nil
		}
	}

	return &ResourceError{Free: free, Threshold: r.threshold}
}
