package services

import (
	"context"
	"errors"
	"fetchrelay/resumable"
	"fetchrelay/storage"
	"fetchrelay/types"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strings"
)

// Uploader relays a local file to a resumable-upload endpoint
type Uploader interface {
	Upload(ctx context.Context, endpoint, path, filename string, onProgress resumable.ProgressFunc) (*resumable.Result, error)
	SelfTest(ctx context.Context, endpoint string) (*resumable.Result, error)
}

// Orchestrator runs one job through reclaim, fetch, optional upload and
// completion
type Orchestrator struct {
	machine         *StateMachine
	settings        SettingsStore
	fetcher         Fetcher
	uploader        Uploader
	reclaimer       *Reclaimer
	defaultEndpoint string
}

// NewOrchestrator wires the pipeline stages. reclaimer may be nil.
func NewOrchestrator(machine *StateMachine, settings SettingsStore, fetcher Fetcher, uploader Uploader, reclaimer *Reclaimer, defaultEndpoint string) *Orchestrator {
	return &Orchestrator{
		machine:         machine,
		settings:        settings,
		fetcher:         fetcher,
		uploader:        uploader,
		reclaimer:       reclaimer,
		defaultEndpoint: defaultEndpoint,
	}
}

// Run processes jobID. Stage failures are recorded on the job and Run
// returns them; a job that was cancelled or deleted stops quietly. A panic
// in any stage fails the job like any other error.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered panic in job %s: %v\n%s", jobID, r, debug.Stack())
			err = o.fail(ctx, jobID, fmt.Errorf("job panicked: %v", r))
		}
	}()
	return o.run(ctx, jobID)
}

func (o *Orchestrator) run(ctx context.Context, jobID string) error {
	job, err := o.machine.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			log.Printf("Job %s vanished before it started", jobID)
			return nil
		}
		return err
	}
	if job.Status != types.JobStatusQueued {
		log.Printf("Job %s is %s, skipping", jobID, job.Status)
		return nil
	}

	settings := loadSettings(ctx, o.settings, job.UserID)

	if o.reclaimer != nil {
		if err := o.reclaimer.Reclaim(ctx, job.UserID); err != nil {
			log.Printf("Reclaim before job %s: %v", jobID, err)
		}
	}

	if _, err := o.machine.Transition(ctx, jobID, types.JobStatusDownloading, 0, ""); err != nil {
		return o.stop(ctx, jobID, err)
	}

	artifact, err := o.fetcher.Fetch(ctx, FetchRequest{
		JobID:    job.ID,
		URL:      job.URL,
		Kind:     job.Kind,
		Quality:  job.Quality,
		Duration: job.Duration,
		Options:  FetchOptions{Proxy: settings.Proxy, Cookies: settings.Cookies},
	}, o.progressFunc(ctx, jobID))
	if err != nil {
		return o.fail(ctx, jobID, err)
	}

	job, err = o.machine.Update(ctx, jobID, func(j *types.Job) {
		j.FilePath = artifact.Path
		j.FileSize = artifact.Size
		if j.Title == "" && artifact.Title != "" {
			j.Title = artifact.Title
		}
	})
	if err != nil {
		if isStopSignal(ctx, err) {
			// no record points at the file any more
			if rerr := os.Remove(artifact.Path); rerr != nil && !os.IsNotExist(rerr) {
				log.Printf("Job %s: cannot remove orphaned artifact %s: %v", jobID, artifact.Path, rerr)
			}
		}
		return o.stop(ctx, jobID, err)
	}

	endpoint := settings.RemoteEndpoint
	if endpoint == "" {
		endpoint = o.defaultEndpoint
	}
	if settings.AutoUpload && endpoint != "" && o.uploader != nil {
		if err := o.upload(ctx, job, endpoint); err != nil {
			return o.fail(ctx, jobID, err)
		}
	}

	if _, err := o.machine.Transition(ctx, jobID, types.JobStatusCompleted, 100, ""); err != nil {
		return o.stop(ctx, jobID, err)
	}
	log.Printf("Job %s completed successfully", jobID)
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, job *types.Job, endpoint string) error {
	if _, err := o.machine.Transition(ctx, job.ID, types.JobStatusUploading, 0, ""); err != nil {
		return err
	}

	cache := o.machine.Cache()
	result, err := o.uploader.Upload(ctx, endpoint, job.FilePath, remoteFilename(job), func(p resumable.Progress) error {
		cache.Set(job.ID, p.Speed, p.ETA)
		return o.report(ctx, job.ID, types.JobStatusUploading, p.Percent)
	})
	if err != nil {
		return err
	}
	log.Printf("Job %s uploaded %d bytes in %d chunks to %s", job.ID, result.Size, result.Chunks, result.Location)

	removed := true
	if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
		log.Printf("Job %s uploaded but local artifact %s could not be removed: %v", job.ID, job.FilePath, err)
		removed = false
	}

	_, err = o.machine.Update(ctx, job.ID, func(j *types.Job) {
		j.UploadedToRemote = true
		if removed {
			j.FilePath = ""
		}
	})
	return err
}

// progressFunc adapts parser output into state machine transitions
func (o *Orchestrator) progressFunc(ctx context.Context, jobID string) func(ProgressUpdate) error {
	cache := o.machine.Cache()
	return func(u ProgressUpdate) error {
		if u.Speed != "" || u.ETA != "" {
			cache.Set(jobID, u.Speed, u.ETA)
		}
		return o.report(ctx, jobID, u.Status, u.Progress)
	}
}

// report applies one progress sample. Only cancellation or deletion aborts
// the running stage; other write failures are logged.
func (o *Orchestrator) report(ctx context.Context, jobID string, status types.JobStatus, progress int) error {
	_, err := o.machine.Transition(ctx, jobID, status, progress, "")
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrJobCancelled), errors.Is(err, ErrJobNotFound):
		return err
	default:
		log.Printf("Job %s progress update dropped: %v", jobID, err)
		return nil
	}
}

// fail records err on the job unless it was cancelled or deleted meanwhile
func (o *Orchestrator) fail(ctx context.Context, jobID string, err error) error {
	if isStopSignal(ctx, err) {
		return o.stop(ctx, jobID, err)
	}

	log.Printf("Job %s failed: %v", jobID, err)
	if _, terr := o.machine.Transition(ctx, jobID, types.JobStatusFailed, 0, err.Error()); terr != nil {
		log.Printf("Job %s: could not record failure: %v", jobID, terr)
	}
	return err
}

func (o *Orchestrator) stop(ctx context.Context, jobID string, err error) error {
	if isStopSignal(ctx, err) {
		log.Printf("Job %s stopped: %v", jobID, err)
		return nil
	}
	return o.fail(ctx, jobID, err)
}

func isStopSignal(ctx context.Context, err error) bool {
	return errors.Is(err, ErrJobCancelled) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, storage.ErrNotFound) ||
		ctx.Err() != nil
}

func loadSettings(ctx context.Context, store SettingsStore, userID string) *types.UserSettings {
	settings, err := store.GetSettings(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Failed to load settings for user %s: %v", userID, err)
		}
		return &types.UserSettings{UserID: userID}
	}
	return settings
}

var unsafeFilenameChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)

// remoteFilename names the uploaded object after the job title when known
func remoteFilename(job *types.Job) string {
	ext := filepath.Ext(job.FilePath)
	if ext == "" {
		ext = "." + job.Kind.Extension()
	}
	title := strings.TrimSpace(unsafeFilenameChars.ReplaceAllString(job.Title, " "))
	if title == "" {
		return job.ID + ext
	}
	if len(title) > 180 {
		title = title[:180]
	}
	return fmt.Sprintf("%s%s", title, ext)
}
