package services

import (
	"context"
	"errors"
	"fetchrelay/resumable"
	"fetchrelay/storage"
	"fetchrelay/types"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DefaultAllowedDomains is the supported domain family for submissions
var DefaultAllowedDomains = []string{"youtube.com", "youtu.be"}

// InterruptedMessage is recorded on jobs found in flight at startup
const InterruptedMessage = "interrupted by server restart"

// Manager is the boundary the HTTP layer talks to. It validates requests,
// probes URLs, creates records and schedules runs.
type Manager struct {
	jobs            JobStore
	settings        SettingsStore
	machine         *StateMachine
	fetcher         Fetcher
	queue           JobQueue
	uploader        Uploader
	allowedDomains  []string
	defaultEndpoint string
}

// ManagerOptions carries the optional knobs of a Manager
type ManagerOptions struct {
	AllowedDomains  []string
	DefaultEndpoint string
}

// NewManager creates a new job manager
func NewManager(jobs JobStore, settings SettingsStore, machine *StateMachine, fetcher Fetcher, queue JobQueue, uploader Uploader, opts ManagerOptions) *Manager {
	domains := opts.AllowedDomains
	if len(domains) == 0 {
		domains = DefaultAllowedDomains
	}
	return &Manager{
		jobs:            jobs,
		settings:        settings,
		machine:         machine,
		fetcher:         fetcher,
		queue:           queue,
		uploader:        uploader,
		allowedDomains:  domains,
		defaultEndpoint: opts.DefaultEndpoint,
	}
}

// CreateJob validates and probes rawURL, then records and enqueues a job
func (m *Manager) CreateJob(ctx context.Context, userID, rawURL string, kind types.OutputKind, quality string) (*types.Job, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := m.validateURL(rawURL); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("%q is not one of audio, video", kind)}
	}
	if kind == types.KindVideo {
		if quality == "" {
			quality = types.QualityBest
		}
		if !types.ValidQuality(quality) {
			return nil, &ValidationError{Field: "quality", Reason: fmt.Sprintf("%q is not supported", quality)}
		}
	} else {
		quality = ""
	}

	settings := loadSettings(ctx, m.settings, userID)
	info, err := m.fetcher.Probe(ctx, rawURL, FetchOptions{Proxy: settings.Proxy, Cookies: settings.Cookies})
	if err != nil {
		var perr *ProbeError
		if !errors.As(err, &perr) {
			err = &ProbeError{URL: rawURL, Err: err}
		}
		return nil, err
	}

	job, err := m.machine.Create(ctx, &types.Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		URL:       rawURL,
		Title:     info.Title,
		Thumbnail: info.Thumbnail,
		Kind:      kind,
		Quality:   quality,
		Duration:  info.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := m.queue.Enqueue(ctx, job.ID); err != nil {
		log.Printf("Failed to enqueue job %s: %v", job.ID, err)
		failed, terr := m.machine.Transition(context.Background(), job.ID, types.JobStatusFailed, 0, fmt.Sprintf("failed to enqueue: %v", err))
		if terr == nil {
			return failed, nil
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Printf("Job %s created for user %s: %s %s", job.ID, userID, kind, rawURL)
	return job, nil
}

// ListJobs returns userID's jobs, newest first
func (m *Manager) ListJobs(ctx context.Context, userID string) ([]*types.Job, error) {
	return m.jobs.ListJobs(ctx, userID)
}

// GetJob returns jobID if userID owns it
func (m *Manager) GetJob(ctx context.Context, userID, jobID string) (*types.Job, error) {
	job, err := m.machine.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// CancelJob fails an active job and stops its run
func (m *Manager) CancelJob(ctx context.Context, userID, jobID string) (*types.Job, error) {
	if _, err := m.GetJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	job, err := m.machine.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if m.queue.Cancel(jobID) {
		log.Printf("Job %s cancelled while running", jobID)
	}
	return job, nil
}

// RetryJob re-queues a failed job
func (m *Manager) RetryJob(ctx context.Context, userID, jobID string) (*types.Job, error) {
	if _, err := m.GetJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	job, err := m.machine.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := m.queue.Enqueue(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// DeleteJob removes a job that is not being processed
func (m *Manager) DeleteJob(ctx context.Context, userID, jobID string) error {
	if _, err := m.GetJob(ctx, userID, jobID); err != nil {
		return err
	}
	return m.machine.Delete(ctx, jobID)
}

// GetSettings returns userID's settings, defaults if none were saved
func (m *Manager) GetSettings(ctx context.Context, userID string) (*types.UserSettings, error) {
	settings, err := m.settings.GetSettings(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return &types.UserSettings{UserID: userID}, nil
	}
	return settings, err
}

// SaveSettings validates and stores settings
func (m *Manager) SaveSettings(ctx context.Context, settings *types.UserSettings) error {
	if settings.Proxy != nil {
		if err := settings.Proxy.Validate(); err != nil {
			return &ValidationError{Field: "proxy", Reason: err.Error()}
		}
	}
	if settings.RemoteEndpoint != "" {
		if err := validateEndpoint(settings.RemoteEndpoint); err != nil {
			return err
		}
	}
	return m.settings.SaveSettings(ctx, settings)
}

// UpdateSettings saves settings submitted through the API. Settings are
// echoed without cookies, so an empty cookies field keeps the stored ones.
func (m *Manager) UpdateSettings(ctx context.Context, req *types.SettingsUpdateRequest) (*types.UserSettings, error) {
	settings := req.UserSettings
	if settings.Cookies == "" && !req.ClearCookies {
		current, err := m.GetSettings(ctx, settings.UserID)
		if err != nil {
			return nil, err
		}
		settings.Cookies = current.Cookies
	}
	if err := m.SaveSettings(ctx, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// TestRemote runs an upload self-test. An empty endpoint falls back to the
// user's setting, then the server default.
func (m *Manager) TestRemote(ctx context.Context, userID, endpoint string) (*resumable.Result, error) {
	if endpoint == "" {
		endpoint = loadSettings(ctx, m.settings, userID).RemoteEndpoint
	}
	if endpoint == "" {
		endpoint = m.defaultEndpoint
	}
	if endpoint == "" {
		return nil, &ValidationError{Field: "endpoint", Reason: "no remote endpoint configured"}
	}
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	return m.uploader.SelfTest(ctx, endpoint)
}

// RecoverInterrupted fails jobs a previous process left in flight and
// re-enqueues the ones still queued
func (m *Manager) RecoverInterrupted(ctx context.Context) error {
	inFlight, err := m.jobs.ListJobsByStatus(ctx, types.JobStatusDownloading, types.JobStatusConverting, types.JobStatusUploading)
	if err != nil {
		return fmt.Errorf("failed to list interrupted jobs: %w", err)
	}
	for _, job := range inFlight {
		if _, err := m.machine.Transition(ctx, job.ID, types.JobStatusFailed, job.Progress, InterruptedMessage); err != nil {
			log.Printf("Failed to mark job %s interrupted: %v", job.ID, err)
		}
	}

	queued, err := m.jobs.ListJobsByStatus(ctx, types.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for _, job := range queued {
		if err := m.queue.Enqueue(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to re-enqueue job %s: %w", job.ID, err)
		}
	}

	if len(inFlight) > 0 || len(queued) > 0 {
		log.Printf("Recovered %d interrupted and %d queued jobs", len(inFlight), len(queued))
	}
	return nil
}

func (m *Manager) validateURL(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "url", Reason: "is required"}
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an http or https URL"}
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range m.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return &ValidationError{Field: "url", Reason: fmt.Sprintf("host %s is not supported", host)}
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "endpoint", Reason: "must be an http or https URL"}
	}
	return nil
}
