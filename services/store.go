package services

import (
	"context"
	"fetchrelay/types"
)

// JobStore is the keyed job table the pipeline reads and writes
type JobStore interface {
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	UpdateJob(ctx context.Context, job *types.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context, userID string) ([]*types.Job, error)
	ListUploadedArtifacts(ctx context.Context, userID string) ([]*types.Job, error)
	ListJobsByStatus(ctx context.Context, statuses ...types.JobStatus) ([]*types.Job, error)
}

// SettingsStore holds per-user preferences
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (*types.UserSettings, error)
	SaveSettings(ctx context.Context, settings *types.UserSettings) error
}

// Publisher delivers realtime events to a user's connections
type Publisher interface {
	Publish(userID string, event types.Event)
}
