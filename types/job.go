package types

import "time"

// OutputKind is the artifact type a job produces
type OutputKind string

const (
	KindAudio OutputKind = "audio"
	KindVideo OutputKind = "video"
)

// Valid reports whether k is a supported output kind
func (k OutputKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// Extension returns the final artifact extension for the kind
func (k OutputKind) Extension() string {
	if k == KindVideo {
		return "mp4"
	}
	return "mp3"
}

// Quality tags accepted for video jobs
const (
	Quality360p  = "360p"
	Quality480p  = "480p"
	Quality720p  = "720p"
	Quality1080p = "1080p"
	QualityBest  = "best"
)

// ValidQuality reports whether q is a recognized video quality tag
func ValidQuality(q string) bool {
	switch q {
	case Quality360p, Quality480p, Quality720p, Quality1080p, QualityBest:
		return true
	}
	return false
}

// JobStatus represents the current lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusConverting  JobStatus = "converting"
	JobStatusUploading   JobStatus = "uploading"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// IsTerminal reports whether no further pipeline work happens in this state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether a worker is (or is about to be) processing the job
func (s JobStatus) IsActive() bool {
	switch s {
	case JobStatusQueued, JobStatusDownloading, JobStatusConverting, JobStatusUploading:
		return true
	}
	return false
}

// Job is one user-submitted fetch-and-relay unit of work
type Job struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	URL              string     `json:"url"`
	Title            string     `json:"title,omitempty"`
	Thumbnail        string     `json:"thumbnail,omitempty"`
	Kind             OutputKind `json:"kind"`
	Quality          string     `json:"quality,omitempty"`
	Duration         float64    `json:"duration,omitempty"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	FilePath         string     `json:"filePath,omitempty"`
	FileSize         int64      `json:"fileSize,omitempty"`
	UploadedToRemote bool       `json:"uploadedToRemote"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Clone returns a copy safe to hand to another goroutine
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// MediaInfo is what a metadata probe reports about a source URL
type MediaInfo struct {
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
}
