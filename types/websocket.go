package types

// Realtime event types pushed to connected clients
const (
	EventJobUpdate  = "job_update"
	EventJobDeleted = "job_deleted"
)

// Event is a realtime message delivered to every connection of a user
type Event struct {
	Type  string `json:"type"`
	Job   *Job   `json:"job,omitempty"`
	JobID string `json:"jobId,omitempty"`
	Speed string `json:"speed,omitempty"`
	ETA   string `json:"eta,omitempty"`
}

// NewJobUpdate builds a job_update event
func NewJobUpdate(job *Job, speed, eta string) Event {
	return Event{Type: EventJobUpdate, Job: job, Speed: speed, ETA: eta}
}

// NewJobDeleted builds a job_deleted event
func NewJobDeleted(jobID string) Event {
	return Event{Type: EventJobDeleted, JobID: jobID}
}
