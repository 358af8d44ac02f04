package services

import (
	"context"
	"fetchrelay/storage"
	"fetchrelay/types"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps every published event per user
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]types.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]types.Event)}
}

func (p *recordingPublisher) Publish(userID string, event types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[userID] = append(p.events[userID], event)
}

func (p *recordingPublisher) For(userID string) []types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Event(nil), p.events[userID]...)
}

// statuses returns the status sequence of job_update events for jobID
func (p *recordingPublisher) statuses(userID, jobID string) []types.JobStatus {
	var out []types.JobStatus
	for _, e := range p.For(userID) {
		if e.Type == types.EventJobUpdate && e.Job != nil && e.Job.ID == jobID {
			out = append(out, e.Job.Status)
		}
	}
	return out
}

// stubFetcher stands in for yt-dlp. It replays updates and leaves a sparse
// artifact of size bytes behind.
type stubFetcher struct {
	mu       sync.Mutex
	dir      string
	size     int64
	info     *types.MediaInfo
	probeErr error
	fetchErr error
	updates  []ProgressUpdate
	block    chan struct{}
	started  chan string
	probes   int
	fetches  int
	lastReq  FetchRequest
}

func newStubFetcher(t *testing.T, size int64) *stubFetcher {
	t.Helper()
	return &stubFetcher{
		dir:  t.TempDir(),
		size: size,
		info: &types.MediaInfo{Title: "Never Gonna Give You Up", Thumbnail: "https://i.ytimg.com/vi/dQw4w9WgXcQ/hq.jpg", Duration: 213},
		updates: []ProgressUpdate{
			{Status: types.JobStatusDownloading, Progress: 10, Speed: "1.00MiB/s", ETA: "00:09"},
			{Status: types.JobStatusDownloading, Progress: 55, Speed: "1.20MiB/s", ETA: "00:04"},
			{Status: types.JobStatusDownloading, Progress: 100},
			{Status: types.JobStatusConverting, Progress: 0},
			{Status: types.JobStatusConverting, Progress: 80},
		},
	}
}

func (f *stubFetcher) Probe(ctx context.Context, url string, opts FetchOptions) (*types.MediaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.probeErr != nil {
		return nil, &ProbeError{URL: url, Err: f.probeErr}
	}
	info := *f.info
	return &info, nil
}

func (f *stubFetcher) Fetch(ctx context.Context, req FetchRequest, onProgress func(ProgressUpdate) error) (*Artifact, error) {
	f.mu.Lock()
	f.fetches++
	f.lastReq = req
	updates, block, started, fetchErr := f.updates, f.block, f.started, f.fetchErr
	f.mu.Unlock()

	for _, u := range updates {
		if onProgress != nil {
			if err := onProgress(u); err != nil {
				return nil, err
			}
		}
	}
	if started != nil {
		started <- req.JobID
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &FetchError{Reason: "fetch cancelled", Err: ctx.Err()}
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	path := filepath.Join(f.dir, req.JobID+"."+req.Kind.Extension())
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := file.Truncate(f.size); err != nil {
		return nil, err
	}
	return &Artifact{Path: path, Size: f.size}, nil
}

func (f *stubFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// uploadServer is a minimal resumable-upload endpoint
type uploadServer struct {
	*httptest.Server
	createCode int
	patches    atomic.Int32
	deletes    atomic.Int32
}

func newUploadServer(t *testing.T, createCode int) *uploadServer {
	t.Helper()
	s := &uploadServer{createCode: createCode}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if s.createCode != http.StatusCreated {
				w.WriteHeader(s.createCode)
				w.Write([]byte("remote storage unavailable"))
				return
			}
			w.Header().Set("Location", "/files/upload-1")
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			offset, _ := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
			n, _ := io.Copy(io.Discard, r.Body)
			s.patches.Add(1)
			w.Header().Set("Upload-Offset", strconv.FormatInt(offset+n, 10))
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			s.deletes.Add(1)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// seedJob stores a job directly, bypassing the state machine
func seedJob(t *testing.T, store *storage.MemoryStore, job *types.Job) *types.Job {
	t.Helper()
	if job.UserID == "" {
		job.UserID = "user-1"
	}
	if job.Kind == "" {
		job.Kind = types.KindVideo
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = job.CreatedAt
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0644))
	return path
}

func waitForStatus(t *testing.T, m *StateMachine, jobID string, want types.JobStatus) *types.Job {
	t.Helper()
	var job *types.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}
