package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fetchrelay/cmd"
	"fetchrelay/config"
	"fetchrelay/services"
	"fetchrelay/storage"
	"fetchrelay/types"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testUser = "test-user"

// TestHelper provides utilities for testing the fetchrelay server
type TestHelper struct {
	Server      *httptest.Server
	App         *cmd.Server
	Store       *storage.MemoryStore
	Fetcher     *scriptedFetcher
	ArtifactDir string
}

// NewTestHelper starts a server backed by memory storage and a scripted
// fetcher in place of yt-dlp
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Storage.ArtifactDir = t.TempDir()
	cfg.Queue.Workers = 2
	cfg.Reclaim.ThresholdBytes = 1

	store := storage.NewMemoryStore()
	fetcher := newScriptedFetcher(cfg.Storage.ArtifactDir)

	app, err := cmd.BuildServer(cfg, cmd.Options{Store: store, Fetcher: fetcher})
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))

	helper := &TestHelper{
		Server:      httptest.NewServer(app.Router),
		App:         app,
		Store:       store,
		Fetcher:     fetcher,
		ArtifactDir: cfg.Storage.ArtifactDir,
	}
	t.Cleanup(helper.Cleanup)
	return helper
}

// Cleanup stops the server and its workers
func (h *TestHelper) Cleanup() {
	h.Fetcher.Release()
	h.Server.Close()
	h.App.Shutdown()
}

// MakeRequest sends a request as testUser
func (h *TestHelper) MakeRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	return h.MakeRequestAs(t, testUser, method, path, body)
}

// MakeRequestAs sends a request with the given identity; an empty user sends
// no identity header
func (h *TestHelper) MakeRequestAs(t *testing.T, userID, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// GetJSON performs a GET request and decodes the JSON response
func (h *TestHelper) GetJSON(t *testing.T, path string, target interface{}) *http.Response {
	t.Helper()
	resp := h.MakeRequest(t, http.MethodGet, path, nil)
	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp
}

// PostJSON performs a POST request and decodes the JSON response
func (h *TestHelper) PostJSON(t *testing.T, path string, requestBody interface{}, target interface{}) *http.Response {
	t.Helper()
	resp := h.MakeRequest(t, http.MethodPost, path, requestBody)
	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp
}

// CreateJob submits a job and returns it
func (h *TestHelper) CreateJob(t *testing.T, url string, kind types.OutputKind) *types.Job {
	t.Helper()
	var created struct {
		Job *types.Job `json:"job"`
	}
	resp := h.PostJSON(t, "/api/jobs", types.CreateJobRequest{URL: url, Kind: kind}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, created.Job)
	return created.Job
}

// WaitForJobStatus polls the API until the job reaches status
func (h *TestHelper) WaitForJobStatus(t *testing.T, jobID string, status types.JobStatus, timeout time.Duration) *types.Job {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var resp struct {
			Job *types.Job `json:"job"`
		}
		r := h.GetJSON(t, "/api/jobs/"+jobID, &resp)
		if r.StatusCode == http.StatusOK && resp.Job != nil && resp.Job.Status == status {
			return resp.Job
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("Job %s did not reach %s within %v", jobID, status, timeout)
	return nil
}

// ConnectWebSocket opens the realtime channel for userID
func (h *TestHelper) ConnectWebSocket(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.Server.URL, "http") + "/api/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return h.App.Hub.ClientCount(userID) > 0
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

// AssertFileExists checks that path exists
func (h *TestHelper) AssertFileExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.NoError(t, err, "file should exist: %s", path)
}

// AssertFileNotExists checks that path is gone
func (h *TestHelper) AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "file should not exist: %s", path)
}

// scriptedFetcher stands in for yt-dlp: it reports a few progress steps and
// writes a small artifact. Hold makes fetches wait until Release.
type scriptedFetcher struct {
	dir      string
	probeErr atomic.Value

	mu   sync.Mutex
	gate chan struct{}
}

func newScriptedFetcher(dir string) *scriptedFetcher {
	return &scriptedFetcher{dir: dir}
}

func (f *scriptedFetcher) FailProbes(err error) {
	f.probeErr.Store(err)
}

func (f *scriptedFetcher) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate == nil {
		f.gate = make(chan struct{})
	}
}

func (f *scriptedFetcher) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *scriptedFetcher) Probe(ctx context.Context, url string, opts services.FetchOptions) (*types.MediaInfo, error) {
	if err, ok := f.probeErr.Load().(error); ok && err != nil {
		return nil, &services.ProbeError{URL: url, Err: err}
	}
	return &types.MediaInfo{Title: "Test Video", Thumbnail: "https://i.ytimg.com/vi/test/hq.jpg", Duration: 60}, nil
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req services.FetchRequest, onProgress func(services.ProgressUpdate) error) (*services.Artifact, error) {
	for _, p := range []int{0, 25, 50} {
		if err := onProgress(services.ProgressUpdate{Status: types.JobStatusDownloading, Progress: p, Speed: "1.00MiB/s", ETA: "00:03"}); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &services.FetchError{Reason: "fetch cancelled", Err: ctx.Err()}
		}
	}

	if err := onProgress(services.ProgressUpdate{Status: types.JobStatusDownloading, Progress: 100}); err != nil {
		return nil, err
	}

	path := filepath.Join(f.dir, req.JobID+"."+req.Kind.Extension())
	data := []byte("artifact for " + req.URL)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}
	return &services.Artifact{Path: path, Size: int64(len(data))}, nil
}

// newUploadEndpoint serves the resumable upload protocol and counts uploads
func newUploadEndpoint(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var completed atomic.Int32
	var mu sync.Mutex
	lengths := map[string]int64{}
	next := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPost:
			next++
			location := "/files/" + strconv.Itoa(next)
			lengths[location], _ = strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
			w.Header().Set("Location", location)
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			offset, _ := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
			n, _ := io.Copy(io.Discard, r.Body)
			offset += n
			if offset == lengths[r.URL.Path] {
				completed.Add(1)
			}
			w.Header().Set("Upload-Offset", strconv.FormatInt(offset, 10))
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &completed
}
