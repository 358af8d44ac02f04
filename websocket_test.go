package main

import (
	"fetchrelay/types"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEvent reads the next event, failing the test after timeout
func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) types.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))

	var event types.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

// TestWebSocketJobEvents follows a job from queued to completed
func TestWebSocketJobEvents(t *testing.T) {
	helper := NewTestHelper(t)
	conn := helper.ConnectWebSocket(t, testUser)

	job := helper.CreateJob(t, "https://youtu.be/dQw4w9WgXcQ", types.KindAudio)

	lastProgress := -1
	statuses := map[types.JobStatus]bool{}
	for {
		event := readEvent(t, conn, 5*time.Second)
		require.Equal(t, types.EventJobUpdate, event.Type)
		require.NotNil(t, event.Job)
		require.Equal(t, job.ID, event.Job.ID)
		assert.Equal(t, testUser, event.Job.UserID)

		assert.GreaterOrEqual(t, event.Job.Progress, lastProgress, "progress never goes backwards")
		lastProgress = event.Job.Progress
		statuses[event.Job.Status] = true

		if event.Job.Status == types.JobStatusCompleted {
			break
		}
	}

	assert.True(t, statuses[types.JobStatusDownloading])
	assert.Equal(t, 100, lastProgress)
}

func TestWebSocketCarriesTelemetry(t *testing.T) {
	helper := NewTestHelper(t)
	conn := helper.ConnectWebSocket(t, testUser)

	helper.CreateJob(t, "https://youtu.be/abc", types.KindVideo)

	for {
		event := readEvent(t, conn, 5*time.Second)
		if event.Job != nil && event.Job.Status == types.JobStatusDownloading && event.Speed != "" {
			assert.Equal(t, "1.00MiB/s", event.Speed)
			assert.Equal(t, "00:03", event.ETA)
			return
		}
	}
}

// TestWebSocketIsolatesUsers tests that events only reach the job owner
func TestWebSocketIsolatesUsers(t *testing.T) {
	helper := NewTestHelper(t)
	owner := helper.ConnectWebSocket(t, testUser)
	other := helper.ConnectWebSocket(t, "someone-else")

	job := helper.CreateJob(t, "https://youtu.be/abc", types.KindAudio)
	helper.WaitForJobStatus(t, job.ID, types.JobStatusCompleted, 5*time.Second)

	event := readEvent(t, owner, 2*time.Second)
	assert.Equal(t, job.ID, event.Job.ID)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := other.ReadMessage()
	require.Error(t, err)
	netErr, ok := err.(net.Error)
	require.True(t, ok, "expected a read timeout, got %v", err)
	assert.True(t, netErr.Timeout())
}

func TestWebSocketMultipleConnections(t *testing.T) {
	helper := NewTestHelper(t)
	first := helper.ConnectWebSocket(t, testUser)
	second := helper.ConnectWebSocket(t, testUser)
	require.Eventually(t, func() bool {
		return helper.App.Hub.ClientCount(testUser) == 2
	}, 2*time.Second, 10*time.Millisecond)

	job := helper.CreateJob(t, "https://youtu.be/abc", types.KindAudio)

	for _, conn := range []*websocket.Conn{first, second} {
		event := readEvent(t, conn, 5*time.Second)
		assert.Equal(t, job.ID, event.Job.ID)
	}
}

func TestWebSocketJobDeleted(t *testing.T) {
	helper := NewTestHelper(t)

	job := helper.CreateJob(t, "https://youtu.be/abc", types.KindAudio)
	helper.WaitForJobStatus(t, job.ID, types.JobStatusCompleted, 5*time.Second)

	conn := helper.ConnectWebSocket(t, testUser)
	resp := helper.MakeRequest(t, http.MethodDelete, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	event := readEvent(t, conn, 5*time.Second)
	assert.Equal(t, types.EventJobDeleted, event.Type)
	assert.Equal(t, job.ID, event.JobID)
	assert.Nil(t, event.Job)
}

func TestWebSocketRequiresUserID(t *testing.T) {
	helper := NewTestHelper(t)

	wsURL := "ws" + strings.TrimPrefix(helper.Server.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
