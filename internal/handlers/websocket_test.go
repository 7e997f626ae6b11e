package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

func newWSHarness(t *testing.T, cfg *common.Config) (*WebSocketHandler, *websocket.Conn) {
	t.Helper()
	handler := NewWebSocketHandler(cfg, &stubEvents{}, common.GetLogger())
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)
	t.Cleanup(handler.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return handler.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)
	return handler, conn
}

func TestWebSocket_BroadcastsJobEvents(t *testing.T) {
	handler, conn := newWSHarness(t, common.NewDefaultConfig())

	job := &models.Job{ID: "job-1", Status: models.JobStatusCompleted, Progress: 100}
	require.NoError(t, handler.handleJobEvent(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobCompleted,
		Payload: job,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(interfaces.EventJobCompleted), msg.Type)
	assert.Equal(t, "job-1", msg.Job.JobID)
	assert.Equal(t, float64(100), msg.Job.Progress)
}

func TestWebSocket_IgnoresNonJobPayloads(t *testing.T) {
	handler := NewWebSocketHandler(common.NewDefaultConfig(), &stubEvents{}, common.GetLogger())
	defer handler.Close()

	err := handler.handleJobEvent(context.Background(), interfaces.Event{
		Type:    interfaces.EventCacheCompaction,
		Payload: map[string]int{"removed": 3},
	})
	assert.NoError(t, err)
}

func TestWebSocket_WhitelistFiltersEvents(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.WebSocket.AllowedEvents = []string{"job_completed"}
	handler := NewWebSocketHandler(cfg, &stubEvents{}, common.GetLogger())
	defer handler.Close()

	assert.True(t, handler.shouldBroadcast(interfaces.EventJobCompleted))
	assert.False(t, handler.shouldBroadcast(interfaces.EventJobQueued))
}

func TestWebSocket_ProgressThrottled(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.WebSocket.ThrottleIntervals = map[string]string{"job_progress": "1h"}
	handler := NewWebSocketHandler(cfg, &stubEvents{}, common.GetLogger())
	defer handler.Close()

	// First event passes the limiter, the burst is spent after that.
	assert.True(t, handler.shouldBroadcast(interfaces.EventJobProgress))
	assert.False(t, handler.shouldBroadcast(interfaces.EventJobProgress))

	// Lifecycle events have no throttler and always pass.
	assert.True(t, handler.shouldBroadcast(interfaces.EventJobCompleted))
	assert.True(t, handler.shouldBroadcast(interfaces.EventJobCompleted))
}

func TestWebSocket_InvalidThrottleIntervalIgnored(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.WebSocket.ThrottleIntervals = map[string]string{"job_progress": "soon"}
	handler := NewWebSocketHandler(cfg, &stubEvents{}, common.GetLogger())
	defer handler.Close()

	assert.True(t, handler.shouldBroadcast(interfaces.EventJobProgress))
	assert.True(t, handler.shouldBroadcast(interfaces.EventJobProgress))
}
