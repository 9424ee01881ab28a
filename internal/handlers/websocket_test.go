package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/ternarybob/docket/internal/services/events"
)

var testTime = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

type wsEnv struct {
	handler *WebSocketHandler
	events  interfaces.EventService
	server  *httptest.Server
}

func newWSEnv(t *testing.T, throttle string) *wsEnv {
	t.Helper()
	logger := arbor.NewLogger()

	controller := &mockController{}
	controller.On("Pools").Return([]models.PoolStatus{{Phase: models.PhaseIndex, State: models.PoolStateIdle}})
	controller.On("LiveCount").Return(models.LiveCount{Freshness: models.FreshnessStale})

	eventService := events.NewService(logger)
	handler, err := NewWebSocketHandler(eventService, controller, logger, &common.WebSocketConfig{Enabled: true, ThrottleInterval: throttle})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(func() {
		handler.Close()
		server.Close()
		eventService.Close()
	})
	return &wsEnv{handler: handler, events: eventService, server: server}
}

func (e *wsEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// The status message is sent after registration, so broadcasts after it reach this client
	msg := readMessage(t, conn)
	require.Equal(t, "status", msg.Type)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketStatusOnConnect(t *testing.T) {
	env := newWSEnv(t, "")
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg.Type)
	payload := msg.Payload.(map[string]interface{})
	assert.NotEmpty(t, payload["server_instance_id"])
	assert.Len(t, payload["pools"], 1)

	require.Eventually(t, func() bool { return env.handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketBroadcastsToAllClients(t *testing.T) {
	env := newWSEnv(t, "")
	first := env.dial(t)
	second := env.dial(t)

	err := env.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventPoolStateChanged,
		Payload: models.PoolStatus{Phase: models.PhaseIndex, State: models.PoolStateRunning, Workers: 4},
	})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, "pool_state", msg.Type)
		assert.Equal(t, "running", msg.Payload.(map[string]interface{})["state"])
	}
}

func TestWebSocketThrottlesCompletedJobs(t *testing.T) {
	env := newWSEnv(t, "1h")
	conn := env.dial(t)
	ctx := context.Background()

	done := models.NewIndexJob(1, testTime)
	done.Status = models.JobStatusDone
	done.ResultCount = 10

	failed := models.NewIndexJob(2, testTime)
	failed.Status = models.JobStatusFailed
	failed.Attempts = 3
	failed.ErrorKind = models.ErrorKindCaptcha

	require.NoError(t, env.events.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCompleted, Payload: done}))
	require.NoError(t, env.events.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCompleted, Payload: done}))
	require.NoError(t, env.events.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobFailed, Payload: failed}))

	first := readMessage(t, conn)
	assert.Equal(t, "job_update", first.Type)
	assert.Equal(t, "index:1", first.Payload.(map[string]interface{})["id"])
	assert.Equal(t, float64(10), first.Payload.(map[string]interface{})["cases_found"])

	// The second completion is dropped; failures are never throttled
	second := readMessage(t, conn)
	assert.Equal(t, "job_update", second.Type)
	assert.Equal(t, "index:2", second.Payload.(map[string]interface{})["id"])
	assert.Equal(t, "captcha", second.Payload.(map[string]interface{})["error_type"])
}

func TestWebSocketLiveCountAndRequeue(t *testing.T) {
	env := newWSEnv(t, "")
	conn := env.dial(t)
	ctx := context.Background()

	require.NoError(t, env.events.PublishSync(ctx, interfaces.Event{Type: interfaces.EventLiveCountRefreshed, Payload: &models.PipelineSnapshot{}}))
	msg := readMessage(t, conn)
	assert.Equal(t, "live_count", msg.Type)
	assert.Equal(t, "stale", msg.Payload.(map[string]interface{})["status"])

	require.NoError(t, env.events.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventJobsRequeued,
		Payload: models.RequeueSummary{Phase: models.PhaseDetail, Requeued: 12},
	}))
	msg = readMessage(t, conn)
	assert.Equal(t, "jobs_requeued", msg.Type)
	assert.Equal(t, float64(12), msg.Payload.(map[string]interface{})["requeued"])
}
