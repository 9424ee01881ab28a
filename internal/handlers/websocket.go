package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"golang.org/x/time/rate"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard is served from a different origin during development
	},
}

// WSMessage is the envelope of every message pushed to dashboard clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// JobUpdate is the websocket view of one job transition
type JobUpdate struct {
	ID        string           `json:"id"`
	Phase     models.Phase     `json:"phase"`
	Label     string           `json:"label"`
	Status    models.JobStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	ErrorType models.ErrorKind `json:"error_type,omitempty"`
	Cases     int              `json:"cases_found"`
	Timestamp time.Time        `json:"timestamp"`
}

// StatusUpdate is sent to each client on connect
type StatusUpdate struct {
	ServerInstanceID string              `json:"server_instance_id"` // Clients clear state when this changes
	Pools            []models.PoolStatus `json:"pools"`
	LiveCount        models.LiveCount    `json:"live_count"`
}

// WebSocketHandler pushes job transitions, pool state and live count changes to dashboard clients
type WebSocketHandler struct {
	controller       interfaces.ScraperController
	logger           arbor.ILogger
	mu               sync.RWMutex
	clients          map[*websocket.Conn]*sync.Mutex
	jobThrottler     *rate.Limiter // nil disables throttling of completed-job updates
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and subscribes it to the event bus
func NewWebSocketHandler(eventService interfaces.EventService, controller interfaces.ScraperController, logger arbor.ILogger, config *common.WebSocketConfig) (*WebSocketHandler, error) {
	h := &WebSocketHandler{
		controller:       controller,
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && config.ThrottleInterval != "" {
		if interval := common.ParseDuration(config.ThrottleInterval, 0); interval > 0 {
			h.jobThrottler = rate.NewLimiter(rate.Every(interval), 1)
			logger.Debug().Str("interval", config.ThrottleInterval).Msg("Job update throttler initialized")
		}
	}

	if eventService != nil {
		if err := h.subscribe(eventService); err != nil {
			return nil, err
		}
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h, nil
}

func (h *WebSocketHandler) subscribe(eventService interfaces.EventService) error {
	subscriptions := map[interfaces.EventType]interfaces.EventHandler{
		interfaces.EventJobCompleted: func(ctx context.Context, event interfaces.Event) error {
			// Completions are the high-volume stream; dropped updates are recovered by polling
			if h.jobThrottler != nil && !h.jobThrottler.Allow() {
				return nil
			}
			h.broadcastJob(event)
			return nil
		},
		interfaces.EventJobFailed: func(ctx context.Context, event interfaces.Event) error {
			h.broadcastJob(event)
			return nil
		},
		interfaces.EventPoolStateChanged: func(ctx context.Context, event interfaces.Event) error {
			h.Broadcast("pool_state", event.Payload)
			return nil
		},
		interfaces.EventJobsRequeued: func(ctx context.Context, event interfaces.Event) error {
			h.Broadcast("jobs_requeued", event.Payload)
			return nil
		},
		interfaces.EventLiveCountRefreshed: func(ctx context.Context, event interfaces.Event) error {
			h.Broadcast("live_count", h.controller.LiveCount())
			return nil
		},
	}

	for eventType, handler := range subscriptions {
		if err := eventService.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *WebSocketHandler) broadcastJob(event interfaces.Event) {
	job, ok := event.Payload.(*models.Job)
	if !ok {
		return
	}
	h.Broadcast("job_update", JobUpdate{
		ID:        job.ID,
		Phase:     job.Phase,
		Label:     job.Label(),
		Status:    job.Status,
		Attempts:  job.Attempts,
		ErrorType: job.ErrorKind,
		Cases:     job.ResultCount,
		Timestamp: job.UpdatedAt,
	})
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, writeMu, WSMessage{Type: "status", Payload: StatusUpdate{
		ServerInstanceID: h.serverInstanceID,
		Pools:            h.controller.Pools(),
		LiveCount:        h.controller.LiveCount(),
	}})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Read until the client goes away; clients never send commands
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, writeMu *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send websocket message")
	}
}

// Broadcast sends a message to every connected client
func (h *WebSocketHandler) Broadcast(msgType string, payload interface{}) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, writeMu := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, writeMu)
	}
	h.mu.RUnlock()

	msg := WSMessage{Type: msgType, Payload: payload}
	for i, conn := range clients {
		h.send(conn, mutexes[i], msg)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, writeMu := range h.clients {
		writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		writeMu.Unlock()
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
}
