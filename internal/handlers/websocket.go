package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame pushed to dashboard clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// DashboardStats snapshots coordinator state for the periodic dashboard frame
type DashboardStats struct {
	ActiveSatellites int       `json:"active_satellites"`
	QueuedJobs       int64     `json:"queued_jobs"`
	ScheduledJobs    int64     `json:"scheduled_jobs"`
	ProcessingPaused bool      `json:"processing_paused"`
	Timestamp        time.Time `json:"timestamp"`
}

// StatsProvider supplies the dashboard snapshot; implemented by the coordinator
type StatsProvider interface {
	DashboardStats() DashboardStats
}

// WebSocketHandler fans job and dashboard updates out to connected
// dashboard clients. Writes to a connection are serialized through a
// per-connection mutex; a failed write prunes the client.
type WebSocketHandler struct {
	logger             arbor.ILogger
	clients            map[*websocket.Conn]bool
	clientMutex        map[*websocket.Conn]*sync.Mutex
	mu                 sync.RWMutex
	config             common.WebSocketConfig
	statsProvider      StatsProvider
	dashboardThrottler *rate.Limiter
	serverInstanceID   string // Unique ID generated on startup - clients use to detect server restart
	done               chan struct{}
	closeOnce          sync.Once
}

// NewWebSocketHandler creates the broadcast hub
func NewWebSocketHandler(config common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		config:           config,
		serverInstanceID: uuid.New().String(),
		done:             make(chan struct{}),
	}

	interval := 5 * time.Second
	if config.DashboardUpdateInterval != "" {
		if parsed, err := time.ParseDuration(config.DashboardUpdateInterval); err == nil && parsed > 0 {
			interval = parsed
		} else if err != nil {
			logger.Warn().
				Err(err).
				Str("interval", config.DashboardUpdateInterval).
				Msg("Failed to parse dashboard update interval, using default")
		}
	}
	h.dashboardThrottler = rate.NewLimiter(rate.Every(interval), 1)

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Int("max_connections", config.MaxConnections).
		Bool("enabled", config.Enabled).
		Msg("WebSocket handler initialized")

	return h
}

// SetStatsProvider wires the coordinator in after construction
func (h *WebSocketHandler) SetStatsProvider(provider StatsProvider) {
	h.statsProvider = provider
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	if !h.config.Enabled {
		h.closeWith(conn, websocket.CloseInternalServerErr, "WebSocket support disabled")
		conn.Close()
		return
	}

	h.mu.Lock()
	if h.config.MaxConnections > 0 && len(h.clients) >= h.config.MaxConnections {
		h.mu.Unlock()
		h.closeWith(conn, websocket.CloseTryAgainLater, "Max connections reached")
		conn.Close()
		h.logger.Warn().
			Int("max_connections", h.config.MaxConnections).
			Msg("Rejected WebSocket client, connection cap reached")
		return
	}
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendToConn(conn, WSMessage{
		Type: "connection_established",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"timestamp":          time.Now().Format(time.RFC3339),
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// Broadcast sends an arbitrary typed frame to all connected clients
func (h *WebSocketHandler) Broadcast(messageType string, payload interface{}) {
	h.broadcast(WSMessage{Type: messageType, Payload: payload})
}

// JobUpdate pushes a job state change to all connected clients
func (h *WebSocketHandler) JobUpdate(job *models.Job) {
	if job == nil {
		return
	}
	h.broadcast(WSMessage{Type: "job_update", Payload: job})
}

// Error pushes an error frame to all connected clients
func (h *WebSocketHandler) Error(message string) {
	h.broadcast(WSMessage{
		Type: "error",
		Payload: map[string]interface{}{
			"message":   message,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// BroadcastDashboardStats pushes a dashboard snapshot, rate limited so a
// burst of job activity cannot flood clients
func (h *WebSocketHandler) BroadcastDashboardStats(stats DashboardStats) {
	if !h.dashboardThrottler.Allow() {
		return
	}
	h.broadcast(WSMessage{Type: "dashboard_update", Payload: stats})
}

// StartDashboardBroadcaster starts periodic dashboard updates
func (h *WebSocketHandler) StartDashboardBroadcaster() {
	ticker := time.NewTicker(time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				h.mu.RLock()
				clientCount := len(h.clients)
				h.mu.RUnlock()

				if clientCount == 0 || h.statsProvider == nil {
					continue
				}
				h.BroadcastDashboardStats(h.statsProvider.DashboardStats())
			}
		}
	}()
}

// Shutdown closes every client with a normal closure frame
func (h *WebSocketHandler) Shutdown() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for _, conn := range clients {
		h.closeWith(conn, websocket.CloseNormalClosure, "Server shutting down")
		conn.Close()
	}

	h.logger.Info().Int("clients_closed", len(clients)).Msg("WebSocket handler shut down")
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	var failed []*websocket.Conn
	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
			failed = append(failed, conn)
		}
	}

	// Prune clients whose writes failed
	if len(failed) > 0 {
		h.mu.Lock()
		for _, conn := range failed {
			delete(h.clients, conn)
			delete(h.clientMutex, conn)
			conn.Close()
		}
		h.mu.Unlock()
	}
}

func (h *WebSocketHandler) sendToConn(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

func (h *WebSocketHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
