package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/engine"
	"github.com/pipetune/pipetune/internal/metrics"
)

// WebSocket message types for the insights stream.
const (
	MessageTypeInsights  = "insights"
	MessageTypeError     = "error"
	MessageTypeHeartbeat = "heartbeat"
)

// WSMessage is one frame on the insights stream.
type WSMessage struct {
	Type      string                            `json:"type"`
	Insights  *engine.SystemPerformanceInsights `json:"insights,omitempty"`
	Error     string                            `json:"error,omitempty"`
	Timestamp time.Time                         `json:"timestamp"`
}

// insightsStreamInterval is how often a fresh insights frame is pushed.
const insightsStreamInterval = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards connect cross-origin from operator hosts.
		return true
	},
}

// wsConnection is one active insights subscriber.
type wsConnection struct {
	conn      *websocket.Conn
	server    *Server
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	sessionID string
}

// handleInsightsStream upgrades the connection and pushes insights frames
// until the client disconnects or the server stops.
func (s *Server) handleInsightsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsc := &wsConnection{
		conn:      conn,
		server:    s,
		done:      make(chan struct{}),
		sessionID: fmt.Sprintf("ws-%d", time.Now().UnixNano()),
	}

	metrics.WebSocketConnections.Inc()
	s.logger.Debug("insights stream opened", zap.String("session", wsc.sessionID))
	wsc.run()
}

func (wsc *wsConnection) run() {
	defer func() {
		wsc.close()
		wsc.conn.Close()
		metrics.WebSocketConnections.Dec()
		wsc.server.logger.Debug("insights stream closed", zap.String("session", wsc.sessionID))
	}()

	// Drain client frames so pings and close frames are processed.
	go wsc.readLoop()

	// First frame immediately, then on the interval.
	wsc.pushInsights()

	pushTicker := time.NewTicker(insightsStreamInterval)
	defer pushTicker.Stop()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-wsc.server.ctx.Done():
			return
		case <-wsc.done:
			return
		case <-pushTicker.C:
			wsc.pushInsights()
		case <-heartbeat.C:
			wsc.send(&WSMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now()})
		}
	}
}

func (wsc *wsConnection) readLoop() {
	for {
		if _, _, err := wsc.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsc.server.logger.Debug("websocket read error",
					zap.String("session", wsc.sessionID), zap.Error(err))
			}
			wsc.close()
			return
		}
	}
}

func (wsc *wsConnection) pushInsights() {
	insights, err := wsc.server.engine.GetSystemInsights(wsc.server.ctx, time.Hour)
	if err != nil {
		if errors.Is(err, engine.ErrEngineClosed) {
			wsc.close()
			return
		}
		wsc.send(&WSMessage{
			Type:      MessageTypeError,
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	wsc.send(&WSMessage{
		Type:      MessageTypeInsights,
		Insights:  insights,
		Timestamp: time.Now(),
	})
}

func (wsc *wsConnection) send(msg *WSMessage) {
	wsc.mu.Lock()
	defer wsc.mu.Unlock()
	wsc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := wsc.conn.WriteJSON(msg); err != nil {
		wsc.close()
	}
}

func (wsc *wsConnection) close() {
	wsc.closeOnce.Do(func() { close(wsc.done) })
}
