package connections

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snapncook/snapclient/internal/services/session"
	"github.com/snapncook/snapclient/pkg/logger"
)

// TimeoutConfig holds the various timeout settings for WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

// MessageAckRedirect tells the session the client has followed the
// pending redirect.
const MessageAckRedirect = "ack_redirect"

// ClientMessage is what a session stream client may send.
type ClientMessage struct {
	Type string `json:"type"`
}

// Manager tracks the open session stream connections.
type Manager struct {
	connections sync.Map

	mu       sync.RWMutex
	timeouts TimeoutConfig
}

func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		timeouts: timeouts,
	}
}

func (m *Manager) AddConnection(conn *websocket.Conn) {
	m.connections.Store(conn, struct{}{})
}

func (m *Manager) RemoveConnection(conn *websocket.Conn) {
	m.connections.Delete(conn)
}

func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

func (m *Manager) HasConnection(conn *websocket.Conn) bool {
	_, exists := m.connections.Load(conn)
	return exists
}

func (m *Manager) GetTimeouts() TimeoutConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeouts
}

// SetTimeouts applies to streams started afterwards.
func (m *Manager) SetTimeouts(timeouts TimeoutConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = timeouts
}

// Stream writes every snapshot from updates to conn until the client goes
// away or updates is closed. Client messages are passed to onMessage. It
// owns conn and closes it on return.
func (m *Manager) Stream(conn *websocket.Conn, updates <-chan session.Snapshot, onMessage func(ClientMessage)) {
	timeouts := m.GetTimeouts()

	m.AddConnection(conn)
	defer func() {
		m.RemoveConnection(conn)
		conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn(logger.HANDLER, "Session stream closed unexpectedly: %v", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
			if onMessage != nil {
				onMessage(msg)
			}
		}
	}()

	ticker := time.NewTicker(timeouts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(timeouts.WriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(timeouts.WriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug(logger.HANDLER, "Failed to write session snapshot: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeouts.WriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// CloseAll asks every open stream to close. Used on shutdown.
func (m *Manager) CloseAll() {
	deadline := time.Now().Add(m.GetTimeouts().WriteWait)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	m.connections.Range(func(key, value interface{}) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		return true
	})
}
