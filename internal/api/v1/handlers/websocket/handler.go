package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/snapncook/snapclient/internal/connections"
	"github.com/snapncook/snapclient/internal/services/session"
	"github.com/snapncook/snapclient/pkg/logger"
)

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The bridge listens on loopback; a page may connect from any
		// local origin.
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
)

// HandleSessionStream pushes the current session snapshot on connect and
// every change after it.
func HandleSessionStream(manager *connections.Manager, sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(logger.HANDLER, "Could not upgrade session stream: %v", err)
		return
	}

	updates, cancel := sessionService.Subscribe()
	defer cancel()

	logger.Debug(logger.HANDLER, "Session stream opened from %s", r.RemoteAddr)
	manager.Stream(conn, updates, func(msg connections.ClientMessage) {
		switch msg.Type {
		case connections.MessageAckRedirect:
			sessionService.AckRedirect()
		default:
			logger.Debug(logger.HANDLER, "Ignoring session stream message %q", msg.Type)
		}
	})
	logger.Debug(logger.HANDLER, "Session stream closed for %s", r.RemoteAddr)
}
