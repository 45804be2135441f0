// Package proxy relays a raw DevTools websocket between an API client and a
// session's target so external tools can drive the same page.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	sessionMgr *session.Manager
	log        *zap.Logger
}

func NewServer(sessionMgr *session.Manager, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		sessionMgr: sessionMgr,
		log:        log,
	}
}

// HandleDebugConnection upgrades the request and relays frames to the
// session's target until either side closes or the session ends.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessionMgr.Session(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	targetURL := sess.Target.WebSocketDebuggerURL
	log := s.log.With(zap.String("session", sessionID), zap.String("target", sess.Target.ID))

	// Dial the browser first so a failure can still be reported over HTTP.
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	browserConn, _, err := websocket.DefaultDialer.DialContext(ctx, targetURL, nil)
	if err != nil {
		log.Warn("failed to connect to target", zap.Error(err))
		http.Error(w, "Failed to connect to target: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer browserConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer clientConn.Close()
	log.Info("debug client connected")

	errChan := make(chan error, 2)
	go func() {
		errChan <- relay(clientConn, browserConn)
	}()
	go func() {
		errChan <- relay(browserConn, clientConn)
	}()

	running := 2
	select {
	case err = <-errChan:
		running--
	case <-sess.Done():
		err = errors.New("session closed")
	}
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Debug("relay ended", zap.Error(err))
	}
	// Closing both sockets unblocks the remaining relays.
	_ = clientConn.Close()
	_ = browserConn.Close()
	for ; running > 0; running-- {
		<-errChan
	}
	log.Info("debug client disconnected")
}

func relay(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
