package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/finthenticate/server/internal/domain"
	"github.com/finthenticate/server/internal/pkg/id"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 4096
)

// Server upgrades HTTP requests to sockets and registers them for event
// delivery. Clients receive a connected frame carrying the id they must echo
// in their login request.
type Server struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(registry *Registry, allowedOrigins []string, logger *slog.Logger) *Server {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	return &Server{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Handle upgrades the request, assigns a connection id and blocks reading
// until the client goes away. The id is random and server-assigned; client
// input never influences it.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := id.NewConnectionID()
	wc := &wsConn{conn: conn}
	s.registry.Add(connID, wc)
	s.logger.Info("client connected", "connectionId", connID)

	defer func() {
		s.registry.Remove(connID)
		conn.Close()
		s.logger.Info("client disconnected", "connectionId", connID)
	}()

	if err := wc.Send(Frame{
		Event: domain.EventConnected,
		Data:  map[string]any{"connectionId": connID},
	}); err != nil {
		return
	}

	conn.SetReadLimit(maxMessageSize)
	for {
		// Clients only listen on this socket; drain and ignore anything
		// they send until the connection drops.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
