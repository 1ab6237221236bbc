// Package transport exposes the bot over a websocket. Each connection
// speaks a small JSON protocol: inbound messages and button callbacks,
// outbound replies with action rows.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/bot"
)

const handleTimeout = 2 * time.Minute

// Inbound is one client frame.
type Inbound struct {
	Type     string `json:"type"` // "message", "command", or "callback"
	ChatID   int64  `json:"chat_id"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Outbound is one server frame.
type Outbound struct {
	Type  string     `json:"type"` // "reply" or "error"
	Reply *bot.Reply `json:"reply,omitempty"`
	Error string     `json:"error,omitempty"`
}

// Handler processes chat events. *bot.Service satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev bot.Event) (*bot.Reply, error)
}

// Server upgrades HTTP requests and pumps events through the handler.
type Server struct {
	handler  Handler
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer builds a websocket server over handler.
func NewServer(handler Handler, log *zap.Logger) *Server {
	return &Server{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The chat protocol carries no cookies or ambient
			// credentials, so cross-origin upgrades are safe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeHTTP upgrades the connection and serves it until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &clientConn{conn: conn}
	s.log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))

	for {
		var in Inbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("client read failed", zap.Error(err))
			}
			return
		}
		// Replies can take a while (chain execution waits for
		// receipts), so each event gets its own goroutine; the write
		// mutex keeps frames intact.
		go s.dispatch(r.Context(), c, in)
	}
}

func (s *Server) dispatch(ctx context.Context, c *clientConn, in Inbound) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	reply, err := s.handler.Handle(ctx, toEvent(in))
	if err != nil {
		s.log.Error("event handling failed",
			zap.Int64("chat", in.ChatID), zap.Error(err))
		c.send(s.log, Outbound{Type: "error", Error: "internal error, please retry"})
		return
	}
	if reply != nil {
		c.send(s.log, Outbound{Type: "reply", Reply: reply})
	}
}

func toEvent(in Inbound) bot.Event {
	ev := bot.Event{ChatID: in.ChatID, Username: in.Username}
	switch in.Type {
	case "command":
		ev.Command = in.Text
	case "callback":
		ev.Callback = in.Data
	default:
		ev.Text = in.Text
	}
	return ev
}

// clientConn serializes writes; gorilla connections allow only one
// concurrent writer.
type clientConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *clientConn) send(log *zap.Logger, out Outbound) {
	data, err := json.Marshal(out)
	if err != nil {
		log.Error("failed to encode outbound frame", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn("client write failed", zap.Error(err))
	}
}
