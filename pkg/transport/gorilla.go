package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/getmockd/gqlsubs/pkg/logging"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

const (
	defaultPongWait = 60 * time.Second
	controlTimeout  = time.Second
)

// GorillaHandler serves the graphql-ws subprotocol over
// github.com/gorilla/websocket. It behaves like WebSocketHandler and adds
// ping/pong liveness checks.
type GorillaHandler struct {
	registry *subscriptions.Registry
	opts     WebSocketOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewGorillaHandler creates a gorilla-backed handler for registry.
func NewGorillaHandler(registry *subscriptions.Registry, opts WebSocketOptions, logger *slog.Logger) *GorillaHandler {
	h := &GorillaHandler{
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{subscriptions.Subprotocol},
		},
		logger: logging.Component(logger, "websocket"),
	}
	if opts.InsecureSkipVerify {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return h
}

func (h *GorillaHandler) pongWait() time.Duration {
	if h.opts.KeepAlive > 0 {
		return 3 * h.opts.KeepAlive
	}
	return defaultPongWait
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *GorillaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if conn.Subprotocol() != subscriptions.Subprotocol {
		h.logger.Info("rejecting connection without graphql-ws subprotocol", "remote", r.RemoteAddr)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client must speak the "+subscriptions.Subprotocol+" subprotocol")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
		_ = conn.Close()
		return
	}

	c := &gorillaConn{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: h.opts.WriteTimeout,
	}
	h.logger.Debug("connection opened", "conn", c.id, "remote", r.RemoteAddr)

	pongWait := h.pongWait()
	conn.SetReadLimit(h.opts.readLimit())
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer func() {
		h.registry.Disconnect(context.WithoutCancel(ctx), c)
		_ = conn.Close()
		h.logger.Debug("connection closed", "conn", c.id)
	}()

	if h.opts.KeepAlive > 0 {
		go runKeepAlive(ctx, h.opts.KeepAlive, func(ctx context.Context) error {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlTimeout)); err != nil {
				return err
			}
			return h.registry.KeepAlive(ctx, c)
		})
	}

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", "conn", c.id, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if typ != websocket.TextMessage {
			continue
		}
		h.registry.HandleRaw(ctx, c, data)
	}
}

// gorillaConn adapts a gorilla connection to subscriptions.Connection.
// gorilla allows one concurrent writer, so writes hold mu.
type gorillaConn struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (c *gorillaConn) ID() string { return c.id }

func (c *gorillaConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if c.writeTimeout > 0 {
		if d := time.Now().Add(c.writeTimeout); deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
	return c.conn.Close()
}
