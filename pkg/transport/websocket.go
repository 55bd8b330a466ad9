package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/getmockd/gqlsubs/pkg/logging"
	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// DefaultReadLimit is the maximum size of one inbound frame (1MB).
const DefaultReadLimit = 1 << 20

// WebSocketOptions configures both WebSocket bindings.
type WebSocketOptions struct {
	// KeepAlive is the interval between ka messages. Zero disables the ticker.
	KeepAlive time.Duration
	// ReadLimit caps the size of one inbound frame. Zero means DefaultReadLimit.
	ReadLimit int64
	// WriteTimeout bounds a single frame write. Zero means no bound.
	WriteTimeout time.Duration
	// InsecureSkipVerify disables the origin check.
	InsecureSkipVerify bool
	// OriginPatterns lists additional allowed origins (coder binding only).
	OriginPatterns []string
}

func (o WebSocketOptions) readLimit() int64 {
	if o.ReadLimit > 0 {
		return o.ReadLimit
	}
	return DefaultReadLimit
}

// WebSocketHandler serves the graphql-ws subprotocol over
// github.com/coder/websocket.
type WebSocketHandler struct {
	registry *subscriptions.Registry
	opts     WebSocketOptions
	accept   websocket.AcceptOptions
	logger   *slog.Logger
}

// NewWebSocketHandler creates a handler that feeds every connection into
// registry.
func NewWebSocketHandler(registry *subscriptions.Registry, opts WebSocketOptions, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		opts:     opts,
		accept: websocket.AcceptOptions{
			Subprotocols:       []string{subscriptions.Subprotocol},
			InsecureSkipVerify: opts.InsecureSkipVerify,
			OriginPatterns:     opts.OriginPatterns,
		},
		logger: logging.Component(logger, "websocket"),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		// Accept has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if conn.Subprotocol() != subscriptions.Subprotocol {
		h.logger.Info("rejecting connection without graphql-ws subprotocol", "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusPolicyViolation, "client must speak the "+subscriptions.Subprotocol+" subprotocol")
		return
	}
	conn.SetReadLimit(h.opts.readLimit())

	c := &wsConn{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: h.opts.WriteTimeout,
	}
	h.logger.Debug("connection opened", "conn", c.id, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer func() {
		h.registry.Disconnect(context.WithoutCancel(ctx), c)
		_ = conn.CloseNow()
		h.logger.Debug("connection closed", "conn", c.id)
	}()

	if h.opts.KeepAlive > 0 {
		go runKeepAlive(ctx, h.opts.KeepAlive, func(ctx context.Context) error {
			return h.registry.KeepAlive(ctx, c)
		})
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			h.logReadError(c.id, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		h.registry.HandleRaw(ctx, c, data)
	}
}

func (h *WebSocketHandler) logReadError(id string, err error) {
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		return
	case status == websocket.StatusMessageTooBig:
		h.logger.Warn("frame exceeded read limit", "conn", id)
	case errors.Is(err, context.Canceled):
		return
	default:
		h.logger.Debug("read failed", "conn", id, "error", err)
	}
}

// wsConn adapts a coder/websocket connection to subscriptions.Connection.
type wsConn struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// runKeepAlive calls send every interval until ctx is done or send fails.
func runKeepAlive(ctx context.Context, interval time.Duration, send func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(ctx); err != nil {
				return
			}
		}
	}
}
