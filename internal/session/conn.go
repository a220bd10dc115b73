package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from the peer
	defaultMaxMessageSize = 512 * 1024 // 512KB
)

// conn wraps one WebSocket connection scoped to a single document. Writes
// are serialized by a mutex; reads run on a dedicated goroutine owned by
// the registry.
type conn struct {
	documentID string
	ws         *websocket.Conn
	logger     *zap.Logger

	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	explicit bool // closed by Disconnect, not by the transport
}

// dialConn opens a WebSocket connection for the document. The token, when
// set, rides along as a bearer Authorization header.
func dialConn(ctx context.Context, wsURL, documentID, token string, cfg Config, logger *zap.Logger) (*conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.WriteTimeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		documentID:   documentID,
		ws:           ws,
		logger:       logger,
		writeWait:    cfg.WriteTimeout,
		pongWait:     cfg.ReadTimeout,
		pingInterval: cfg.PingInterval,
		ctx:          connCtx,
		cancel:       cancel,
	}

	ws.SetReadLimit(cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	return c, nil
}

// send serializes a message and writes it to the socket. Fails closed with
// ErrNoActiveConnection once the connection is gone; nothing is buffered.
func (c *conn) send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNoActiveConnection
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	return nil
}

// readLoop pumps inbound frames into handler until the socket dies or the
// connection is closed. Runs on its own goroutine.
func (c *conn) readLoop(handler func(documentID string, frame []byte)) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.String("document_id", c.documentID),
					zap.Error(err))
			}
			return
		}

		handler(c.documentID, frame)
	}
}

// pingLoop keeps the connection alive. Runs on its own goroutine.
func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// close tears the connection down. explicit marks a caller-initiated
// disconnect, which suppresses any reconnect supervision.
func (c *conn) close(explicit bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.explicit = explicit
	c.mu.Unlock()

	c.cancel()
	return c.ws.Close()
}

// wasExplicit reports whether close was caller-initiated.
func (c *conn) wasExplicit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.explicit
}
