package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/observe/pkg/observe"
	"github.com/vango-dev/observe/pkg/session"
)

var errSendQueueFull = errors.New("send queue full")

// conn serves one client. readLoop runs on the handler goroutine; writeLoop
// is the only writer of data frames.
type conn struct {
	ws     *websocket.Conn
	sess   *session.Session
	config *Config
	logger *slog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once

	// subs maps handle strings to the key they watch.
	mu   sync.Mutex
	subs map[string]string
}

func newConn(ws *websocket.Conn, sess *session.Session, config *Config, logger *slog.Logger) *conn {
	return &conn{
		ws:     ws,
		sess:   sess,
		config: config,
		logger: logger.With("session_id", sess.ID),
		send:   make(chan []byte, config.SendQueue),
		done:   make(chan struct{}),
		subs:   make(map[string]string),
	}
}

// enqueue queues f for writeLoop. A full queue disconnects the client.
func (c *conn) enqueue(f *ServerFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("frame encode error", "op", f.Op, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("client too slow, disconnecting", "queued", len(c.send))
		c.stop(errSendQueueFull)
	}
}

// stop ends both loops. Later calls do nothing.
func (c *conn) stop(cause error) {
	c.once.Do(func() {
		close(c.done)
		code, text := websocket.CloseNormalClosure, ""
		if cause != nil {
			code, text = websocket.ClosePolicyViolation, cause.Error()
		}
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

// readLoop reads client frames until the connection fails or stop is called.
func (c *conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(c.config.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		var req ClientFrame
		if err := json.Unmarshal(msg, &req); err != nil {
			c.logger.Debug("frame decode error", "error", err)
			c.enqueue(errorFrame(nil, CodeBadFrame, err))
			continue
		}
		c.handle(ctx, &req)
	}
}

// writeLoop sends queued frames and heartbeat pings.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write error", "error", err)
				c.stop(nil)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping error", "error", err)
				c.stop(nil)
				return
			}
		}
	}
}

func (c *conn) handle(ctx context.Context, req *ClientFrame) {
	switch req.Op {
	case OpRead:
		raw, err := c.sess.Read(req.Key)
		if err != nil {
			c.enqueue(errorFrame(req, errorCode(err), err))
			return
		}
		c.enqueue(&ServerFrame{Op: OpResult, ID: req.ID, Key: req.Key, Value: raw})

	case OpWrite:
		if err := c.sess.Write(ctx, req.Key, req.Value); err != nil {
			c.enqueue(errorFrame(req, errorCode(err), err))
			return
		}
		c.enqueue(&ServerFrame{Op: OpResult, ID: req.ID, Key: req.Key})

	case OpSubscribe:
		key := req.Key
		h, err := c.sess.Subscribe(key, func(ch session.Change) {
			c.enqueue(&ServerFrame{Op: OpChange, Key: ch.Key, Old: ch.Old, New: ch.New})
		})
		if err != nil {
			c.enqueue(errorFrame(req, errorCode(err), err))
			return
		}
		c.mu.Lock()
		c.subs[h.String()] = key
		c.mu.Unlock()
		// The current value follows the result so the client starts in sync.
		raw, err := c.sess.Read(key)
		if err != nil {
			c.enqueue(errorFrame(req, errorCode(err), err))
			return
		}
		c.enqueue(&ServerFrame{Op: OpResult, ID: req.ID, Key: key, Handle: h.String(), Value: raw})

	case OpUnsubscribe:
		h, err := observe.ParseHandle(req.Handle)
		if err != nil {
			c.enqueue(errorFrame(req, CodeBadHandle, err))
			return
		}
		c.mu.Lock()
		key, ok := c.subs[req.Handle]
		delete(c.subs, req.Handle)
		c.mu.Unlock()
		if ok {
			c.sess.Unsubscribe(key, h)
		}
		c.enqueue(&ServerFrame{Op: OpResult, ID: req.ID, Key: key, Handle: req.Handle})

	case OpKeys:
		c.enqueue(&ServerFrame{Op: OpResult, ID: req.ID, Keys: c.sess.Keys()})

	default:
		c.enqueue(errorFrame(req, CodeUnknownOp, errors.New("unknown op "+req.Op)))
	}
}
