package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler receives what a Conn reads. OnText may return a reply.
type Handler interface {
	OnBinary(data []byte) error
	OnText(msg Message) (*Message, error)
}

// Conn 单个 WebSocket 连接: one reader (Serve) and one writer goroutine.
type Conn struct {
	ID   string
	conn *websocket.Conn
	cfg  *Config
	log  *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Upgrade 升级HTTP连接为WebSocket
func Upgrade(w http.ResponseWriter, r *http.Request, cfg *Config, log *zap.Logger) (*Conn, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	up := websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.checkOrigin,
	}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Conn{
		ID:   id,
		conn: ws,
		cfg:  cfg,
		log:  log.With(zap.String("conn", id)),
		send: make(chan []byte, cfg.SendBufferSize),
		done: make(chan struct{}),
	}, nil
}

// Send queues msg without blocking; it reports false when the peer is too
// slow or the connection is closed.
func (c *Conn) Send(msg Message) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 关闭连接, safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Serve reads until the peer disconnects or ctx ends.
func (c *Conn) Serve(ctx context.Context, h Handler) error {
	defer c.Close()
	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.closeGracefully()
		case <-c.done:
		}
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				c.log.Warn("websocket read failed", zap.Error(err))
				return err
			}
			return nil
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		switch kind {
		case websocket.BinaryMessage:
			if err := h.OnBinary(data); err != nil {
				c.Send(Message{Type: MessageTypeError, Error: err.Error()})
			}
		case websocket.TextMessage:
			c.handleText(h, data)
		}
	}
}

func (c *Conn) handleText(h Handler, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Send(Message{Type: MessageTypeError, Error: "invalid message"})
		return
	}
	if msg.Type == MessageTypePing {
		c.Send(Message{Type: MessageTypePong, Seq: msg.Seq})
		return
	}
	reply, err := h.OnText(msg)
	if err != nil {
		c.Send(Message{Type: MessageTypeError, Seq: msg.Seq, Error: err.Error()})
		return
	}
	if reply != nil {
		if reply.Seq == 0 {
			reply.Seq = msg.Seq
		}
		c.Send(*reply)
	}
}

// closeGracefully 发送关闭帧后断开
func (c *Conn) closeGracefully() {
	deadline := time.Now().Add(c.cfg.WriteWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
	c.Close()
}

// writePump 发送消息的协程
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
