// Package websocket exposes the player vocabulary over WebSocket. Text
// messages are fed through the same frame decoder as the TCP listener, so a
// client may batch several messages in one frame or split one across frames.
package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/5h1ro0o/loup-garou/domain"
	"github.com/5h1ro0o/loup-garou/frame"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	sendQueueSize = 256
)

var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrClosed        = errors.New("connection closed")
)

type Conn struct {
	id      string
	ws      *websocket.Conn
	maxSize int
	send    chan []byte
	done    chan struct{}

	closeOnce sync.Once

	room string
	name string
}

func NewConn(ws *websocket.Conn, maxSize int) *Conn {
	return &Conn{
		id:      uuid.New().String(),
		ws:      ws,
		maxSize: maxSize,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Room() string { return c.room }
func (c *Conn) Name() string { return c.name }

func (c *Conn) Join(room, name string) { c.room, c.name = room, name }
func (c *Conn) Leave()                 { c.room, c.name = "", "" }

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Serve blocks until the peer goes away, then runs h.Disconnect.
func (c *Conn) Serve(h domain.MessageHandler) {
	log := slog.With("clientId", c.id, "remote", c.ws.RemoteAddr().String(), "transport", "websocket")

	h.Connect(c)
	go c.writePump(log)

	defer func() {
		if r := recover(); r != nil {
			log.Error("session panic", "panic", r)
		}
		h.Disconnect(c)
		c.Close()
	}()

	c.readPump(h, log)
}

func (c *Conn) readPump(h domain.MessageHandler, log *slog.Logger) {
	dec := frame.NewDecoder(c.maxSize)

	if c.maxSize > 0 {
		c.ws.SetReadLimit(int64(c.maxSize))
	}
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error("read error", "error", err)
			}
			return
		}

		dec.Write(data)
		for {
			msg, err := dec.Next()
			if errors.Is(err, frame.ErrTooLarge) {
				log.Warn("closing session", "error", err)
				return
			}
			if err != nil {
				log.Warn("discarded input", "error", err)
				continue
			}
			if msg == nil {
				break
			}
			h.Handle(c, msg)
		}
	}
}

func (c *Conn) writePump(log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("write error", "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Gateway upgrades HTTP requests and serves each connection with handler.
type Gateway struct {
	handler  domain.MessageHandler
	maxSize  int
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewGateway(h domain.MessageHandler, maxSize int) *Gateway {
	return &Gateway{
		handler: h,
		maxSize: maxSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}

	c := NewConn(ws, g.maxSize)
	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.conns, c)
			g.mu.Unlock()
		}()
		c.Serve(g.handler)
	}()
}

// Len reports the number of live connections.
func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close closes every live connection. Their Serve loops run Disconnect as
// they unwind.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
