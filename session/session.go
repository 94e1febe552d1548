// Package session wraps one accepted TCP connection. A session owns its
// socket and its frame decoder; the goroutine running Serve is the only one
// that reads from the socket or touches the room association.
package session

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/5h1ro0o/loup-garou/domain"
	"github.com/5h1ro0o/loup-garou/frame"
)

var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrClosed        = errors.New("session closed")
)

type Options struct {
	ReadBufferSize int
	MaxFrameSize   int
	SendQueueSize  int
	// WriteTimeout bounds every socket write. Zero disables it.
	WriteTimeout time.Duration
	// IdleTimeout closes the session when nothing is read for this long.
	// Zero disables it.
	IdleTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadBufferSize: 1024,
		MaxFrameSize:   frame.DefaultMaxSize,
		SendQueueSize:  256,
		WriteTimeout:   10 * time.Second,
	}
}

type Conn struct {
	id   string
	conn net.Conn
	opts Options
	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	room string
	name string
}

func New(conn net.Conn, opts Options) *Conn {
	def := DefaultOptions()
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = def.ReadBufferSize
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = def.SendQueueSize
	}
	return &Conn{
		id:   uuid.New().String(),
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.SendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string           { return c.id }
func (c *Conn) Room() string         { return c.room }
func (c *Conn) Name() string         { return c.name }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Join(room, name string) { c.room, c.name = room, name }
func (c *Conn) Leave()                 { c.room, c.name = "", "" }

// Send queues data for the write pump. It never blocks.
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

// Close is safe to call more than once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the session is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Serve runs the session until the peer disconnects or the stream becomes
// unusable, then runs h.Disconnect and closes the socket.
func (c *Conn) Serve(h domain.MessageHandler) {
	log := slog.With("clientId", c.id, "remote", c.conn.RemoteAddr().String())

	h.Connect(c)
	go c.writePump(log)

	defer func() {
		if r := recover(); r != nil {
			log.Error("session panic", "panic", r)
		}
		h.Disconnect(c)
		c.Close()
	}()

	c.readLoop(h, log)
}

func (c *Conn) readLoop(h domain.MessageHandler, log *slog.Logger) {
	dec := frame.NewDecoder(c.opts.MaxFrameSize)
	buf := make([]byte, c.opts.ReadBufferSize)

	for {
		if c.opts.IdleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			if !c.dispatch(dec, h, log) {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info("peer closed connection")
			case errors.Is(err, net.ErrClosed):
				log.Debug("connection closed")
			default:
				log.Warn("read error", "error", err)
			}
			return
		}
		if n == 0 {
			log.Info("peer closed connection")
			return
		}
	}
}

// dispatch hands every complete message to h. It returns false when the
// stream cannot continue.
func (c *Conn) dispatch(dec *frame.Decoder, h domain.MessageHandler, log *slog.Logger) bool {
	for {
		msg, err := dec.Next()
		switch {
		case errors.Is(err, frame.ErrTooLarge):
			log.Warn("closing session", "error", err)
			return false
		case err != nil:
			log.Warn("discarded input", "error", err)
			continue
		case msg == nil:
			return true
		}
		h.Handle(c, msg)
	}
}

func (c *Conn) writePump(log *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if c.opts.WriteTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			}
			if _, err := c.conn.Write(data); err != nil {
				log.Warn("write error", "error", err)
				c.Close()
				return
			}
		}
	}
}
