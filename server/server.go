// Package server owns the listener pair: players on one TCP port, admins on
// another. The listener a connection arrived on picks its message handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/5h1ro0o/loup-garou/config"
	"github.com/5h1ro0o/loup-garou/domain"
	"github.com/5h1ro0o/loup-garou/hub"
	"github.com/5h1ro0o/loup-garou/protocol"
	"github.com/5h1ro0o/loup-garou/session"
	"github.com/5h1ro0o/loup-garou/websocket"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg   *config.Config
	rooms *hub.Hub
	opts  session.Options
	log   *slog.Logger

	players domain.MessageHandler
	admins  domain.MessageHandler
	gateway *websocket.Gateway

	playerLn net.Listener
	adminLn  net.Listener
	httpLn   net.Listener
	httpSrv  *http.Server

	mu       sync.Mutex
	sessions map[*session.Conn]struct{}
	wg       sync.WaitGroup
}

func New(cfg *config.Config, rooms *hub.Hub) *Server {
	players := protocol.NewPlayerHandler(rooms, cfg.Room.DefaultRoom)
	return &Server{
		cfg:   cfg,
		rooms: rooms,
		opts: session.Options{
			ReadBufferSize: cfg.Network.ReadBufferSize,
			MaxFrameSize:   cfg.Network.MaxFrameSize,
			SendQueueSize:  cfg.Network.SendQueueSize,
			WriteTimeout:   cfg.Network.WriteTimeout,
			IdleTimeout:    cfg.Network.IdleTimeout,
		},
		log:      slog.Default().With("component", "server"),
		players:  players,
		admins:   protocol.NewAdminHandler(rooms, cfg.Room.DefaultRoom),
		gateway:  websocket.NewGateway(players, cfg.Network.MaxFrameSize),
		sessions: make(map[*session.Conn]struct{}),
	}
}

// Listen binds every configured endpoint. On failure nothing stays bound.
func (s *Server) Listen() error {
	var err error
	host := s.cfg.Server.Host

	s.playerLn, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(s.cfg.Server.PlayerPort)))
	if err != nil {
		return fmt.Errorf("listen players: %w", err)
	}
	s.adminLn, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(s.cfg.Server.AdminPort)))
	if err != nil {
		s.playerLn.Close()
		return fmt.Errorf("listen admins: %w", err)
	}
	if s.cfg.Server.HTTPAddr != "" {
		s.httpLn, err = net.Listen("tcp", s.cfg.Server.HTTPAddr)
		if err != nil {
			s.playerLn.Close()
			s.adminLn.Close()
			return fmt.Errorf("listen http: %w", err)
		}
		s.httpSrv = &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	}
	return nil
}

func (s *Server) PlayerAddr() net.Addr { return s.playerLn.Addr() }
func (s *Server) AdminAddr() net.Addr  { return s.adminLn.Addr() }

// HTTPAddr is nil when the status listener is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Serve accepts on every bound listener until ctx is cancelled or one of
// them fails, then closes the listeners and every live session.
func (s *Server) Serve(ctx context.Context) error {
	if s.playerLn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.acceptLoop(gctx, s.playerLn, s.players, "player") })
	g.Go(func() error { return s.acceptLoop(gctx, s.adminLn, s.admins, "admin") })
	if s.httpSrv != nil {
		g.Go(func() error {
			s.log.Info("http listening", "addr", s.httpLn.Addr().String())
			if err := s.httpSrv.Serve(s.httpLn); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	err := g.Wait()
	s.wg.Wait()
	s.log.Info("server stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, h domain.MessageHandler, kind string) error {
	s.log.Info("listening", "listener", kind, "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept timeout", "listener", kind, "error", err)
				continue
			}
			return fmt.Errorf("accept %s: %w", kind, err)
		}

		sess := session.New(conn, s.opts)
		s.track(sess)
		if ctx.Err() != nil {
			// raced with shutdown
			sess.Close()
		}
		s.log.Debug("connection accepted", "listener", kind, "clientId", sess.ID(), "remote", conn.RemoteAddr().String())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(sess)
			sess.Serve(h)
		}()
	}
}

func (s *Server) track(sess *session.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *Server) untrack(sess *session.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// Sessions reports the number of live TCP sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) shutdown() {
	s.log.Info("server shutting down")

	s.playerLn.Close()
	s.adminLn.Close()

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.Error("http shutdown error", "error", err)
		}
	}
	s.gateway.Close()

	s.mu.Lock()
	live := make([]*session.Conn, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.Close()
	}
}
