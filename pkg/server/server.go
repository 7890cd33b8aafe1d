// Package server implements the relaychat server: a TCP listener accepting
// chat clients, one Session per connection and a shared Registry of who is
// logged in.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/NicolasHaas/relaychat/pkg/datastore"
)

// Accept backoff bounds for transient listener errors.
const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Presence and will Close() it in Run.
type Dependencies struct {
	Presence datastore.PresenceStore // nil = presence audit log disabled
}

// Server is the relaychat server.
type Server struct {
	cfg      Config
	registry *Registry
	metrics  *Metrics
	presence datastore.PresenceStore
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	listener net.Listener

	conns sync.WaitGroup // one per accepted connection
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		metrics:  NewMetrics(),
		presence: deps.Presence,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Listen binds the configured TCP address.
func (s *Server) Listen() (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(s.ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	return ln, nil
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the configured address and serves it in the background.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			slog.Error("serve stopped", "err", err)
		}
	}()
	return nil
}

// Serve accepts connections on ln until Shutdown is called or ln is closed.
// Each connection gets its own Session. Transient accept errors are retried
// with exponential backoff.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	slog.Info("chat listener running", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.metrics.AcceptErrors.Add(1)
			if backoff == 0 {
				backoff = acceptBackoffMin
			} else {
				backoff = min(backoff*2, acceptBackoffMax)
			}
			slog.Error("accept error", "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0
		s.handleConn(conn)
	}
}

// handleConn attaches a new session for conn and starts serving it.
func (s *Server) handleConn(conn net.Conn) {
	// conns.Add must not race Shutdown's Wait
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)

	sess := newSession(conn, s.registry, sessionOptions{
		maxFrameSize:  s.cfg.MaxFrameSize,
		sendQueueSize: s.cfg.SendQueueSize,
		writeTimeout:  s.cfg.WriteTimeout,
		chatEcho:      s.cfg.ChatEcho,
		metrics:       s.metrics,
		presence:      s.presence,
	})
	sess.log.Debug("new connection")

	if err := s.registry.Attach(sess); err != nil {
		sess.log.Debug("connection refused", "err", err)
		sess.Close()
		s.conns.Done()
		return
	}

	go func() {
		defer s.conns.Done()
		sess.serve()
	}()
}

// Shutdown stops accepting, closes every session and waits up to timeout for
// their goroutines to finish. It returns false if the timeout expired first.
func (s *Server) Shutdown(timeout time.Duration) bool {
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	s.registry.CloseAll()

	finished := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		slog.Warn("shutdown timed out with sessions still running", "timeout", timeout)
		return false
	}
}
