package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/relaychat/pkg/datastore"
	"github.com/NicolasHaas/relaychat/pkg/logging"
	"github.com/NicolasHaas/relaychat/pkg/model"
	"github.com/NicolasHaas/relaychat/pkg/protocol"
)

var (
	ErrSessionClosed = errors.New("server: session closed")
	ErrQueueFull     = errors.New("server: send queue full")
)

// maxOutboundFrame bounds frames written to peers. Outbound frames are built
// by the server, so this only guards the 4-byte length prefix.
const maxOutboundFrame = 16 << 20

// presenceTimeout bounds a single audit log write.
const presenceTimeout = 5 * time.Second

type sessionOptions struct {
	maxFrameSize  int
	sendQueueSize int
	writeTimeout  time.Duration
	chatEcho      bool
	metrics       *Metrics
	presence      datastore.PresenceWriteProvider // nil = audit log disabled
}

// Session is the server side of one client connection. A reader goroutine
// (serve) decodes frames and drives the state machine; a writer goroutine
// drains the bounded send queue onto the socket.
type Session struct {
	id       uuid.UUID
	conn     net.Conn
	remote   string
	registry *Registry
	opts     sessionOptions
	log      *slog.Logger

	mu    sync.Mutex
	state model.SessionState
	name  string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// serializes audit log writes; left is set once the leave was attempted
	presenceMu sync.Mutex
	left       bool
}

func newSession(conn net.Conn, registry *Registry, opts sessionOptions) *Session {
	id := uuid.New()
	remote := conn.RemoteAddr().String()
	if opts.metrics == nil {
		opts.metrics = NewMetrics()
	}
	return &Session{
		id:       id,
		conn:     conn,
		remote:   remote,
		registry: registry,
		opts:     opts,
		log:      logging.Component("session").With("session", id.String(), "remote", remote),
		state:    model.StateUnauthenticated,
		send:     make(chan []byte, opts.sendQueueSize),
		done:     make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// RemoteAddr returns the peer address as reported at accept time.
func (s *Session) RemoteAddr() string { return s.remote }

// State returns the current lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the display name, or "" before admission.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// authenticate is called by the registry while it holds its lock.
func (s *Session) authenticate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.state = model.StateAuthenticated
}

// Done is closed once the session has closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send encodes msg and queues it for this session without blocking.
func (s *Session) Send(msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.enqueue(payload)
}

// enqueue queues an encoded payload. payload must not be modified afterwards;
// broadcasts share one payload between all recipients.
func (s *Session) enqueue(payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.opts.metrics.QueueOverflows.Add(1)
		s.log.Warn("send queue full, dropping frame", "queue", cap(s.send))
		return ErrQueueFull
	}
}

// serve runs the read loop until the transport fails, then closes the session.
func (s *Session) serve() {
	defer s.Close()
	go s.writeLoop()

	r := bufio.NewReader(s.conn)
	for {
		payload, err := protocol.ReadFrame(r, s.opts.maxFrameSize)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.log.Debug("connection closed")
			} else {
				s.log.Warn("read failed", "err", err)
			}
			return
		}
		s.opts.metrics.FramesIn.Add(1)

		msg, err := protocol.DecodeClientMessage(payload)
		if err != nil {
			s.dropped("undecodable frame", "err", err)
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Login:
		s.handleLogin(m)
	case protocol.Chat:
		s.handleChat(m)
	default:
		s.dropped("unexpected message", "kind", msg.Kind())
	}
}

func (s *Session) handleLogin(m protocol.Login) {
	if state := s.State(); state != model.StateUnauthenticated {
		s.dropped("login ignored", "state", state)
		return
	}

	result, name := s.registry.Admit(s, m.Name)
	switch result {
	case Admitted:
		s.opts.metrics.SuccessfulLogins.Add(1)
		s.log.Info("user logged in", "name", name)
		s.recordJoin(name)
	case NameEmpty:
		s.opts.metrics.FailedLogins.Add(1)
		s.log.Info("login rejected", "reason", model.ReasonNameRequired)
		s.reply(protocol.LoginError{Reason: model.ReasonNameRequired})
	case NameTaken:
		s.opts.metrics.FailedLogins.Add(1)
		s.log.Info("login rejected", "name", name, "reason", model.ReasonNameTaken)
		s.reply(protocol.LoginError{Reason: model.ReasonNameTaken})
	case AdmitClosed:
		s.log.Debug("login after close ignored")
	}
}

func (s *Session) handleChat(m protocol.Chat) {
	if state := s.State(); state != model.StateAuthenticated {
		s.dropped("chat ignored", "state", state)
		return
	}
	text, ok := model.NormalizeText(m.Text)
	if !ok {
		s.dropped("empty chat ignored")
		return
	}

	var except *Session
	if !s.opts.chatEcho {
		except = s
	}
	n := s.registry.Broadcast(protocol.Chat{Text: text, Sender: s.Name()}, except)
	s.opts.metrics.ChatMessages.Add(1)
	s.log.Debug("chat broadcast", "recipients", n)
}

func (s *Session) reply(msg protocol.Message) {
	if err := s.Send(msg); err != nil {
		s.log.Debug("reply not queued", "kind", msg.Kind(), "err", err)
	}
}

func (s *Session) dropped(reason string, args ...any) {
	s.opts.metrics.FramesDropped.Add(1)
	s.log.Debug(reason, args...)
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			select {
			case <-s.done:
				return // closed: queued output is discarded
			default:
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
			if err := protocol.WriteFrame(s.conn, payload, maxOutboundFrame); err != nil {
				s.log.Warn("write failed", "err", err)
				s.Close()
				return
			}
			s.opts.metrics.FramesOut.Add(1)
		}
	}
}

// Close moves the session to Closed, drops its connection and removes it
// from the registry. Safe to call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = model.StateClosed
		s.mu.Unlock()

		close(s.done)
		_ = s.conn.Close()

		s.opts.metrics.ActiveConnections.Add(-1)
		s.opts.metrics.TotalDisconnects.Add(1)

		name, wasAdmitted := s.registry.Remove(s)
		if !wasAdmitted {
			s.log.Debug("connection closed before login")
			return
		}
		s.log.Info("user disconnected", "name", name)
		s.recordLeave()
	})
}

func (s *Session) recordJoin(name string) {
	if s.opts.presence == nil {
		return
	}
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	p := &model.Presence{
		SessionID:  s.id.String(),
		Name:       name,
		RemoteAddr: s.remote,
		JoinedAt:   time.Now(),
	}
	if err := s.opts.presence.RecordJoin(ctx, p); err != nil {
		s.log.Error("presence join not recorded", "err", err)
		return
	}
	if s.left {
		// the session closed while the join was being recorded
		s.writeLeave(ctx)
	}
}

func (s *Session) recordLeave() {
	if s.opts.presence == nil {
		return
	}
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	s.left = true

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	s.writeLeave(ctx)
}

func (s *Session) writeLeave(ctx context.Context) {
	err := s.opts.presence.RecordLeave(ctx, s.id.String(), time.Now())
	switch {
	case err == nil, errors.Is(err, datastore.ErrPresenceNotFound):
		// not found: the join has not been written yet, recordJoin closes it
	default:
		s.log.Error("presence leave not recorded", "err", err)
	}
}
