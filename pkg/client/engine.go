package client

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/NicolasHaas/relaychat/pkg/model"
	"github.com/NicolasHaas/relaychat/pkg/protocol"
)

var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrNotLoggedIn      = errors.New("client: not logged in")
	ErrAlreadyLoggedIn  = errors.New("client: already logged in")
	ErrEmptyName        = errors.New("client: name must not be empty")
)

// State represents the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnected          // connected, login not yet accepted
	StateLoggedIn           // roster received
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateLoggedIn:
		return "logged in"
	default:
		return "unknown"
	}
}

// Engine is the client peer state machine. Callbacks must be set before
// Connect; they run on the receive goroutine.
type Engine struct {
	mu sync.RWMutex

	state State
	name  string   // own display name once logged in
	users []string // everyone else, in roster order
	conn  *Conn

	// Callbacks for UI updates
	OnStateChange func(state State)
	OnChatMessage func(sender, text string)
	OnRoster      func(self string, others []string)
	OnUserJoined  func(name string)
	OnUserLeft    func(name string)
	OnLoginError  func(reason string)
	OnDisconnect  func(reason string)
}

// NewEngine creates a new client engine.
func NewEngine() *Engine {
	return &Engine{state: StateDisconnected}
}

// Connect dials the server and starts receiving. The engine moves to
// StateConnected; Login completes the handshake.
func (e *Engine) Connect(ctx context.Context, addr string) error {
	e.mu.Lock()
	if e.state != StateDisconnected {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.mu.Unlock()

	conn, err := Dial(ctx, addr)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.state != StateDisconnected {
		e.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	e.conn = conn
	e.state = StateConnected
	e.mu.Unlock()

	conn.SetEventHandler(e.handleEvent)
	conn.StartReceiving()
	e.notifyStateChange(StateConnected)

	// Monitor for disconnect
	go func() {
		<-conn.Done()
		e.handleDisconnect(conn, "connection lost")
	}()

	slog.Info("connected", "addr", addr)
	return nil
}

// Login requests the given display name. The answer arrives asynchronously as
// a roster (OnRoster) or a rejection (OnLoginError).
func (e *Engine) Login(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	e.mu.RLock()
	conn, state := e.conn, e.state
	e.mu.RUnlock()

	switch state {
	case StateDisconnected:
		return ErrNotConnected
	case StateLoggedIn:
		return ErrAlreadyLoggedIn
	}
	return conn.Send(protocol.Login{Name: name})
}

// SendChat sends a chat line. Text is trimmed and whitespace-only lines are
// not sent.
func (e *Engine) SendChat(text string) error {
	e.mu.RLock()
	conn, state := e.conn, e.state
	e.mu.RUnlock()

	switch state {
	case StateDisconnected:
		return ErrNotConnected
	case StateConnected:
		return ErrNotLoggedIn
	}

	text, ok := model.NormalizeText(text)
	if !ok {
		return nil
	}
	return conn.Send(protocol.Chat{Text: text})
}

// Disconnect closes the connection to the server.
func (e *Engine) Disconnect() {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()
	if conn != nil {
		e.handleDisconnect(conn, "user disconnected")
	}
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Name returns the own display name, or "" before login.
func (e *Engine) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

// Users returns the other logged-in users in roster order.
func (e *Engine) Users() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.users)
}

func (e *Engine) handleEvent(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.UserList:
		self, others := model.ParseRoster(m.Names)
		e.mu.Lock()
		changed := e.state != StateLoggedIn
		e.state = StateLoggedIn
		e.name = self
		e.users = others
		e.mu.Unlock()

		if changed {
			slog.Info("logged in", "name", self, "online", len(others)+1)
			e.notifyStateChange(StateLoggedIn)
		}
		if e.OnRoster != nil {
			e.OnRoster(self, slices.Clone(others))
		}

	case protocol.LoginError:
		slog.Info("login rejected", "reason", m.Reason)
		if e.OnLoginError != nil {
			e.OnLoginError(m.Reason)
		}

	case protocol.NewUser:
		e.mu.Lock()
		if m.Name != e.name && !slices.Contains(e.users, m.Name) {
			e.users = append(e.users, m.Name)
		}
		e.mu.Unlock()
		if e.OnUserJoined != nil {
			e.OnUserJoined(m.Name)
		}

	case protocol.UserDisconnected:
		e.mu.Lock()
		e.users = slices.DeleteFunc(e.users, func(n string) bool { return n == m.Name })
		e.mu.Unlock()
		if e.OnUserLeft != nil {
			e.OnUserLeft(m.Name)
		}

	case protocol.Chat:
		if e.OnChatMessage != nil {
			e.OnChatMessage(m.Sender, m.Text)
		}

	default:
		slog.Debug("ignoring server message", "kind", msg.Kind())
	}
}

// handleDisconnect tears down conn if it is still the active connection.
func (e *Engine) handleDisconnect(conn *Conn, reason string) {
	e.mu.Lock()
	if e.conn != conn || e.state == StateDisconnected {
		e.mu.Unlock()
		return
	}
	e.state = StateDisconnected
	e.conn = nil
	e.name = ""
	e.users = nil
	e.mu.Unlock()

	_ = conn.Close()

	slog.Info("disconnected", "reason", reason)
	e.notifyStateChange(StateDisconnected)
	if e.OnDisconnect != nil {
		e.OnDisconnect(reason)
	}
}

func (e *Engine) notifyStateChange(state State) {
	if e.OnStateChange != nil {
		e.OnStateChange(state)
	}
}
