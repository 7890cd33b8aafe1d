package server

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/NicolasHaas/relaychat/pkg/model"
	"github.com/NicolasHaas/relaychat/pkg/protocol"
)

// ErrRegistryClosed is returned by Attach once CloseAll has run.
var ErrRegistryClosed = errors.New("server: registry closed")

// AdmitResult is the outcome of Registry.Admit.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	NameTaken
	NameEmpty
	AdmitClosed // the session closed before it could be admitted
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case NameTaken:
		return "name taken"
	case NameEmpty:
		return "name empty"
	case AdmitClosed:
		return "session closed"
	default:
		return "unknown"
	}
}

// Registry is the set of live sessions plus the admission-ordered roster of
// authenticated ones. One mutex guards both; every fan-out runs under it but
// only performs non-blocking queue sends, so a slow peer never holds it.
//
// Lock order: Registry.mu before Session.mu.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session // attached and not yet removed
	admitted []*Session             // authenticated, in admission order
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Attach registers a freshly accepted, unauthenticated session.
func (r *Registry) Attach(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.sessions[s.id] = s
	return nil
}

// Admit checks the requested display name and, if it is free, authenticates s
// under it. On success the other authenticated sessions are sent NewUser and
// s is sent the roster, both before the registry is unlocked, so every
// session sees presence events in the order they happened.
// The normalized name is returned alongside the result.
func (r *Registry) Admit(s *Session, requested string) (AdmitResult, string) {
	name, err := model.NormalizeName(requested)
	if err != nil {
		return NameEmpty, ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.id]; !ok || s.State() == model.StateClosed {
		return AdmitClosed, name
	}
	for _, other := range r.admitted {
		if other.Name() == name {
			return NameTaken, name
		}
	}

	s.authenticate(name)
	r.admitted = append(r.admitted, s)

	r.fanoutLocked(protocol.NewUser{Name: name}, s)
	roster := model.MarkSelf(r.namesLocked(), name)
	if err := s.Send(protocol.UserList{Names: roster}); err != nil {
		s.log.Warn("roster not delivered", "err", err)
	}
	return Admitted, name
}

// Remove detaches s. It is idempotent. If s had been admitted, the remaining
// authenticated sessions are sent UserDisconnected and the name is returned.
func (r *Registry) Remove(s *Session) (name string, wasAdmitted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, s.id)

	idx := slices.Index(r.admitted, s)
	if idx < 0 {
		return "", false
	}
	r.admitted = slices.Delete(r.admitted, idx, idx+1)

	name = s.Name()
	r.fanoutLocked(protocol.UserDisconnected{Name: name}, nil)
	return name, true
}

// Broadcast queues msg for every authenticated session except the given one
// (nil excludes nobody) and returns how many queues accepted it. A full or
// closed queue only affects its own session.
func (r *Registry) Broadcast(msg protocol.Message, except *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fanoutLocked(msg, except)
}

func (r *Registry) fanoutLocked(msg protocol.Message, except *Session) int {
	payload, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("broadcast encode failed", "kind", msg.Kind(), "err", err)
		return 0
	}

	delivered := 0
	for _, s := range r.admitted {
		if s == except {
			continue
		}
		if err := s.enqueue(payload); err != nil {
			s.log.Debug("broadcast skipped session", "kind", msg.Kind(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Snapshot returns the roster in admission order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.admitted))
	for _, s := range r.admitted {
		names = append(names, s.Name())
	}
	return names
}

// Online returns the number of authenticated sessions.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.admitted)
}

// Len returns the number of attached sessions, authenticated or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every attached session and rejects further Attach calls.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	// Close re-enters the registry through Remove
	for _, s := range all {
		s.Close()
	}
}
