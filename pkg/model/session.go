// Package model defines the chat domain types shared by the server, client
// and presence store.
package model

// SessionState is the lifecycle state of a connected peer.
type SessionState int

const (
	StateUnauthenticated SessionState = iota // connected, no display name yet
	StateAuthenticated                       // admitted under a unique display name
	StateClosed                              // transport gone; terminal
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s SessionState) Valid() bool {
	return s >= StateUnauthenticated && s <= StateClosed
}
