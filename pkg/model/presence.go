package model

import "time"

// Presence is one admission of a display name, from login to disconnect.
// Chat text is never part of it.
type Presence struct {
	ID         int64     `json:"id" yaml:"id"`
	SessionID  string    `json:"session_id" yaml:"session_id"`
	Name       string    `json:"name" yaml:"name"`
	RemoteAddr string    `json:"remote_addr" yaml:"remote_addr"`
	JoinedAt   time.Time `json:"joined_at" yaml:"joined_at"`
	LeftAt     time.Time `json:"left_at" yaml:"left_at,omitempty"` // zero while still online
}

// Online reports whether the presence has no recorded disconnect.
func (p *Presence) Online() bool {
	return p.LeftAt.IsZero()
}

type PresenceFilters struct {
	Name       *string
	OnlineOnly bool
	PageSize   *int64
	Offset     *int64
}
