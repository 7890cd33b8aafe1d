package model

import (
	"errors"
	"strings"
)

// RosterSelfMarker is appended to the receiver's own name in a roster.
const RosterSelfMarker = "*"

// Reasons reported to a client in a loginError frame.
const (
	ReasonNameRequired = "name required"
	ReasonNameTaken    = "name taken"
)

var ErrNameEmpty = errors.New("display name must not be empty")

// NormalizeName trims leading and trailing whitespace from a requested
// display name. Names are otherwise compared byte-for-byte.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameEmpty
	}
	return name, nil
}

// NormalizeText trims chat text and reports whether anything is left to send.
func NormalizeText(text string) (string, bool) {
	text = strings.TrimSpace(text)
	return text, text != ""
}

// MarkSelf returns a copy of names with self suffixed by RosterSelfMarker.
func MarkSelf(names []string, self string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if n == self {
			n += RosterSelfMarker
		}
		out[i] = n
	}
	return out
}

// ParseRoster splits a received roster into the receiver's own name and the
// names of everyone else, in roster order.
func ParseRoster(names []string) (self string, others []string) {
	others = make([]string, 0, len(names))
	for _, n := range names {
		if self == "" && strings.HasSuffix(n, RosterSelfMarker) {
			self = strings.TrimSuffix(n, RosterSelfMarker)
			continue
		}
		others = append(others, n)
	}
	return self, others
}
