package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the value of a frame's "type" field.
type Kind string

const (
	KindLogin            Kind = "login"
	KindChat             Kind = "message"
	KindLoginError       Kind = "loginError"
	KindNewUser          Kind = "newuser"
	KindUserDisconnected Kind = "userdisconnected"
	KindUserList         Kind = "userlist"
)

var (
	// ErrMalformed marks a payload that is not a JSON object, or lacks a
	// required field, or carries a field of the wrong JSON kind.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnknownType marks a well-formed payload whose type tag is not
	// understood in the decoding direction.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Message is one of the concrete message values below. The set is closed.
type Message interface {
	Kind() Kind
	isMessage()
}

// Login requests admission under a display name (client -> server).
type Login struct {
	Name string
}

// LoginError rejects a Login (server -> client).
type LoginError struct {
	Reason string
}

// Chat carries chat text. Sender is empty client -> server and holds the
// author's display name server -> client.
type Chat struct {
	Text   string
	Sender string
}

// NewUser announces a freshly admitted user (server -> client).
type NewUser struct {
	Name string
}

// UserDisconnected announces that an admitted user left (server -> client).
type UserDisconnected struct {
	Name string
}

// UserList is the roster sent to a session right after its admission.
// The receiver's own name carries a trailing "*".
type UserList struct {
	Names []string
}

func (Login) Kind() Kind            { return KindLogin }
func (LoginError) Kind() Kind       { return KindLoginError }
func (Chat) Kind() Kind             { return KindChat }
func (NewUser) Kind() Kind          { return KindNewUser }
func (UserDisconnected) Kind() Kind { return KindUserDisconnected }
func (UserList) Kind() Kind         { return KindUserList }

func (Login) isMessage()            {}
func (LoginError) isMessage()       {}
func (Chat) isMessage()             {}
func (NewUser) isMessage()          {}
func (UserDisconnected) isMessage() {}
func (UserList) isMessage()         {}

// ----- Wire shapes -----

type textFrame struct {
	Type Kind   `json:"type"`
	Text string `json:"text"`
}

type chatFrame struct {
	Type   Kind   `json:"type"`
	Text   string `json:"text"`
	Sender string `json:"sender,omitempty"`
}

type userFrame struct {
	Type     Kind   `json:"type"`
	Username string `json:"username"`
}

type userListFrame struct {
	Type     Kind     `json:"type"`
	UserList []string `json:"userlist"`
}

// Encode serializes msg to its JSON payload.
func Encode(msg Message) ([]byte, error) {
	var wire any
	switch m := msg.(type) {
	case Login:
		wire = textFrame{Type: KindLogin, Text: m.Name}
	case LoginError:
		wire = textFrame{Type: KindLoginError, Text: m.Reason}
	case Chat:
		wire = chatFrame{Type: KindChat, Text: m.Text, Sender: m.Sender}
	case NewUser:
		wire = userFrame{Type: KindNewUser, Username: m.Name}
	case UserDisconnected:
		wire = userFrame{Type: KindUserDisconnected, Username: m.Name}
	case UserList:
		names := m.Names
		if names == nil {
			names = []string{}
		}
		wire = userListFrame{Type: KindUserList, UserList: names}
	default:
		return nil, fmt.Errorf("protocol: encode: unsupported message %T", msg)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	return data, nil
}

// DecodeClientMessage decodes a payload sent by a client to the server.
func DecodeClientMessage(data []byte) (Message, error) {
	fields, tag, err := parseObject(data)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(tag) {
	case "login":
		name, err := stringField(fields, "text")
		if err != nil {
			return nil, err
		}
		return Login{Name: name}, nil
	case "message":
		text, err := stringField(fields, "text")
		if err != nil {
			return nil, err
		}
		return Chat{Text: text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
}

// DecodeServerMessage decodes a payload sent by the server to a client.
func DecodeServerMessage(data []byte) (Message, error) {
	fields, tag, err := parseObject(data)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(tag) {
	case "loginerror":
		reason, err := stringField(fields, "text")
		if err != nil {
			return nil, err
		}
		return LoginError{Reason: reason}, nil
	case "message":
		text, err := stringField(fields, "text")
		if err != nil {
			return nil, err
		}
		sender, err := stringField(fields, "sender")
		if err != nil {
			return nil, err
		}
		return Chat{Text: text, Sender: sender}, nil
	case "newuser":
		name, err := stringField(fields, "username")
		if err != nil {
			return nil, err
		}
		return NewUser{Name: name}, nil
	case "userdisconnected":
		name, err := stringField(fields, "username")
		if err != nil {
			return nil, err
		}
		return UserDisconnected{Name: name}, nil
	case "userlist":
		names, err := stringsField(fields, "userlist")
		if err != nil {
			return nil, err
		}
		return UserList{Names: names}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
}

func parseObject(data []byte) (map[string]json.RawMessage, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, "", fmt.Errorf("%w: payload is not a JSON object", ErrMalformed)
	}
	tag, err := stringField(fields, "type")
	if err != nil {
		return nil, "", err
	}
	return fields, tag, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, err := rawField(fields, key)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: field %q is not a string", ErrMalformed, key)
	}
	return s, nil
}

func stringsField(fields map[string]json.RawMessage, key string) ([]string, error) {
	raw, err := rawField(fields, key)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: field %q is not an array", ErrMalformed, key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if isNull(item) || json.Unmarshal(item, &s) != nil {
			return nil, fmt.Errorf("%w: field %q holds a non-string element", ErrMalformed, key)
		}
		out = append(out, s)
	}
	return out, nil
}

func rawField(fields map[string]json.RawMessage, key string) (json.RawMessage, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing field %q", ErrMalformed, key)
	}
	if isNull(raw) {
		return nil, fmt.Errorf("%w: field %q is null", ErrMalformed, key)
	}
	return raw, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
