// Package client implements the relaychat client peer: the framed TCP
// connection to a server and the login/chat state machine on top of it.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/NicolasHaas/relaychat/pkg/protocol"
)

// EventHandler is a callback for incoming server messages.
type EventHandler func(msg protocol.Message)

// Conn manages the TCP connection to a chat server.
type Conn struct {
	conn    net.Conn
	mu      sync.Mutex // serializes frame writes
	handler EventHandler
	done    chan struct{}
}

// Dial connects to the chat server at addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}
	return &Conn{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// SetEventHandler sets the callback for incoming messages. It must be called
// before StartReceiving.
func (c *Conn) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// Send writes one message to the server.
func (c *Conn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteMessage(c.conn, msg)
}

// StartReceiving starts a goroutine that reads incoming frames and dispatches
// them to the event handler. Frames that do not decode are skipped.
func (c *Conn) StartReceiving() {
	go func() {
		defer close(c.done)
		r := bufio.NewReader(c.conn)
		for {
			payload, err := protocol.ReadFrame(r, protocol.MaxFrameSize)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					slog.Debug("connection closed")
					return
				}
				slog.Error("read error", "err", err)
				return
			}
			msg, err := protocol.DecodeServerMessage(payload)
			if err != nil {
				slog.Debug("ignoring server frame", "err", err)
				continue
			}
			if c.handler != nil {
				c.handler(msg)
			}
		}
	}()
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
