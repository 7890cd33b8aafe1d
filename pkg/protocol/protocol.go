// Package protocol defines the chat wire format: length-prefixed frames
// carrying one JSON object each, and the closed set of messages they encode.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the byte size of the frame length prefix.
	HeaderSize = 4

	// MaxFrameSize is the default upper bound for a frame payload (64KB).
	MaxFrameSize = 65536

	// DefaultPort is the TCP port chat peers connect to.
	DefaultPort = 1967
)

// ErrFrameTooLarge is returned when a frame length exceeds the allowed size.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// AppendFrame appends the framed payload to dst and returns the extended slice.
// Format: [4-byte big-endian length][payload]
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload))) //nolint:gosec // callers bound payload size
	return append(dst, payload...)
}

// WriteFrame writes one frame to w with a single Write call, so the frame is
// either handed to the transport whole or not at all.
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	if len(payload) > maxSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and returns its payload. Partial reads are
// accumulated until the whole frame is available. A clean EOF before the
// length prefix is returned unwrapped as io.EOF.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var lenBuf [HeaderSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if uint64(length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	return data, nil
}

// WriteMessage encodes msg and writes it as one frame.
func WriteMessage(w io.Writer, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, data, MaxFrameSize)
}
