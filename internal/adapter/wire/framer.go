// Package wire frames the newline-delimited protocol and performs the
// session handshake.
package wire

import (
	"bytes"
	"fmt"
	"log/slog"

	"zappy-ai/internal/domain"
)

// DefaultMaxBuffer bounds the bytes held while waiting for a newline.
const DefaultMaxBuffer = 64 * 1024

// Framer accumulates raw bytes and hands out complete lines. It is not safe
// for concurrent use; the connection's I/O task owns it.
type Framer struct {
	buf    []byte
	max    int
	logger *slog.Logger
}

// NewFramer creates a Framer holding at most maxBytes unframed bytes.
func NewFramer(maxBytes int, logger *slog.Logger) *Framer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBuffer
	}
	return &Framer{
		buf:    make([]byte, 0, min(maxBytes, 4096)),
		max:    maxBytes,
		logger: logger,
	}
}

// Push appends p. Bytes that do not fit are dropped, logged, and reported
// as ErrBufferOverflow; whatever fit is kept.
func (f *Framer) Push(p []byte) error {
	room := f.max - len(f.buf)
	if len(p) <= room {
		f.buf = append(f.buf, p...)
		return nil
	}
	if room > 0 {
		f.buf = append(f.buf, p[:room]...)
	}
	dropped := len(p) - max(room, 0)
	f.logger.Error("receive buffer full, data lost", "dropped_bytes", dropped, "buffered", len(f.buf))
	return domain.NewDomainError("Framer.Push", domain.ErrBufferOverflow, fmt.Sprintf("%d bytes dropped", dropped))
}

// PopLine removes and returns the first complete line without its
// terminator. A trailing '\r' is trimmed. Without a newline nothing is
// consumed.
func (f *Framer) PopLine() (string, bool) {
	i := bytes.IndexByte(f.buf, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(f.buf[:i], []byte{'\r'}))
	n := copy(f.buf, f.buf[i+1:])
	f.buf = f.buf[:n]
	return line, true
}

// Buffered returns the number of unframed bytes held.
func (f *Framer) Buffered() int { return len(f.buf) }
