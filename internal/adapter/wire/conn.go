package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"zappy-ai/internal/domain"
)

// Options tunes a LineConn.
type Options struct {
	MaxBuffer    int           // framer capacity in bytes
	ReadChunk    int           // bytes requested per read
	ReadTimeout  time.Duration // poll interval of a single read
	WriteTimeout time.Duration // upper bound on a single line write
}

func (o Options) withDefaults() Options {
	if o.MaxBuffer <= 0 {
		o.MaxBuffer = DefaultMaxBuffer
	}
	if o.ReadChunk <= 0 {
		o.ReadChunk = 1024
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 500 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// LineConn reads and writes protocol lines over a net.Conn. Reading (Fill,
// PopLine, ReadLine) and writing may happen on different goroutines, but each
// side must stay on one.
type LineConn struct {
	conn     net.Conn
	framer   *Framer
	chunk    []byte
	opts     Options
	logger   *slog.Logger
	lastRecv atomic.Int64 // unix nanoseconds
	lastSend atomic.Int64
}

// NewLineConn wraps conn.
func NewLineConn(conn net.Conn, opts Options, logger *slog.Logger) *LineConn {
	opts = opts.withDefaults()
	c := &LineConn{
		conn:   conn,
		framer: NewFramer(opts.MaxBuffer, logger),
		chunk:  make([]byte, opts.ReadChunk),
		opts:   opts,
		logger: logger,
	}
	now := time.Now().UnixNano()
	c.lastRecv.Store(now)
	c.lastSend.Store(now)
	return c
}

// Fill performs one bounded read into the framer. A read that times out
// returns (0, nil) so callers can re-poll; end of stream is ErrPeerClosed.
func (c *LineConn) Fill() (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		return 0, readError(err)
	}
	n, err := c.conn.Read(c.chunk)
	if n > 0 {
		c.lastRecv.Store(time.Now().UnixNano())
		if perr := c.framer.Push(c.chunk[:n]); perr != nil {
			return n, perr
		}
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		return n, readError(err)
	}
	return n, nil
}

// readError classifies a failed read or read-deadline update. A closed link
// on either side is ErrPeerClosed.
func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return domain.NewDomainError("LineConn.Fill", domain.ErrPeerClosed, err.Error())
	}
	return domain.WrapOp("LineConn.Fill", err)
}

// PopLine returns the next already-framed line.
func (c *LineConn) PopLine() (string, bool) { return c.framer.PopLine() }

// ReadLine blocks until a full line arrives, the peer closes, or ctx ends.
func (c *LineConn) ReadLine(ctx context.Context) (string, error) {
	for {
		if line, ok := c.framer.PopLine(); ok {
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := c.Fill(); err != nil {
			return "", err
		}
	}
}

// WriteLine sends line followed by '\n'. Short writes are ErrSendFailed.
func (c *LineConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return domain.NewDomainError("LineConn.WriteLine", domain.ErrSendFailed, err.Error())
	}
	payload := []byte(line + "\n")
	n, err := c.conn.Write(payload)
	if err != nil {
		return domain.NewDomainError("LineConn.WriteLine", domain.ErrSendFailed, err.Error())
	}
	if n != len(payload) {
		return domain.NewDomainError("LineConn.WriteLine", domain.ErrSendFailed,
			fmt.Sprintf("wrote %d of %d bytes", n, len(payload)))
	}
	c.lastSend.Store(time.Now().UnixNano())
	c.logger.Debug("sent", "line", line)
	return nil
}

// LastActivity returns the time of the most recent successful read or write.
func (c *LineConn) LastActivity() time.Time {
	return time.Unix(0, max(c.lastRecv.Load(), c.lastSend.Load()))
}

// LastReceive returns the time of the most recent successful read.
func (c *LineConn) LastReceive() time.Time {
	return time.Unix(0, c.lastRecv.Load())
}

// RemoteAddr returns the peer address.
func (c *LineConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *LineConn) Close() error { return c.conn.Close() }
