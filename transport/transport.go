// Package transport provides the byte channel mount protocols talk over.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"github.com/w1xm/mount_interface/mount"
)

// DefaultTimeout bounds every read issued by the protocol layers.
const DefaultTimeout = 5 * time.Second

var (
	ErrTimeout = fmt.Errorf("%w: read timeout", mount.ErrTransport)
	ErrClosed  = fmt.Errorf("%w: port closed", mount.ErrTransport)
)

// Port is a duplex, terminator-oriented channel to a mount.
type Port interface {
	Write(p []byte) (int, error)
	// ReadUntil returns the bytes preceding term and consumes term.
	ReadUntil(term byte, timeout time.Duration) ([]byte, error)
	ReadExact(n int, timeout time.Duration) ([]byte, error)
	// Flush discards everything received so far.
	Flush() error
	Close() error
}

type flusher interface {
	Flush() error
}

// Conn implements Port on top of any io.ReadWriteCloser.
type Conn struct {
	rwc     io.ReadWriteCloser
	log     logrus.FieldLogger
	idleEOF bool

	mu   sync.Mutex
	buf  []byte
	err  error
	data chan struct{}
}

// NewConn starts reading from rwc in the background.
func NewConn(rwc io.ReadWriteCloser, log logrus.FieldLogger) *Conn {
	return newConn(rwc, log, false)
}

func newConn(rwc io.ReadWriteCloser, log logrus.FieldLogger, idleEOF bool) *Conn {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Conn{
		rwc:     rwc,
		log:     log,
		idleEOF: idleEOF,
		data:    make(chan struct{}, 1),
	}
	go c.pump()
	return c
}

// OpenSerial opens name at baud, 8N1 with no flow control.
func OpenSerial(name string, baud int, log logrus.FieldLogger) (*Conn, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %q: %v", mount.ErrTransport, name, err)
	}
	// With a read timeout the port reports an idle line as io.EOF.
	return newConn(p, log, true), nil
}

// Dial connects to a serial-over-TCP bridge.
func Dial(ctx context.Context, addr string, log logrus.FieldLogger) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout: time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %q: %v", mount.ErrTransport, addr, err)
	}
	return NewConn(conn, log), nil
}

func (c *Conn) pump() {
	tmp := make([]byte, 256)
	for {
		n, err := c.rwc.Read(tmp)
		c.mu.Lock()
		c.buf = append(c.buf, tmp[:n]...)
		if err != nil && !(c.idleEOF && errors.Is(err, io.EOF)) {
			c.err = err
		}
		done := c.err != nil
		c.mu.Unlock()
		if n > 0 || done {
			select {
			case c.data <- struct{}{}:
			default:
			}
		}
		if done {
			return
		}
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	c.log.WithField("cmd", string(p)).Debug("CMD")
	n, err := c.rwc.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: writing %q: %v", mount.ErrTransport, p, err)
	}
	return n, nil
}

// wait blocks until take reports success, the reader fails or timeout elapses.
func (c *Conn) wait(timeout time.Duration, take func() ([]byte, bool)) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		out, ok := take()
		err := c.err
		c.mu.Unlock()
		if ok {
			c.log.WithField("res", string(out)).Debug("RES")
			return out, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("%w: %v", mount.ErrTransport, err)
		}
		select {
		case <-c.data:
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
}

func (c *Conn) ReadUntil(term byte, timeout time.Duration) ([]byte, error) {
	return c.wait(timeout, func() ([]byte, bool) {
		i := bytes.IndexByte(c.buf, term)
		if i < 0 {
			return nil, false
		}
		out := append([]byte(nil), c.buf[:i]...)
		c.buf = c.buf[i+1:]
		return out, true
	})
}

func (c *Conn) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	return c.wait(timeout, func() ([]byte, bool) {
		if len(c.buf) < n {
			return nil, false
		}
		out := append([]byte(nil), c.buf[:n]...)
		c.buf = c.buf[n:]
		return out, true
	})
}

func (c *Conn) Flush() error {
	c.mu.Lock()
	if len(c.buf) > 0 {
		c.log.WithField("res", strconv.Quote(string(c.buf))).Debug("discarding stale input")
	}
	c.buf = nil
	c.mu.Unlock()
	if f, ok := c.rwc.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flushing: %v", mount.ErrTransport, err)
		}
	}
	return nil
}

func (c *Conn) Close() error {
	return c.rwc.Close()
}
