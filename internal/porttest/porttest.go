// Package porttest provides a scripted transport.Port for protocol tests.
package porttest

import (
	"bytes"
	"sync"
	"time"

	"github.com/w1xm/mount_interface/transport"
)

// Port records every frame written to it and answers from a script.
// Reads never block: if the script has not supplied enough bytes they fail
// with transport.ErrTimeout.
type Port struct {
	mu      sync.Mutex
	written []string
	script  map[string][]string
	pending []byte
	flushes int
	// WriteErr, if set, is returned by every Write.
	WriteErr error
	// Fallback, if set, answers commands that have no script.
	Fallback func(cmd string) string
}

func New() *Port {
	return &Port{script: make(map[string][]string)}
}

// On scripts the responses to cmd. Successive writes of cmd consume the
// responses in order; the last one repeats.
func (p *Port) On(cmd string, responses ...string) *Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script[cmd] = responses
	return p
}

// Frames returns the frames written so far.
func (p *Port) Frames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

// Reset forgets the recorded frames.
func (p *Port) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = nil
}

func (p *Port) Flushes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	cmd := string(b)
	p.written = append(p.written, cmd)
	if rs := p.script[cmd]; len(rs) > 0 {
		p.pending = append(p.pending, rs[0]...)
		if len(rs) > 1 {
			p.script[cmd] = rs[1:]
		}
	} else if p.Fallback != nil {
		p.pending = append(p.pending, p.Fallback(cmd)...)
	}
	return len(b), nil
}

func (p *Port) ReadUntil(term byte, timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := bytes.IndexByte(p.pending, term)
	if i < 0 {
		p.pending = nil
		return nil, transport.ErrTimeout
	}
	out := append([]byte(nil), p.pending[:i]...)
	p.pending = p.pending[i+1:]
	return out, nil
}

func (p *Port) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) < n {
		p.pending = nil
		return nil, transport.ErrTimeout
	}
	out := append([]byte(nil), p.pending[:n]...)
	p.pending = p.pending[n:]
	return out, nil
}

func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	p.flushes++
	return nil
}

func (p *Port) Close() error {
	return nil
}
