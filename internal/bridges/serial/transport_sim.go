package serial

import (
	"io"
	"strings"
	"sync"
	"time"
)

// SimPort is an in-memory Port used for bench testing without hardware.
//
// Lines passed to Inject are returned by Read. When auto-acknowledge is on,
// every routed command written to the port is answered with
// "ACK,<metric>,<value>" as a real actuator would.
type SimPort struct {
	name        string
	readTimeout time.Duration
	autoAck     bool

	mu       sync.Mutex
	inbound  []byte
	written  []string
	writeErr error

	notify chan struct{}
	done   *closeOnce
}

// NewSimPort creates a simulated port.
func NewSimPort(name string, readTimeout time.Duration, autoAck bool) *SimPort {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &SimPort{
		name:        name,
		readTimeout: readTimeout,
		autoAck:     autoAck,
		notify:      make(chan struct{}, 1),
		done:        newCloseOnce(),
	}
}

// Name returns the simulated device name.
func (p *SimPort) Name() string {
	return p.name
}

// Inject queues a line for Read. A trailing newline is added if missing.
func (p *SimPort) Inject(line string) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	p.mu.Lock()
	p.inbound = append(p.inbound, line...)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Read returns queued bytes, or (0, nil) once the read timeout elapses.
func (p *SimPort) Read(b []byte) (int, error) {
	timer := time.NewTimer(p.readTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if len(p.inbound) > 0 {
			n := copy(b, p.inbound)
			p.inbound = p.inbound[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		select {
		case <-p.done.Done():
			return 0, io.ErrClosedPipe
		case <-p.notify:
		case <-timer.C:
			return 0, nil
		}
	}
}

// Write records each written line and auto-acknowledges routed commands.
func (p *SimPort) Write(b []byte) (int, error) {
	select {
	case <-p.done.Done():
		return 0, io.ErrClosedPipe
	default:
	}

	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	text := string(b)
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	p.written = append(p.written, lines...)
	p.mu.Unlock()

	if p.autoAck {
		for _, line := range lines {
			if frame, err := DecodeCommand(line); err == nil {
				p.Inject(EncodeFrame(KindAck, frame.MetricName, frame.Value))
			}
		}
	}
	return len(b), nil
}

// Written returns a copy of the lines written so far.
func (p *SimPort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.written))
	copy(out, p.written)
	return out
}

// SetWriteError makes subsequent writes fail with err. Nil clears it.
func (p *SimPort) SetWriteError(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

// Close unblocks pending reads. It is safe to call more than once.
func (p *SimPort) Close() error {
	p.done.Close()
	return nil
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}
