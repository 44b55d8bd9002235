package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	goserial "go.bug.st/serial"
)

// Transport defaults.
const (
	// DefaultBaudRate matches the controller firmware.
	DefaultBaudRate = 9600

	// DefaultReadTimeout bounds a single port read.
	DefaultReadTimeout = time.Second

	// maxLineLength is the longest line buffered before it is discarded.
	maxLineLength = 512

	// readChunkSize is the size of each port read.
	readChunkSize = 128

	// simScheme marks an in-memory simulated port address.
	simScheme = "sim://"
)

// errLineTooLong is returned by lineReader when a line exceeds maxLineLength.
var errLineTooLong = errors.New("serial: line too long")

// Port is a byte stream to one device.
//
// Read must return (0, nil) when its read timeout elapses with no data, as
// go.bug.st/serial ports do. Close must unblock a pending Read.
type Port interface {
	io.ReadWriteCloser
}

// PortConfig holds line settings applied when opening a port.
type PortConfig struct {
	// BaudRate for hardware ports. Default: 9600.
	BaudRate int

	// ReadTimeout bounds a single read. Default: 1 second.
	ReadTimeout time.Duration
}

func (c PortConfig) withDefaults() PortConfig {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// OpenFunc opens the port for a device address.
type OpenFunc func(address string, cfg PortConfig) (Port, error)

// OpenPort opens a device port.
//
// Addresses starting with "sim://" open an in-memory SimPort that
// acknowledges every routed command written to it. Anything else is opened
// as a hardware serial port at 8N1.
//
// Parameters:
//   - address: Device path such as "/dev/ttyUSB0", or "sim://name"
//   - cfg: Line settings
//
// Returns:
//   - Port: The opened port
//   - error: ErrTransportOpen wrapping the cause
func OpenPort(address string, cfg PortConfig) (Port, error) {
	cfg = cfg.withDefaults()

	if name, ok := strings.CutPrefix(address, simScheme); ok {
		return NewSimPort(name, cfg.ReadTimeout, true), nil
	}

	mode := &goserial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}
	port, err := goserial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransportOpen, address, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: %s: set read timeout: %w", ErrTransportOpen, address, err)
	}
	return port, nil
}

// lineReader splits a timed-out byte stream into newline-terminated lines.
// A partial line stays buffered across read timeouts. Once a line exceeds
// maxLineLength its remaining bytes are dropped through the next newline.
type lineReader struct {
	r          io.Reader
	buf        []byte
	chunk      []byte
	discarding bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{
		r:     r,
		buf:   make([]byte, 0, readChunkSize),
		chunk: make([]byte, readChunkSize),
	}
}

// next returns the next complete line without its terminator.
// ok is false when the read timed out before a full line arrived.
// errLineTooLong is returned once per oversized line.
func (lr *lineReader) next() (line string, ok bool, err error) {
	for {
		i := bytes.IndexByte(lr.buf, '\n')
		switch {
		case lr.discarding && i >= 0:
			lr.buf = append(lr.buf[:0], lr.buf[i+1:]...)
			lr.discarding = false
			continue
		case lr.discarding:
			lr.buf = lr.buf[:0]
		case i > maxLineLength:
			lr.buf = append(lr.buf[:0], lr.buf[i+1:]...)
			return "", false, errLineTooLong
		case i >= 0:
			line = string(lr.buf[:i])
			lr.buf = append(lr.buf[:0], lr.buf[i+1:]...)
			return line, true, nil
		case len(lr.buf) > maxLineLength:
			lr.buf = lr.buf[:0]
			lr.discarding = true
			return "", false, errLineTooLong
		}

		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.buf = append(lr.buf, lr.chunk[:n]...)
		}
		if err != nil {
			return "", false, err
		}
		if n == 0 {
			return "", false, nil
		}
	}
}
