package serial

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns one chunk per Read and (0, nil) when empty.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(b []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, nil
	}
	n := copy(b, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestLineReader(t *testing.T) {
	lr := newLineReader(&chunkReader{chunks: []string{"SEN,a,1\nSEN,", "b,2\n", "CMD,c"}})

	line, ok, err := lr.next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SEN,a,1", line)

	line, ok, err = lr.next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SEN,b,2", line)

	// Partial line with no terminator yet.
	_, ok, err = lr.next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "CMD,c", string(lr.buf))
}

func TestLineReader_TooLong(t *testing.T) {
	lr := newLineReader(&chunkReader{chunks: []string{
		strings.Repeat("x", maxLineLength+10), "CMD,ele,ON\n", "SEN,a,1\n",
	}})

	_, _, err := lr.next()
	assert.ErrorIs(t, err, errLineTooLong)

	// The tail of the oversized line is dropped with it.
	line, ok, err := lr.next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SEN,a,1", line)
}

func TestLineReader_TooLongAcrossTimeouts(t *testing.T) {
	r := &chunkReader{chunks: []string{strings.Repeat("x", maxLineLength+10)}}
	lr := newLineReader(r)

	_, _, err := lr.next()
	assert.ErrorIs(t, err, errLineTooLong)

	// Timeout while still inside the oversized line.
	_, ok, err := lr.next()
	require.NoError(t, err)
	assert.False(t, ok)

	r.chunks = []string{"CMD,ele,", "ON\nSEN,b,2\n"}
	line, ok, err := lr.next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SEN,b,2", line)
}

func TestLineReader_TooLongWithTerminatorInBuffer(t *testing.T) {
	lr := newLineReader(&chunkReader{chunks: []string{
		strings.Repeat("x", 500), strings.Repeat("x", 100) + "\nSEN,c,3\n",
	}})

	_, _, err := lr.next()
	assert.ErrorIs(t, err, errLineTooLong)

	line, ok, err := lr.next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SEN,c,3", line)
}

func TestLineReader_Error(t *testing.T) {
	lr := newLineReader(&failingPort{})
	_, ok, err := lr.next()
	assert.False(t, ok)
	assert.ErrorIs(t, err, errBoom)
}

func TestOpenPort_Sim(t *testing.T) {
	port, err := OpenPort("sim://ele_001", PortConfig{ReadTimeout: 5 * time.Millisecond})
	require.NoError(t, err)
	sim, ok := port.(*SimPort)
	require.True(t, ok)
	assert.Equal(t, "ele_001", sim.Name())
	require.NoError(t, port.Close())
}

func TestOpenPort_MissingDevice(t *testing.T) {
	_, err := OpenPort("/dev/graylogic-does-not-exist", PortConfig{})
	assert.ErrorIs(t, err, ErrTransportOpen)
}

func TestPortConfig_Defaults(t *testing.T) {
	cfg := PortConfig{}.withDefaults()
	assert.Equal(t, DefaultBaudRate, cfg.BaudRate)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
}

func TestSimPort(t *testing.T) {
	p := NewSimPort("ele_001", 5*time.Millisecond, true)

	buf := make([]byte, 64)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n, "read times out with no data")

	_, err = p.Write([]byte("ele_001,CMO,ele,ON\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ele_001,CMO,ele,ON"}, p.Written())

	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ACK,ele,ON\n", string(buf[:n]))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err = p.Read(buf)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	_, err = p.Write([]byte("x\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestSimPort_NoAutoAckForOtherLines(t *testing.T) {
	p := NewSimPort("ele_001", 5*time.Millisecond, true)
	_, err := p.Write([]byte("hello\n"))
	require.NoError(t, err)

	n, err := p.Read(make([]byte, 16))
	require.NoError(t, err)
	assert.Zero(t, n)
}
