// Package link connects a protocol state to a byte transport.
//
// A Port moves whole protocol frames (id + payload, no framing bytes). A
// Client owns a protocol.State behind a mutex and pumps it against a Port:
// pending Out messages are encoded and sent, received frames are decoded
// and applied.
package link

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pithecene-io/bitwire/framing"
)

// ErrClosed is returned by ports after Close.
var ErrClosed = errors.New("link: port closed")

// Port sends and receives protocol frames.
type Port interface {
	// Send transmits one frame.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks for the next frame. io.EOF means the peer went away.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamPort carries frames over a byte stream using a framing.
// Receive cannot be interrupted by ctx once blocked in a read; Close the
// port (or the underlying stream) to unblock it.
type StreamPort struct {
	rw     io.ReadWriter
	framer framing.Framer
	reader framing.FrameReader

	writeMu sync.Mutex
}

// NewStreamPort wraps rw with framer.
func NewStreamPort(rw io.ReadWriter, framer framing.Framer) *StreamPort {
	return &StreamPort{
		rw:     rw,
		framer: framer,
		reader: framer.NewReader(rw),
	}
}

// Send writes one framed payload.
func (p *StreamPort) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := p.framer.Encode(frame)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.rw.Write(data)
	return err
}

// Receive reads the next frame. Non-fatal framing errors are returned as is
// and the port stays usable.
func (p *StreamPort) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.reader.ReadFrame()
}

// Close closes the underlying stream if it is an io.Closer.
func (p *StreamPort) Close() error {
	if c, ok := p.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MemPort is one end of an in-process frame pipe. See Pipe.
type MemPort struct {
	tx   chan<- []byte
	rx   <-chan []byte
	pipe *pipeState
}

type pipeState struct {
	closed chan struct{}
	once   sync.Once
}

// Pipe returns two connected in-memory ports. Each direction buffers up to
// buffer frames.
func Pipe(buffer int) (*MemPort, *MemPort) {
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	ps := &pipeState{closed: make(chan struct{})}
	a := &MemPort{tx: ab, rx: ba, pipe: ps}
	b := &MemPort{tx: ba, rx: ab, pipe: ps}
	return a, b
}

func (p *MemPort) Send(ctx context.Context, frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case <-p.pipe.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.tx <- cp:
		return nil
	}
}

func (p *MemPort) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.rx:
		return frame, nil
	case <-p.pipe.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends of the pipe.
func (p *MemPort) Close() error {
	p.pipe.once.Do(func() { close(p.pipe.closed) })
	return nil
}
