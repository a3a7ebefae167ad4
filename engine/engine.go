// Package engine defines the byte boundary to an external execution engine
// that consumes packed instructions and produces packed results.
//
// The engine itself (the register machine interpreting instructions) lives
// outside this module. This package only supplies the two sides of the
// boundary: a source of fixed-size instruction frames and a sink for
// fixed-size result frames.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/bitwire/codec"
)

// InstructionSource yields the next packed instruction. Every call returns
// exactly the instruction shape's fixed size.
type InstructionSource interface {
	NextInstruction() ([]byte, error)
}

// ResultSink accepts one packed result of the result shape's fixed size.
type ResultSink interface {
	SubmitResult(result []byte) error
}

// ErrResultSize is returned when a submitted result has the wrong length.
var ErrResultSize = errors.New("engine: result has wrong size")

// Program feeds a fixed list of instructions and then a filler instruction
// forever. Instructions are packed once, at construction.
type Program struct {
	mu     sync.Mutex
	frames [][]byte
	filler []byte
	next   int
}

// NewProgram packs steps and filler with c.
func NewProgram(c *codec.Codec, steps []any, filler any) (*Program, error) {
	frames := make([][]byte, 0, len(steps))
	for i, step := range steps {
		buf, err := c.Pack(step)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		frames = append(frames, buf)
	}
	fill, err := c.Pack(filler)
	if err != nil {
		return nil, fmt.Errorf("filler: %w", err)
	}
	return &Program{frames: frames, filler: fill}, nil
}

// NextInstruction implements InstructionSource.
func (p *Program) NextInstruction() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := p.filler
	if p.next < len(p.frames) {
		src = p.frames[p.next]
	}
	p.next++
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// Issued returns how many instructions have been handed out, fillers included.
func (p *Program) Issued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Done reports whether every program step has been issued.
func (p *Program) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next >= len(p.frames)
}

// Len is the number of program steps, fillers excluded.
func (p *Program) Len() int { return len(p.frames) }

// ResultLog unpacks submitted results and keeps them in arrival order.
type ResultLog struct {
	mu      sync.Mutex
	codec   *codec.Codec
	results []any
	notify  func(any)
}

// NewResultLog returns a log decoding results with c. notify, when non-nil,
// is called with every decoded result.
func NewResultLog(c *codec.Codec, notify func(any)) *ResultLog {
	return &ResultLog{codec: c, notify: notify}
}

// SubmitResult implements ResultSink.
func (l *ResultLog) SubmitResult(result []byte) error {
	if len(result) != l.codec.Size() {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrResultSize, len(result), l.codec.Size())
	}
	v, err := l.codec.Unpack(result)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.results = append(l.results, v)
	l.mu.Unlock()

	if l.notify != nil {
		l.notify(v)
	}
	return nil
}

// Results returns a copy of the decoded results.
func (l *ResultLog) Results() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]any, len(l.results))
	copy(out, l.results)
	return out
}

// Len returns the number of results received.
func (l *ResultLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

// Verify implementations.
var (
	_ InstructionSource = (*Program)(nil)
	_ ResultSink        = (*ResultLog)(nil)
)
