package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/bitwire/engine"
	"github.com/pithecene-io/bitwire/log"
)

// ServeOption configures Serve.
type ServeOption func(*serveConfig)

type serveConfig struct {
	logger *log.Logger
}

// WithLogger sets the logger used for non-fatal frame errors.
func WithLogger(l *log.Logger) ServeOption {
	return func(c *serveConfig) { c.logger = l }
}

// Serve answers an engine connected over rw until it sends halt, closes the
// stream, or ctx is cancelled. "next" frames are answered from source,
// "result" frames are handed to sink.
//
// Decode errors are logged and skipped. Fatal frame errors and errors from
// source or sink end the exchange.
func Serve(ctx context.Context, rw io.ReadWriter, source engine.InstructionSource, sink engine.ResultSink, opts ...ServeOption) error {
	cfg := serveConfig{logger: log.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	dec := NewFrameDecoder(rw)
	enc := NewFrameEncoder(rw)
	var seq uint64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if IsFatalFrameError(err) {
				return err
			}
			cfg.logger.Warn("skipping ipc frame", map[string]any{"error": err.Error()})
			continue
		}

		switch f.Type {
		case TypeNext:
			data, err := source.NextInstruction()
			if err != nil {
				return fmt.Errorf("next instruction: %w", err)
			}
			if err := enc.WriteFrame(&Frame{Type: TypeInstruction, Seq: seq, Data: data}); err != nil {
				return fmt.Errorf("write instruction %d: %w", seq, err)
			}
			seq++
		case TypeResult:
			if err := sink.SubmitResult(f.Data); err != nil {
				return fmt.Errorf("submit result %d: %w", f.Seq, err)
			}
		case TypeHalt:
			cfg.logger.Debug("engine halted", map[string]any{"instructions": seq})
			return nil
		default:
			cfg.logger.Warn("unexpected ipc frame", map[string]any{"type": f.Type, "seq": f.Seq})
		}
	}
}

// Remote is the engine side of the exchange: it pulls instructions and
// pushes results over a stream served by Serve.
type Remote struct {
	dec     *FrameDecoder
	enc     *FrameEncoder
	results uint64
}

// NewRemote wraps rw.
func NewRemote(rw io.ReadWriter) *Remote {
	return &Remote{dec: NewFrameDecoder(rw), enc: NewFrameEncoder(rw)}
}

// NextInstruction requests and returns the next instruction.
func (r *Remote) NextInstruction() ([]byte, error) {
	if err := r.enc.WriteFrame(&Frame{Type: TypeNext}); err != nil {
		return nil, err
	}
	for {
		f, err := r.dec.Next()
		if err != nil {
			if IsFatalFrameError(err) || errors.Is(err, io.EOF) {
				return nil, err
			}
			continue
		}
		if f.Type == TypeInstruction {
			return f.Data, nil
		}
	}
}

// SubmitResult sends one packed result.
func (r *Remote) SubmitResult(result []byte) error {
	err := r.enc.WriteFrame(&Frame{Type: TypeResult, Seq: r.results, Data: result})
	if err == nil {
		r.results++
	}
	return err
}

// Halt tells the server the engine has stopped.
func (r *Remote) Halt() error {
	return r.enc.WriteFrame(&Frame{Type: TypeHalt})
}

// Verify Remote implements both sides of the engine boundary.
var (
	_ engine.InstructionSource = (*Remote)(nil)
	_ engine.ResultSink        = (*Remote)(nil)
)
