// Package framing delimits protocol frames on byte streams.
//
// Two framings are provided:
//   - LengthPrefix: one length byte followed by the payload. A zero length
//     byte is an empty frame and is skipped by readers.
//   - COBS: consistent overhead byte stuffing, each frame terminated by 0x00.
package framing

import (
	"errors"
	"fmt"
	"io"
)

// FrameErrorKind classifies framing errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates the stream ended inside a frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a payload the framing cannot carry.
	FrameErrorTooLarge
	// FrameErrorMalformed indicates bytes that do not decode as a frame.
	FrameErrorMalformed
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError represents a framing error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot continue after this error.
// A malformed COBS frame ends at its delimiter, so reading can resume.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Framer turns payloads into delimited frames and back.
type Framer interface {
	// Name is the framing name accepted by ByName.
	Name() string
	// Encode returns payload as one complete frame.
	Encode(payload []byte) ([]byte, error)
	// NewReader returns a reader yielding payloads from r.
	NewReader(r io.Reader) FrameReader
}

// FrameReader reads successive payloads.
//
// Errors:
//   - io.EOF: stream ended cleanly between frames
//   - *FrameError: see FrameErrorKind
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// Names lists the framings known to ByName.
var Names = []string{"length", "cobs"}

// ByName returns the framing called name.
func ByName(name string) (Framer, error) {
	switch name {
	case "length", "":
		return LengthPrefix{}, nil
	case "cobs":
		return COBS{}, nil
	default:
		return nil, fmt.Errorf("unknown framing: %q (must be length or cobs)", name)
	}
}
