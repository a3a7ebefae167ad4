package framing

import (
	"fmt"
	"io"
)

// MaxLengthPayload is the largest payload a one-byte length prefix carries.
const MaxLengthPayload = 255

// LengthPrefix frames each payload behind a single length byte.
type LengthPrefix struct{}

func (LengthPrefix) Name() string { return "length" }

// Encode prefixes payload with its length.
func (LengthPrefix) Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxLengthPayload {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxLengthPayload),
		}
	}
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(len(payload))
	copy(frame[1:], payload)
	return frame, nil
}

func (LengthPrefix) NewReader(r io.Reader) FrameReader {
	return &lengthReader{reader: r}
}

type lengthReader struct {
	reader io.Reader
}

// ReadFrame skips empty frames and returns the next payload.
func (d *lengthReader) ReadFrame() ([]byte, error) {
	var prefix [1]byte
	for {
		if _, err := io.ReadFull(d.reader, prefix[:]); err != nil {
			return nil, err
		}
		if prefix[0] != 0 {
			break
		}
	}

	payload := make([]byte, prefix[0])
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}
	return payload, nil
}
