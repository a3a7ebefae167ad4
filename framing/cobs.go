package framing

import (
	"bufio"
	"errors"
	"io"
)

// Delimiter terminates every COBS frame.
const Delimiter = 0x00

// COBS frames payloads with consistent overhead byte stuffing.
type COBS struct{}

func (COBS) Name() string { return "cobs" }

// Encode stuffs payload and appends the delimiter.
func (COBS) Encode(payload []byte) ([]byte, error) {
	return append(CobsEncode(payload), Delimiter), nil
}

func (COBS) NewReader(r io.Reader) FrameReader {
	return &cobsReader{reader: bufio.NewReader(r)}
}

// CobsEncode returns payload with every zero byte removed. The result
// contains no zero bytes and no delimiter.
func CobsEncode(payload []byte) []byte {
	out := make([]byte, 1, len(payload)+len(payload)/254+2)
	codeIdx := 0
	code := byte(1)
	for _, b := range payload {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code
	return out
}

var errCobsZero = errors.New("zero byte inside frame")

// CobsDecode reverses CobsEncode. data must not include the delimiter.
func CobsDecode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		code := data[i]
		if code == 0 {
			return nil, errCobsZero
		}
		end := i + int(code)
		if end > len(data) {
			return nil, errors.New("code byte points past end of frame")
		}
		for _, b := range data[i+1 : end] {
			if b == 0 {
				return nil, errCobsZero
			}
		}
		out = append(out, data[i+1:end]...)
		i = end
		if code != 0xFF && i < len(data) {
			out = append(out, 0)
		}
	}
	return out, nil
}

type cobsReader struct {
	reader *bufio.Reader
}

// ReadFrame returns the next non-empty frame.
func (d *cobsReader) ReadFrame() ([]byte, error) {
	for {
		raw, err := d.reader.ReadBytes(Delimiter)
		if err != nil {
			if err == io.EOF && len(raw) == 0 {
				return nil, io.EOF
			}
			return nil, &FrameError{
				Kind: FrameErrorPartial,
				Msg:  "stream ended before frame delimiter",
				Err:  err,
			}
		}
		raw = raw[:len(raw)-1]
		if len(raw) == 0 {
			continue
		}
		payload, err := CobsDecode(raw)
		if err != nil {
			return nil, &FrameError{
				Kind: FrameErrorMalformed,
				Msg:  "failed to decode cobs frame",
				Err:  err,
			}
		}
		return payload, nil
	}
}
