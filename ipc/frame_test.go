package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeFrame encodes a payload with length prefix (matches engine output).
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestFrameDecoder_SingleInstruction(t *testing.T) {
	frame, err := EncodeFrame(&Frame{Type: TypeInstruction, Seq: 7, Data: []byte{0x20, 0x30, 0, 0, 0}})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	decoder := NewFrameDecoder(bytes.NewReader(frame))
	decoded, err := decoder.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	if decoded.Type != TypeInstruction {
		t.Errorf("Type = %q, want %q", decoded.Type, TypeInstruction)
	}
	if decoded.Seq != 7 {
		t.Errorf("Seq = %d, want 7", decoded.Seq)
	}
	if !bytes.Equal(decoded.Data, []byte{0x20, 0x30, 0, 0, 0}) {
		t.Errorf("Data = % x, want 20 30 00 00 00", decoded.Data)
	}
}

func TestFrameDecoder_MultipleFrames(t *testing.T) {
	frames := []*Frame{
		{Type: TypeNext},
		{Type: TypeResult, Seq: 0, Data: []byte{0xAA, 0xAA, 0, 0, 0, 100}},
		{Type: TypeHalt},
	}

	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)
	for _, f := range frames {
		if err := enc.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	decoder := NewFrameDecoder(&buf)
	for i, want := range frames {
		got, err := decoder.Next()
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if got.Type != want.Type || got.Seq != want.Seq || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("frame %d = %+v, want %+v", i, got, want)
		}
	}

	if _, err := decoder.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got: %v", err)
	}
}

func TestFrame_WireKeys(t *testing.T) {
	frame, err := EncodeFrame(&Frame{Type: TypeResult, Seq: 3, Data: []byte{1}})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	var raw map[string]any
	if err := msgpack.Unmarshal(frame[LengthPrefixSize:], &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"type", "seq", "data"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %v", key, raw)
		}
	}
}

// TestFrameDecoder_PartialFrame validates fatal error for truncated frames.
func TestFrameDecoder_PartialFrame(t *testing.T) {
	frame, _ := EncodeFrame(&Frame{Type: TypeInstruction, Data: []byte{1, 2, 3, 4, 5}})

	// Truncate the frame (keep only length prefix + half payload)
	truncated := frame[:LengthPrefixSize+len(frame[LengthPrefixSize:])/2]

	decoder := NewFrameDecoder(bytes.NewReader(truncated))
	_, err := decoder.ReadFrame()

	if err == nil {
		t.Fatal("expected error for truncated frame")
	}

	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got: %v", err)
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}

	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
}

// TestFrameDecoder_OversizedFrame validates fatal error for frames exceeding max size.
func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxPayloadSize+1))

	decoder := NewFrameDecoder(&buf)
	_, err := decoder.ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("Kind = %v, want FrameErrorTooLarge", frameErr.Kind)
	}
	if !frameErr.IsFatal() {
		t.Error("FrameErrorTooLarge.IsFatal() should return true")
	}
}

func TestEncodeFrame_Oversized(t *testing.T) {
	_, err := EncodeFrame(&Frame{Type: TypeResult, Data: make([]byte, MaxPayloadSize)})
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("EncodeFrame oversized err = %v, want FrameErrorTooLarge", err)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader(nil))
	_, err := decoder.ReadFrame()

	if err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
}

func TestFrameDecoder_TruncatedLengthPrefix(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x00}))
	_, err := decoder.ReadFrame()

	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got: %v", err)
	}
}

// TestDecodeFrame_NonFatalErrors covers frames that were read correctly but
// whose content is unusable.
func TestDecodeFrame_NonFatalErrors(t *testing.T) {
	unknown, _ := msgpack.Marshal(map[string]any{"type": "teleport", "seq": 1})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed msgpack", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"unknown type", unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.payload)
			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				t.Fatalf("expected *FrameError, got %T (%v)", err, err)
			}
			if frameErr.Kind != FrameErrorDecode {
				t.Errorf("Kind = %v, want FrameErrorDecode", frameErr.Kind)
			}
			if IsFatalFrameError(err) {
				t.Error("decode errors should not be fatal")
			}
		})
	}
}

func TestFrameError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *FrameError
		contains string
	}{
		{
			name:     "partial without underlying error",
			err:      &FrameError{Kind: FrameErrorPartial, Msg: "truncated"},
			contains: "truncated",
		},
		{
			name:     "partial with underlying error",
			err:      &FrameError{Kind: FrameErrorPartial, Msg: "read failed", Err: io.ErrUnexpectedEOF},
			contains: "unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			if !bytes.Contains([]byte(msg), []byte(tt.contains)) {
				t.Errorf("error message %q does not contain %q", msg, tt.contains)
			}
		})
	}
}

func TestFrameError_Unwrap(t *testing.T) {
	err := &FrameError{Kind: FrameErrorPartial, Msg: "test", Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Unwrap should allow errors.Is to find underlying error")
	}
}

func TestIsFatalFrameError_NonFrameError(t *testing.T) {
	if IsFatalFrameError(errors.New("regular error")) {
		t.Error("regular errors should not be fatal frame errors")
	}
	if IsFatalFrameError(nil) {
		t.Error("nil should not be a fatal frame error")
	}
	if IsFatalFrameError(io.EOF) {
		t.Error("io.EOF should not be a fatal frame error")
	}
}
