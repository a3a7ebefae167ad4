package ipc

import (
	"bytes"
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/engine"
	"github.com/pithecene-io/bitwire/shape"
)

var (
	instr = shape.UnionOf("Instr", 2,
		shape.V("Get", 0, shape.StructOf("Get", shape.F("reg", shape.U(3)), shape.F("id", shape.U(16)))),
		shape.V("Halt", 1, nil),
		shape.V("NoOp", 2, nil),
	)
	result = shape.StructOf("Result", shape.F("id", shape.U(16)), shape.F("result", shape.S(32)))
)

// fakeEngine pulls instructions until Halt and answers every Get with the
// register number times ten.
func fakeEngine(t *testing.T, conn net.Conn) error {
	t.Helper()
	ic := codec.MustCompile(instr)
	rc := codec.MustCompile(result)
	remote := NewRemote(conn)

	for {
		buf, err := remote.NextInstruction()
		if err != nil {
			return err
		}
		v, err := ic.Unpack(buf)
		if err != nil {
			return err
		}
		in := v.(codec.Variant)
		switch in.Name {
		case "Halt":
			return remote.Halt()
		case "Get":
			rec := in.Value.(codec.Record)
			out, err := rc.Pack(codec.Record{"id": rec["id"], "result": rec["reg"].(uint64) * 10})
			if err != nil {
				return err
			}
			if err := remote.SubmitResult(out); err != nil {
				return err
			}
		}
	}
}

func TestServe_ProgramRoundTrip(t *testing.T) {
	ic := codec.MustCompile(instr)
	rc := codec.MustCompile(result)

	program, err := engine.NewProgram(ic, []any{
		codec.Variant{Name: "Get", Value: codec.Record{"reg": 4, "id": 0xAAAA}},
		codec.Variant{Name: "Get", Value: codec.Record{"reg": 5, "id": 0xBBBB}},
		codec.Variant{Name: "Halt"},
	}, codec.Variant{Name: "NoOp"})
	if err != nil {
		t.Fatalf("NewProgram failed: %v", err)
	}
	results := engine.NewResultLog(rc, nil)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	engineErr := make(chan error, 1)
	go func() { engineErr <- fakeEngine(t, client) }()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := Serve(ctx, server, program, results); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if err := <-engineErr; err != nil {
		t.Fatalf("engine failed: %v", err)
	}

	want := []any{
		codec.Record{"id": uint64(0xAAAA), "result": int64(40)},
		codec.Record{"id": uint64(0xBBBB), "result": int64(50)},
	}
	if got := results.Results(); !reflect.DeepEqual(got, want) {
		t.Errorf("Results() = %#v, want %#v", got, want)
	}
	if program.Issued() != 3 {
		t.Errorf("Issued() = %d, want 3", program.Issued())
	}
}

func TestServe_SkipsUndecodableFrames(t *testing.T) {
	var in bytes.Buffer
	in.Write(encodeFrame([]byte{0xC1})) // reserved msgpack code
	enc := NewFrameEncoder(&in)
	_ = enc.WriteFrame(&Frame{Type: TypeResult, Data: []byte{0, 1, 0, 0, 0, 2}})
	_ = enc.WriteFrame(&Frame{Type: TypeHalt})

	results := engine.NewResultLog(codec.MustCompile(result), nil)
	stream := &duplex{r: &in, w: &bytes.Buffer{}}
	if err := Serve(t.Context(), stream, nil, results); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if results.Len() != 1 {
		t.Errorf("results = %d, want 1", results.Len())
	}
}

func TestServe_EOFEndsCleanly(t *testing.T) {
	stream := &duplex{r: &bytes.Buffer{}, w: &bytes.Buffer{}}
	if err := Serve(t.Context(), stream, nil, nil); err != nil {
		t.Errorf("Serve on empty stream = %v, want nil", err)
	}
}

func TestServe_FatalFrameError(t *testing.T) {
	stream := &duplex{r: bytes.NewBuffer([]byte{0, 0}), w: &bytes.Buffer{}}
	err := Serve(t.Context(), stream, nil, nil)
	if !IsFatalFrameError(err) {
		t.Errorf("Serve on truncated stream = %v, want fatal frame error", err)
	}
}

func TestServe_ResultSizeMismatch(t *testing.T) {
	var in bytes.Buffer
	_ = NewFrameEncoder(&in).WriteFrame(&Frame{Type: TypeResult, Data: []byte{1}})
	results := engine.NewResultLog(codec.MustCompile(result), nil)

	err := Serve(t.Context(), &duplex{r: &in, w: &bytes.Buffer{}}, nil, results)
	if err == nil {
		t.Fatal("expected error for short result")
	}
}

type duplex struct {
	r *bytes.Buffer
	w *bytes.Buffer
}

func (d *duplex) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *duplex) Write(p []byte) (int, error) { return d.w.Write(p) }
