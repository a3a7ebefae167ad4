package codec

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/shape"
)

var (
	opKind = shape.UnionOf("OpKind", 2,
		shape.V("Add", 0, nil), shape.V("Sub", 1, nil), shape.V("Mul", 2, nil), shape.V("Div", 3, nil))
	instr = shape.UnionOf("Instr", 3,
		shape.V("Put", 0, shape.StructOf("Put", shape.F("reg", shape.U(3)), shape.F("value", shape.S(32)))),
		shape.V("Op", 1, shape.StructOf("Op",
			shape.F("op", opKind), shape.F("src_a", shape.U(3)), shape.F("src_b", shape.U(3)), shape.F("dst", shape.U(3)))),
		shape.V("Get", 2, shape.StructOf("Get", shape.F("reg", shape.U(3)), shape.F("id", shape.U(16)))),
		shape.V("Halt", 3, nil),
		shape.V("NoOp", 4, nil),
	)
	thing    = shape.StructOf("Thing", shape.F("x", shape.U(8)), shape.F("y", shape.U(8)), shape.F("z", shape.S(16)))
	thingMsg = shape.StructOf("ThingMsg",
		shape.F("pair", shape.ArrayOf(shape.S(8), 2)),
		shape.F("swap", shape.U(8)),
		shape.F("delta", shape.U(8)),
		shape.F("z", shape.S(16)),
	)
)

func opValue(op string, a, b, dst uint64) Variant {
	return Variant{Name: "Op", Tag: 1, Value: Record{
		"op":    Variant{Name: op, Tag: opTag(op)},
		"src_a": a,
		"src_b": b,
		"dst":   dst,
	}}
}

func opTag(name string) uint64 {
	v, _ := opKind.VariantByName(name)
	return v.Tag
}

func TestPack_Struct(t *testing.T) {
	c := MustCompile(thing)
	if c.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", c.Size())
	}
	buf, err := c.Pack(Record{"x": uint64(1), "y": uint64(2), "z": int64(-3)})
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	want := []byte{0x01, 0x02, 0xFF, 0xFD}
	if !bytes.Equal(buf, want) {
		t.Errorf("Pack = % x, want % x", buf, want)
	}
	got, err := c.Unpack(buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	wantVal := Record{"x": uint64(1), "y": uint64(2), "z": int64(-3)}
	if !reflect.DeepEqual(got, wantVal) {
		t.Errorf("Unpack = %#v, want %#v", got, wantVal)
	}
}

func TestPack_CalculatorInstructions(t *testing.T) {
	c := MustCompile(instr)
	if c.Bits() != 38 || c.Size() != 5 {
		t.Fatalf("Bits/Size = %d/%d, want 38/5", c.Bits(), c.Size())
	}

	tests := []struct {
		name string
		v    Variant
		want []byte
	}{
		{"op add", opValue("Add", 0, 1, 4), []byte{0x20, 0x30, 0x00, 0x00, 0x00}},
		{"get", Variant{Name: "Get", Tag: 2, Value: Record{"reg": uint64(4), "id": uint64(0xAAAA)}}, []byte{0x52, 0xAA, 0xA8, 0x00, 0x00}},
		{"halt", Variant{Name: "Halt", Tag: 3}, []byte{0x60, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		buf, err := c.Pack(tt.v)
		if err != nil {
			t.Fatalf("%s: Pack failed: %v", tt.name, err)
		}
		if !bytes.Equal(buf, tt.want) {
			t.Errorf("%s: Pack = % x, want % x", tt.name, buf, tt.want)
		}
		got, err := c.Unpack(buf)
		if err != nil {
			t.Fatalf("%s: Unpack failed: %v", tt.name, err)
		}
		if !reflect.DeepEqual(got, tt.v) {
			t.Errorf("%s: Unpack = %#v, want %#v", tt.name, got, tt.v)
		}
	}
}

func TestPack_RoundTripsSignedPayload(t *testing.T) {
	c := MustCompile(instr)
	for _, value := range []int64{0, 1, -1, -5, 1<<31 - 1, -(1 << 31)} {
		v := Variant{Name: "Put", Tag: 0, Value: Record{"reg": uint64(7), "value": value}}
		buf, err := c.Pack(v)
		if err != nil {
			t.Fatalf("Pack(%d) failed: %v", value, err)
		}
		got, err := c.Unpack(buf)
		if err != nil {
			t.Fatalf("Unpack(%d) failed: %v", value, err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip %d = %#v, want %#v", value, got, v)
		}
	}
}

func TestPack_VariantByTagOnly(t *testing.T) {
	c := MustCompile(instr)
	buf, err := c.Pack(Variant{Tag: 4})
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	got, err := c.Unpack(buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if v := got.(Variant); v.Name != "NoOp" || v.Tag != 4 {
		t.Errorf("Unpack = %+v, want NoOp/4", v)
	}
}

func TestUnpack_UnknownDiscriminant(t *testing.T) {
	c := MustCompile(instr)
	_, err := c.Unpack([]byte{0xA0, 0, 0, 0, 0}) // tag 5
	if !errors.Is(err, ErrUnknownDiscriminant) {
		t.Fatalf("expected ErrUnknownDiscriminant, got %v", err)
	}

	// Nested operator union with every tag used cannot fail, but the outer
	// name lookup can.
	_, err = c.Pack(Variant{Name: "Jump"})
	if !errors.Is(err, ErrUnknownDiscriminant) {
		t.Fatalf("expected ErrUnknownDiscriminant for unknown name, got %v", err)
	}
}

func TestPack_NestedArray(t *testing.T) {
	c := MustCompile(thingMsg)
	if c.Size() != 6 {
		t.Fatalf("Size() = %d, want 6", c.Size())
	}
	v := Record{
		"pair":  []any{int64(-1), int64(2)},
		"swap":  uint64(1),
		"delta": uint64(200),
		"z":     int64(-300),
	}
	buf, err := c.Pack(v)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	want := []byte{0xFF, 0x02, 0x01, 0xC8, 0xFE, 0xD4}
	if !bytes.Equal(buf, want) {
		t.Errorf("Pack = % x, want % x", buf, want)
	}
	got, err := c.Unpack(buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("Unpack = %#v, want %#v", got, v)
	}
}

func TestPack_TruncatesByDefault(t *testing.T) {
	s := shape.StructOf("R", shape.F("a", shape.U(3)), shape.F("b", shape.S(4)))
	c := MustCompile(s)
	got, err := c.Normalize(Record{"a": 9, "b": 9})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	want := Record{"a": uint64(1), "b": int64(-7)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %#v, want %#v", got, want)
	}
}

func TestPack_StrictOverflow(t *testing.T) {
	s := shape.StructOf("R", shape.F("a", shape.U(3)), shape.F("b", shape.S(4)))
	c := MustCompile(s, WithStrict())

	tests := []struct {
		name     string
		v        Record
		wantPath string
	}{
		{"unsigned too big", Record{"a": 8, "b": 0}, "a"},
		{"unsigned negative", Record{"a": -1, "b": 0}, "a"},
		{"signed too big", Record{"a": 0, "b": 8}, "b"},
		{"signed too small", Record{"a": 0, "b": -9}, "b"},
	}
	for _, tt := range tests {
		_, err := c.Pack(tt.v)
		if !errors.Is(err, ErrFieldOverflow) {
			t.Errorf("%s: expected ErrFieldOverflow, got %v", tt.name, err)
			continue
		}
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Path != tt.wantPath {
			t.Errorf("%s: path = %v, want %q", tt.name, err, tt.wantPath)
		}
	}

	if _, err := c.Pack(Record{"a": 7, "b": -8}); err != nil {
		t.Errorf("Pack(in range) = %v, want nil", err)
	}
}

func TestPack_ValueErrors(t *testing.T) {
	c := MustCompile(thingMsg)
	tests := []struct {
		name    string
		v       any
		wantErr error
	}{
		{"not a record", uint64(3), ErrValueType},
		{"missing field", Record{"pair": []any{0, 0}, "swap": 0, "delta": 0}, ErrMissingField},
		{"short array", Record{"pair": []any{0}, "swap": 0, "delta": 0, "z": 0}, ErrValueType},
		{"string field", Record{"pair": []any{0, 0}, "swap": "x", "delta": 0, "z": 0}, ErrValueType},
	}
	for _, tt := range tests {
		if _, err := c.Pack(tt.v); !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestPackInto_BufferTooSmall(t *testing.T) {
	c := MustCompile(thing)
	_, err := c.PackInto(Record{"x": 0, "y": 0, "z": 0}, make([]byte, 3))
	if !errors.Is(err, bitio.ErrOutOfSpace) {
		t.Fatalf("expected ErrOutOfSpace, got %v", err)
	}
	if _, err := c.Unpack(make([]byte, 2)); !errors.Is(err, bitio.ErrOutOfSpace) {
		t.Fatalf("expected ErrOutOfSpace on unpack, got %v", err)
	}
}

func TestPackInto_ZeroesTrailingBits(t *testing.T) {
	c := MustCompile(shape.StructOf("Odd", shape.F("a", shape.U(3)), shape.F("b", shape.U(3))))
	buf := []byte{0xFF, 0xEE}
	n, err := c.PackInto(Record{"a": 7, "b": 0}, buf)
	if err != nil {
		t.Fatalf("PackInto failed: %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
	if buf[0] != 0xE0 || buf[1] != 0xEE {
		t.Errorf("buf = % x, want e0 ee", buf)
	}
}

func TestLSBOrder_RoundTrip(t *testing.T) {
	c := MustCompile(instr, WithOrder(bitio.LSBFirst))
	v := opValue("Div", 3, 5, 7)
	buf, err := c.Pack(v)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if buf[0]&0x07 != 1 {
		t.Errorf("low tag bits = %d, want 1", buf[0]&0x07)
	}
	got, err := c.Unpack(buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("Unpack = %#v, want %#v", got, v)
	}
}

func TestZero(t *testing.T) {
	z := Zero(thingMsg)
	want := Record{"pair": []any{int64(0), int64(0)}, "swap": uint64(0), "delta": uint64(0), "z": int64(0)}
	if !reflect.DeepEqual(z, want) {
		t.Errorf("Zero(ThingMsg) = %#v, want %#v", z, want)
	}
	if v := Zero(instr).(Variant); v.Name != "Put" {
		t.Errorf("Zero(Instr) = %+v, want Put", v)
	}
}

func TestCompile_RejectsInvalidShape(t *testing.T) {
	if _, err := Compile(shape.StructOf("Empty")); err == nil {
		t.Error("Compile(empty struct) = nil, want error")
	}
}
