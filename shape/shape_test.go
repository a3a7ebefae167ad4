package shape

import (
	"errors"
	"strings"
	"testing"
)

func instrShape() *Union {
	op := UnionOf("OpKind", 2, V("Add", 0, nil), V("Sub", 1, nil), V("Mul", 2, nil), V("Div", 3, nil))
	return UnionOf("Instr", 3,
		V("Put", 0, StructOf("Put", F("reg", U(3)), F("value", S(32)))),
		V("Op", 1, StructOf("Op", F("op", op), F("src_a", U(3)), F("src_b", U(3)), F("dst", U(3)))),
		V("Get", 2, StructOf("Get", F("reg", U(3)), F("id", U(16)))),
		V("Halt", 3, nil),
		V("NoOp", 4, nil),
	)
}

func TestBitsAndSize(t *testing.T) {
	tests := []struct {
		name     string
		s        Shape
		wantBits int
		wantSize int
	}{
		{"u1", Bool(), 1, 1},
		{"s64", S(64), 64, 8},
		{"thing", StructOf("Thing", F("x", U(8)), F("y", U(8)), F("z", S(16))), 32, 4},
		{"array", ArrayOf(S(8), 2), 16, 2},
		{"instr", instrShape(), 38, 5},
		{"result", StructOf("Result", F("id", U(16)), F("result", S(32))), 48, 6},
		{"odd", StructOf("Odd", F("a", U(3)), F("b", U(3))), 6, 1},
	}
	for _, tt := range tests {
		if got := tt.s.Bits(); got != tt.wantBits {
			t.Errorf("%s: Bits() = %d, want %d", tt.name, got, tt.wantBits)
		}
		if got := Size(tt.s); got != tt.wantSize {
			t.Errorf("%s: Size() = %d, want %d", tt.name, got, tt.wantSize)
		}
	}
}

func TestUnionOf_AutoTagWidth(t *testing.T) {
	u := UnionOf("U", 0, V("A", 0, nil), V("B", 1, nil), V("C", 4, nil))
	if u.TagWidth != 3 {
		t.Errorf("TagWidth = %d, want 3", u.TagWidth)
	}
	single := UnionOf("One", 0, V("Only", 0, nil))
	if single.TagWidth != 1 {
		t.Errorf("TagWidth = %d, want 1", single.TagWidth)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		s        Shape
		wantPath string
	}{
		{"width zero", U(0), ""},
		{"width too wide", S(65), ""},
		{"empty struct", StructOf("E"), "E"},
		{"dup field", StructOf("D", F("a", U(1)), F("a", U(2))), "D.a"},
		{"zero count", StructOf("A", F("xs", ArrayOf(U(8), 0))), "A.xs"},
		{"tag too wide", UnionOf("T", 2, V("A", 0, nil), V("B", 4, nil)), "T.B"},
		{"dup tag", UnionOf("T", 2, V("A", 1, nil), V("B", 1, nil)), "T.B"},
		{"dup variant", UnionOf("T", 2, V("A", 0, nil), V("A", 1, nil)), "T.A"},
		{"no variants", &Union{Name: "N", TagWidth: 1}, "N"},
		{"nested", StructOf("P", F("inner", StructOf("Q", F("bad", U(70))))), "P.inner.bad"},
	}
	for _, tt := range tests {
		err := Validate(tt.s)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected *ValidationError, got %v", tt.name, err)
			continue
		}
		if ve.Path != tt.wantPath {
			t.Errorf("%s: Path = %q, want %q", tt.name, ve.Path, tt.wantPath)
		}
	}

	if err := Validate(instrShape()); err != nil {
		t.Errorf("Validate(instr) = %v, want nil", err)
	}
}

func TestValidate_RejectsCycles(t *testing.T) {
	s := &Struct{Name: "Loop"}
	s.Fields = []Field{F("self", s)}
	if err := Validate(s); err == nil || !strings.Contains(err.Error(), "recursive") {
		t.Errorf("Validate(cycle) = %v, want recursive shape error", err)
	}
}

func TestLayout_Struct(t *testing.T) {
	s := StructOf("ThingMsg",
		F("pair", ArrayOf(S(8), 2)),
		F("swap", U(8)),
		F("delta", U(8)),
		F("z", S(16)),
	)
	slots := Layout(s)
	want := []Slot{
		{Path: "pair[0]", Kind: SlotField, Offset: 0, Width: 8, Signed: true},
		{Path: "pair[1]", Kind: SlotField, Offset: 8, Width: 8, Signed: true},
		{Path: "swap", Kind: SlotField, Offset: 16, Width: 8},
		{Path: "delta", Kind: SlotField, Offset: 24, Width: 8},
		{Path: "z", Kind: SlotField, Offset: 32, Width: 16, Signed: true},
	}
	if len(slots) != len(want) {
		t.Fatalf("len(slots) = %d, want %d: %+v", len(slots), len(want), slots)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Errorf("slot[%d] = %+v, want %+v", i, slots[i], want[i])
		}
	}
}

func TestLayout_UnionPadsToReservedWidth(t *testing.T) {
	slots := Layout(instrShape())
	if slots[0].Kind != SlotTag || slots[0].Width != 3 {
		t.Fatalf("first slot = %+v, want 3-bit tag", slots[0])
	}
	ends := map[string]int{}
	for _, s := range slots[1:] {
		if s.End() > ends[s.Variant] {
			ends[s.Variant] = s.End()
		}
	}
	for _, v := range []string{"Put", "Op", "Get", "Halt", "NoOp"} {
		if ends[v] != 38 {
			t.Errorf("variant %s ends at bit %d, want 38", v, ends[v])
		}
	}
}

func TestEqual(t *testing.T) {
	a := StructOf("A", F("x", U(8)), F("y", ArrayOf(S(4), 3)))
	b := StructOf("B", F("x", U(8)), F("y", ArrayOf(S(4), 3)))
	c := StructOf("C", F("x", U(8)), F("y", ArrayOf(S(4), 2)))
	if !Equal(a, b) {
		t.Error("Equal(a, b) = false, want true")
	}
	if Equal(a, c) {
		t.Error("Equal(a, c) = true, want false")
	}
	if !Equal(instrShape(), instrShape()) {
		t.Error("Equal(instr, instr) = false, want true")
	}
}
