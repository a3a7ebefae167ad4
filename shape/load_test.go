package shape

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/bitwire/bitio"
)

const calcYAML = `
meta:
  id: calc
types:
  OpKind:
    tag_bits: 2
    variants:
      - id: Add
      - id: Sub
      - id: Mul
      - id: Div
  Put:
    seq:
      - id: reg
        type: u3
      - id: value
        type: s32
  Instr:
    tag_bits: 3
    variants:
      - id: Put
        type: Put
      - id: Op
        seq:
          - id: op
            type: OpKind
          - id: src_a
            type: u3
          - id: src_b
            type: u3
          - id: dst
            type: u3
      - id: Get
        seq:
          - id: reg
            type: u3
          - id: id
            type: u16
      - id: Halt
      - id: NoOp
  Grid:
    seq:
      - id: cells
        type: s8[2][3]
protocols:
  Counter:
    out:
      - id: a
        type: u16
      - id: events
        type: u8
        depth: 4
    in:
      - id: set_a
        type: u16
      - id: add_a
        code: 3
        type: u16
        apply: accumulate
`

func TestLoadBytes_YAML(t *testing.T) {
	reg, err := LoadBytes([]byte(calcYAML), FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if reg.ID != "calc" {
		t.Errorf("ID = %q, want calc", reg.ID)
	}
	if reg.BitOrder != bitio.MSBFirst {
		t.Errorf("BitOrder = %v, want msb", reg.BitOrder)
	}
	if got := reg.Names(); strings.Join(got, ",") != "Grid,Instr,OpKind,Put" {
		t.Errorf("Names() = %v", got)
	}

	instr := reg.MustLookup("Instr").(*Union)
	if instr.Bits() != 38 {
		t.Errorf("Instr bits = %d, want 38", instr.Bits())
	}
	op, ok := instr.VariantByName("Op")
	if !ok || op.Tag != 1 {
		t.Fatalf("Op variant = %+v, %v", op, ok)
	}
	if op.Payload.Bits() != 11 {
		t.Errorf("Op payload bits = %d, want 11", op.Payload.Bits())
	}
	halt, _ := instr.VariantByName("Halt")
	if halt.Payload != nil || halt.Tag != 3 {
		t.Errorf("Halt = %+v, want unit variant with tag 3", halt)
	}
	// Put is shared by name with the top-level type.
	put, _ := instr.VariantByName("Put")
	if put.Payload != reg.MustLookup("Put") {
		t.Error("Put payload is not the registered Put type")
	}

	grid := reg.MustLookup("Grid").(*Struct)
	cells := grid.Fields[0].Shape.(Array)
	if cells.Count != 3 || cells.Elem.(Array).Count != 2 {
		t.Errorf("cells = %v, want s8[2][3]", cells)
	}

	p, ok := reg.Protocol("Counter")
	if !ok {
		t.Fatal("protocol Counter not found")
	}
	if p.IDWidth != 2 {
		t.Errorf("IDWidth = %d, want 2", p.IDWidth)
	}
	if p.Out[1].Depth != 4 || p.Out[1].ID != 1 {
		t.Errorf("events = %+v", p.Out[1])
	}
	if p.In[0].Apply != ApplyReplace || p.In[1].Apply != ApplyAccumulate || p.In[1].ID != 3 {
		t.Errorf("in = %+v", p.In)
	}
}

func TestLoadBytes_TOML(t *testing.T) {
	doc := `
[meta]
id = "thing"
bit_order = "lsb"

[types.Thing]
seq = [
  { id = "x", type = "u8" },
  { id = "y", type = "u8" },
  { id = "z", type = "s16" },
]
`
	reg, err := LoadBytes([]byte(doc), FormatTOML)
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if reg.BitOrder != bitio.LSBFirst {
		t.Errorf("BitOrder = %v, want lsb", reg.BitOrder)
	}
	thing, ok := reg.Lookup("Thing")
	if !ok {
		t.Fatal("Thing not found")
	}
	if Size(thing) != 4 {
		t.Errorf("Size(Thing) = %d, want 4", Size(thing))
	}
}

func TestLoadBytes_Errors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantLine int
		wantMsg  string
	}{
		{
			name:     "unknown type",
			doc:      "types:\n  A:\n    seq:\n      - id: x\n        type: Missing\n",
			wantLine: 5,
			wantMsg:  `unknown type "Missing"`,
		},
		{
			name:     "bad expression",
			doc:      "types:\n  A:\n    seq:\n      - id: x\n        type: \"u8[\"\n",
			wantLine: 5,
			wantMsg:  "invalid type expression",
		},
		{
			name:     "self reference",
			doc:      "types:\n  A:\n    seq:\n      - id: x\n        type: A\n",
			wantLine: 5,
			wantMsg:  "refers to itself",
		},
		{
			name:     "tag overflow",
			doc:      "types:\n  U:\n    tag_bits: 1\n    variants:\n      - id: A\n      - id: B\n      - id: C\n",
			wantLine: 2,
			wantMsg:  "does not fit",
		},
		{
			name:     "bad apply",
			doc:      "protocols:\n  P:\n    in:\n      - id: m\n        type: u8\n        apply: merge\n",
			wantLine: 5,
			wantMsg:  "unknown apply policy",
		},
	}
	for _, tt := range tests {
		_, err := LoadBytes([]byte(tt.doc), FormatYAML)
		var ve ValueError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected ValueError, got %v", tt.name, err)
			continue
		}
		if ve.Line != tt.wantLine {
			t.Errorf("%s: Line = %d, want %d (%v)", tt.name, ve.Line, tt.wantLine, err)
		}
		if !strings.Contains(err.Error(), tt.wantMsg) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.wantMsg)
		}
	}
}

func TestLoadFile_PicksFormatFromExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thing.toml")
	doc := "[types.T]\nseq = [{ id = \"a\", type = \"u4\" }]\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if _, ok := reg.Lookup("T"); !ok {
		t.Error("T not found")
	}
}
