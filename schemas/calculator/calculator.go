// Package calculator declares the instruction and result shapes of the
// calculator engine and typed wrappers around them.
//
// An instruction is a 5-variant tagged union in a fixed 5-byte slot; the Op
// payload nests a 2-bit operator union. Results are a fixed 6-byte struct.
package calculator

import (
	_ "embed"
	"fmt"

	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/shape"
)

//go:embed calculator.yaml
var schemaYAML []byte

// Fixed byte sizes.
const (
	SizeInstr  = 5
	SizeResult = 6
)

// Registers are addressed with 3 bits.
const NumRegisters = 8

var (
	registry    = mustLoad()
	instrCodec  = codec.MustCompile(registry.MustLookup("Instr"), codec.WithOrder(registry.BitOrder))
	resultCodec = codec.MustCompile(registry.MustLookup("Result"), codec.WithOrder(registry.BitOrder))
)

func mustLoad() *shape.Registry {
	reg, err := shape.LoadBytes(schemaYAML, shape.FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("calculator: embedded schema: %v", err))
	}
	return reg
}

func init() {
	if instrCodec.Size() != SizeInstr || resultCodec.Size() != SizeResult {
		panic(fmt.Sprintf("calculator: sizes %d/%d drifted from declared %d/%d",
			instrCodec.Size(), resultCodec.Size(), SizeInstr, SizeResult))
	}
}

// Registry returns the loaded calculator schema.
func Registry() *shape.Registry { return registry }

// InstrCodec returns the compiled instruction codec.
func InstrCodec() *codec.Codec { return instrCodec }

// ResultCodec returns the compiled result codec.
func ResultCodec() *codec.Codec { return resultCodec }

// OpKind is the arithmetic operator of an Op instruction.
type OpKind uint8

const (
	Add OpKind = iota
	Sub
	Mul
	Div
)

var opNames = [...]string{"Add", "Sub", "Mul", "Div"}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// Kind is the active variant of an instruction.
type Kind uint8

const (
	KindPut Kind = iota
	KindOp
	KindGet
	KindHalt
	KindNoOp
)

var kindNames = [...]string{"Put", "Op", "Get", "Halt", "NoOp"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Put loads Value into register Reg.
type Put struct {
	Reg   uint8 `bitwire:"reg"`
	Value int32 `bitwire:"value"`
}

// Op computes Dst = SrcA <Op> SrcB.
type Op struct {
	Op   OpKind
	SrcA uint8
	SrcB uint8
	Dst  uint8
}

// Get reports register Reg as a result tagged ID.
type Get struct {
	Reg uint8  `bitwire:"reg"`
	ID  uint16 `bitwire:"id"`
}

// Instr is one instruction. Only the payload matching Kind is meaningful.
type Instr struct {
	Kind Kind
	Put  Put
	Op   Op
	Get  Get
}

// PutInstr returns a Put instruction.
func PutInstr(reg uint8, value int32) Instr {
	return Instr{Kind: KindPut, Put: Put{Reg: reg, Value: value}}
}

// OpInstr returns an Op instruction.
func OpInstr(op OpKind, srcA, srcB, dst uint8) Instr {
	return Instr{Kind: KindOp, Op: Op{Op: op, SrcA: srcA, SrcB: srcB, Dst: dst}}
}

// GetInstr returns a Get instruction.
func GetInstr(reg uint8, id uint16) Instr {
	return Instr{Kind: KindGet, Get: Get{Reg: reg, ID: id}}
}

// HaltInstr returns a Halt instruction.
func HaltInstr() Instr { return Instr{Kind: KindHalt} }

// NoOpInstr returns the filler instruction.
func NoOpInstr() Instr { return Instr{Kind: KindNoOp} }

func (i Instr) String() string {
	switch i.Kind {
	case KindPut:
		return fmt.Sprintf("Put r%d <- %d", i.Put.Reg, i.Put.Value)
	case KindOp:
		return fmt.Sprintf("Op r%d <- r%d %s r%d", i.Op.Dst, i.Op.SrcA, i.Op.Op, i.Op.SrcB)
	case KindGet:
		return fmt.Sprintf("Get r%d as %#x", i.Get.Reg, i.Get.ID)
	default:
		return i.Kind.String()
	}
}

// Value converts i to the dynamic form walked by the codec.
func (i Instr) Value() codec.Variant {
	v := codec.Variant{Name: i.Kind.String(), Tag: uint64(i.Kind)}
	switch i.Kind {
	case KindPut:
		v.Value = i.Put
	case KindOp:
		v.Value = codec.Record{
			"op":    codec.Variant{Name: i.Op.Op.String(), Tag: uint64(i.Op.Op)},
			"src_a": i.Op.SrcA,
			"src_b": i.Op.SrcB,
			"dst":   i.Op.Dst,
		}
	case KindGet:
		v.Value = i.Get
	}
	return v
}

// InstrFromValue converts a decoded instruction back to its typed form.
func InstrFromValue(v any) (Instr, error) {
	sel, ok := v.(codec.Variant)
	if !ok {
		return Instr{}, fmt.Errorf("%w: %T is not an instruction", codec.ErrValueType, v)
	}
	in := Instr{Kind: Kind(sel.Tag)}
	switch in.Kind {
	case KindPut:
		if err := codec.Bind(sel.Value, &in.Put); err != nil {
			return Instr{}, err
		}
	case KindOp:
		var payload struct {
			Op   any   `bitwire:"op"`
			SrcA uint8 `bitwire:"src_a"`
			SrcB uint8 `bitwire:"src_b"`
			Dst  uint8 `bitwire:"dst"`
		}
		if err := codec.Bind(sel.Value, &payload); err != nil {
			return Instr{}, err
		}
		op, ok := payload.Op.(codec.Variant)
		if !ok {
			return Instr{}, fmt.Errorf("%w: Op operator %T", codec.ErrValueType, payload.Op)
		}
		in.Op = Op{Op: OpKind(op.Tag), SrcA: payload.SrcA, SrcB: payload.SrcB, Dst: payload.Dst}
	case KindGet:
		if err := codec.Bind(sel.Value, &in.Get); err != nil {
			return Instr{}, err
		}
	case KindHalt, KindNoOp:
	default:
		return Instr{}, fmt.Errorf("%w: instruction tag %d", codec.ErrUnknownDiscriminant, sel.Tag)
	}
	return in, nil
}

// PackInstr packs i into SizeInstr bytes.
func PackInstr(i Instr) ([]byte, error) {
	return instrCodec.Pack(i.Value())
}

// UnpackInstr decodes SizeInstr bytes.
func UnpackInstr(buf []byte) (Instr, error) {
	v, err := instrCodec.Unpack(buf)
	if err != nil {
		return Instr{}, err
	}
	return InstrFromValue(v)
}

// Result is one value reported by the engine for a Get.
type Result struct {
	ID     uint16 `bitwire:"id"`
	Result int32  `bitwire:"result"`
}

// PackResult packs r into SizeResult bytes.
func PackResult(r Result) ([]byte, error) {
	return resultCodec.Pack(r)
}

// UnpackResult decodes SizeResult bytes.
func UnpackResult(buf []byte) (Result, error) {
	v, err := resultCodec.Unpack(buf)
	if err != nil {
		return Result{}, err
	}
	return ResultFromValue(v)
}

// ResultFromValue converts a decoded result record to its typed form.
func ResultFromValue(v any) (Result, error) {
	var r Result
	if err := codec.Bind(v, &r); err != nil {
		return Result{}, err
	}
	return r, nil
}

// DemoProgram loads four registers, then computes and reports their sum
// (0xAAAA), mean (0xBBBB) and product (0xCCCC).
func DemoProgram() []Instr {
	return []Instr{
		PutInstr(0, 10),
		PutInstr(1, 20),
		PutInstr(2, 30),
		PutInstr(3, 40),

		OpInstr(Add, 0, 1, 4),
		OpInstr(Add, 2, 4, 4),
		OpInstr(Add, 3, 4, 4),
		GetInstr(4, 0xAAAA),

		PutInstr(5, 4),
		OpInstr(Div, 4, 5, 4),
		GetInstr(4, 0xBBBB),

		OpInstr(Mul, 0, 1, 5),
		OpInstr(Mul, 2, 5, 5),
		OpInstr(Mul, 3, 5, 5),
		GetInstr(5, 0xCCCC),

		HaltInstr(),
	}
}

// DemoValues returns DemoProgram in the dynamic form accepted by
// engine.NewProgram.
func DemoValues() []any {
	prog := DemoProgram()
	out := make([]any, len(prog))
	for i, in := range prog {
		out[i] = in.Value()
	}
	return out
}
