package calculator

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/bitwire/engine"
)

// ErrHalted is returned by Step once the machine has executed Halt.
var ErrHalted = errors.New("calculator: machine halted")

// Machine is a software engine for the instruction set: NumRegisters signed
// 32-bit registers with wrapping arithmetic. Division by zero yields 0.
type Machine struct {
	Regs   [NumRegisters]int32
	Steps  int
	halted bool
}

// Halted reports whether Halt has been executed.
func (m *Machine) Halted() bool { return m.halted }

// Step executes one instruction. A Get returns the result it reports.
func (m *Machine) Step(in Instr) (*Result, error) {
	if m.halted {
		return nil, ErrHalted
	}
	m.Steps++
	switch in.Kind {
	case KindPut:
		if int(in.Put.Reg) >= NumRegisters {
			return nil, fmt.Errorf("put: register %d out of range", in.Put.Reg)
		}
		m.Regs[in.Put.Reg] = in.Put.Value
	case KindOp:
		op := in.Op
		if int(op.SrcA) >= NumRegisters || int(op.SrcB) >= NumRegisters || int(op.Dst) >= NumRegisters {
			return nil, fmt.Errorf("op: register out of range in %s", in)
		}
		a, b := m.Regs[op.SrcA], m.Regs[op.SrcB]
		var r int32
		switch op.Op {
		case Add:
			r = a + b
		case Sub:
			r = a - b
		case Mul:
			r = a * b
		case Div:
			if b != 0 {
				r = a / b
			}
		default:
			return nil, fmt.Errorf("op: unknown operator %s", op.Op)
		}
		m.Regs[op.Dst] = r
	case KindGet:
		if int(in.Get.Reg) >= NumRegisters {
			return nil, fmt.Errorf("get: register %d out of range", in.Get.Reg)
		}
		return &Result{ID: in.Get.ID, Result: m.Regs[in.Get.Reg]}, nil
	case KindHalt:
		m.halted = true
	case KindNoOp:
	default:
		return nil, fmt.Errorf("unknown instruction %s", in.Kind)
	}
	return nil, nil
}

// Run fetches packed instructions from src until Halt, submitting a packed
// Result to sink for every Get.
func (m *Machine) Run(ctx context.Context, src engine.InstructionSource, sink engine.ResultSink) error {
	for !m.halted {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := src.NextInstruction()
		if err != nil {
			return fmt.Errorf("fetch instruction %d: %w", m.Steps, err)
		}
		in, err := UnpackInstr(raw)
		if err != nil {
			return fmt.Errorf("decode instruction %d: %w", m.Steps, err)
		}
		res, err := m.Step(in)
		if err != nil {
			return err
		}
		if res == nil {
			continue
		}
		out, err := PackResult(*res)
		if err != nil {
			return err
		}
		if err := sink.SubmitResult(out); err != nil {
			return fmt.Errorf("submit result %#x: %w", res.ID, err)
		}
	}
	return nil
}
