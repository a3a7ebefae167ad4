package calculator

import (
	"context"
	"errors"
	"testing"

	"github.com/pithecene-io/bitwire/engine"
)

func TestMachine_Step(t *testing.T) {
	var m Machine
	steps := []Instr{
		PutInstr(0, 7),
		PutInstr(1, -3),
		OpInstr(Sub, 0, 1, 2),
		OpInstr(Div, 0, 3, 3),
	}
	for _, in := range steps {
		if _, err := m.Step(in); err != nil {
			t.Fatalf("Step(%s) failed: %v", in, err)
		}
	}
	if m.Regs[2] != 10 {
		t.Errorf("r2 = %d, want 10", m.Regs[2])
	}
	if m.Regs[3] != 0 {
		t.Errorf("r3 = %d, want 0 after division by zero", m.Regs[3])
	}

	res, err := m.Step(GetInstr(2, 0x1234))
	if err != nil {
		t.Fatalf("Step(Get) failed: %v", err)
	}
	if res == nil || *res != (Result{ID: 0x1234, Result: 10}) {
		t.Errorf("Get result = %+v, want {0x1234 10}", res)
	}

	if _, err := m.Step(HaltInstr()); err != nil {
		t.Fatalf("Step(Halt) failed: %v", err)
	}
	if _, err := m.Step(NoOpInstr()); !errors.Is(err, ErrHalted) {
		t.Errorf("Step after halt = %v, want ErrHalted", err)
	}
}

func TestMachine_MulWraps(t *testing.T) {
	var m Machine
	for _, in := range []Instr{PutInstr(0, 1<<30), PutInstr(1, 4), OpInstr(Mul, 0, 1, 2)} {
		if _, err := m.Step(in); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}
	if m.Regs[2] != 0 {
		t.Errorf("r2 = %d, want 0 after wrap", m.Regs[2])
	}
}

func TestMachine_RunsDemoProgram(t *testing.T) {
	prog, err := engine.NewProgram(InstrCodec(), DemoValues(), NoOpInstr().Value())
	if err != nil {
		t.Fatalf("NewProgram failed: %v", err)
	}
	var got []Result
	log := engine.NewResultLog(ResultCodec(), func(v any) {
		r, err := ResultFromValue(v)
		if err != nil {
			t.Errorf("bind result: %v", err)
			return
		}
		got = append(got, r)
	})

	var m Machine
	if err := m.Run(context.Background(), prog, log); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !m.Halted() {
		t.Error("machine did not halt")
	}
	if !prog.Done() {
		t.Error("program not fully issued")
	}

	want := []Result{{0xAAAA, 100}, {0xBBBB, 25}, {0xCCCC, 240000}}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

type failingSource struct{}

func (failingSource) NextInstruction() ([]byte, error) { return nil, errors.New("link down") }

func TestMachine_RunPropagatesSourceError(t *testing.T) {
	var m Machine
	err := m.Run(context.Background(), failingSource{}, engine.NewResultLog(ResultCodec(), nil))
	if err == nil {
		t.Fatal("expected error from source")
	}
}

func TestMachine_RunHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var m Machine
	prog, err := engine.NewProgram(InstrCodec(), nil, NoOpInstr().Value())
	if err != nil {
		t.Fatalf("NewProgram failed: %v", err)
	}
	if err := m.Run(ctx, prog, engine.NewResultLog(ResultCodec(), nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
