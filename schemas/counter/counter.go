// Package counter declares the CounterMsgs protocol: two counters reported
// to the peer, and three commands received from it.
package counter

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/framing"
	"github.com/pithecene-io/bitwire/protocol"
	"github.com/pithecene-io/bitwire/shape"
)

//go:embed counter.yaml
var schemaYAML []byte

// Protocol is the message set name.
const Protocol = "CounterMsgs"

// Fixed frame sizes: 2-bit id plus a 16-bit payload, both directions.
const (
	SizeCtoB = 3
	SizeBtoC = 3
)

var registry, messageSet = mustLoad()

func mustLoad() (*shape.Registry, *protocol.MessageSet) {
	reg, err := shape.LoadBytes(schemaYAML, shape.FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("counter: embedded schema: %v", err))
	}
	decl, ok := reg.Protocol(Protocol)
	if !ok {
		panic("counter: embedded schema has no " + Protocol)
	}
	set, err := protocol.FromDecl(decl, codec.WithOrder(reg.BitOrder))
	if err != nil {
		panic(fmt.Sprintf("counter: %v", err))
	}
	if set.SizeOut() != SizeCtoB || set.SizeIn() != SizeBtoC {
		panic(fmt.Sprintf("counter: sizes %d/%d drifted from declared %d/%d",
			set.SizeOut(), set.SizeIn(), SizeCtoB, SizeBtoC))
	}
	return reg, set
}

// Registry returns the loaded schema.
func Registry() *shape.Registry { return registry }

// MessageSet returns the side that owns the counters.
func MessageSet() *protocol.MessageSet { return messageSet }

// NewState returns an initialized state for the counter side.
func NewState() *protocol.State {
	st := protocol.NewState(messageSet)
	_ = st.Init()
	return st
}

// NewPeerState returns an initialized state for the commanding side.
func NewPeerState() *protocol.State {
	st := protocol.NewState(messageSet.Mirror())
	_ = st.Init()
	return st
}

// Driver is a poll-style adapter around a counter state: every Poll yields
// one fixed-size, length-prefixed slot, with a zero length when nothing is
// pending.
type Driver struct {
	state *protocol.State
}

// NewDriver wraps state.
func NewDriver(state *protocol.State) *Driver {
	return &Driver{state: state}
}

// State returns the wrapped state.
func (d *Driver) State() *protocol.State { return d.state }

// Poll encodes the next pending message into a SizeCtoB+1 byte slot.
func (d *Driver) Poll() ([]byte, error) {
	slot := make([]byte, SizeCtoB+1)
	n, err := d.state.Encode(slot[1:])
	if err != nil {
		return nil, err
	}
	if n > framing.MaxLengthPayload {
		return nil, fmt.Errorf("counter: frame of %d bytes cannot be length prefixed", n)
	}
	slot[0] = byte(n)
	return slot, nil
}

// Deliver decodes and applies one inbound frame, then carries the command
// out on the counters: set_a replaces a, add_b adds to b and a true reset
// zeroes both. Every counter touched is marked pending.
func (d *Driver) Deliver(frame []byte) (protocol.Status, error) {
	var before uint64
	if v, err := d.state.Value("add_b"); err == nil {
		before, _ = v.(uint64)
	}
	st, err := d.state.DecodeApply(frame)
	if err != nil || st.Code != protocol.StatusApplied {
		return st, err
	}
	v, err := d.state.Value(st.Message)
	if err != nil {
		return st, err
	}
	n, _ := v.(uint64)

	switch st.Message {
	case "set_a":
		err = d.state.Set("a", n)
	case "add_b":
		// The add_b slot keeps a running total; the step is the change.
		err = Increment(d.state, "b", (n-before)&0xFFFF)
	case "reset":
		if n != 0 {
			err = errors.Join(d.state.Set("a", 0), d.state.Set("b", 0))
		}
	}
	if err != nil {
		return st, fmt.Errorf("counter: %s: %w", st.Message, err)
	}
	return st, nil
}

// Increment bumps counter name by delta, wrapping at 16 bits, and marks it
// pending.
func Increment(st *protocol.State, name string, delta uint64) error {
	return st.Update(name, func(v any) any {
		cur, _ := v.(uint64)
		return (cur + delta) & 0xFFFF
	})
}
