// Package protocol multiplexes several fixed-shape messages onto one byte
// channel. Every frame is a message id followed by that message's payload.
//
// A State owns one value per message. Out messages (this side to the peer)
// carry a pending flag set by the application and cleared by Encode; In
// messages (peer to this side) are updated by DecodeApply. Messages declared
// with a Depth act as bounded FIFO channels instead of latest-value slots.
//
// State has no internal locking; see link.Client for a concurrent wrapper.
package protocol

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/shape"
)

var (
	// ErrUnrecognized is returned by DecodeApply for ids not in the set.
	ErrUnrecognized = errors.New("unrecognized message id")
	// ErrNotInitialized is returned by every operation on a zero State.
	ErrNotInitialized = errors.New("protocol state not initialized")
	// ErrUnknownMessage is returned for message names not in the set or not
	// valid for the requested direction.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrWrongKind is returned when a channel operation targets a latest-value
	// message, or the other way round.
	ErrWrongKind = errors.New("operation not supported for message kind")
	// ErrChannelFull is returned by DecodeApply when an inbound channel has
	// no room; the message is dropped.
	ErrChannelFull = errors.New("channel full")
)

// Direction of a message relative to this side.
type Direction int

const (
	// Out messages are encoded by this side ("ctob").
	Out Direction = iota
	// In messages are decoded by this side ("btoc").
	In
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// ApplyPolicy selects how a decoded In message updates its owned value.
type ApplyPolicy int

const (
	// Replace stores the decoded value.
	Replace ApplyPolicy = iota
	// Accumulate adds the decoded value to the owned one, field by field,
	// wrapping at the field width.
	Accumulate
)

func (p ApplyPolicy) String() string {
	if p == Accumulate {
		return shape.ApplyAccumulate
	}
	return shape.ApplyReplace
}

// ApplyFunc computes a new owned value from the current one and a decoded
// message. Returning an error leaves the owned value unchanged.
type ApplyFunc func(current, incoming any) (any, error)

// MessageDef declares one message of a set.
type MessageDef struct {
	ID    uint64
	Name  string
	Shape shape.Shape
	Apply ApplyPolicy
	// Func overrides Apply when set.
	Func ApplyFunc
	// Depth > 0 makes the message a FIFO channel of that capacity.
	Depth int
}

// IsChannel reports whether the message is queued rather than latest-value.
func (m *MessageDef) IsChannel() bool { return m.Depth > 0 }

type message struct {
	MessageDef
	dir  Direction
	size int
}

// MessageSet is an immutable, validated set of messages with its frame
// sizes fixed at construction.
type MessageSet struct {
	Name    string
	IDWidth int

	out, in  []*message
	byName   map[string]*message
	outByID  map[uint64]*message
	inByID   map[uint64]*message
	sizeOut  int
	sizeIn   int
	codecOpt codec.Options
}

// NewMessageSet validates the message definitions and computes frame sizes.
// Names must be unique across both directions; ids must be unique within a
// direction and fit in idWidth bits.
func NewMessageSet(name string, idWidth int, out, in []MessageDef, opts ...codec.Option) (*MessageSet, error) {
	if idWidth < 1 || idWidth > bitio.MaxWidth {
		return nil, fmt.Errorf("message set %s: id width %d out of range 1..%d", name, idWidth, bitio.MaxWidth)
	}
	set := &MessageSet{
		Name:    name,
		IDWidth: idWidth,
		byName:  make(map[string]*message),
		outByID: make(map[uint64]*message),
		inByID:  make(map[uint64]*message),
	}
	for _, opt := range opts {
		opt(&set.codecOpt)
	}
	var err error
	if set.out, set.sizeOut, err = set.add(out, Out, set.outByID); err != nil {
		return nil, err
	}
	if set.in, set.sizeIn, err = set.add(in, In, set.inByID); err != nil {
		return nil, err
	}
	return set, nil
}

func (set *MessageSet) add(defs []MessageDef, dir Direction, byID map[uint64]*message) ([]*message, int, error) {
	msgs := make([]*message, 0, len(defs))
	widest := 0
	for _, def := range defs {
		if def.Name == "" {
			return nil, 0, fmt.Errorf("message set %s: %s message %d has no name", set.Name, dir, def.ID)
		}
		if _, dup := set.byName[def.Name]; dup {
			return nil, 0, fmt.Errorf("message set %s: duplicate message name %q", set.Name, def.Name)
		}
		if prev, dup := byID[def.ID]; dup {
			return nil, 0, fmt.Errorf("message set %s: %s id %d used by %s and %s", set.Name, dir, def.ID, prev.Name, def.Name)
		}
		if set.IDWidth < bitio.MaxWidth && def.ID >= uint64(1)<<uint(set.IDWidth) {
			return nil, 0, fmt.Errorf("message set %s: id %d of %s does not fit in %d bits", set.Name, def.ID, def.Name, set.IDWidth)
		}
		if def.Depth < 0 {
			return nil, 0, fmt.Errorf("message set %s: negative depth for %s", set.Name, def.Name)
		}
		if err := shape.Validate(def.Shape); err != nil {
			return nil, 0, fmt.Errorf("message set %s: message %s: %w", set.Name, def.Name, err)
		}
		m := &message{MessageDef: def, dir: dir}
		m.size = (set.IDWidth + def.Shape.Bits() + 7) / 8
		if m.size > widest {
			widest = m.size
		}
		msgs = append(msgs, m)
		set.byName[def.Name] = m
		byID[def.ID] = m
	}
	return msgs, widest, nil
}

// FromDecl builds a message set from a schema declaration.
func FromDecl(decl shape.ProtocolDecl, opts ...codec.Option) (*MessageSet, error) {
	convert := func(decls []shape.MessageDecl) ([]MessageDef, error) {
		defs := make([]MessageDef, 0, len(decls))
		for _, d := range decls {
			apply := Replace
			switch d.Apply {
			case "", shape.ApplyReplace:
			case shape.ApplyAccumulate:
				apply = Accumulate
			default:
				return nil, fmt.Errorf("message %s: %w: %q", d.Name, shape.ErrUnknownApply, d.Apply)
			}
			defs = append(defs, MessageDef{ID: d.ID, Name: d.Name, Shape: d.Shape, Apply: apply, Depth: d.Depth})
		}
		return defs, nil
	}
	out, err := convert(decl.Out)
	if err != nil {
		return nil, err
	}
	in, err := convert(decl.In)
	if err != nil {
		return nil, err
	}
	return NewMessageSet(decl.Name, decl.IDWidth, out, in, opts...)
}

// SizeOut is the largest frame Encode can produce ("size_ctob").
func (set *MessageSet) SizeOut() int { return set.sizeOut }

// SizeIn is the largest frame DecodeApply accepts ("size_btoc").
func (set *MessageSet) SizeIn() int { return set.sizeIn }

// Options returns the codec options used for payloads.
func (set *MessageSet) Options() codec.Options { return set.codecOpt }

// Messages returns the definitions of one direction in set order.
func (set *MessageSet) Messages(dir Direction) []MessageDef {
	src := set.out
	if dir == In {
		src = set.in
	}
	defs := make([]MessageDef, len(src))
	for i, m := range src {
		defs[i] = m.MessageDef
	}
	return defs
}

// Lookup returns a message definition and its direction by name.
func (set *MessageSet) Lookup(name string) (MessageDef, Direction, bool) {
	m, ok := set.byName[name]
	if !ok {
		return MessageDef{}, Out, false
	}
	return m.MessageDef, m.dir, true
}

// MessageSize returns the frame size of the named message.
func (set *MessageSet) MessageSize(name string) (int, bool) {
	m, ok := set.byName[name]
	if !ok {
		return 0, false
	}
	return m.size, true
}

// ByID returns the name of the message with id in dir.
func (set *MessageSet) ByID(dir Direction, id uint64) (string, bool) {
	byID := set.outByID
	if dir == In {
		byID = set.inByID
	}
	m, ok := byID[id]
	if !ok {
		return "", false
	}
	return m.Name, true
}

// Mirror returns the peer's view of set: Out and In swapped. Apply policies
// carry over unchanged.
func (set *MessageSet) Mirror() *MessageSet {
	peer, err := NewMessageSet(set.Name, set.IDWidth, set.Messages(In), set.Messages(Out))
	if err != nil {
		// set was validated with the same rules.
		panic(fmt.Sprintf("protocol: mirror of %s: %v", set.Name, err))
	}
	peer.codecOpt = set.codecOpt
	return peer
}
