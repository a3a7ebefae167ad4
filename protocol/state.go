package protocol

import (
	"fmt"

	"github.com/mitchellh/copystructure"

	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/codec"
)

// StatusCode classifies the outcome of DecodeApply.
type StatusCode int

const (
	// StatusApplied means a latest-value message updated its owned value.
	StatusApplied StatusCode = iota
	// StatusQueued means a channel message was appended to its queue.
	StatusQueued
	// StatusUnrecognized means the id matched no In message.
	StatusUnrecognized
	// StatusRejected means the frame was recognised but not applied.
	StatusRejected
)

func (c StatusCode) String() string {
	switch c {
	case StatusApplied:
		return "applied"
	case StatusQueued:
		return "queued"
	case StatusUnrecognized:
		return "unrecognized"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(c))
	}
}

// Status reports which message DecodeApply handled.
type Status struct {
	Code    StatusCode
	ID      uint64
	Message string
}

type slot struct {
	msg     *message
	value   any
	pending bool
	queue   []any
}

// State is the mutable side of a message set: owned values, pending flags
// and channel queues. The zero State is uninitialized.
type State struct {
	set    *MessageSet
	out    []*slot
	in     []*slot
	byName map[string]*slot
}

// NewState returns an initialized state for set.
func NewState(set *MessageSet) *State {
	s := &State{set: set}
	s.out = make([]*slot, len(set.out))
	s.in = make([]*slot, len(set.in))
	s.byName = make(map[string]*slot, len(set.out)+len(set.in))
	for i, m := range set.out {
		s.out[i] = &slot{msg: m}
		s.byName[m.Name] = s.out[i]
	}
	for i, m := range set.in {
		s.in[i] = &slot{msg: m}
		s.byName[m.Name] = s.in[i]
	}
	s.reset()
	return s
}

// MessageSet returns the state's message set, nil for a zero State.
func (s *State) MessageSet() *MessageSet { return s.set }

// Init zeroes every owned value and clears pending flags and queues.
func (s *State) Init() error {
	if s.set == nil {
		return ErrNotInitialized
	}
	s.reset()
	return nil
}

func (s *State) reset() {
	for _, sl := range s.byName {
		sl.value = codec.Zero(sl.msg.Shape)
		sl.pending = false
		sl.queue = sl.queue[:0]
	}
}

func (s *State) lookup(name string) (*slot, error) {
	if s.set == nil {
		return nil, ErrNotInitialized
	}
	sl, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
	}
	return sl, nil
}

func (s *State) lookupOut(name string) (*slot, error) {
	sl, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if sl.msg.dir != Out {
		return nil, fmt.Errorf("%w: %q is not an out message", ErrUnknownMessage, name)
	}
	return sl, nil
}

func (s *State) normalize(sl *slot, v any) (any, error) {
	w := bitio.NewWriter(make([]byte, sl.msg.size), s.set.codecOpt.Order)
	if err := codec.Write(w, sl.msg.Shape, v, s.set.codecOpt); err != nil {
		return nil, fmt.Errorf("message %s: %w", sl.msg.Name, err)
	}
	return codec.Read(bitio.NewReader(w.Buf, s.set.codecOpt.Order), sl.msg.Shape)
}

// Set stores v as the value of Out message name and marks it pending.
// v is normalised to the message shape first; an invalid value leaves the
// state unchanged.
func (s *State) Set(name string, v any) error {
	sl, err := s.lookupOut(name)
	if err != nil {
		return err
	}
	if sl.msg.IsChannel() {
		return fmt.Errorf("%w: %q is a channel", ErrWrongKind, name)
	}
	nv, err := s.normalize(sl, v)
	if err != nil {
		return err
	}
	sl.value = nv
	sl.pending = true
	return nil
}

// Mark sets the pending flag of Out message name without changing its value.
func (s *State) Mark(name string) error {
	sl, err := s.lookupOut(name)
	if err != nil {
		return err
	}
	if sl.msg.IsChannel() {
		return fmt.Errorf("%w: %q is a channel", ErrWrongKind, name)
	}
	sl.pending = true
	return nil
}

// Update replaces the value of Out message name with fn applied to a copy
// of it and marks the message pending.
func (s *State) Update(name string, fn func(v any) any) error {
	sl, err := s.lookupOut(name)
	if err != nil {
		return err
	}
	if sl.msg.IsChannel() {
		return fmt.Errorf("%w: %q is a channel", ErrWrongKind, name)
	}
	cur, err := copystructure.Copy(sl.value)
	if err != nil {
		return err
	}
	nv, err := s.normalize(sl, fn(cur))
	if err != nil {
		return err
	}
	sl.value = nv
	sl.pending = true
	return nil
}

// Value returns a copy of the owned value of a latest-value message.
func (s *State) Value(name string) (any, error) {
	sl, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if sl.msg.IsChannel() {
		return nil, fmt.Errorf("%w: %q is a channel", ErrWrongKind, name)
	}
	return copystructure.Copy(sl.value)
}

// Pending reports whether Out message name is waiting to be encoded. For
// channels it reports whether the queue is non-empty.
func (s *State) Pending(name string) (bool, error) {
	sl, err := s.lookupOut(name)
	if err != nil {
		return false, err
	}
	if sl.msg.IsChannel() {
		return len(sl.queue) > 0, nil
	}
	return sl.pending, nil
}

// Encode writes the first pending Out message, in set order, into out and
// clears its pending flag (or dequeues it, for channels). It returns the
// number of bytes written, or 0 with out untouched when nothing is pending.
// If out is too small the message stays pending and bitio.ErrOutOfSpace is
// returned.
func (s *State) Encode(out []byte) (int, error) {
	if s.set == nil {
		return 0, ErrNotInitialized
	}
	for _, sl := range s.out {
		var v any
		switch {
		case sl.msg.IsChannel() && len(sl.queue) > 0:
			v = sl.queue[0]
		case !sl.msg.IsChannel() && sl.pending:
			v = sl.value
		default:
			continue
		}
		n, err := s.encodeFrame(sl.msg, v, out)
		if err != nil {
			return 0, err
		}
		if sl.msg.IsChannel() {
			sl.queue[0] = nil
			sl.queue = sl.queue[1:]
		} else {
			sl.pending = false
		}
		return n, nil
	}
	return 0, nil
}

func (s *State) encodeFrame(m *message, v any, out []byte) (int, error) {
	if len(out) < m.size {
		return 0, fmt.Errorf("%w: message %s needs %d bytes, have %d", bitio.ErrOutOfSpace, m.Name, m.size, len(out))
	}
	w := bitio.NewWriter(out[:m.size], s.set.codecOpt.Order)
	if err := w.Write(m.ID, s.set.IDWidth); err != nil {
		return 0, err
	}
	if err := codec.Write(w, m.Shape, v, s.set.codecOpt); err != nil {
		return 0, fmt.Errorf("message %s: %w", m.Name, err)
	}
	if err := w.Zero(w.Remaining()); err != nil {
		return 0, err
	}
	return m.size, nil
}

// DecodeApply reads one frame from in, decodes the message its id names
// and applies it. On any error no owned value or queue changes.
func (s *State) DecodeApply(in []byte) (Status, error) {
	if s.set == nil {
		return Status{Code: StatusRejected}, ErrNotInitialized
	}
	r := bitio.NewReader(in, s.set.codecOpt.Order)
	id, err := r.Read(s.set.IDWidth, false)
	if err != nil {
		return Status{Code: StatusRejected}, err
	}
	m, ok := s.set.inByID[id]
	if !ok {
		return Status{Code: StatusUnrecognized, ID: id}, fmt.Errorf("%w: %d", ErrUnrecognized, id)
	}
	st := Status{Code: StatusRejected, ID: id, Message: m.Name}
	v, err := codec.Read(r, m.Shape)
	if err != nil {
		return st, fmt.Errorf("message %s: %w", m.Name, err)
	}

	sl := s.byName[m.Name]
	if m.IsChannel() {
		if len(sl.queue) >= m.Depth {
			return st, fmt.Errorf("%w: %s holds %d messages", ErrChannelFull, m.Name, m.Depth)
		}
		sl.queue = append(sl.queue, v)
		st.Code = StatusQueued
		return st, nil
	}

	next, err := s.apply(m, sl.value, v)
	if err != nil {
		return st, fmt.Errorf("message %s: %w", m.Name, err)
	}
	sl.value = next
	st.Code = StatusApplied
	return st, nil
}

func (s *State) apply(m *message, current, incoming any) (any, error) {
	if m.Func != nil {
		cur, err := copystructure.Copy(current)
		if err != nil {
			return nil, err
		}
		next, err := m.Func(cur, incoming)
		if err != nil {
			return nil, err
		}
		w := bitio.NewWriter(make([]byte, m.size), s.set.codecOpt.Order)
		if err := codec.Write(w, m.Shape, next, codec.Options{Order: s.set.codecOpt.Order}); err != nil {
			return nil, err
		}
		return codec.Read(bitio.NewReader(w.Buf, s.set.codecOpt.Order), m.Shape)
	}
	if m.Apply == Accumulate {
		return accumulate(m.Shape, current, incoming)
	}
	return incoming, nil
}

// Enqueue appends v to Out channel name. It returns false when the channel
// is full.
func (s *State) Enqueue(name string, v any) (bool, error) {
	sl, err := s.lookupOut(name)
	if err != nil {
		return false, err
	}
	if !sl.msg.IsChannel() {
		return false, fmt.Errorf("%w: %q is not a channel", ErrWrongKind, name)
	}
	if len(sl.queue) >= sl.msg.Depth {
		return false, nil
	}
	nv, err := s.normalize(sl, v)
	if err != nil {
		return false, err
	}
	sl.queue = append(sl.queue, nv)
	return true, nil
}

// Dequeue removes the oldest message from channel name. The boolean is
// false when the channel is empty.
func (s *State) Dequeue(name string) (any, bool, error) {
	sl, err := s.lookup(name)
	if err != nil {
		return nil, false, err
	}
	if !sl.msg.IsChannel() {
		return nil, false, fmt.Errorf("%w: %q is not a channel", ErrWrongKind, name)
	}
	if len(sl.queue) == 0 {
		return nil, false, nil
	}
	v := sl.queue[0]
	sl.queue[0] = nil
	sl.queue = sl.queue[1:]
	return v, true, nil
}

// Avail returns the number of messages queued in channel name.
func (s *State) Avail(name string) (int, error) {
	sl, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	if !sl.msg.IsChannel() {
		return 0, fmt.Errorf("%w: %q is not a channel", ErrWrongKind, name)
	}
	return len(sl.queue), nil
}

// Space returns how many more messages channel name accepts.
func (s *State) Space(name string) (int, error) {
	n, err := s.Avail(name)
	if err != nil {
		return 0, err
	}
	return s.byName[name].msg.Depth - n, nil
}

// Snapshot is a deep copy of a State's contents.
type Snapshot struct {
	Values  map[string]any   `json:"values" yaml:"values"`
	Pending map[string]bool  `json:"pending" yaml:"pending"`
	Queues  map[string][]any `json:"queues,omitempty" yaml:"queues,omitempty"`
}

// Snapshot copies every owned value, pending flag and queue.
func (s *State) Snapshot() (Snapshot, error) {
	if s.set == nil {
		return Snapshot{}, ErrNotInitialized
	}
	snap := Snapshot{
		Values:  make(map[string]any),
		Pending: make(map[string]bool),
		Queues:  make(map[string][]any),
	}
	for name, sl := range s.byName {
		if sl.msg.IsChannel() {
			snap.Queues[name] = append([]any{}, sl.queue...)
			continue
		}
		snap.Values[name] = sl.value
		if sl.msg.dir == Out {
			snap.Pending[name] = sl.pending
		}
	}
	copied, err := copystructure.Copy(snap)
	if err != nil {
		return Snapshot{}, err
	}
	return copied.(Snapshot), nil
}
