package shape

import (
	"fmt"
	"sort"

	"github.com/pithecene-io/bitwire/bitio"
)

// Apply policy names carried by MessageDecl.
const (
	ApplyReplace    = "replace"
	ApplyAccumulate = "accumulate"
)

// MessageDecl is a message as declared in a schema document.
type MessageDecl struct {
	Name  string
	ID    uint64
	Shape Shape
	Apply string
	Depth int
}

// ProtocolDecl is a message set as declared in a schema document.
// See protocol.FromDecl.
type ProtocolDecl struct {
	Name    string
	IDWidth int
	Out     []MessageDecl
	In      []MessageDecl
}

// Registry holds resolved named shapes and message sets.
type Registry struct {
	ID       string
	BitOrder bitio.Order

	types     map[string]Shape
	protocols map[string]ProtocolDecl
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:     make(map[string]Shape),
		protocols: make(map[string]ProtocolDecl),
	}
}

// Define validates s and registers it under name.
func (r *Registry) Define(name string, s Shape) error {
	if _, dup := r.types[name]; dup {
		return fmt.Errorf("type %q already defined", name)
	}
	if err := Validate(s); err != nil {
		return err
	}
	r.types[name] = s
	return nil
}

// DefineProtocol validates every message shape and registers decl.
func (r *Registry) DefineProtocol(decl ProtocolDecl) error {
	if _, dup := r.protocols[decl.Name]; dup {
		return fmt.Errorf("protocol %q already defined", decl.Name)
	}
	for _, set := range [][]MessageDecl{decl.Out, decl.In} {
		for _, m := range set {
			if err := Validate(m.Shape); err != nil {
				return fmt.Errorf("message %s: %w", m.Name, err)
			}
		}
	}
	r.protocols[decl.Name] = decl
	return nil
}

// Lookup returns the named shape.
func (r *Registry) Lookup(name string) (Shape, bool) {
	s, ok := r.types[name]
	return s, ok
}

// MustLookup is Lookup for embedded schemas known to be complete.
func (r *Registry) MustLookup(name string) Shape {
	s, ok := r.types[name]
	if !ok {
		panic(fmt.Sprintf("shape: type %q not in registry %q", name, r.ID))
	}
	return s
}

// Protocol returns the named message set declaration.
func (r *Registry) Protocol(name string) (ProtocolDecl, bool) {
	p, ok := r.protocols[name]
	return p, ok
}

// Names returns the type names in sorted order.
func (r *Registry) Names() []string { return sortedKeys(r.types) }

// ProtocolNames returns the message set names in sorted order.
func (r *Registry) ProtocolNames() []string { return sortedKeys(r.protocols) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
