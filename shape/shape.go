// Package shape describes the bit layout of values: fixed-width primitives,
// fixed-length arrays, structs with ordered fields, and tagged unions whose
// variants all reserve the widest payload.
//
// Shapes are immutable once built. Sizes derived from them are fixed for the
// lifetime of the process; see codec.Compile.
package shape

import (
	"fmt"
	"strings"
)

// Kind classifies a shape.
type Kind int

const (
	KindPrimitive Kind = iota
	KindArray
	KindStruct
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Shape is implemented by Primitive, Array, *Struct and *Union.
type Shape interface {
	Kind() Kind
	// Bits is the encoded width in bits, independent of the value.
	Bits() int
	String() string
}

// Size returns the fixed byte size of s: ceil(Bits/8).
func Size(s Shape) int {
	return (s.Bits() + 7) / 8
}

// Primitive is an integer field of Width bits, two's complement when Signed.
type Primitive struct {
	Width  int
	Signed bool
}

func (p Primitive) Kind() Kind { return KindPrimitive }
func (p Primitive) Bits() int  { return p.Width }

func (p Primitive) String() string {
	if p.Signed {
		return fmt.Sprintf("s%d", p.Width)
	}
	return fmt.Sprintf("u%d", p.Width)
}

// Range returns the inclusive value range of p as int64 bounds for signed
// primitives, or 0 and the max for unsigned ones (max as uint64).
func (p Primitive) Range() (minSigned int64, maxUnsigned uint64) {
	if p.Signed {
		return -(int64(1) << uint(p.Width-1)), uint64(1)<<uint(p.Width-1) - 1
	}
	if p.Width >= 64 {
		return 0, ^uint64(0)
	}
	return 0, uint64(1)<<uint(p.Width) - 1
}

// Array repeats Elem Count times with no length prefix.
type Array struct {
	Elem  Shape
	Count int
}

func (a Array) Kind() Kind { return KindArray }
func (a Array) Bits() int  { return a.Count * a.Elem.Bits() }

func (a Array) String() string {
	return fmt.Sprintf("%s[%d]", a.Elem.String(), a.Count)
}

// Field is one named member of a struct.
type Field struct {
	Name  string
	Shape Shape
}

// Struct is an ordered sequence of fields packed without padding. The first
// field occupies the most-significant bits of the stream.
type Struct struct {
	Name   string
	Fields []Field
}

func (s *Struct) Kind() Kind { return KindStruct }

func (s *Struct) Bits() int {
	total := 0
	for _, f := range s.Fields {
		total += f.Shape.Bits()
	}
	return total
}

func (s *Struct) String() string {
	if s.Name != "" {
		return s.Name
	}
	parts := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		parts = append(parts, f.Name+" "+f.Shape.String())
	}
	return "struct{" + strings.Join(parts, "; ") + "}"
}

// Field returns the field with the given name.
func (s *Struct) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Variant is one alternative of a union. A nil Payload is a unit variant.
type Variant struct {
	Name    string
	Tag     uint64
	Payload Shape
}

// PayloadBits returns the payload width, 0 for unit variants.
func (v Variant) PayloadBits() int {
	if v.Payload == nil {
		return 0
	}
	return v.Payload.Bits()
}

// Union is a tagged union: a TagWidth-bit discriminant followed by a payload
// region as wide as the widest variant.
type Union struct {
	Name     string
	TagWidth int
	Variants []Variant
}

func (u *Union) Kind() Kind { return KindUnion }

// PayloadBits is the reserved payload width shared by all variants.
func (u *Union) PayloadBits() int {
	widest := 0
	for _, v := range u.Variants {
		if b := v.PayloadBits(); b > widest {
			widest = b
		}
	}
	return widest
}

func (u *Union) Bits() int { return u.TagWidth + u.PayloadBits() }

func (u *Union) String() string {
	if u.Name != "" {
		return u.Name
	}
	parts := make([]string, 0, len(u.Variants))
	for _, v := range u.Variants {
		parts = append(parts, v.Name)
	}
	return fmt.Sprintf("union<%d>{%s}", u.TagWidth, strings.Join(parts, " | "))
}

// VariantByTag finds the variant carrying tag.
func (u *Union) VariantByTag(tag uint64) (Variant, bool) {
	for _, v := range u.Variants {
		if v.Tag == tag {
			return v, true
		}
	}
	return Variant{}, false
}

// VariantByName finds the variant called name.
func (u *Union) VariantByName(name string) (Variant, bool) {
	for _, v := range u.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// Equal reports whether a and b describe the same layout. Struct and union
// names are ignored; field names, variant names and tags are not.
func Equal(a, b Shape) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Primitive:
		y := b.(Primitive)
		return x == y
	case Array:
		y := b.(Array)
		return x.Count == y.Count && Equal(x.Elem, y.Elem)
	case *Struct:
		y := b.(*Struct)
		if len(x.Fields) != len(y.Fields) {
			return false
		}
		for i := range x.Fields {
			if x.Fields[i].Name != y.Fields[i].Name || !Equal(x.Fields[i].Shape, y.Fields[i].Shape) {
				return false
			}
		}
		return true
	case *Union:
		y := b.(*Union)
		if x.TagWidth != y.TagWidth || len(x.Variants) != len(y.Variants) {
			return false
		}
		for i := range x.Variants {
			vx, vy := x.Variants[i], y.Variants[i]
			if vx.Name != vy.Name || vx.Tag != vy.Tag || !Equal(vx.Payload, vy.Payload) {
				return false
			}
		}
		return true
	}
	return false
}
