package shape

import "math/bits"

// U returns an unsigned primitive of width bits.
func U(width int) Primitive { return Primitive{Width: width} }

// S returns a signed primitive of width bits.
func S(width int) Primitive { return Primitive{Width: width, Signed: true} }

// Bool returns a one-bit unsigned primitive.
func Bool() Primitive { return Primitive{Width: 1} }

// ArrayOf returns count consecutive copies of elem.
func ArrayOf(elem Shape, count int) Array { return Array{Elem: elem, Count: count} }

// F builds a struct field.
func F(name string, s Shape) Field { return Field{Name: name, Shape: s} }

// StructOf builds a named struct.
func StructOf(name string, fields ...Field) *Struct {
	return &Struct{Name: name, Fields: fields}
}

// V builds a union variant. Pass a nil payload for unit variants.
func V(name string, tag uint64, payload Shape) Variant {
	return Variant{Name: name, Tag: tag, Payload: payload}
}

// UnionOf builds a named union. A tagWidth of 0 selects the narrowest width
// that holds the largest tag.
func UnionOf(name string, tagWidth int, variants ...Variant) *Union {
	if tagWidth == 0 {
		tagWidth = TagWidthFor(variants)
	}
	return &Union{Name: name, TagWidth: tagWidth, Variants: variants}
}

// TagWidthFor returns the narrowest discriminant width, at least 1, that
// represents every tag in variants.
func TagWidthFor(variants []Variant) int {
	var maxTag uint64
	for _, v := range variants {
		if v.Tag > maxTag {
			maxTag = v.Tag
		}
	}
	if w := bits.Len64(maxTag); w > 0 {
		return w
	}
	return 1
}
