package shape

import "strconv"

// SlotKind tells what a layout slot holds.
type SlotKind string

const (
	SlotField   SlotKind = "field"
	SlotTag     SlotKind = "tag"
	SlotPadding SlotKind = "padding"
)

// Slot is one primitive position in the encoded bit stream.
type Slot struct {
	Path   string   `json:"path" yaml:"path"`
	Kind   SlotKind `json:"kind" yaml:"kind"`
	Offset int      `json:"offset" yaml:"offset"`
	Width  int      `json:"width" yaml:"width"`
	Signed bool     `json:"signed,omitempty" yaml:"signed,omitempty"`
	// Variant is set for slots inside a union payload.
	Variant string `json:"variant,omitempty" yaml:"variant,omitempty"`
}

// End returns the bit offset just past the slot.
func (s Slot) End() int { return s.Offset + s.Width }

// Layout flattens s into its primitive slots in stream order. Union variant
// payloads overlap: each variant lists its own slots starting right after the
// tag, followed by a padding slot up to the reserved width.
func Layout(s Shape) []Slot {
	var out []Slot
	layout(s, "", 0, "", &out)
	return out
}

func layout(s Shape, path string, offset int, variant string, out *[]Slot) int {
	switch x := s.(type) {
	case Primitive:
		*out = append(*out, Slot{Path: path, Kind: SlotField, Offset: offset, Width: x.Width, Signed: x.Signed, Variant: variant})
		return offset + x.Width
	case Array:
		for i := 0; i < x.Count; i++ {
			offset = layout(x.Elem, path+"["+strconv.Itoa(i)+"]", offset, variant, out)
		}
		return offset
	case *Struct:
		for _, f := range x.Fields {
			offset = layout(f.Shape, join(path, f.Name), offset, variant, out)
		}
		return offset
	case *Union:
		*out = append(*out, Slot{Path: join(path, "$tag"), Kind: SlotTag, Offset: offset, Width: x.TagWidth, Variant: variant})
		start := offset + x.TagWidth
		reserved := x.PayloadBits()
		for _, v := range x.Variants {
			vpath := join(path, v.Name)
			end := start
			if v.Payload != nil {
				end = layout(v.Payload, vpath, start, v.Name, out)
			}
			if pad := start + reserved - end; pad > 0 {
				*out = append(*out, Slot{Path: join(vpath, "$pad"), Kind: SlotPadding, Offset: end, Width: pad, Variant: v.Name})
			}
		}
		return start + reserved
	}
	return offset
}
