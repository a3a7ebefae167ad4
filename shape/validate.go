package shape

import (
	"fmt"
	"strconv"
)

// ValidationError describes a structural problem in a shape.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid shape: " + e.Reason
	}
	return fmt.Sprintf("invalid shape at %s: %s", e.Path, e.Reason)
}

// MaxWidth bounds primitive and discriminant widths.
const MaxWidth = 64

// Validate checks s recursively: primitive and discriminant widths in
// 1..64, positive array counts, non-empty structs and unions, unique field
// names, and unique variant names and tags that fit the discriminant.
func Validate(s Shape) error {
	return validate(s, rootName(s), map[Shape]bool{})
}

func rootName(s Shape) string {
	switch x := s.(type) {
	case *Struct:
		return x.Name
	case *Union:
		return x.Name
	}
	return ""
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func validate(s Shape, path string, active map[Shape]bool) error {
	if s == nil {
		return &ValidationError{Path: path, Reason: "nil shape"}
	}
	switch x := s.(type) {
	case Primitive:
		if x.Width < 1 || x.Width > MaxWidth {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("width %d out of range 1..%d", x.Width, MaxWidth)}
		}
	case Array:
		if x.Count < 1 {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("array count %d must be at least 1", x.Count)}
		}
		return validate(x.Elem, path+"[]", active)
	case *Struct:
		if active[x] {
			return &ValidationError{Path: path, Reason: "recursive shape"}
		}
		active[x] = true
		defer delete(active, x)
		if len(x.Fields) == 0 {
			return &ValidationError{Path: path, Reason: "struct has no fields"}
		}
		seen := make(map[string]bool, len(x.Fields))
		for i, f := range x.Fields {
			name := f.Name
			if name == "" {
				return &ValidationError{Path: join(path, strconv.Itoa(i)), Reason: "field has no name"}
			}
			if seen[name] {
				return &ValidationError{Path: join(path, name), Reason: "duplicate field name"}
			}
			seen[name] = true
			if err := validate(f.Shape, join(path, name), active); err != nil {
				return err
			}
		}
	case *Union:
		if active[x] {
			return &ValidationError{Path: path, Reason: "recursive shape"}
		}
		active[x] = true
		defer delete(active, x)
		if x.TagWidth < 1 || x.TagWidth > MaxWidth {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("discriminant width %d out of range 1..%d", x.TagWidth, MaxWidth)}
		}
		if len(x.Variants) == 0 {
			return &ValidationError{Path: path, Reason: "union has no variants"}
		}
		names := make(map[string]bool, len(x.Variants))
		tags := make(map[uint64]string, len(x.Variants))
		for _, v := range x.Variants {
			vpath := join(path, v.Name)
			if v.Name == "" {
				return &ValidationError{Path: path, Reason: fmt.Sprintf("variant with tag %d has no name", v.Tag)}
			}
			if names[v.Name] {
				return &ValidationError{Path: vpath, Reason: "duplicate variant name"}
			}
			names[v.Name] = true
			if other, dup := tags[v.Tag]; dup {
				return &ValidationError{Path: vpath, Reason: fmt.Sprintf("tag %d already used by %s", v.Tag, other)}
			}
			tags[v.Tag] = v.Name
			if x.TagWidth < MaxWidth && v.Tag >= uint64(1)<<uint(x.TagWidth) {
				return &ValidationError{Path: vpath, Reason: fmt.Sprintf("tag %d does not fit in %d bits", v.Tag, x.TagWidth)}
			}
			if v.Payload != nil {
				if err := validate(v.Payload, vpath, active); err != nil {
					return err
				}
			}
		}
	default:
		return &ValidationError{Path: path, Reason: fmt.Sprintf("unsupported shape %T", s)}
	}
	return nil
}
