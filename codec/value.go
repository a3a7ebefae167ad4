package codec

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"

	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/shape"
)

// Record is the dynamic value of a struct shape: field name to value.
type Record map[string]any

// Variant is the dynamic value of a union shape. On encode the variant is
// picked by Name when set, otherwise by Tag. Unit variants carry a nil Value.
type Variant struct {
	Name  string `json:"name" yaml:"name" bitwire:"name"`
	Tag   uint64 `json:"tag" yaml:"tag" bitwire:"tag"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty" bitwire:"value"`
}

// Zero returns the all-zero value of s: zero integers, zero-filled arrays
// and records, and the union's first declared variant.
func Zero(s shape.Shape) any {
	switch x := s.(type) {
	case shape.Primitive:
		if x.Signed {
			return int64(0)
		}
		return uint64(0)
	case shape.Array:
		out := make([]any, x.Count)
		for i := range out {
			out[i] = Zero(x.Elem)
		}
		return out
	case *shape.Struct:
		rec := make(Record, len(x.Fields))
		for _, f := range x.Fields {
			rec[f.Name] = Zero(f.Shape)
		}
		return rec
	case *shape.Union:
		first := x.Variants[0]
		v := Variant{Name: first.Name, Tag: first.Tag}
		if first.Payload != nil {
			v.Value = Zero(first.Payload)
		}
		return v
	}
	return nil
}

// integer is a primitive input value normalised to either a signed or an
// unsigned 64-bit quantity.
type integer struct {
	u   uint64
	i   int64
	neg bool // the value is i < 0
}

func asInteger(v any) (integer, bool) {
	switch n := v.(type) {
	case uint64:
		return integer{u: n, i: int64(n)}, true
	case uint:
		return fromUnsigned(uint64(n)), true
	case uint32:
		return fromUnsigned(uint64(n)), true
	case uint16:
		return fromUnsigned(uint64(n)), true
	case uint8:
		return fromUnsigned(uint64(n)), true
	case int64:
		return fromSigned(n), true
	case int:
		return fromSigned(int64(n)), true
	case int32:
		return fromSigned(int64(n)), true
	case int16:
		return fromSigned(int64(n)), true
	case int8:
		return fromSigned(int64(n)), true
	case bool:
		if n {
			return fromUnsigned(1), true
		}
		return fromUnsigned(0), true
	case float64:
		return fromFloat(n)
	case float32:
		return fromFloat(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return fromSigned(i), true
		}
		if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
			return fromUnsigned(u), true
		}
		return integer{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fromSigned(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fromUnsigned(rv.Uint()), true
	}
	return integer{}, false
}

func fromUnsigned(u uint64) integer { return integer{u: u, i: int64(u)} }
func fromSigned(i int64) integer    { return integer{u: uint64(i), i: i, neg: i < 0} }

func fromFloat(f float64) (integer, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return integer{}, false
	}
	if f < 0 {
		if f < math.MinInt64 {
			return integer{}, false
		}
		return fromSigned(int64(f)), true
	}
	if f >= math.MaxUint64 {
		return integer{}, false
	}
	return fromUnsigned(uint64(f)), true
}

// fits reports whether n is representable in p.
func fits(n integer, p shape.Primitive) bool {
	minSigned, maxUnsigned := p.Range()
	if p.Signed {
		if n.neg {
			return n.i >= minSigned
		}
		return n.u <= maxUnsigned
	}
	return !n.neg && n.u <= maxUnsigned
}

// primitiveBits converts v to the raw bits of p. Out-of-range values are
// truncated to the field width unless strict is set.
func primitiveBits(v any, p shape.Primitive, strict bool, path string) (uint64, error) {
	n, ok := asInteger(v)
	if !ok {
		return 0, fieldErrf(path, ErrValueType, "%T is not an integer for %s", v, p)
	}
	if strict && !fits(n, p) {
		if n.neg {
			return 0, fieldErrf(path, ErrFieldOverflow, "%d does not fit in %s", n.i, p)
		}
		return 0, fieldErrf(path, ErrFieldOverflow, "%d does not fit in %s", n.u, p)
	}
	return bitio.Mask(n.u, p.Width), nil
}

// primitiveValue converts raw bits read from p to its dynamic value.
func primitiveValue(raw uint64, p shape.Primitive) any {
	if p.Signed {
		return int64(raw)
	}
	return raw
}
