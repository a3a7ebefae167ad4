package protocol

import (
	"fmt"

	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/shape"
)

// accumulate adds incoming to current following s. Primitives wrap at
// their width; arrays and records add element-wise; a union adds payloads
// when both sides hold the same variant and takes incoming otherwise.
func accumulate(s shape.Shape, current, incoming any) (any, error) {
	switch x := s.(type) {
	case shape.Primitive:
		if x.Signed {
			a, aok := current.(int64)
			b, bok := incoming.(int64)
			if !aok || !bok {
				return nil, fmt.Errorf("%w: accumulate %T and %T as %s", codec.ErrValueType, current, incoming, x)
			}
			return int64(bitio.SignExtend(bitio.Mask(uint64(a)+uint64(b), x.Width), x.Width)), nil
		}
		a, aok := current.(uint64)
		b, bok := incoming.(uint64)
		if !aok || !bok {
			return nil, fmt.Errorf("%w: accumulate %T and %T as %s", codec.ErrValueType, current, incoming, x)
		}
		return bitio.Mask(a+b, x.Width), nil

	case shape.Array:
		cur, cok := current.([]any)
		inc, iok := incoming.([]any)
		if !cok || !iok || len(cur) != x.Count || len(inc) != x.Count {
			return nil, fmt.Errorf("%w: accumulate %T and %T as %s", codec.ErrValueType, current, incoming, x)
		}
		out := make([]any, x.Count)
		for i := range out {
			v, err := accumulate(x.Elem, cur[i], inc[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *shape.Struct:
		cur, cok := current.(codec.Record)
		inc, iok := incoming.(codec.Record)
		if !cok || !iok {
			return nil, fmt.Errorf("%w: accumulate %T and %T as %s", codec.ErrValueType, current, incoming, x)
		}
		out := make(codec.Record, len(x.Fields))
		for _, f := range x.Fields {
			v, err := accumulate(f.Shape, cur[f.Name], inc[f.Name])
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
		return out, nil

	case *shape.Union:
		cur, cok := current.(codec.Variant)
		inc, iok := incoming.(codec.Variant)
		if !cok || !iok {
			return nil, fmt.Errorf("%w: accumulate %T and %T as %s", codec.ErrValueType, current, incoming, x)
		}
		if cur.Tag != inc.Tag {
			return inc, nil
		}
		variant, ok := x.VariantByTag(inc.Tag)
		if !ok || variant.Payload == nil {
			return inc, nil
		}
		v, err := accumulate(variant.Payload, cur.Value, inc.Value)
		if err != nil {
			return nil, err
		}
		inc.Value = v
		return inc, nil
	}
	return nil, fmt.Errorf("%w: unsupported shape %T", codec.ErrValueType, s)
}
