// Package codec packs dynamic values into the fixed-size, bit-exact
// encoding of a shape and unpacks them again.
//
// Values are walked against the shape: unsigned primitives decode to
// uint64, signed ones to int64, arrays to []any, structs to Record and unions
// to Variant. Encoding also accepts any Go integer kind, bool, integral
// floats (as produced by JSON decoding), Go slices and arrays, and tagged Go
// structs (see Flatten).
package codec

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/pithecene-io/bitwire/bitio"
	"github.com/pithecene-io/bitwire/shape"
)

// Options controls encoding behavior.
type Options struct {
	// Strict rejects out-of-range primitive values with ErrFieldOverflow
	// instead of truncating them.
	Strict bool
	// Order is the bit order used by Pack and Unpack.
	Order bitio.Order
}

// Option configures a Codec.
type Option func(*Options)

// WithStrict enables overflow checking.
func WithStrict() Option { return func(o *Options) { o.Strict = true } }

// WithOrder selects the bit order.
func WithOrder(order bitio.Order) Option { return func(o *Options) { o.Order = order } }

// Codec is a compiled shape with its size fixed at construction.
type Codec struct {
	shape shape.Shape
	bits  int
	size  int
	opts  Options
}

// Compile validates s and fixes its encoded size.
func Compile(s shape.Shape, opts ...Option) (*Codec, error) {
	if err := shape.Validate(s); err != nil {
		return nil, err
	}
	c := &Codec{shape: s, bits: s.Bits()}
	c.size = (c.bits + 7) / 8
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c, nil
}

// MustCompile is Compile for shapes known to be valid.
func MustCompile(s shape.Shape, opts ...Option) *Codec {
	c, err := Compile(s, opts...)
	if err != nil {
		panic(fmt.Sprintf("codec: %v", err))
	}
	return c
}

func (c *Codec) Shape() shape.Shape { return c.shape }
func (c *Codec) Bits() int          { return c.bits }
func (c *Codec) Size() int          { return c.size }
func (c *Codec) Options() Options   { return c.opts }

// Pack encodes v into a new buffer of exactly Size bytes.
func (c *Codec) Pack(v any) ([]byte, error) {
	buf := make([]byte, c.size)
	if _, err := c.PackInto(v, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// PackInto encodes v into the first Size bytes of buf and returns Size.
// Trailing bits of the last byte are zeroed. buf is left in an unspecified
// state on error.
func (c *Codec) PackInto(v any, buf []byte) (int, error) {
	if len(buf) < c.size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", bitio.ErrOutOfSpace, c.size, len(buf))
	}
	w := bitio.NewWriter(buf[:c.size], c.opts.Order)
	if err := Write(w, c.shape, v, c.opts); err != nil {
		return 0, err
	}
	if err := w.Zero(w.Remaining()); err != nil {
		return 0, err
	}
	return c.size, nil
}

// Unpack decodes the first Size bytes of buf.
func (c *Codec) Unpack(buf []byte) (any, error) {
	if len(buf) < c.size {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", bitio.ErrOutOfSpace, c.size, len(buf))
	}
	return Read(bitio.NewReader(buf[:c.size], c.opts.Order), c.shape)
}

// Normalize returns v as Unpack would return it after a Pack round trip:
// canonical dynamic types, truncated per the codec's options.
func (c *Codec) Normalize(v any) (any, error) {
	buf, err := c.Pack(v)
	if err != nil {
		return nil, err
	}
	return c.Unpack(buf)
}

// Write encodes v as s at the writer's cursor.
func Write(w *bitio.Writer, s shape.Shape, v any, opts Options) error {
	return write(w, s, v, opts, "")
}

// Read decodes one value of shape s at the reader's cursor.
func Read(r *bitio.Reader, s shape.Shape) (any, error) {
	return read(r, s, "")
}

func write(w *bitio.Writer, s shape.Shape, v any, opts Options, path string) error {
	switch x := s.(type) {
	case shape.Primitive:
		raw, err := primitiveBits(v, x, opts.Strict, path)
		if err != nil {
			return err
		}
		if err := w.Write(raw, x.Width); err != nil {
			return fieldErr(path, err)
		}
		return nil

	case shape.Array:
		elems, ok := asSlice(v)
		if !ok {
			return fieldErrf(path, ErrValueType, "%T is not a list for %s", v, x)
		}
		if len(elems) != x.Count {
			return fieldErrf(path, ErrValueType, "got %d elements, want %d", len(elems), x.Count)
		}
		for i, elem := range elems {
			if err := write(w, x.Elem, elem, opts, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		return nil

	case *shape.Struct:
		fields, err := asRecord(v)
		if err != nil {
			return fieldErr(path, err)
		}
		for _, f := range x.Fields {
			fv, ok := fields[f.Name]
			if !ok {
				return fieldErrf(join(path, f.Name), ErrMissingField, "no value for %s", f.Name)
			}
			if err := write(w, f.Shape, fv, opts, join(path, f.Name)); err != nil {
				return err
			}
		}
		return nil

	case *shape.Union:
		sel, err := asVariant(v)
		if err != nil {
			return fieldErr(path, err)
		}
		variant, err := selectVariant(x, sel, path)
		if err != nil {
			return err
		}
		if err := w.Write(variant.Tag, x.TagWidth); err != nil {
			return fieldErr(path, err)
		}
		vpath := join(path, variant.Name)
		if variant.Payload != nil {
			if err := write(w, variant.Payload, sel.Value, opts, vpath); err != nil {
				return err
			}
		}
		if err := w.Zero(x.PayloadBits() - variant.PayloadBits()); err != nil {
			return fieldErr(vpath, err)
		}
		return nil
	}
	return fieldErrf(path, ErrValueType, "unsupported shape %T", s)
}

func selectVariant(u *shape.Union, sel Variant, path string) (shape.Variant, error) {
	if sel.Name != "" {
		v, ok := u.VariantByName(sel.Name)
		if !ok {
			return shape.Variant{}, fieldErrf(path, ErrUnknownDiscriminant, "no variant named %q in %s", sel.Name, u)
		}
		return v, nil
	}
	v, ok := u.VariantByTag(sel.Tag)
	if !ok {
		return shape.Variant{}, fieldErrf(path, ErrUnknownDiscriminant, "no variant with tag %d in %s", sel.Tag, u)
	}
	return v, nil
}

func read(r *bitio.Reader, s shape.Shape, path string) (any, error) {
	switch x := s.(type) {
	case shape.Primitive:
		raw, err := r.Read(x.Width, x.Signed)
		if err != nil {
			return nil, fieldErr(path, err)
		}
		return primitiveValue(raw, x), nil

	case shape.Array:
		out := make([]any, x.Count)
		for i := range out {
			v, err := read(r, x.Elem, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *shape.Struct:
		rec := make(Record, len(x.Fields))
		for _, f := range x.Fields {
			v, err := read(r, f.Shape, join(path, f.Name))
			if err != nil {
				return nil, err
			}
			rec[f.Name] = v
		}
		return rec, nil

	case *shape.Union:
		tag, err := r.Read(x.TagWidth, false)
		if err != nil {
			return nil, fieldErr(path, err)
		}
		variant, ok := x.VariantByTag(tag)
		if !ok {
			return nil, fieldErrf(path, ErrUnknownDiscriminant, "tag %d in %s", tag, x)
		}
		out := Variant{Name: variant.Name, Tag: variant.Tag}
		vpath := join(path, variant.Name)
		if variant.Payload != nil {
			if out.Value, err = read(r, variant.Payload, vpath); err != nil {
				return nil, err
			}
		}
		if err := r.Skip(x.PayloadBits() - variant.PayloadBits()); err != nil {
			return nil, fieldErr(vpath, err)
		}
		return out, nil
	}
	return nil, fieldErrf(path, ErrValueType, "unsupported shape %T", s)
}

func asSlice(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asRecord(v any) (map[string]any, error) {
	switch rec := v.(type) {
	case Record:
		return rec, nil
	case map[string]any:
		return rec, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		flat, err := Flatten(rv.Interface())
		if err != nil {
			return nil, err
		}
		if rec, ok := flat.(map[string]any); ok {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a record", ErrValueType, v)
}

func asVariant(v any) (Variant, error) {
	switch sel := v.(type) {
	case Variant:
		return sel, nil
	case *Variant:
		if sel != nil {
			return *sel, nil
		}
	case map[string]any:
		return variantFromMap(sel)
	case Record:
		return variantFromMap(sel)
	}
	return Variant{}, fmt.Errorf("%w: %T is not a variant", ErrValueType, v)
}

// variantFromMap accepts {"name": ..., "tag": ..., "value": ...} as decoded
// from JSON or YAML input.
func variantFromMap(m map[string]any) (Variant, error) {
	var out Variant
	if name, ok := m["name"].(string); ok {
		out.Name = name
	}
	if tag, ok := m["tag"]; ok {
		n, ok := asInteger(tag)
		if !ok || n.neg {
			return Variant{}, fmt.Errorf("%w: invalid variant tag %v", ErrValueType, tag)
		}
		out.Tag = n.u
	} else if out.Name == "" {
		return Variant{}, fmt.Errorf("%w: variant needs a name or a tag", ErrValueType)
	}
	out.Value = m["value"]
	return out, nil
}
