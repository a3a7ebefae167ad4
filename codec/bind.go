package codec

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// TagName is the struct tag read by Bind and Flatten.
const TagName = "bitwire"

// Bind decodes a dynamic value (as returned by Unpack) into out, a pointer
// to a Go value whose struct fields are tagged `bitwire:"name"`.
func Bind(v any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          TagName,
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValueType, err)
	}
	return nil
}

// Flatten converts a tagged Go struct into the map form accepted by Pack.
// Nested structs become maps; slices and arrays are kept as they are.
func Flatten(in any) (any, error) {
	out := map[string]any{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: TagName,
		Result:  &out,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValueType, err)
	}
	return out, nil
}
