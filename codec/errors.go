package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDiscriminant is returned when a union tag or variant name
	// matches no declared variant.
	ErrUnknownDiscriminant = errors.New("unknown discriminant")
	// ErrFieldOverflow is returned in strict mode for values that do not fit
	// their field.
	ErrFieldOverflow = errors.New("field overflow")
	// ErrValueType is returned when a value cannot represent the field's shape.
	ErrValueType = errors.New("value type mismatch")
	// ErrMissingField is returned when a struct value lacks a declared field.
	ErrMissingField = errors.New("missing field")
)

// FieldError wraps an encode or decode failure with the path of the field
// being processed, e.g. "Instr.Op.src_a" or "pair[1]".
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(path string, err error) error {
	var fe *FieldError
	if errors.As(err, &fe) {
		return err
	}
	return &FieldError{Path: path, Err: err}
}

func fieldErrf(path string, sentinel error, format string, a ...any) error {
	return &FieldError{Path: path, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, a...)...)}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
