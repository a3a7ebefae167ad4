// Package bitio reads and writes N-bit fields at arbitrary bit offsets of a
// byte buffer.
//
// Fields are packed back to back with no implicit byte alignment. The bit
// cursor is always owned by the caller and threaded through every call, so a
// struct, a union and a protocol message can share one linear pass.
//
// Bit order:
//   - MSBFirst (default): the first field occupies the most-significant bits of
//     the first byte, and multi-bit values are written high bit first.
//   - LSBFirst: bits fill each byte from bit 0 upward, values low bit first.
package bitio

import (
	"errors"
	"fmt"
)

// MaxWidth is the widest field a single call can move.
const MaxWidth = 64

var (
	// ErrOutOfSpace is returned when a field would cross the buffer's bit capacity.
	ErrOutOfSpace = errors.New("bitio: out of space")
	// ErrInvalidWidth is returned for widths outside 0..MaxWidth.
	ErrInvalidWidth = errors.New("bitio: invalid width")
)

// Order selects how bits are laid out inside each byte.
type Order int

const (
	// MSBFirst packs fields from the most-significant bit downward.
	MSBFirst Order = iota
	// LSBFirst packs fields from the least-significant bit upward.
	LSBFirst
)

// String returns the order name used in config files.
func (o Order) String() string {
	switch o {
	case MSBFirst:
		return "msb"
	case LSBFirst:
		return "lsb"
	default:
		return fmt.Sprintf("order(%d)", int(o))
	}
}

// ParseOrder parses "msb" or "lsb". The empty string selects MSBFirst.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "msb", "msb_first":
		return MSBFirst, nil
	case "lsb", "lsb_first":
		return LSBFirst, nil
	default:
		return MSBFirst, fmt.Errorf("invalid bit order: %q (must be msb or lsb)", s)
	}
}

// Capacity returns the number of bits buf can hold.
func Capacity(buf []byte) int {
	return len(buf) * 8
}

func check(buf []byte, cursor *int, width int) error {
	if width < 0 || width > MaxWidth {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	if *cursor < 0 || *cursor+width > Capacity(buf) {
		return fmt.Errorf("%w: need %d bits at offset %d, capacity %d",
			ErrOutOfSpace, width, *cursor, Capacity(buf))
	}
	return nil
}

// Mask returns value truncated to its low width bits.
func Mask(value uint64, width int) uint64 {
	if width >= MaxWidth {
		return value
	}
	return value & (1<<uint(width) - 1)
}

// WriteBits writes the low width bits of value MSB-first at *cursor and
// advances the cursor. Bits of value above width are ignored.
func WriteBits(buf []byte, cursor *int, value uint64, width int) error {
	return writeBits(buf, cursor, value, width, MSBFirst)
}

// ReadBits reads width bits MSB-first at *cursor, advances the cursor and
// sign-extends the result when signed is set.
func ReadBits(buf []byte, cursor *int, width int, signed bool) (uint64, error) {
	return readBits(buf, cursor, width, signed, MSBFirst)
}

// ZeroBits writes width zero bits MSB-first at *cursor. Width may exceed
// MaxWidth.
func ZeroBits(buf []byte, cursor *int, width int) error {
	return zeroBits(buf, cursor, width, MSBFirst)
}

func zeroBits(buf []byte, cursor *int, width int, order Order) error {
	if width < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	if *cursor < 0 || *cursor+width > Capacity(buf) {
		return fmt.Errorf("%w: need %d bits at offset %d, capacity %d",
			ErrOutOfSpace, width, *cursor, Capacity(buf))
	}
	for i := 0; i < width; i++ {
		pos := *cursor + i
		buf[pos/8] &^= bitMask(pos, order)
	}
	*cursor += width
	return nil
}

func bitMask(pos int, order Order) byte {
	if order == LSBFirst {
		return 1 << uint(pos%8)
	}
	return 0x80 >> uint(pos%8)
}

func writeBits(buf []byte, cursor *int, value uint64, width int, order Order) error {
	if err := check(buf, cursor, width); err != nil {
		return err
	}
	value = Mask(value, width)
	pos := *cursor
	for remaining := width; remaining > 0; {
		byteIdx := pos / 8
		bitIdx := pos % 8
		n := 8 - bitIdx
		if n > remaining {
			n = remaining
		}
		var chunk uint64
		var shift uint
		if order == LSBFirst {
			// Low bits of value first, landing at bitIdx and upward.
			chunk = (value >> uint(width-remaining)) & (1<<uint(n) - 1)
			shift = uint(bitIdx)
		} else {
			// High bits of value first, landing just below the previous bit.
			chunk = (value >> uint(remaining-n)) & (1<<uint(n) - 1)
			shift = uint(8 - bitIdx - n)
		}
		mask := byte((1<<uint(n) - 1) << shift)
		buf[byteIdx] = buf[byteIdx]&^mask | byte(chunk<<shift)&mask
		pos += n
		remaining -= n
	}
	*cursor = pos
	return nil
}

func readBits(buf []byte, cursor *int, width int, signed bool, order Order) (uint64, error) {
	if err := check(buf, cursor, width); err != nil {
		return 0, err
	}
	if width == 0 {
		return 0, nil
	}
	pos := *cursor
	var value uint64
	for remaining := width; remaining > 0; {
		byteIdx := pos / 8
		bitIdx := pos % 8
		n := 8 - bitIdx
		if n > remaining {
			n = remaining
		}
		if order == LSBFirst {
			chunk := uint64(buf[byteIdx]>>uint(bitIdx)) & (1<<uint(n) - 1)
			value |= chunk << uint(width-remaining)
		} else {
			chunk := uint64(buf[byteIdx]>>uint(8-bitIdx-n)) & (1<<uint(n) - 1)
			value = value<<uint(n) | chunk
		}
		pos += n
		remaining -= n
	}
	*cursor = pos
	if signed {
		value = SignExtend(value, width)
	}
	return value, nil
}

// SignExtend interprets the low width bits of value as two's complement.
func SignExtend(value uint64, width int) uint64 {
	if width <= 0 || width >= MaxWidth {
		return value
	}
	shift := uint(MaxWidth - width)
	return uint64(int64(value<<shift) >> shift)
}
