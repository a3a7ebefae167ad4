package bitio

// Writer bundles a caller-owned buffer with a bit cursor and an order.
// Pos is exported so callers can inspect or rewind the cursor between fields.
type Writer struct {
	Buf   []byte
	Pos   int
	Order Order
}

// NewWriter returns a writer positioned at bit 0 of buf.
func NewWriter(buf []byte, order Order) *Writer {
	return &Writer{Buf: buf, Order: order}
}

// Write writes the low width bits of value.
func (w *Writer) Write(value uint64, width int) error {
	return writeBits(w.Buf, &w.Pos, value, width, w.Order)
}

// Zero writes width zero bits.
func (w *Writer) Zero(width int) error {
	return zeroBits(w.Buf, &w.Pos, width, w.Order)
}

// Remaining returns the number of unwritten bits.
func (w *Writer) Remaining() int {
	return Capacity(w.Buf) - w.Pos
}

// Reader bundles a caller-owned buffer with a bit cursor and an order.
type Reader struct {
	Buf   []byte
	Pos   int
	Order Order
}

// NewReader returns a reader positioned at bit 0 of buf.
func NewReader(buf []byte, order Order) *Reader {
	return &Reader{Buf: buf, Order: order}
}

// Read reads width bits, sign-extending when signed is set.
func (r *Reader) Read(width int, signed bool) (uint64, error) {
	return readBits(r.Buf, &r.Pos, width, signed, r.Order)
}

// Skip advances the cursor by width bits without decoding them.
func (r *Reader) Skip(width int) error {
	if width < 0 {
		return ErrInvalidWidth
	}
	if r.Pos+width > Capacity(r.Buf) {
		return ErrOutOfSpace
	}
	r.Pos += width
	return nil
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int {
	return Capacity(r.Buf) - r.Pos
}
