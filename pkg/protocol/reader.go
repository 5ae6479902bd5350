package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// byteReader walks a request/response payload. All multi-byte integers are
// big-endian per the wire format.
type byteReader struct {
	buf []byte
	pos int
}

func newByteReader(b []byte) *byteReader {
	return &byteReader{buf: b}
}

func (r *byteReader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrMalformed
	}
	if r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) Bool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *byteReader) Int8() (int8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *byteReader) Int16() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *byteReader) Int32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *byteReader) Int64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *byteReader) Uvarint() (uint32, error) {
	v, n, err := ReadUvarint32(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) Varint() (int32, error) {
	v, n, err := ReadVarint32(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) Varint64() (int64, error) {
	v, n, err := ReadVarint64(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// String reads a legacy int16-length-prefixed string. Negative lengths are
// rejected; use NullableString where null is permitted.
func (r *byteReader) String() (string, error) {
	n, err := r.Int16()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("%w: null for non-nullable string", ErrSchemaMismatch)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) NullableString() (*string, error) {
	n, err := r.Int16()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// CompactString reads a compact (uvarint length+1) string; zero means null and
// is rejected here.
func (r *byteReader) CompactString() (string, error) {
	n, err := r.Uvarint()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("%w: null for non-nullable compact string", ErrSchemaMismatch)
	}
	b, err := r.take(int(n) - 1)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) CompactNullableString() (*string, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b, err := r.take(int(n) - 1)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// Bytes reads a legacy int32-length-prefixed byte sequence; -1 yields nil.
func (r *byteReader) Bytes() ([]byte, error) {
	n, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		if n != -1 {
			return nil, ErrMalformed
		}
		return nil, nil
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// CompactBytes reads a compact byte sequence; zero yields nil.
func (r *byteReader) CompactBytes() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b, err := r.take(int(n) - 1)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n-1)
	copy(out, b)
	return out, nil
}

// ArrayLen reads a legacy int32 array count; -1 means null.
func (r *byteReader) ArrayLen() (int32, error) {
	n, err := r.Int32()
	if err != nil {
		return 0, err
	}
	if n < -1 {
		return 0, ErrMalformed
	}
	return n, nil
}

// CompactArrayLen reads a compact array count; returns -1 for null.
func (r *byteReader) CompactArrayLen() (int32, error) {
	n, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return -1, nil
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: compact array length %d", ErrMalformed, n)
	}
	return int32(n - 1), nil
}

// TaggedFields consumes a tagged-field section and returns the entries in
// wire order, raw. Unknown tags are preserved so that re-encoding reproduces
// the input bytes exactly.
func (r *byteReader) TaggedFields() ([]TaggedField, error) {
	count, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	fields := make([]TaggedField, 0, count)
	for i := uint32(0); i < count; i++ {
		tag, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		size, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		data, err := r.take(int(size))
		if err != nil {
			return nil, err
		}
		out := make([]byte, size)
		copy(out, data)
		fields = append(fields, TaggedField{Tag: tag, Data: out})
	}
	return fields, nil
}
