package protocol

// Variable-length integers are encoded as groups of 7 bits, low-order group
// first, with the high bit of every non-final byte set as a continuation
// marker. Signed values pass through a zigzag transform first so that small
// negative magnitudes stay short on the wire.

const (
	maxUvarint32Len = 5
	maxUvarint64Len = 10
)

// AppendUvarint32 appends the unsigned varint encoding of v to dst.
func AppendUvarint32(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendUvarint64 appends the unsigned varint encoding of v to dst.
func AppendUvarint64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendVarint32 appends the zigzag-encoded varint encoding of v to dst.
func AppendVarint32(dst []byte, v int32) []byte {
	return AppendUvarint32(dst, uint32((v<<1)^(v>>31)))
}

// AppendVarint64 appends the zigzag-encoded varint encoding of v to dst.
func AppendVarint64(dst []byte, v int64) []byte {
	return AppendUvarint64(dst, uint64((v<<1)^(v>>63)))
}

// ReadUvarint32 decodes an unsigned varint from the front of b, returning the
// value and the number of bytes consumed. It fails with ErrTruncated if b ends
// before a terminating byte and ErrOverflow past five continuation bytes.
func ReadUvarint32(b []byte) (uint32, int, error) {
	var v uint32
	var shift uint
	for i := 0; i < len(b); i++ {
		if i >= maxUvarint32Len {
			return 0, 0, ErrOverflow
		}
		c := b[i]
		v |= uint32(c&0x7f) << shift
		if c < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	if len(b) >= maxUvarint32Len {
		return 0, 0, ErrOverflow
	}
	return 0, 0, ErrTruncated
}

// ReadUvarint64 decodes an unsigned varint from the front of b, returning the
// value and the number of bytes consumed.
func ReadUvarint64(b []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		if i >= maxUvarint64Len {
			return 0, 0, ErrOverflow
		}
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	if len(b) >= maxUvarint64Len {
		return 0, 0, ErrOverflow
	}
	return 0, 0, ErrTruncated
}

// ReadVarint32 decodes a zigzag-encoded signed varint from the front of b.
func ReadVarint32(b []byte) (int32, int, error) {
	u, n, err := ReadUvarint32(b)
	if err != nil {
		return 0, 0, err
	}
	return int32(u>>1) ^ -int32(u&1), n, nil
}

// ReadVarint64 decodes a zigzag-encoded signed varint from the front of b.
func ReadVarint64(b []byte) (int64, int, error) {
	u, n, err := ReadUvarint64(b)
	if err != nil {
		return 0, 0, err
	}
	return int64(u>>1) ^ -int64(u&1), n, nil
}
