package protocol

import "encoding/binary"

// byteWriter accumulates big-endian wire output.
type byteWriter struct {
	buf []byte
}

func newByteWriter(capacity int) *byteWriter {
	return &byteWriter{buf: make([]byte, 0, capacity)}
}

func (w *byteWriter) Bytes() []byte {
	return w.buf
}

func (w *byteWriter) write(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *byteWriter) Int8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *byteWriter) Int16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *byteWriter) Int32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *byteWriter) Int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *byteWriter) Uvarint(v uint32) {
	w.buf = AppendUvarint32(w.buf, v)
}

func (w *byteWriter) Varint(v int32) {
	w.buf = AppendVarint32(w.buf, v)
}

func (w *byteWriter) Varint64(v int64) {
	w.buf = AppendVarint64(w.buf, v)
}

func (w *byteWriter) String(s string) {
	w.Int16(int16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) NullableString(s *string) {
	if s == nil {
		w.Int16(-1)
		return
	}
	w.String(*s)
}

func (w *byteWriter) CompactString(s string) {
	w.Uvarint(uint32(len(s)) + 1)
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) CompactNullableString(s *string) {
	if s == nil {
		w.Uvarint(0)
		return
	}
	w.CompactString(*s)
}

func (w *byteWriter) BytesWithLength(b []byte) {
	if b == nil {
		w.Int32(-1)
		return
	}
	w.Int32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) CompactBytes(b []byte) {
	if b == nil {
		w.Uvarint(0)
		return
	}
	w.Uvarint(uint32(len(b)) + 1)
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) ArrayLen(n int32) {
	w.Int32(n)
}

func (w *byteWriter) CompactArrayLen(n int32) {
	w.Uvarint(uint32(n + 1))
}

func (w *byteWriter) TaggedFields(fields []TaggedField) {
	w.Uvarint(uint32(len(fields)))
	for _, f := range fields {
		w.Uvarint(f.Tag)
		w.Uvarint(uint32(len(f.Data)))
		w.buf = append(w.buf, f.Data...)
	}
}
