package batch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/lakestream-io/lakestream/pkg/protocol"
)

func singleRecordBatch(c Compression) *Batch {
	return &Batch{
		BaseOffset:      0,
		Attributes:      int16(c),
		LastOffsetDelta: 0,
		FirstTimestamp:  1700000000000,
		MaxTimestamp:    1700000000000,
		ProducerID:      -1,
		ProducerEpoch:   -1,
		BaseSequence:    -1,
		Records: []Record{
			{Key: []byte("k"), Value: []byte("v")},
		},
	}
}

func TestEncodeDecodeSingleRecord(t *testing.T) {
	enc, err := singleRecordBatch(None).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// The stored CRC must be CRC32C over every byte after the CRC field.
	stored := binary.BigEndian.Uint32(enc[17:])
	want := crc32.Checksum(enc[21:], crc32.MakeTable(crc32.Castagnoli))
	if stored != want {
		t.Fatalf("crc stored %#x want %#x", stored, want)
	}

	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dec.Records) != 1 {
		t.Fatalf("expected 1 record got %d", len(dec.Records))
	}
	rec := dec.Records[0]
	if string(rec.Key) != "k" || string(rec.Value) != "v" {
		t.Fatalf("record mismatch: %q %q", rec.Key, rec.Value)
	}
	enc2, err := dec.Encode()
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeCrcMismatch(t *testing.T) {
	enc, err := singleRecordBatch(None).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	enc[len(enc)-1] ^= 0xff
	if _, err := Decode(enc); !errors.Is(err, ErrCrcMismatch) {
		t.Fatalf("expected ErrCrcMismatch, got %v", err)
	}
}

func TestEmptyBatchValid(t *testing.T) {
	b := &Batch{
		ProducerID:    -1,
		ProducerEpoch: -1,
		BaseSequence:  -1,
	}
	enc, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dec.Records) != 0 {
		t.Fatalf("expected no records, got %d", len(dec.Records))
	}
}

func TestCompressionCodecs(t *testing.T) {
	for _, c := range []Compression{None, Gzip, Snappy, Lz4, Zstd} {
		b := &Batch{
			Attributes:      int16(c),
			LastOffsetDelta: 2,
			FirstTimestamp:  1700000000000,
			MaxTimestamp:    1700000000002,
			ProducerID:      -1,
			ProducerEpoch:   -1,
			BaseSequence:    -1,
			Records: []Record{
				{OffsetDelta: 0, Key: []byte("a"), Value: bytes.Repeat([]byte("x"), 200)},
				{OffsetDelta: 1, TimestampDelta: 1, Key: nil, Value: []byte("null-key")},
				{OffsetDelta: 2, TimestampDelta: 2, Key: []byte("c"), Value: []byte("v"),
					Headers: []Header{{Key: "trace", Value: []byte("abc")}, {Key: "null", Value: nil}}},
			},
		}
		enc, err := b.Encode()
		if err != nil {
			t.Fatalf("%s Encode: %v", c, err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("%s Decode: %v", c, err)
		}
		if dec.Compression() != c {
			t.Fatalf("%s compression lost: %s", c, dec.Compression())
		}
		if len(dec.Records) != 3 {
			t.Fatalf("%s expected 3 records got %d", c, len(dec.Records))
		}
		if dec.Records[1].Key != nil {
			t.Fatalf("%s expected null key preserved", c)
		}
		if len(dec.Records[2].Headers) != 2 || dec.Records[2].Headers[0].Key != "trace" {
			t.Fatalf("%s headers mismatch: %#v", c, dec.Records[2].Headers)
		}
		if dec.Records[2].Headers[1].Value != nil {
			t.Fatalf("%s expected null header value preserved", c)
		}
	}
}

func TestDecodeUnknownCodec(t *testing.T) {
	b := singleRecordBatch(None)
	enc, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Patch the compression bits to an unassigned codec id and re-seal.
	binary.BigEndian.PutUint16(enc[21:], uint16(5))
	crc := crc32.Checksum(enc[21:], crc32.MakeTable(crc32.Castagnoli))
	binary.BigEndian.PutUint32(enc[17:], crc)
	if _, err := Decode(enc); !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("expected ErrUnsupportedCodec, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	enc, err := singleRecordBatch(None).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(enc[:40]); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, err := Decode(enc[:len(enc)-2]); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated with short body, got %v", err)
	}
}

func TestControlAndTransactionalFlags(t *testing.T) {
	b := singleRecordBatch(None)
	b.Attributes |= transactionalBit | controlBit
	enc, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !dec.IsTransactional() || !dec.IsControl() {
		t.Fatalf("flags lost: attributes %#x", dec.Attributes)
	}
}

func TestPatchBaseOffsetKeepsCrcValid(t *testing.T) {
	enc, err := singleRecordBatch(None).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := PatchBaseOffset(enc, 42); err != nil {
		t.Fatalf("PatchBaseOffset: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode after patch: %v", err)
	}
	if dec.BaseOffset != 42 {
		t.Fatalf("base offset %d", dec.BaseOffset)
	}
	info, err := Peek(enc)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if info.BaseOffset != 42 || info.LastOffsetDelta != 0 || info.RecordCount != 1 {
		t.Fatalf("Peek = %+v", info)
	}
	if info.LastOffset() != 42 {
		t.Fatalf("last offset %d", info.LastOffset())
	}
}
