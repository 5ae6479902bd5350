// Package batch implements the record-batch wire format (magic byte 2):
// a checksummed, optionally compressed group of records with zigzag-varint
// delta encoding. It is the payload format carried inside Produce and Fetch
// frames and persisted by the storage backends.
package batch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/lakestream-io/lakestream/pkg/protocol"
)

var (
	ErrCrcMismatch      = errors.New("record batch crc mismatch")
	ErrUnsupportedCodec = errors.New("unsupported compression codec")
	ErrUnsupportedMagic = errors.New("unsupported record batch magic")
)

// Attribute bit layout: bits 0-2 compression codec, bit 3 timestamp type,
// bit 4 transactional, bit 5 control.
const (
	compressionMask   = 0x0007
	timestampTypeBit  = 0x0008
	transactionalBit  = 0x0010
	controlBit        = 0x0020
	magicV2           = 2
	headerLen         = 61
	crcOffset         = 17
	attributesOffset  = 21
	batchLengthOffset = 8
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is one record header key/value pair. Value nil means null.
type Header struct {
	Key   string
	Value []byte
}

// Record is a single entry of a batch. Key and Value are nil when null.
type Record struct {
	Attributes     int8
	OffsetDelta    int32
	TimestampDelta int64
	Key            []byte
	Value          []byte
	Headers        []Header
}

// Batch is a decoded record batch. Offsets within a batch are contiguous
// from BaseOffset; LastOffsetDelta is len(Records)-1 for non-empty batches.
type Batch struct {
	BaseOffset           int64
	PartitionLeaderEpoch int32
	Attributes           int16
	LastOffsetDelta      int32
	FirstTimestamp       int64
	MaxTimestamp         int64
	ProducerID           int64
	ProducerEpoch        int16
	BaseSequence         int32
	Records              []Record
}

func (b *Batch) Compression() Compression {
	return Compression(b.Attributes & compressionMask)
}

func (b *Batch) IsTransactional() bool {
	return b.Attributes&transactionalBit != 0
}

func (b *Batch) IsControl() bool {
	return b.Attributes&controlBit != 0
}

func (b *Batch) LogAppendTime() bool {
	return b.Attributes&timestampTypeBit != 0
}

// Decode parses and validates one record batch. The CRC is verified over
// every byte after the CRC field before anything else is trusted; a mismatch
// rejects the batch wholesale.
func Decode(data []byte) (*Batch, error) {
	if len(data) < headerLen {
		return nil, protocol.ErrTruncated
	}
	batchLength := int32(binary.BigEndian.Uint32(data[batchLengthOffset:]))
	if int(batchLength) < headerLen-12 {
		return nil, fmt.Errorf("%w: declared batch length %d too small", protocol.ErrMalformed, batchLength)
	}
	total := 12 + int(batchLength)
	if len(data) < total {
		return nil, protocol.ErrTruncated
	}
	data = data[:total]

	magic := int8(data[16])
	if magic != magicV2 {
		return nil, fmt.Errorf("%w: magic %d", ErrUnsupportedMagic, magic)
	}
	storedCRC := binary.BigEndian.Uint32(data[crcOffset:])
	computed := crc32.Checksum(data[attributesOffset:], castagnoli)
	if storedCRC != computed {
		return nil, fmt.Errorf("%w: stored %#x computed %#x", ErrCrcMismatch, storedCRC, computed)
	}

	b := &Batch{
		BaseOffset:           int64(binary.BigEndian.Uint64(data[0:])),
		PartitionLeaderEpoch: int32(binary.BigEndian.Uint32(data[12:])),
		Attributes:           int16(binary.BigEndian.Uint16(data[attributesOffset:])),
		LastOffsetDelta:      int32(binary.BigEndian.Uint32(data[23:])),
		FirstTimestamp:       int64(binary.BigEndian.Uint64(data[27:])),
		MaxTimestamp:         int64(binary.BigEndian.Uint64(data[35:])),
		ProducerID:           int64(binary.BigEndian.Uint64(data[43:])),
		ProducerEpoch:        int16(binary.BigEndian.Uint16(data[51:])),
		BaseSequence:         int32(binary.BigEndian.Uint32(data[53:])),
	}
	recordCount := int32(binary.BigEndian.Uint32(data[57:]))
	if recordCount < 0 {
		return nil, fmt.Errorf("%w: negative record count %d", protocol.ErrMalformed, recordCount)
	}

	payload, err := decompress(b.Compression(), data[headerLen:])
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, recordCount)
	pos := 0
	for i := int32(0); i < recordCount; i++ {
		rec, n, err := decodeRecord(payload[pos:])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
		pos += n
	}
	if pos != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing record bytes", protocol.ErrMalformed, len(payload)-pos)
	}
	b.Records = records
	return b, nil
}

// Encode serializes the batch, compressing the record section per the
// attribute bits and computing length and CRC. A batch with zero records is
// valid and still carries a correct header and CRC.
func (b *Batch) Encode() ([]byte, error) {
	var payload []byte
	for i := range b.Records {
		payload = appendRecord(payload, &b.Records[i])
	}
	payload, err := compress(b.Compression(), payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerLen, headerLen+len(payload))
	binary.BigEndian.PutUint64(out[0:], uint64(b.BaseOffset))
	binary.BigEndian.PutUint32(out[12:], uint32(b.PartitionLeaderEpoch))
	out[16] = magicV2
	binary.BigEndian.PutUint16(out[attributesOffset:], uint16(b.Attributes))
	binary.BigEndian.PutUint32(out[23:], uint32(b.LastOffsetDelta))
	binary.BigEndian.PutUint64(out[27:], uint64(b.FirstTimestamp))
	binary.BigEndian.PutUint64(out[35:], uint64(b.MaxTimestamp))
	binary.BigEndian.PutUint64(out[43:], uint64(b.ProducerID))
	binary.BigEndian.PutUint16(out[51:], uint16(b.ProducerEpoch))
	binary.BigEndian.PutUint32(out[53:], uint32(b.BaseSequence))
	binary.BigEndian.PutUint32(out[57:], uint32(len(b.Records)))
	out = append(out, payload...)

	binary.BigEndian.PutUint32(out[batchLengthOffset:], uint32(len(out)-12))
	crc := crc32.Checksum(out[attributesOffset:], castagnoli)
	binary.BigEndian.PutUint32(out[crcOffset:], crc)
	return out, nil
}

func decodeRecord(data []byte) (Record, int, error) {
	var rec Record
	length, n, err := protocol.ReadVarint64(data)
	if err != nil {
		return rec, 0, err
	}
	if length < 0 {
		return rec, 0, fmt.Errorf("%w: negative record length", protocol.ErrMalformed)
	}
	total := n + int(length)
	if len(data) < total {
		return rec, 0, protocol.ErrTruncated
	}
	body := data[n:total]
	pos := 0

	if pos >= len(body) {
		return rec, 0, protocol.ErrTruncated
	}
	rec.Attributes = int8(body[pos])
	pos++

	tsDelta, n, err := protocol.ReadVarint64(body[pos:])
	if err != nil {
		return rec, 0, err
	}
	rec.TimestampDelta = tsDelta
	pos += n

	offDelta, n, err := protocol.ReadVarint32(body[pos:])
	if err != nil {
		return rec, 0, err
	}
	rec.OffsetDelta = offDelta
	pos += n

	rec.Key, n, err = readVarBytes(body[pos:])
	if err != nil {
		return rec, 0, fmt.Errorf("key: %w", err)
	}
	pos += n

	rec.Value, n, err = readVarBytes(body[pos:])
	if err != nil {
		return rec, 0, fmt.Errorf("value: %w", err)
	}
	pos += n

	headerCount, n, err := protocol.ReadVarint32(body[pos:])
	if err != nil {
		return rec, 0, err
	}
	pos += n
	if headerCount < 0 {
		return rec, 0, fmt.Errorf("%w: negative header count", protocol.ErrMalformed)
	}
	headers := make([]Header, 0, headerCount)
	for i := int32(0); i < headerCount; i++ {
		key, n, err := readVarBytes(body[pos:])
		if err != nil {
			return rec, 0, fmt.Errorf("header %d key: %w", i, err)
		}
		if key == nil {
			return rec, 0, fmt.Errorf("%w: null header key", protocol.ErrMalformed)
		}
		pos += n
		value, n, err := readVarBytes(body[pos:])
		if err != nil {
			return rec, 0, fmt.Errorf("header %d value: %w", i, err)
		}
		pos += n
		headers = append(headers, Header{Key: string(key), Value: value})
	}
	if headerCount > 0 {
		rec.Headers = headers
	}
	if pos != len(body) {
		return rec, 0, fmt.Errorf("%w: %d trailing bytes in record", protocol.ErrMalformed, len(body)-pos)
	}
	return rec, total, nil
}

func appendRecord(dst []byte, rec *Record) []byte {
	var body []byte
	body = append(body, byte(rec.Attributes))
	body = protocol.AppendVarint64(body, rec.TimestampDelta)
	body = protocol.AppendVarint32(body, rec.OffsetDelta)
	body = appendVarBytes(body, rec.Key)
	body = appendVarBytes(body, rec.Value)
	body = protocol.AppendVarint32(body, int32(len(rec.Headers)))
	for _, h := range rec.Headers {
		body = appendVarBytes(body, []byte(h.Key))
		body = appendVarBytes(body, h.Value)
	}
	dst = protocol.AppendVarint64(dst, int64(len(body)))
	return append(dst, body...)
}

func readVarBytes(data []byte) ([]byte, int, error) {
	length, n, err := protocol.ReadVarint32(data)
	if err != nil {
		return nil, 0, err
	}
	if length < 0 {
		if length != -1 {
			return nil, 0, protocol.ErrMalformed
		}
		return nil, n, nil
	}
	total := n + int(length)
	if len(data) < total {
		return nil, 0, protocol.ErrTruncated
	}
	out := make([]byte, length)
	copy(out, data[n:total])
	return out, total, nil
}

func appendVarBytes(dst, b []byte) []byte {
	if b == nil {
		return protocol.AppendVarint32(dst, -1)
	}
	dst = protocol.AppendVarint32(dst, int32(len(b)))
	return append(dst, b...)
}

// Info is batch metadata readable from the fixed header without a full
// decode.
type Info struct {
	BaseOffset      int64
	LastOffsetDelta int32
	RecordCount     int32
	FirstTimestamp  int64
	MaxTimestamp    int64
}

// LastOffset returns the offset of the final record in the batch.
func (i Info) LastOffset() int64 {
	return i.BaseOffset + int64(i.LastOffsetDelta)
}

// Peek extracts offset and timestamp metadata from a raw batch without a
// full decode.
func Peek(data []byte) (Info, error) {
	if len(data) < headerLen {
		return Info{}, protocol.ErrTruncated
	}
	return Info{
		BaseOffset:      int64(binary.BigEndian.Uint64(data[0:])),
		LastOffsetDelta: int32(binary.BigEndian.Uint32(data[23:])),
		RecordCount:     int32(binary.BigEndian.Uint32(data[57:])),
		FirstTimestamp:  int64(binary.BigEndian.Uint64(data[27:])),
		MaxTimestamp:    int64(binary.BigEndian.Uint64(data[35:])),
	}, nil
}

// PatchBaseOffset overwrites the base offset field in place. The base offset
// sits before the CRC field, so the checksum stays valid.
func PatchBaseOffset(data []byte, baseOffset int64) error {
	if len(data) < headerLen {
		return protocol.ErrTruncated
	}
	binary.BigEndian.PutUint64(data[0:], uint64(baseOffset))
	return nil
}
