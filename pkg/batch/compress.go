package batch

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec encoded in a batch's attribute bits.
type Compression int16

const (
	None Compression = iota
	Gzip
	Snappy
	Lz4
	Zstd
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Lz4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", int16(c))
	}
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

func zstdInit() error {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil)
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil)
	})
	return zstdInitErr
}

func compress(c Compression, payload []byte) ([]byte, error) {
	switch c {
	case None:
		return payload, nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		return buf.Bytes(), nil
	case Snappy:
		return snappy.Encode(nil, payload), nil
	case Lz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	case Zstd:
		if err := zstdInit(); err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		return zstdEncoder.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedCodec, int16(c))
	}
}

func decompress(c Compression, payload []byte) ([]byte, error) {
	switch c {
	case None:
		return payload, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		return out, nil
	case Snappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("snappy decompress: %w", err)
		}
		return out, nil
	case Lz4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	case Zstd:
		if err := zstdInit(); err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		out, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedCodec, int16(c))
	}
}
