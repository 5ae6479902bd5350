package protocol

import "errors"

// Codec failures are deterministic for identical input bytes and are never
// retried. Truncated means the buffer ended before a complete value; on a
// streaming transport it signals "need more input", not corruption.
var (
	ErrTruncated          = errors.New("truncated buffer")
	ErrOverflow           = errors.New("varint overflow")
	ErrMalformed          = errors.New("malformed frame")
	ErrSchemaMismatch     = errors.New("schema mismatch")
	ErrUnsupportedVersion = errors.New("unsupported api version")
)
