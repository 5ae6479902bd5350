package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// Captured ApiVersions v3 request: flexible header, compact body, empty
// tagged sections.
var apiVersionsV3Request = []byte{
	0, 18, 0, 3, 0, 0, 0, 3,
	0, 16, 'c', 'o', 'n', 's', 'o', 'l', 'e', '-', 'p', 'r', 'o', 'd', 'u', 'c', 'e', 'r',
	0,
	18, 'a', 'p', 'a', 'c', 'h', 'e', '-', 'k', 'a', 'f', 'k', 'a', '-', 'j', 'a', 'v', 'a',
	6, '3', '.', '6', '.', '1',
	0,
}

func TestDecodeApiVersionsV3Request(t *testing.T) {
	msg, err := DecodeRequest(apiVersionsV3Request)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if msg.APIKey != APIKeyApiVersion || msg.APIVersion != 3 {
		t.Fatalf("unexpected key/version %d/%d", msg.APIKey, msg.APIVersion)
	}
	if msg.Header.CorrelationID != 3 {
		t.Fatalf("correlation id %d", msg.Header.CorrelationID)
	}
	if msg.Header.ClientID == nil || *msg.Header.ClientID != "console-producer" {
		t.Fatalf("client id %v", msg.Header.ClientID)
	}
	if got := msg.Body.String("client_software_name"); got != "apache-kafka-java" {
		t.Fatalf("client_software_name %q", got)
	}
	if got := msg.Body.String("client_software_version"); got != "3.6.1" {
		t.Fatalf("client_software_version %q", got)
	}

	enc, err := EncodeRequest(msg)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if !bytes.Equal(enc, apiVersionsV3Request) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", enc, apiVersionsV3Request)
	}
}

// Captured DeleteTopics v1 request with a null client id.
var deleteTopicsV1Request = []byte{
	0, 20, 0, 1, 0, 0, 0, 7,
	0xff, 0xff,
	0, 0, 0, 1,
	0, 6, 'o', 'r', 'd', 'e', 'r', 's',
	0, 0, 0x75, 0x30,
}

func TestDecodeDeleteTopicsV1Request(t *testing.T) {
	msg, err := DecodeRequest(deleteTopicsV1Request)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if msg.Header.ClientID != nil {
		t.Fatalf("expected null client id, got %q", *msg.Header.ClientID)
	}
	names := msg.Body.Array("topic_names")
	if len(names) != 1 || names[0].(string) != "orders" {
		t.Fatalf("topic_names %v", names)
	}
	if got := msg.Body.Int32("timeout_ms"); got != 30000 {
		t.Fatalf("timeout_ms %d", got)
	}
	enc, err := EncodeRequest(msg)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if !bytes.Equal(enc, deleteTopicsV1Request) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", enc, deleteTopicsV1Request)
	}
}

// Captured ApiVersions v1 response.
var apiVersionsV1Response = []byte{
	0, 0, 0, 9,
	0, 0,
	0, 0, 0, 2,
	0, 18, 0, 0, 0, 3,
	0, 0, 0, 3, 0, 9,
	0, 0, 0, 0,
}

func TestDecodeApiVersionsV1Response(t *testing.T) {
	msg, err := DecodeResponse(apiVersionsV1Response, APIKeyApiVersion, 1)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if msg.Header.CorrelationID != 9 {
		t.Fatalf("correlation id %d", msg.Header.CorrelationID)
	}
	keys := msg.Body.Structs("api_keys")
	if len(keys) != 2 {
		t.Fatalf("api_keys len %d", len(keys))
	}
	if keys[1].Int16("api_key") != 0 || keys[1].Int16("min_version") != 3 || keys[1].Int16("max_version") != 9 {
		t.Fatalf("api_keys[1] = %#v", keys[1])
	}
	enc, err := EncodeResponse(msg)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !bytes.Equal(enc, apiVersionsV1Response) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", enc, apiVersionsV1Response)
	}
}

func requestRoundTrip(t *testing.T, msg *Message) {
	t.Helper()
	enc, err := EncodeRequest(msg)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	dec, err := DecodeRequest(enc)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	enc2, err := EncodeRequest(dec)
	if err != nil {
		t.Fatalf("re-EncodeRequest: %v", err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatalf("round trip mismatch:\n first %v\nsecond %v", enc, enc2)
	}
}

func TestProduceV9FlexibleRoundTrip(t *testing.T) {
	clientID := "producer-1"
	records := []byte{1, 2, 3, 4, 5}
	msg := &Message{
		APIKey:     APIKeyProduce,
		APIVersion: 9,
		Header:     RequestHeader{APIKey: APIKeyProduce, APIVersion: 9, CorrelationID: 11, ClientID: &clientID},
		Body: NewStruct().
			Set("transactional_id", (*string)(nil)).
			Set("acks", int16(-1)).
			Set("timeout_ms", int32(1500)).
			Set("topic_data", []any{
				NewStruct().
					Set("name", "orders").
					Set("partition_data", []any{
						NewStruct().Set("index", int32(0)).Set("records", records),
					}),
			}),
	}
	requestRoundTrip(t, msg)
}

func TestProduceV9PreservesUnknownTaggedFields(t *testing.T) {
	clientID := "producer-1"
	msg := &Message{
		APIKey:     APIKeyProduce,
		APIVersion: 9,
		Header:     RequestHeader{APIKey: APIKeyProduce, APIVersion: 9, CorrelationID: 1, ClientID: &clientID},
		Body: NewStruct().
			Set("transactional_id", (*string)(nil)).
			Set("acks", int16(1)).
			Set("timeout_ms", int32(1000)).
			Set("topic_data", []any{}).
			SetTagged([]TaggedField{{Tag: 7, Data: []byte{0xde, 0xad}}}),
	}
	enc, err := EncodeRequest(msg)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	dec, err := DecodeRequest(enc)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	tags := dec.Body.Tagged()
	if len(tags) != 1 || tags[0].Tag != 7 || !bytes.Equal(tags[0].Data, []byte{0xde, 0xad}) {
		t.Fatalf("tagged fields not preserved: %#v", tags)
	}
	enc2, err := EncodeRequest(dec)
	if err != nil {
		t.Fatalf("re-EncodeRequest: %v", err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatalf("tagged round trip mismatch")
	}
}

func TestFetchV12RoundTrip(t *testing.T) {
	clientID := "consumer-1"
	msg := &Message{
		APIKey:     APIKeyFetch,
		APIVersion: 12,
		Header:     RequestHeader{APIKey: APIKeyFetch, APIVersion: 12, CorrelationID: 21, ClientID: &clientID},
		Body: NewStruct().
			Set("replica_id", int32(-1)).
			Set("max_wait_ms", int32(500)).
			Set("min_bytes", int32(1)).
			Set("max_bytes", int32(1<<20)).
			Set("isolation_level", int8(0)).
			Set("session_id", int32(0)).
			Set("session_epoch", int32(-1)).
			Set("topics", []any{
				NewStruct().
					Set("topic", "orders").
					Set("partitions", []any{
						NewStruct().
							Set("partition", int32(0)).
							Set("current_leader_epoch", int32(-1)).
							Set("fetch_offset", int64(42)).
							Set("last_fetched_epoch", int32(-1)).
							Set("log_start_offset", int64(-1)).
							Set("partition_max_bytes", int32(1<<20)),
					}),
			}).
			Set("forgotten_topics_data", []any{}).
			Set("rack_id", ""),
	}
	requestRoundTrip(t, msg)
}

func TestMetadataV4RoundTrip(t *testing.T) {
	clientID := "admin"
	msg := &Message{
		APIKey:     APIKeyMetadata,
		APIVersion: 4,
		Header:     RequestHeader{APIKey: APIKeyMetadata, APIVersion: 4, CorrelationID: 2, ClientID: &clientID},
		Body: NewStruct().
			Set("topics", []any{NewStruct().Set("name", "orders")}).
			Set("allow_auto_topic_creation", true),
	}
	requestRoundTrip(t, msg)
}

func TestMetadataNullTopicsDistinctFromEmpty(t *testing.T) {
	clientID := "admin"
	base := RequestHeader{APIKey: APIKeyMetadata, APIVersion: 1, CorrelationID: 2, ClientID: &clientID}

	null := &Message{APIKey: APIKeyMetadata, APIVersion: 1, Header: base,
		Body: NewStruct().Set("topics", []any(nil))}
	empty := &Message{APIKey: APIKeyMetadata, APIVersion: 1, Header: base,
		Body: NewStruct().Set("topics", []any{})}

	encNull, err := EncodeRequest(null)
	if err != nil {
		t.Fatalf("encode null: %v", err)
	}
	encEmpty, err := EncodeRequest(empty)
	if err != nil {
		t.Fatalf("encode empty: %v", err)
	}
	if bytes.Equal(encNull, encEmpty) {
		t.Fatalf("null and empty topic arrays must encode differently")
	}
	decNull, err := DecodeRequest(encNull)
	if err != nil {
		t.Fatalf("decode null: %v", err)
	}
	if decNull.Body.Array("topics") != nil {
		t.Fatalf("null topics decoded as non-nil")
	}
	decEmpty, err := DecodeRequest(encEmpty)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if decEmpty.Body.Array("topics") == nil {
		t.Fatalf("empty topics decoded as nil")
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	payload := []byte{0, 18, 0, 99, 0, 0, 0, 1, 0xff, 0xff}
	if _, err := DecodeRequest(payload); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	payload = []byte{0, 77, 0, 0, 0, 0, 0, 1, 0xff, 0xff}
	if _, err := DecodeRequest(payload); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion for unknown key, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := DecodeRequest(apiVersionsV3Request[:10]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	payload := append(append([]byte{}, deleteTopicsV1Request...), 0x00)
	if _, err := DecodeRequest(payload); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestSupportedVersionsCoverDispatcherAPIs(t *testing.T) {
	want := map[int16]bool{
		APIKeyProduce:      false,
		APIKeyFetch:        false,
		APIKeyListOffsets:  false,
		APIKeyMetadata:     false,
		APIKeyApiVersion:   false,
		APIKeyCreateTopics: false,
		APIKeyDeleteTopics: false,
	}
	for _, v := range SupportedVersions() {
		if _, ok := want[v.APIKey]; ok {
			want[v.APIKey] = true
		}
		if v.MinVersion > v.MaxVersion {
			t.Fatalf("api %d has inverted version range", v.APIKey)
		}
	}
	for key, seen := range want {
		if !seen {
			t.Fatalf("api key %d missing from SupportedVersions", key)
		}
	}
}

func TestCompactArrayLenRejectsOversizedCount(t *testing.T) {
	// uvarint 0xFFFFFFFF: a count that would wrap negative if converted to
	// int32 before bounds checking.
	r := newByteReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F})
	if _, err := r.CompactArrayLen(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for oversized compact count, got %v", err)
	}

	r = newByteReader([]byte{0x00})
	n, err := r.CompactArrayLen()
	if err != nil || n != -1 {
		t.Fatalf("expected null array (-1), got %d %v", n, err)
	}

	r = newByteReader([]byte{0x03})
	n, err = r.CompactArrayLen()
	if err != nil || n != 2 {
		t.Fatalf("expected length 2, got %d %v", n, err)
	}
}
