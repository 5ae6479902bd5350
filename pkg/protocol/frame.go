package protocol

import "fmt"

// The frame codec maps raw payload bytes to Messages and back by
// interpreting the declarative schema tables in tables.go. It has no side
// effects and no state; any number of goroutines may call it concurrently.
//
// Round-trip exactness is the contract: for every valid payload b,
// EncodeRequest(DecodeRequest(b)) == b, and likewise for responses. Null
// values, empty-but-present collections, and unknown tagged fields are all
// preserved distinctly to keep that property.

// DecodeRequest decodes a request payload (everything after the frame size
// prefix) into a Message.
func DecodeRequest(payload []byte) (*Message, error) {
	r := newByteReader(payload)
	apiKey, err := r.Int16()
	if err != nil {
		return nil, fmt.Errorf("read api key: %w", err)
	}
	version, err := r.Int16()
	if err != nil {
		return nil, fmt.Errorf("read api version: %w", err)
	}
	schema, err := schemaFor(apiKey, version)
	if err != nil {
		return nil, err
	}
	correlationID, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("read correlation id: %w", err)
	}
	clientID, err := r.NullableString()
	if err != nil {
		return nil, fmt.Errorf("read client id: %w", err)
	}
	header := RequestHeader{
		APIKey:        apiKey,
		APIVersion:    version,
		CorrelationID: correlationID,
		ClientID:      clientID,
	}
	if schema.flexible(version) {
		tags, err := r.TaggedFields()
		if err != nil {
			return nil, fmt.Errorf("read header tags: %w", err)
		}
		header.Tagged = tags
	}
	body, err := decodeStruct(r, schema.request, version, schema.flexible(version))
	if err != nil {
		return nil, fmt.Errorf("decode %s v%d request: %w", schema.name, version, err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Remaining())
	}
	return &Message{
		APIKey:     apiKey,
		APIVersion: version,
		Header:     header,
		Body:       body,
	}, nil
}

// EncodeRequest is the exact inverse of DecodeRequest.
func EncodeRequest(msg *Message) ([]byte, error) {
	schema, err := schemaFor(msg.APIKey, msg.APIVersion)
	if err != nil {
		return nil, err
	}
	w := newByteWriter(256)
	w.Int16(msg.APIKey)
	w.Int16(msg.APIVersion)
	w.Int32(msg.Header.CorrelationID)
	w.NullableString(msg.Header.ClientID)
	if schema.flexible(msg.APIVersion) {
		w.TaggedFields(msg.Header.Tagged)
	}
	if err := encodeStruct(w, schema.request, msg.Body, msg.APIVersion, schema.flexible(msg.APIVersion)); err != nil {
		return nil, fmt.Errorf("encode %s v%d request: %w", schema.name, msg.APIVersion, err)
	}
	return w.Bytes(), nil
}

// DecodeResponse decodes a response payload. The caller supplies the (api
// key, version) pair of the request that elicited it; responses do not carry
// it on the wire.
func DecodeResponse(payload []byte, apiKey, version int16) (*Message, error) {
	schema, err := schemaFor(apiKey, version)
	if err != nil {
		return nil, err
	}
	r := newByteReader(payload)
	correlationID, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("read correlation id: %w", err)
	}
	header := RequestHeader{
		APIKey:        apiKey,
		APIVersion:    version,
		CorrelationID: correlationID,
	}
	if schema.flexible(version) && schema.flexibleResponseHeader {
		tags, err := r.TaggedFields()
		if err != nil {
			return nil, fmt.Errorf("read header tags: %w", err)
		}
		header.Tagged = tags
	}
	body, err := decodeStruct(r, schema.response, version, schema.flexible(version))
	if err != nil {
		return nil, fmt.Errorf("decode %s v%d response: %w", schema.name, version, err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Remaining())
	}
	return &Message{
		APIKey:     apiKey,
		APIVersion: version,
		Header:     header,
		Body:       body,
	}, nil
}

// EncodeResponse renders a response payload for the given request header.
func EncodeResponse(msg *Message) ([]byte, error) {
	schema, err := schemaFor(msg.APIKey, msg.APIVersion)
	if err != nil {
		return nil, err
	}
	w := newByteWriter(256)
	w.Int32(msg.Header.CorrelationID)
	if schema.flexible(msg.APIVersion) && schema.flexibleResponseHeader {
		w.TaggedFields(msg.Header.Tagged)
	}
	if err := encodeStruct(w, schema.response, msg.Body, msg.APIVersion, schema.flexible(msg.APIVersion)); err != nil {
		return nil, fmt.Errorf("encode %s v%d response: %w", schema.name, msg.APIVersion, err)
	}
	return w.Bytes(), nil
}

// EncodeFrame prefixes a payload with its int32 size.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > int(^uint32(0)>>1) {
		return nil, fmt.Errorf("%w: frame too large: %d", ErrMalformed, len(payload))
	}
	w := newByteWriter(len(payload) + 4)
	w.Int32(int32(len(payload)))
	w.write(payload)
	return w.Bytes(), nil
}

func decodeStruct(r *byteReader, fields []Field, version int16, flexible bool) (*Struct, error) {
	s := NewStruct()
	for _, f := range fields {
		if !f.Versions.Contains(version) {
			continue
		}
		v, err := decodeValue(r, f, version, flexible)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		s.Set(f.Name, v)
	}
	if flexible {
		tags, err := r.TaggedFields()
		if err != nil {
			return nil, err
		}
		s.SetTagged(tags)
	}
	return s, nil
}

func decodeValue(r *byteReader, f Field, version int16, flexible bool) (any, error) {
	nullable := f.Nullable.Contains(version)
	switch f.Kind {
	case KindBool:
		return r.Bool()
	case KindInt8:
		return r.Int8()
	case KindInt16:
		return r.Int16()
	case KindInt32:
		return r.Int32()
	case KindInt64:
		return r.Int64()
	case KindString:
		if nullable {
			if flexible {
				return r.CompactNullableString()
			}
			return r.NullableString()
		}
		if flexible {
			return r.CompactString()
		}
		return r.String()
	case KindBytes:
		var b []byte
		var err error
		if flexible {
			b, err = r.CompactBytes()
		} else {
			b, err = r.Bytes()
		}
		if err != nil {
			return nil, err
		}
		if b == nil && !nullable {
			return nil, fmt.Errorf("%w: null for non-nullable bytes", ErrSchemaMismatch)
		}
		return b, nil
	case KindStruct:
		return decodeStruct(r, f.Elem, version, flexible)
	case KindArray:
		var n int32
		var err error
		if flexible {
			n, err = r.CompactArrayLen()
		} else {
			n, err = r.ArrayLen()
		}
		if err != nil {
			return nil, err
		}
		if n < 0 {
			if !nullable {
				return nil, fmt.Errorf("%w: null for non-nullable array", ErrSchemaMismatch)
			}
			return []any(nil), nil
		}
		elems := make([]any, 0, n)
		for i := int32(0); i < n; i++ {
			var elem any
			if scalar, ok := scalarElem(f); ok {
				elem, err = decodeValue(r, scalar, version, flexible)
			} else {
				elem, err = decodeStruct(r, f.Elem, version, flexible)
			}
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, elem)
		}
		return elems, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrSchemaMismatch, f.Kind)
	}
}

// scalarElem reports whether an array field carries scalar elements, which
// the tables express as a single unnamed element field.
func scalarElem(f Field) (Field, bool) {
	if len(f.Elem) == 1 && f.Elem[0].Name == "" {
		return f.Elem[0], true
	}
	return Field{}, false
}

func encodeStruct(w *byteWriter, fields []Field, s *Struct, version int16, flexible bool) error {
	if s == nil {
		return fmt.Errorf("%w: nil struct", ErrSchemaMismatch)
	}
	for _, f := range fields {
		if !f.Versions.Contains(version) {
			continue
		}
		v, _ := s.Get(f.Name)
		if err := encodeValue(w, f, v, version, flexible); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	if flexible {
		w.TaggedFields(s.Tagged())
	}
	return nil
}

func encodeValue(w *byteWriter, f Field, v any, version int16, flexible bool) error {
	nullable := f.Nullable.Contains(version)
	switch f.Kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok && v != nil {
			return typeMismatch(f, v)
		}
		w.Bool(b)
	case KindInt8:
		n, ok := v.(int8)
		if !ok && v != nil {
			return typeMismatch(f, v)
		}
		w.Int8(n)
	case KindInt16:
		n, ok := v.(int16)
		if !ok && v != nil {
			return typeMismatch(f, v)
		}
		w.Int16(n)
	case KindInt32:
		n, ok := v.(int32)
		if !ok && v != nil {
			return typeMismatch(f, v)
		}
		w.Int32(n)
	case KindInt64:
		n, ok := v.(int64)
		if !ok && v != nil {
			return typeMismatch(f, v)
		}
		w.Int64(n)
	case KindString:
		if nullable {
			var p *string
			switch sv := v.(type) {
			case nil:
			case *string:
				p = sv
			case string:
				p = &sv
			default:
				return typeMismatch(f, v)
			}
			if flexible {
				w.CompactNullableString(p)
			} else {
				w.NullableString(p)
			}
			return nil
		}
		var sv string
		switch t := v.(type) {
		case nil:
		case string:
			sv = t
		case *string:
			if t == nil {
				return fmt.Errorf("%w: null for non-nullable string %s", ErrSchemaMismatch, f.Name)
			}
			sv = *t
		default:
			return typeMismatch(f, v)
		}
		if flexible {
			w.CompactString(sv)
		} else {
			w.String(sv)
		}
	case KindBytes:
		b, ok := v.([]byte)
		if !ok && v != nil {
			return typeMismatch(f, v)
		}
		if b == nil && !nullable {
			return fmt.Errorf("%w: null for non-nullable bytes %s", ErrSchemaMismatch, f.Name)
		}
		if flexible {
			w.CompactBytes(b)
		} else {
			w.BytesWithLength(b)
		}
	case KindStruct:
		s, ok := v.(*Struct)
		if !ok {
			return typeMismatch(f, v)
		}
		return encodeStruct(w, f.Elem, s, version, flexible)
	case KindArray:
		var elems []any
		switch t := v.(type) {
		case nil:
		case []any:
			elems = t
		case []*Struct:
			elems = make([]any, len(t))
			for i, e := range t {
				elems[i] = e
			}
		default:
			return typeMismatch(f, v)
		}
		if elems == nil {
			if !nullable {
				return fmt.Errorf("%w: null for non-nullable array %s", ErrSchemaMismatch, f.Name)
			}
			if flexible {
				w.CompactArrayLen(-1)
			} else {
				w.ArrayLen(-1)
			}
			return nil
		}
		if flexible {
			w.CompactArrayLen(int32(len(elems)))
		} else {
			w.ArrayLen(int32(len(elems)))
		}
		for i, e := range elems {
			var err error
			if scalar, ok := scalarElem(f); ok {
				err = encodeValue(w, scalar, e, version, flexible)
			} else {
				s, ok := e.(*Struct)
				if !ok {
					return typeMismatch(f, e)
				}
				err = encodeStruct(w, f.Elem, s, version, flexible)
			}
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrSchemaMismatch, f.Kind)
	}
	return nil
}

func typeMismatch(f Field, v any) error {
	return fmt.Errorf("%w: field %s has incompatible value %T", ErrSchemaMismatch, f.Name, v)
}
