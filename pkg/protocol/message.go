package protocol

// TaggedField is one raw entry of a flexible-version tagged-field section.
// Tags unknown to the schema tables are carried through untouched.
type TaggedField struct {
	Tag  uint32
	Data []byte
}

// RequestHeader matches the Kafka request header. ClientID is nullable.
type RequestHeader struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      *string
	Tagged        []TaggedField
}

// Struct holds decoded field values keyed by schema field name. Values use
// the canonical Go types per wire kind: bool, int8..int64, string, *string
// (nullable), []byte (nil for null), []any for arrays (nil for null), and
// *Struct for nested structs.
type Struct struct {
	values map[string]any
	tagged []TaggedField
}

// NewStruct returns an empty struct value ready for Set calls.
func NewStruct() *Struct {
	return &Struct{values: make(map[string]any)}
}

// Set stores a field value and returns the struct for chaining.
func (s *Struct) Set(name string, v any) *Struct {
	s.values[name] = v
	return s
}

// Get returns the raw decoded value for name.
func (s *Struct) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Tagged returns the preserved tagged-field section, in wire order.
func (s *Struct) Tagged() []TaggedField {
	return s.tagged
}

// SetTagged replaces the tagged-field section.
func (s *Struct) SetTagged(fields []TaggedField) *Struct {
	s.tagged = fields
	return s
}

func (s *Struct) Bool(name string) bool {
	v, _ := s.values[name].(bool)
	return v
}

func (s *Struct) Int8(name string) int8 {
	v, _ := s.values[name].(int8)
	return v
}

func (s *Struct) Int16(name string) int16 {
	v, _ := s.values[name].(int16)
	return v
}

func (s *Struct) Int32(name string) int32 {
	v, _ := s.values[name].(int32)
	return v
}

func (s *Struct) Int64(name string) int64 {
	v, _ := s.values[name].(int64)
	return v
}

func (s *Struct) String(name string) string {
	switch v := s.values[name].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

func (s *Struct) NullableString(name string) *string {
	switch v := s.values[name].(type) {
	case *string:
		return v
	case string:
		return &v
	}
	return nil
}

func (s *Struct) Bytes(name string) []byte {
	v, _ := s.values[name].([]byte)
	return v
}

// Array returns the decoded elements of an array field; nil for a null or
// absent array.
func (s *Struct) Array(name string) []any {
	v, _ := s.values[name].([]any)
	return v
}

// Structs returns the elements of a struct-array field. Like the encoder,
// it accepts both the decoded []any representation and []*Struct values set
// directly by handlers.
func (s *Struct) Structs(name string) []*Struct {
	if v, ok := s.values[name].([]*Struct); ok {
		return v
	}
	raw := s.Array(name)
	if raw == nil {
		return nil
	}
	out := make([]*Struct, 0, len(raw))
	for _, e := range raw {
		if st, ok := e.(*Struct); ok {
			out = append(out, st)
		}
	}
	return out
}

// Message is one decoded frame: a request or response body plus the header
// fields needed to route it. Ephemeral; created per frame and discarded once
// the response is produced.
type Message struct {
	APIKey     int16
	APIVersion int16
	Header     RequestHeader
	Body       *Struct
}
