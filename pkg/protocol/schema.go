package protocol

// Kind identifies the wire representation of a field.
type Kind int

const (
	KindBool Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindString
	KindBytes
	KindArray
	KindStruct
)

// VersionRange is an inclusive range of API versions. Max of -1 means
// open-ended. The zero value matches nothing.
type VersionRange struct {
	Min int16
	Max int16
}

func since(min int16) VersionRange { return VersionRange{Min: min, Max: -1} }

// Contains reports whether v falls inside the range.
func (r VersionRange) Contains(v int16) bool {
	if r == (VersionRange{}) {
		return false
	}
	if v < r.Min {
		return false
	}
	return r.Max < 0 || v <= r.Max
}

// Field is one entry of a declarative wire schema. A field appears on the
// wire only for versions inside Versions; it may encode null only for
// versions inside Nullable. Array and struct fields carry their element or
// member layout in Elem.
type Field struct {
	Name     string
	Kind     Kind
	Versions VersionRange
	Nullable VersionRange
	Elem     []Field
}

// messageSchema describes every supported version of one API's request and
// response bodies. The interpreter in frame.go is the only consumer; there is
// no per-version decode logic anywhere else.
type messageSchema struct {
	apiKey     int16
	name       string
	minVersion int16
	maxVersion int16
	// flexibleFrom is the first version using compact encodings and tagged
	// fields; -1 if no supported version is flexible.
	flexibleFrom int16
	// flexibleResponseHeader is false for ApiVersions, whose response header
	// stays at v0 even for flexible versions so clients can bootstrap.
	flexibleResponseHeader bool
	request                []Field
	response               []Field
}

func (s *messageSchema) supports(version int16) bool {
	return version >= s.minVersion && version <= s.maxVersion
}

func (s *messageSchema) flexible(version int16) bool {
	return s.flexibleFrom >= 0 && version >= s.flexibleFrom
}

func schemaFor(apiKey, version int16) (*messageSchema, error) {
	for _, s := range schemas {
		if s.apiKey != apiKey {
			continue
		}
		if !s.supports(version) {
			return nil, ErrUnsupportedVersion
		}
		return s, nil
	}
	return nil, ErrUnsupportedVersion
}
