package protocol

// API keys for the requests this broker understands.
const (
	APIKeyProduce      int16 = 0
	APIKeyFetch        int16 = 1
	APIKeyListOffsets  int16 = 2
	APIKeyMetadata     int16 = 3
	APIKeyApiVersion   int16 = 18
	APIKeyCreateTopics int16 = 19
	APIKeyDeleteTopics int16 = 20
)

// ApiVersion advertises a supported version range for one API key.
type ApiVersion struct {
	APIKey     int16
	MinVersion int16
	MaxVersion int16
}

// SupportedVersions lists every (api key, version range) this codec carries
// schemas for, in api key order.
func SupportedVersions() []ApiVersion {
	keys := make([]ApiVersion, 0, len(schemas))
	for _, s := range schemas {
		keys = append(keys, ApiVersion{APIKey: s.apiKey, MinVersion: s.minVersion, MaxVersion: s.maxVersion})
	}
	return keys
}
