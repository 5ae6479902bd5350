package protocol

// Kafka protocol error codes. Per-partition failures travel as one of these
// inside an otherwise well-formed response; they never abort the connection.
const (
	UNKNOWN_SERVER_ERROR         int16 = -1
	NONE                         int16 = 0
	OFFSET_OUT_OF_RANGE          int16 = 1
	CORRUPT_MESSAGE              int16 = 2
	UNKNOWN_TOPIC_OR_PARTITION   int16 = 3
	LEADER_NOT_AVAILABLE         int16 = 5
	NOT_LEADER_OR_FOLLOWER       int16 = 6
	REQUEST_TIMED_OUT            int16 = 7
	MESSAGE_TOO_LARGE            int16 = 10
	NETWORK_EXCEPTION            int16 = 13
	INVALID_TOPIC_EXCEPTION      int16 = 17
	TOPIC_AUTHORIZATION_FAILED   int16 = 29
	CLUSTER_AUTHORIZATION_FAILED int16 = 31
	UNSUPPORTED_VERSION          int16 = 35
	TOPIC_ALREADY_EXISTS         int16 = 36
	INVALID_PARTITIONS           int16 = 37
	INVALID_REPLICATION_FACTOR   int16 = 38
	INVALID_REQUEST              int16 = 42
	POLICY_VIOLATION             int16 = 44
	KAFKA_STORAGE_ERROR          int16 = 56
	UNSUPPORTED_COMPRESSION_TYPE int16 = 76
	INVALID_RECORD               int16 = 87
	THROTTLING_QUOTA_EXCEEDED    int16 = 89
)
