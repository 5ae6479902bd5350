package protocol

// Schema tables for every supported (api key, version) pair. The layouts
// mirror the Kafka message definitions; the interpreter in frame.go derives
// all per-version behavior from the version ranges declared here.

func field(name string, kind Kind, versions VersionRange) Field {
	return Field{Name: name, Kind: kind, Versions: versions}
}

func nullableField(name string, kind Kind, versions, nullable VersionRange) Field {
	return Field{Name: name, Kind: kind, Versions: versions, Nullable: nullable}
}

func structArray(name string, versions VersionRange, elem ...Field) Field {
	return Field{Name: name, Kind: KindArray, Versions: versions, Elem: elem}
}

func nullableStructArray(name string, versions, nullable VersionRange, elem ...Field) Field {
	return Field{Name: name, Kind: KindArray, Versions: versions, Nullable: nullable, Elem: elem}
}

func scalarArray(name string, kind Kind, versions VersionRange) Field {
	return Field{Name: name, Kind: KindArray, Versions: versions, Elem: []Field{{Kind: kind, Versions: since(0)}}}
}

var schemas = []*messageSchema{
	produceSchema,
	fetchSchema,
	listOffsetsSchema,
	metadataSchema,
	apiVersionsSchema,
	createTopicsSchema,
	deleteTopicsSchema,
}

var apiVersionsSchema = &messageSchema{
	apiKey:       APIKeyApiVersion,
	name:         "ApiVersions",
	minVersion:   0,
	maxVersion:   3,
	flexibleFrom: 3,
	// The ApiVersions response header never carries tagged fields so that
	// clients can decode it before version negotiation completes.
	flexibleResponseHeader: false,
	request: []Field{
		field("client_software_name", KindString, since(3)),
		field("client_software_version", KindString, since(3)),
	},
	response: []Field{
		field("error_code", KindInt16, since(0)),
		structArray("api_keys", since(0),
			field("api_key", KindInt16, since(0)),
			field("min_version", KindInt16, since(0)),
			field("max_version", KindInt16, since(0)),
		),
		field("throttle_time_ms", KindInt32, since(1)),
	},
}

var metadataSchema = &messageSchema{
	apiKey:                 APIKeyMetadata,
	name:                   "Metadata",
	minVersion:             0,
	maxVersion:             4,
	flexibleFrom:           -1,
	flexibleResponseHeader: true,
	request: []Field{
		nullableStructArray("topics", since(0), since(1),
			field("name", KindString, since(0)),
		),
		field("allow_auto_topic_creation", KindBool, since(4)),
	},
	response: []Field{
		field("throttle_time_ms", KindInt32, since(3)),
		structArray("brokers", since(0),
			field("node_id", KindInt32, since(0)),
			field("host", KindString, since(0)),
			field("port", KindInt32, since(0)),
			nullableField("rack", KindString, since(1), since(1)),
		),
		nullableField("cluster_id", KindString, since(2), since(2)),
		field("controller_id", KindInt32, since(1)),
		structArray("topics", since(0),
			field("error_code", KindInt16, since(0)),
			field("name", KindString, since(0)),
			field("is_internal", KindBool, since(1)),
			structArray("partitions", since(0),
				field("error_code", KindInt16, since(0)),
				field("partition_index", KindInt32, since(0)),
				field("leader_id", KindInt32, since(0)),
				scalarArray("replica_nodes", KindInt32, since(0)),
				scalarArray("isr_nodes", KindInt32, since(0)),
			),
		),
	},
}

var produceSchema = &messageSchema{
	apiKey:                 APIKeyProduce,
	name:                   "Produce",
	minVersion:             3,
	maxVersion:             9,
	flexibleFrom:           9,
	flexibleResponseHeader: true,
	request: []Field{
		nullableField("transactional_id", KindString, since(3), since(3)),
		field("acks", KindInt16, since(0)),
		field("timeout_ms", KindInt32, since(0)),
		structArray("topic_data", since(0),
			field("name", KindString, since(0)),
			structArray("partition_data", since(0),
				field("index", KindInt32, since(0)),
				nullableField("records", KindBytes, since(0), since(0)),
			),
		),
	},
	response: []Field{
		structArray("responses", since(0),
			field("name", KindString, since(0)),
			structArray("partition_responses", since(0),
				field("index", KindInt32, since(0)),
				field("error_code", KindInt16, since(0)),
				field("base_offset", KindInt64, since(0)),
				field("log_append_time_ms", KindInt64, since(2)),
				field("log_start_offset", KindInt64, since(5)),
				structArray("record_errors", since(8),
					field("batch_index", KindInt32, since(8)),
					nullableField("batch_index_error_message", KindString, since(8), since(8)),
				),
				nullableField("error_message", KindString, since(8), since(8)),
			),
		),
		field("throttle_time_ms", KindInt32, since(1)),
	},
}

var fetchSchema = &messageSchema{
	apiKey:                 APIKeyFetch,
	name:                   "Fetch",
	minVersion:             4,
	maxVersion:             12,
	flexibleFrom:           12,
	flexibleResponseHeader: true,
	request: []Field{
		field("replica_id", KindInt32, since(0)),
		field("max_wait_ms", KindInt32, since(0)),
		field("min_bytes", KindInt32, since(0)),
		field("max_bytes", KindInt32, since(3)),
		field("isolation_level", KindInt8, since(4)),
		field("session_id", KindInt32, since(7)),
		field("session_epoch", KindInt32, since(7)),
		structArray("topics", since(0),
			field("topic", KindString, since(0)),
			structArray("partitions", since(0),
				field("partition", KindInt32, since(0)),
				field("current_leader_epoch", KindInt32, since(9)),
				field("fetch_offset", KindInt64, since(0)),
				field("last_fetched_epoch", KindInt32, since(12)),
				field("log_start_offset", KindInt64, since(5)),
				field("partition_max_bytes", KindInt32, since(0)),
			),
		),
		structArray("forgotten_topics_data", since(7),
			field("topic", KindString, since(7)),
			scalarArray("partitions", KindInt32, since(7)),
		),
		field("rack_id", KindString, since(11)),
	},
	response: []Field{
		field("throttle_time_ms", KindInt32, since(1)),
		field("error_code", KindInt16, since(7)),
		field("session_id", KindInt32, since(7)),
		structArray("responses", since(0),
			field("topic", KindString, since(0)),
			structArray("partitions", since(0),
				field("partition_index", KindInt32, since(0)),
				field("error_code", KindInt16, since(0)),
				field("high_watermark", KindInt64, since(0)),
				field("last_stable_offset", KindInt64, since(4)),
				field("log_start_offset", KindInt64, since(5)),
				nullableStructArray("aborted_transactions", since(4), since(4),
					field("producer_id", KindInt64, since(4)),
					field("first_offset", KindInt64, since(4)),
				),
				field("preferred_read_replica", KindInt32, since(11)),
				nullableField("records", KindBytes, since(0), since(0)),
			),
		),
	},
}

var listOffsetsSchema = &messageSchema{
	apiKey:                 APIKeyListOffsets,
	name:                   "ListOffsets",
	minVersion:             1,
	maxVersion:             5,
	flexibleFrom:           -1,
	flexibleResponseHeader: true,
	request: []Field{
		field("replica_id", KindInt32, since(0)),
		field("isolation_level", KindInt8, since(2)),
		structArray("topics", since(0),
			field("name", KindString, since(0)),
			structArray("partitions", since(0),
				field("partition_index", KindInt32, since(0)),
				field("current_leader_epoch", KindInt32, since(4)),
				field("timestamp", KindInt64, since(0)),
			),
		),
	},
	response: []Field{
		field("throttle_time_ms", KindInt32, since(2)),
		structArray("topics", since(0),
			field("name", KindString, since(0)),
			structArray("partitions", since(0),
				field("partition_index", KindInt32, since(0)),
				field("error_code", KindInt16, since(0)),
				field("timestamp", KindInt64, since(1)),
				field("offset", KindInt64, since(1)),
				field("leader_epoch", KindInt32, since(4)),
			),
		),
	},
}

var createTopicsSchema = &messageSchema{
	apiKey:                 APIKeyCreateTopics,
	name:                   "CreateTopics",
	minVersion:             0,
	maxVersion:             4,
	flexibleFrom:           -1,
	flexibleResponseHeader: true,
	request: []Field{
		structArray("topics", since(0),
			field("name", KindString, since(0)),
			field("num_partitions", KindInt32, since(0)),
			field("replication_factor", KindInt16, since(0)),
			structArray("assignments", since(0),
				field("partition_index", KindInt32, since(0)),
				scalarArray("broker_ids", KindInt32, since(0)),
			),
			structArray("configs", since(0),
				field("name", KindString, since(0)),
				nullableField("value", KindString, since(0), since(0)),
			),
		),
		field("timeout_ms", KindInt32, since(0)),
		field("validate_only", KindBool, since(1)),
	},
	response: []Field{
		field("throttle_time_ms", KindInt32, since(2)),
		structArray("topics", since(0),
			field("name", KindString, since(0)),
			field("error_code", KindInt16, since(0)),
			nullableField("error_message", KindString, since(1), since(1)),
		),
	},
}

var deleteTopicsSchema = &messageSchema{
	apiKey:                 APIKeyDeleteTopics,
	name:                   "DeleteTopics",
	minVersion:             0,
	maxVersion:             3,
	flexibleFrom:           -1,
	flexibleResponseHeader: true,
	request: []Field{
		scalarArray("topic_names", KindString, since(0)),
		field("timeout_ms", KindInt32, since(0)),
	},
	response: []Field{
		field("throttle_time_ms", KindInt32, since(1)),
		structArray("responses", since(0),
			field("name", KindString, since(0)),
			field("error_code", KindInt16, since(0)),
		),
	},
}
