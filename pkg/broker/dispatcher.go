// Copyright 2026 The Lakestream Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package broker maps decoded protocol messages onto the storage engine and
// serves them over TCP. The dispatcher is stateless per request: every
// storage failure becomes a per-partition error code inside a well-formed
// response, and only undecodable frames terminate a connection.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lakestream-io/lakestream/pkg/acl"
	"github.com/lakestream-io/lakestream/pkg/batch"
	"github.com/lakestream-io/lakestream/pkg/protocol"
	"github.com/lakestream-io/lakestream/pkg/storage"
)

// appender is satisfied by both the raw engine and the per-partition
// sequencer wrapped around it.
type appender interface {
	Append(ctx context.Context, tp storage.TopicPartition, raw []byte) (*storage.AppendResult, error)
}

// DispatcherConfig carries explicit dependencies; only Engine is required.
type DispatcherConfig struct {
	Engine storage.Engine
	// Sequencer, when set, serializes appends per partition. Without it
	// appends go straight to the engine.
	Sequencer  *storage.Sequencer
	Authorizer *acl.Authorizer
	Health     *StoreHealthMonitor
	Metrics    *Metrics
	Logger     *slog.Logger

	ClusterID      string
	NodeID         int32
	AdvertisedHost string
	AdvertisedPort int32

	AutoCreateTopics     bool
	AutoCreatePartitions int32
}

// Dispatcher turns protocol messages into engine calls.
type Dispatcher struct {
	cfg      DispatcherConfig
	appender appender
	logger   *slog.Logger
}

// NewDispatcher validates cfg and returns a ready dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Engine == nil {
		return nil, errors.New("broker: engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ClusterID == "" {
		cfg.ClusterID = "lakestream"
	}
	if cfg.AdvertisedHost == "" {
		cfg.AdvertisedHost = "localhost"
	}
	if cfg.AdvertisedPort == 0 {
		cfg.AdvertisedPort = 9092
	}
	if cfg.AutoCreatePartitions < 1 {
		cfg.AutoCreatePartitions = 1
	}
	var app appender = cfg.Engine
	if cfg.Sequencer != nil {
		app = cfg.Sequencer
	}
	return &Dispatcher{
		cfg:      cfg,
		appender: app,
		logger:   cfg.Logger.With("component", "dispatcher"),
	}, nil
}

// Handle processes one decoded request. A nil response with a nil error
// means the request elicits no response frame (produce with acks=0).
func (d *Dispatcher) Handle(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	start := time.Now()
	var (
		body    *protocol.Struct
		respond = true
		err     error
	)
	switch msg.APIKey {
	case protocol.APIKeyApiVersion:
		body = d.handleApiVersions()
	case protocol.APIKeyMetadata:
		body, err = d.handleMetadata(ctx, msg)
	case protocol.APIKeyProduce:
		body, respond, err = d.handleProduce(ctx, msg)
	case protocol.APIKeyFetch:
		body, err = d.handleFetch(ctx, msg)
	case protocol.APIKeyListOffsets:
		body, err = d.handleListOffsets(ctx, msg)
	case protocol.APIKeyCreateTopics:
		body, err = d.handleCreateTopics(ctx, msg)
	case protocol.APIKeyDeleteTopics:
		body, err = d.handleDeleteTopics(ctx, msg)
	default:
		err = protocol.ErrUnsupportedVersion
	}
	d.cfg.Metrics.observeRequest(apiName(msg.APIKey), time.Since(start), err != nil)
	if err != nil {
		return nil, err
	}
	if !respond {
		return nil, nil
	}
	return &protocol.Message{
		APIKey:     msg.APIKey,
		APIVersion: msg.APIVersion,
		Header:     msg.Header,
		Body:       body,
	}, nil
}

func apiName(key int16) string {
	switch key {
	case protocol.APIKeyProduce:
		return "produce"
	case protocol.APIKeyFetch:
		return "fetch"
	case protocol.APIKeyListOffsets:
		return "list_offsets"
	case protocol.APIKeyMetadata:
		return "metadata"
	case protocol.APIKeyApiVersion:
		return "api_versions"
	case protocol.APIKeyCreateTopics:
		return "create_topics"
	case protocol.APIKeyDeleteTopics:
		return "delete_topics"
	default:
		return "unknown"
	}
}

// principal resolves the identity used for authorization: the connection
// principal when a listener established one, otherwise the client id.
func (d *Dispatcher) principal(ctx context.Context, msg *protocol.Message) string {
	if info := ConnInfoFromContext(ctx); info != nil && info.Principal != "" {
		return info.Principal
	}
	if msg.Header.ClientID != nil {
		return *msg.Header.ClientID
	}
	return ""
}

func (d *Dispatcher) allowed(ctx context.Context, msg *protocol.Message, action acl.Action, resource acl.Resource, name string) bool {
	if d.cfg.Authorizer.Allows(d.principal(ctx, msg), action, resource, name) {
		return true
	}
	d.cfg.Metrics.recordDenied(string(action), string(resource))
	return false
}

func (d *Dispatcher) handleApiVersions() *protocol.Struct {
	keys := make([]*protocol.Struct, 0, 8)
	for _, v := range protocol.SupportedVersions() {
		keys = append(keys, protocol.NewStruct().
			Set("api_key", v.APIKey).
			Set("min_version", v.MinVersion).
			Set("max_version", v.MaxVersion))
	}
	return protocol.NewStruct().
		Set("error_code", protocol.NONE).
		Set("api_keys", keys).
		Set("throttle_time_ms", int32(0))
}

func (d *Dispatcher) handleMetadata(ctx context.Context, msg *protocol.Message) (*protocol.Struct, error) {
	var requested []string
	raw, _ := msg.Body.Get("topics")
	elems, _ := raw.([]any)
	// A null topics array (and an empty one on v0) means "all topics".
	all := elems == nil || (msg.APIVersion == 0 && len(elems) == 0)
	if !all {
		for _, e := range elems {
			if st, ok := e.(*protocol.Struct); ok {
				requested = append(requested, st.String("name"))
			}
		}
	}

	if !all && d.cfg.AutoCreateTopics && d.autoCreateAllowed(msg) {
		for _, name := range requested {
			d.ensureTopic(ctx, name, d.cfg.AutoCreatePartitions)
		}
	}

	var metas []storage.TopicMetadata
	if all || len(requested) > 0 {
		var err error
		metas, err = d.cfg.Engine.Metadata(ctx, requested)
		if err != nil {
			return nil, err
		}
	}
	known := make(map[string]storage.TopicMetadata, len(metas))
	for _, m := range metas {
		known[m.Name] = m
	}

	topics := make([]*protocol.Struct, 0, len(metas))
	appendTopic := func(name string) {
		meta, ok := known[name]
		if !ok {
			code := protocol.UNKNOWN_TOPIC_OR_PARTITION
			if !storage.ValidTopicName(name) {
				code = protocol.INVALID_TOPIC_EXCEPTION
			}
			topics = append(topics, protocol.NewStruct().
				Set("error_code", code).
				Set("name", name).
				Set("is_internal", false).
				Set("partitions", []*protocol.Struct{}))
			return
		}
		parts := make([]*protocol.Struct, 0, len(meta.Partitions))
		for _, p := range meta.Partitions {
			parts = append(parts, protocol.NewStruct().
				Set("error_code", protocol.NONE).
				Set("partition_index", p.Index).
				Set("leader_id", d.cfg.NodeID).
				Set("replica_nodes", []any{d.cfg.NodeID}).
				Set("isr_nodes", []any{d.cfg.NodeID}))
		}
		topics = append(topics, protocol.NewStruct().
			Set("error_code", protocol.NONE).
			Set("name", meta.Name).
			Set("is_internal", false).
			Set("partitions", parts))
	}
	if all {
		for _, m := range metas {
			appendTopic(m.Name)
		}
	} else {
		for _, name := range requested {
			appendTopic(name)
		}
	}

	broker := protocol.NewStruct().
		Set("node_id", d.cfg.NodeID).
		Set("host", d.cfg.AdvertisedHost).
		Set("port", d.cfg.AdvertisedPort).
		Set("rack", nil)
	return protocol.NewStruct().
		Set("throttle_time_ms", int32(0)).
		Set("brokers", []*protocol.Struct{broker}).
		Set("cluster_id", d.cfg.ClusterID).
		Set("controller_id", d.cfg.NodeID).
		Set("topics", topics), nil
}

func (d *Dispatcher) autoCreateAllowed(msg *protocol.Message) bool {
	if msg.APIVersion < 4 {
		return true
	}
	return msg.Body.Bool("allow_auto_topic_creation")
}

func (d *Dispatcher) ensureTopic(ctx context.Context, name string, partitions int32) {
	_, err := d.cfg.Engine.CreateTopic(ctx, storage.TopicSpec{
		Name:              name,
		Partitions:        partitions,
		ReplicationFactor: 1,
	})
	switch {
	case err == nil:
		d.logger.Info("auto-created topic", "topic", name, "partitions", partitions)
	case errors.Is(err, storage.ErrTopicExists), errors.Is(err, storage.ErrInvalidTopic):
	default:
		d.logger.Warn("topic auto-create failed", "topic", name, "error", err)
	}
}

func (d *Dispatcher) handleProduce(ctx context.Context, msg *protocol.Message) (*protocol.Struct, bool, error) {
	acks := msg.Body.Int16("acks")
	now := time.Now().UnixMilli()

	topicResponses := make([]*protocol.Struct, 0, 4)
	for _, topic := range msg.Body.Structs("topic_data") {
		name := topic.String("name")
		partitionResponses := make([]*protocol.Struct, 0, 4)
		for _, part := range topic.Structs("partition_data") {
			index := part.Int32("index")
			records := part.Bytes("records")
			code, baseOffset, logStart := d.producePartition(ctx, msg, name, index, records)
			partitionResponses = append(partitionResponses, protocol.NewStruct().
				Set("index", index).
				Set("error_code", code).
				Set("base_offset", baseOffset).
				Set("log_append_time_ms", now).
				Set("log_start_offset", logStart).
				Set("record_errors", []*protocol.Struct{}).
				Set("error_message", nil))
		}
		topicResponses = append(topicResponses, protocol.NewStruct().
			Set("name", name).
			Set("partition_responses", partitionResponses))
	}

	if acks == 0 {
		return nil, false, nil
	}
	return protocol.NewStruct().
		Set("responses", topicResponses).
		Set("throttle_time_ms", int32(0)), true, nil
}

func (d *Dispatcher) producePartition(ctx context.Context, msg *protocol.Message, topic string, partition int32, records []byte) (code int16, baseOffset, logStart int64) {
	baseOffset, logStart = -1, -1
	if !d.allowed(ctx, msg, acl.ActionProduce, acl.ResourceTopic, topic) {
		return protocol.TOPIC_AUTHORIZATION_FAILED, baseOffset, logStart
	}
	if d.cfg.Health.State() == StoreStateUnavailable {
		return protocol.KAFKA_STORAGE_ERROR, baseOffset, logStart
	}
	if len(records) == 0 {
		return protocol.INVALID_RECORD, baseOffset, logStart
	}
	// Full decode verifies the CRC before the batch is accepted.
	if _, err := batch.Decode(records); err != nil {
		return errorCodeFor(err), baseOffset, logStart
	}

	tp := storage.TopicPartition{Topic: topic, Partition: partition}
	res, err := d.appender.Append(ctx, tp, records)
	if err != nil && errors.Is(err, storage.ErrUnknownTopic) && d.cfg.AutoCreateTopics {
		want := d.cfg.AutoCreatePartitions
		if want < partition+1 {
			want = partition + 1
		}
		d.ensureTopic(ctx, topic, want)
		res, err = d.appender.Append(ctx, tp, records)
	}
	if err != nil {
		d.logger.Warn("append failed", "topic", topic, "partition", partition, "error", err)
		return errorCodeFor(err), baseOffset, logStart
	}
	d.cfg.Metrics.addProducedBytes(len(records))
	baseOffset = res.BaseOffset
	if wm, err := d.cfg.Engine.Watermarks(ctx, tp); err == nil {
		logStart = wm.LogStart
	}
	return protocol.NONE, baseOffset, logStart
}

func (d *Dispatcher) handleFetch(ctx context.Context, msg *protocol.Message) (*protocol.Struct, error) {
	topicResponses := make([]*protocol.Struct, 0, 4)
	for _, topic := range msg.Body.Structs("topics") {
		name := topic.String("topic")
		partitionResponses := make([]*protocol.Struct, 0, 4)
		for _, part := range topic.Structs("partitions") {
			index := part.Int32("partition")
			offset := part.Int64("fetch_offset")
			maxBytes := part.Int32("partition_max_bytes")
			partitionResponses = append(partitionResponses, d.fetchPartition(ctx, msg, name, index, offset, maxBytes))
		}
		topicResponses = append(topicResponses, protocol.NewStruct().
			Set("topic", name).
			Set("partitions", partitionResponses))
	}
	return protocol.NewStruct().
		Set("throttle_time_ms", int32(0)).
		Set("error_code", protocol.NONE).
		Set("session_id", int32(0)).
		Set("responses", topicResponses), nil
}

func (d *Dispatcher) fetchPartition(ctx context.Context, msg *protocol.Message, topic string, partition int32, offset int64, maxBytes int32) *protocol.Struct {
	resp := protocol.NewStruct().
		Set("partition_index", partition).
		Set("high_watermark", int64(-1)).
		Set("last_stable_offset", int64(-1)).
		Set("log_start_offset", int64(-1)).
		Set("aborted_transactions", []*protocol.Struct{}).
		Set("preferred_read_replica", int32(-1)).
		Set("records", nil)

	if !d.allowed(ctx, msg, acl.ActionFetch, acl.ResourceTopic, topic) {
		return resp.Set("error_code", protocol.TOPIC_AUTHORIZATION_FAILED)
	}
	switch d.cfg.Health.State() {
	case StoreStateDegraded:
		return resp.Set("error_code", protocol.REQUEST_TIMED_OUT)
	case StoreStateUnavailable:
		return resp.Set("error_code", protocol.KAFKA_STORAGE_ERROR)
	}

	tp := storage.TopicPartition{Topic: topic, Partition: partition}
	res, err := d.cfg.Engine.Fetch(ctx, tp, offset, maxBytes)
	if err != nil {
		if !errors.Is(err, storage.ErrOffsetOutOfRange) {
			d.logger.Warn("fetch failed", "topic", topic, "partition", partition, "offset", offset, "error", err)
		}
		return resp.Set("error_code", errorCodeFor(err))
	}

	size := 0
	for _, b := range res.Batches {
		size += len(b)
	}
	records := make([]byte, 0, size)
	for _, b := range res.Batches {
		records = append(records, b...)
	}
	d.cfg.Metrics.addFetchedBytes(size)
	return resp.
		Set("error_code", protocol.NONE).
		Set("high_watermark", res.HighWatermark).
		Set("last_stable_offset", res.HighWatermark).
		Set("log_start_offset", res.LogStart).
		Set("records", records)
}

func (d *Dispatcher) handleListOffsets(ctx context.Context, msg *protocol.Message) (*protocol.Struct, error) {
	topicResponses := make([]*protocol.Struct, 0, 4)
	for _, topic := range msg.Body.Structs("topics") {
		name := topic.String("name")
		partitionResponses := make([]*protocol.Struct, 0, 4)
		for _, part := range topic.Structs("partitions") {
			index := part.Int32("partition_index")
			timestamp := part.Int64("timestamp")
			resp := protocol.NewStruct().
				Set("partition_index", index).
				Set("timestamp", int64(-1)).
				Set("offset", int64(-1)).
				Set("leader_epoch", int32(0))
			if !d.allowed(ctx, msg, acl.ActionDescribe, acl.ResourceTopic, name) {
				resp.Set("error_code", protocol.TOPIC_AUTHORIZATION_FAILED)
			} else {
				tp := storage.TopicPartition{Topic: name, Partition: index}
				info, err := d.cfg.Engine.ListOffsets(ctx, tp, timestamp)
				if err != nil {
					resp.Set("error_code", errorCodeFor(err))
				} else {
					resp.Set("error_code", protocol.NONE).
						Set("timestamp", info.Timestamp).
						Set("offset", info.Offset)
				}
			}
			partitionResponses = append(partitionResponses, resp)
		}
		topicResponses = append(topicResponses, protocol.NewStruct().
			Set("name", name).
			Set("partitions", partitionResponses))
	}
	return protocol.NewStruct().
		Set("throttle_time_ms", int32(0)).
		Set("topics", topicResponses), nil
}

func (d *Dispatcher) handleCreateTopics(ctx context.Context, msg *protocol.Message) (*protocol.Struct, error) {
	validateOnly := msg.Body.Bool("validate_only")
	results := make([]*protocol.Struct, 0, 4)
	for _, topic := range msg.Body.Structs("topics") {
		name := topic.String("name")
		result := protocol.NewStruct().
			Set("name", name).
			Set("error_code", protocol.NONE).
			Set("error_message", nil)
		code, message := d.createTopic(ctx, msg, topic, validateOnly)
		if code != protocol.NONE {
			result.Set("error_code", code).Set("error_message", message)
		}
		results = append(results, result)
	}
	return protocol.NewStruct().
		Set("throttle_time_ms", int32(0)).
		Set("topics", results), nil
}

func (d *Dispatcher) createTopic(ctx context.Context, msg *protocol.Message, topic *protocol.Struct, validateOnly bool) (int16, string) {
	name := topic.String("name")
	if !d.allowed(ctx, msg, acl.ActionAdmin, acl.ResourceTopic, name) {
		return protocol.TOPIC_AUTHORIZATION_FAILED, "not authorized"
	}
	partitions := topic.Int32("num_partitions")
	if partitions < -1 || partitions == 0 {
		return protocol.INVALID_PARTITIONS, "partition count must be -1 or positive"
	}
	if partitions == -1 {
		partitions = d.cfg.AutoCreatePartitions
	}
	replication := topic.Int16("replication_factor")
	if replication > 1 {
		return protocol.INVALID_REPLICATION_FACTOR, "replication factor above 1 is not supported"
	}
	if validateOnly {
		if !storage.ValidTopicName(name) {
			return protocol.INVALID_TOPIC_EXCEPTION, "invalid topic name"
		}
		return protocol.NONE, ""
	}
	config := make(map[string]*string)
	for _, entry := range topic.Structs("configs") {
		config[entry.String("name")] = entry.NullableString("value")
	}
	_, err := d.cfg.Engine.CreateTopic(ctx, storage.TopicSpec{
		Name:              name,
		Partitions:        partitions,
		ReplicationFactor: replication,
		Config:            config,
	})
	if err != nil {
		return errorCodeFor(err), err.Error()
	}
	d.logger.Info("topic created", "topic", name, "partitions", partitions)
	return protocol.NONE, ""
}

func (d *Dispatcher) handleDeleteTopics(ctx context.Context, msg *protocol.Message) (*protocol.Struct, error) {
	results := make([]*protocol.Struct, 0, 4)
	for _, raw := range msg.Body.Array("topic_names") {
		name, _ := raw.(string)
		result := protocol.NewStruct().Set("name", name)
		switch {
		case !d.allowed(ctx, msg, acl.ActionAdmin, acl.ResourceTopic, name):
			result.Set("error_code", protocol.TOPIC_AUTHORIZATION_FAILED)
		default:
			if err := d.cfg.Engine.DeleteTopic(ctx, name); err != nil {
				result.Set("error_code", errorCodeFor(err))
			} else {
				result.Set("error_code", protocol.NONE)
				d.logger.Info("topic deleted", "topic", name)
			}
		}
		results = append(results, result)
	}
	return protocol.NewStruct().
		Set("throttle_time_ms", int32(0)).
		Set("responses", results), nil
}
