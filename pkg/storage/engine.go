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

// Package storage defines the append-only, partitioned, offset-indexed log
// contract that every backend adapter satisfies, together with the shared
// error taxonomy, per-partition write sequencing, and retention policy.
package storage

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Backend failures are mapped onto this taxonomy before they cross the
// engine boundary; callers never see driver-specific errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnavailable       = errors.New("backend unavailable")
	ErrCorrupt           = errors.New("corrupt data")
	ErrOffsetOutOfRange  = errors.New("offset out of range")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrTimedOut          = errors.New("timed out")

	ErrTopicExists  = errors.New("topic already exists")
	ErrUnknownTopic = errors.New("unknown topic or partition")
	ErrInvalidTopic = errors.New("invalid topic")
)

// TopicPartition addresses one partition of a named topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return tp.Topic + "-" + strconv.FormatInt(int64(tp.Partition), 10)
}

var topicNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,249}$`)

// ValidTopicName reports whether name is a legal topic name.
func ValidTopicName(name string) bool {
	return name != "." && name != ".." && topicNamePattern.MatchString(name)
}

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Config            map[string]*string
}

// TopicMetadata describes an existing topic.
type TopicMetadata struct {
	Name       string
	ID         uuid.UUID
	Partitions []PartitionMetadata
}

// PartitionMetadata describes one partition of a topic.
type PartitionMetadata struct {
	Index       int32
	LeaderEpoch int32
}

// Watermarks are the retained range of a partition: LogStart is the lowest
// offset still readable, High the offset of the first not-yet-committed
// record. LogStart <= High always holds.
type Watermarks struct {
	LogStart int64
	High     int64
}

// Timestamp sentinels for ListOffsets, matching the wire protocol.
const (
	EarliestTimestamp int64 = -2
	LatestTimestamp   int64 = -1
)

// OffsetInfo is a resolved logical offset selector.
type OffsetInfo struct {
	Timestamp int64
	Offset    int64
}

// FetchResult carries the batches satisfying a fetch plus the partition
// watermarks observed at read time. Batches are raw record-batch blobs in
// offset order; the sequence stops before maxBytes would be exceeded, but
// always includes at least one batch when any is available.
type FetchResult struct {
	Batches       [][]byte
	LogStart      int64
	HighWatermark int64
}

// AppendResult reports the offset range assigned to an appended batch.
type AppendResult struct {
	BaseOffset int64
	LastOffset int64
}

// Engine is the capability set every storage backend must satisfy.
//
// Append assigns the batch a contiguous offset range starting at the
// partition's log-end offset, persists it, advances the high watermark, and
// returns the assigned range. The engine serializes appends per partition;
// callers should route writes through a Sequencer rather than relying on
// backend-level locking alone. Fetch at offset == high watermark returns an
// empty result, not an error; offsets outside [logStart, highWatermark] fail
// with ErrOffsetOutOfRange.
//
// All operations honor ctx deadlines, returning ErrTimedOut without
// corrupting log state.
type Engine interface {
	CreateTopic(ctx context.Context, spec TopicSpec) (uuid.UUID, error)
	DeleteTopic(ctx context.Context, name string) error
	Append(ctx context.Context, tp TopicPartition, raw []byte) (*AppendResult, error)
	Fetch(ctx context.Context, tp TopicPartition, offset int64, maxBytes int32) (*FetchResult, error)
	ListOffsets(ctx context.Context, tp TopicPartition, timestamp int64) (*OffsetInfo, error)
	Watermarks(ctx context.Context, tp TopicPartition) (Watermarks, error)
	Metadata(ctx context.Context, topics []string) ([]TopicMetadata, error)
	Close() error
}

// RetentionPolicy bounds the retained portion of each partition log.
// Zero values disable the corresponding bound.
type RetentionPolicy struct {
	MaxAge   time.Duration
	MaxBytes int64
	Interval time.Duration
}

// Retainer is implemented by engines that support background retention.
// ApplyRetention advances log-start offsets past expired sealed segments and
// removes them; it never advances past the high watermark.
type Retainer interface {
	ApplyRetention(ctx context.Context, policy RetentionPolicy) error
}
