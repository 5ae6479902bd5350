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

package object

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/lakestream-io/lakestream/pkg/cache"
	"github.com/lakestream-io/lakestream/pkg/storage"
)

// Config configures the object-store backend.
const (
	defaultBufferMaxBytes        = 4 << 20
	defaultBufferFlushInterval   = 500 * time.Millisecond
	defaultIndexIntervalMessages = 100
)

type Config struct {
	Namespace         string
	Buffer            WriteBufferConfig
	Segment           SegmentWriterConfig
	ReadAheadSegments int
	CacheBytes        int
	MaxConcurrentOps  int64
	DefaultPartitions int32
	Logger            *slog.Logger
	// OnStoreOp observes every object-store operation for metrics.
	OnStoreOp func(op string, d time.Duration, err error)
}

// Backend implements storage.Engine on an object store. Partition logs are
// opened lazily and retained for the life of the backend.
type Backend struct {
	client Client
	cfg    Config
	cache  *cache.Cache
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*topicRecord
	logs   map[storage.TopicPartition]*partitionLog
	closed bool

	sf singleflight.Group
}

// New opens a backend over client, loading the topic registry from the
// store.
func New(ctx context.Context, client Client, cfg Config) (*Backend, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.DefaultPartitions <= 0 {
		cfg.DefaultPartitions = 1
	}
	// A buffer with no thresholds at all would never seal a segment; give
	// untouched configs the production defaults. Callers that set any
	// threshold keep their exact choice, including disabled triggers.
	if cfg.Buffer == (WriteBufferConfig{}) {
		cfg.Buffer = WriteBufferConfig{
			MaxBytes:      defaultBufferMaxBytes,
			FlushInterval: defaultBufferFlushInterval,
		}
	}
	if cfg.Segment.IndexIntervalMessages <= 0 {
		cfg.Segment.IndexIntervalMessages = defaultIndexIntervalMessages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "object-backend"),
		topics: make(map[string]*topicRecord),
		logs:   make(map[storage.TopicPartition]*partitionLog),
	}
	if cfg.CacheBytes > 0 {
		b.cache = cache.New(cfg.CacheBytes)
	}
	if cfg.MaxConcurrentOps > 0 {
		b.sem = semaphore.NewWeighted(cfg.MaxConcurrentOps)
	}
	if err := b.loadTopics(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) loadTopics(ctx context.Context) error {
	objects, err := b.client.List(ctx, topicPrefix(b.cfg.Namespace))
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	for _, obj := range objects {
		name := strings.TrimSuffix(path.Base(obj.Key), ".json")
		rec, err := loadTopic(ctx, b.client, b.cfg.Namespace, name)
		if err != nil {
			return fmt.Errorf("load topic %s: %w", name, err)
		}
		b.topics[rec.Name] = rec
	}
	b.logger.Info("topic registry loaded", "topics", len(b.topics))
	return nil
}

func (b *Backend) CreateTopic(ctx context.Context, spec storage.TopicSpec) (uuid.UUID, error) {
	if !storage.ValidTopicName(spec.Name) {
		return uuid.Nil, fmt.Errorf("topic %q: %w", spec.Name, storage.ErrInvalidTopic)
	}
	partitions := spec.Partitions
	if partitions <= 0 {
		partitions = b.cfg.DefaultPartitions
	}
	b.mu.Lock()
	if _, ok := b.topics[spec.Name]; ok {
		b.mu.Unlock()
		return uuid.Nil, fmt.Errorf("topic %q: %w", spec.Name, storage.ErrTopicExists)
	}
	b.mu.Unlock()

	rec := &topicRecord{
		Name:       spec.Name,
		ID:         uuid.New(),
		Partitions: partitions,
		Config:     spec.Config,
		CreatedAt:  time.Now().UTC(),
	}
	if err := storeTopic(ctx, b.client, b.cfg.Namespace, rec); err != nil {
		return uuid.Nil, err
	}

	b.mu.Lock()
	b.topics[rec.Name] = rec
	b.mu.Unlock()
	b.logger.Info("topic created", "topic", rec.Name, "partitions", partitions, "topic_id", rec.ID.String())
	return rec.ID, nil
}

func (b *Backend) DeleteTopic(ctx context.Context, name string) error {
	b.mu.Lock()
	rec, ok := b.topics[name]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("topic %q: %w", name, storage.ErrUnknownTopic)
	}
	delete(b.topics, name)
	for tp := range b.logs {
		if tp.Topic == name {
			delete(b.logs, tp)
		}
	}
	b.mu.Unlock()

	if err := b.client.Delete(ctx, topicKey(b.cfg.Namespace, name)); err != nil {
		return err
	}
	// Partition data is removed after the registration so a crash mid-delete
	// leaves orphaned objects, never a half-registered topic.
	prefix := path.Join(b.cfg.Namespace, name) + "/"
	objects, err := b.client.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := b.client.Delete(ctx, obj.Key); err != nil {
			b.logger.Warn("delete topic object", "key", obj.Key, "error", err)
		}
	}
	b.logger.Info("topic deleted", "topic", name, "topic_id", rec.ID.String())
	return nil
}

// log returns the partition log for tp, opening and restoring it on first
// use. Concurrent first uses share one restore via singleflight.
func (b *Backend) log(ctx context.Context, tp storage.TopicPartition) (*partitionLog, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, storage.ErrUnavailable
	}
	rec, ok := b.topics[tp.Topic]
	if !ok || tp.Partition < 0 || tp.Partition >= rec.Partitions {
		b.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", tp.String(), storage.ErrUnknownTopic)
	}
	if l, ok := b.logs[tp]; ok {
		b.mu.Unlock()
		return l, nil
	}
	b.mu.Unlock()

	v, err, _ := b.sf.Do(tp.String(), func() (interface{}, error) {
		l := newPartitionLog(b.cfg.Namespace, tp.Topic, tp.Partition, b.client, b.cache, partitionLogConfig{
			Buffer:            b.cfg.Buffer,
			Segment:           b.cfg.Segment,
			ReadAheadSegments: b.cfg.ReadAheadSegments,
			CacheEnabled:      b.cache != nil,
			Logger:            b.logger,
		}, b.sem, b.cfg.OnStoreOp)
		if err := l.restore(ctx); err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.logs[tp] = l
		b.mu.Unlock()
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*partitionLog), nil
}

func (b *Backend) Append(ctx context.Context, tp storage.TopicPartition, raw []byte) (*storage.AppendResult, error) {
	l, err := b.log(ctx, tp)
	if err != nil {
		return nil, err
	}
	return l.append(ctx, raw)
}

func (b *Backend) Fetch(ctx context.Context, tp storage.TopicPartition, offset int64, maxBytes int32) (*storage.FetchResult, error) {
	l, err := b.log(ctx, tp)
	if err != nil {
		return nil, err
	}
	return l.read(ctx, offset, maxBytes)
}

func (b *Backend) ListOffsets(ctx context.Context, tp storage.TopicPartition, timestamp int64) (*storage.OffsetInfo, error) {
	l, err := b.log(ctx, tp)
	if err != nil {
		return nil, err
	}
	switch timestamp {
	case storage.EarliestTimestamp:
		w := l.watermarks()
		return &storage.OffsetInfo{Timestamp: -1, Offset: w.LogStart}, nil
	case storage.LatestTimestamp:
		w := l.watermarks()
		return &storage.OffsetInfo{Timestamp: -1, Offset: w.High}, nil
	default:
		return l.offsetForTimestamp(timestamp), nil
	}
}

func (b *Backend) Watermarks(ctx context.Context, tp storage.TopicPartition) (storage.Watermarks, error) {
	l, err := b.log(ctx, tp)
	if err != nil {
		return storage.Watermarks{}, err
	}
	return l.watermarks(), nil
}

func (b *Backend) Metadata(ctx context.Context, topics []string) ([]storage.TopicMetadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	if len(topics) == 0 {
		for name := range b.topics {
			names = append(names, name)
		}
		sort.Strings(names)
	} else {
		names = topics
	}
	var out []storage.TopicMetadata
	for _, name := range names {
		rec, ok := b.topics[name]
		if !ok {
			continue
		}
		md := storage.TopicMetadata{Name: rec.Name, ID: rec.ID}
		for p := int32(0); p < rec.Partitions; p++ {
			md.Partitions = append(md.Partitions, storage.PartitionMetadata{Index: p})
		}
		out = append(out, md)
	}
	return out, nil
}

// ApplyRetention enforces policy across every partition of every topic.
func (b *Backend) ApplyRetention(ctx context.Context, policy storage.RetentionPolicy) error {
	b.mu.Lock()
	var tps []storage.TopicPartition
	for name, rec := range b.topics {
		for p := int32(0); p < rec.Partitions; p++ {
			tps = append(tps, storage.TopicPartition{Topic: name, Partition: p})
		}
	}
	b.mu.Unlock()

	now := time.Now()
	var firstErr error
	for _, tp := range tps {
		l, err := b.log(ctx, tp)
		if err != nil {
			if errors.Is(err, storage.ErrUnknownTopic) {
				continue // deleted concurrently
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := l.applyRetention(ctx, policy, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Flush seals and uploads the active tail of every open partition log.
func (b *Backend) Flush(ctx context.Context) error {
	b.mu.Lock()
	logs := make([]*partitionLog, 0, len(b.logs))
	for _, l := range b.logs {
		logs = append(logs, l)
	}
	b.mu.Unlock()
	var firstErr error
	for _, l := range logs {
		if err := l.flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes open partition logs and stops the backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	logs := make([]*partitionLog, 0, len(b.logs))
	for _, l := range b.logs {
		logs = append(logs, l)
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var firstErr error
	for _, l := range logs {
		if err := l.flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
