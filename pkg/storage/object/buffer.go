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
	"time"

	"github.com/lakestream-io/lakestream/pkg/batch"
)

// Batch is a raw record-batch blob plus the header metadata the log needs
// for offset assignment, indexing, and retention.
type Batch struct {
	Info  batch.Info
	Bytes []byte
}

// WriteBufferConfig sets the thresholds that seal the active segment.
// A zero threshold disables that trigger.
type WriteBufferConfig struct {
	MaxBytes      int64
	MaxMessages   int32
	MaxBatches    int
	FlushInterval time.Duration
}

// WriteBuffer accumulates appended batches for the active segment of one
// partition. It is not safe for concurrent use; the partition log guards it.
type WriteBuffer struct {
	cfg         WriteBufferConfig
	batches     []Batch
	bytes       int64
	messages    int32
	firstAppend time.Time
}

// NewWriteBuffer returns an empty buffer with the given thresholds.
func NewWriteBuffer(cfg WriteBufferConfig) *WriteBuffer {
	return &WriteBuffer{cfg: cfg}
}

// Append adds a batch to the active segment.
func (b *WriteBuffer) Append(bt Batch) {
	if len(b.batches) == 0 {
		b.firstAppend = time.Now()
	}
	b.batches = append(b.batches, bt)
	b.bytes += int64(len(bt.Bytes))
	b.messages += bt.Info.RecordCount
}

// ShouldFlush reports whether any sealing threshold has been crossed.
func (b *WriteBuffer) ShouldFlush(now time.Time) bool {
	if len(b.batches) == 0 {
		return false
	}
	if b.cfg.MaxBytes > 0 && b.bytes >= b.cfg.MaxBytes {
		return true
	}
	if b.cfg.MaxMessages > 0 && b.messages >= b.cfg.MaxMessages {
		return true
	}
	if b.cfg.MaxBatches > 0 && len(b.batches) >= b.cfg.MaxBatches {
		return true
	}
	if b.cfg.FlushInterval > 0 && now.Sub(b.firstAppend) >= b.cfg.FlushInterval {
		return true
	}
	return false
}

// Drain removes and returns the buffered batches in append order.
func (b *WriteBuffer) Drain() []Batch {
	out := b.batches
	b.batches = nil
	b.bytes = 0
	b.messages = 0
	return out
}

// Snapshot returns the buffered batches without draining them. The returned
// slice aliases the buffer; callers must not mutate it.
func (b *WriteBuffer) Snapshot() []Batch {
	return b.batches
}

// Bytes returns the buffered byte total.
func (b *WriteBuffer) Bytes() int64 {
	return b.bytes
}
